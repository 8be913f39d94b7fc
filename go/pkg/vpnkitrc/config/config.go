// Package config resolves where the vpnkit control socket lives and how
// verbosely to log, from flags, VPNKITRC_* environment variables and an
// optional config file.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// SocketKey is the path of the control socket
	SocketKey = "socket"
	// LogLevelKey is a logrus level name
	LogLevelKey = "log-level"

	envPrefix  = "VPNKITRC"
	configName = "vpnkitrc"
)

const defaultLogLevel = logrus.InfoLevel

// Config is the resolved configuration.
type Config struct {
	Socket   string
	LogLevel logrus.Level
}

// New returns a viper instance with defaults and environment bindings set.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(SocketKey, DefaultSocketPath())
	v.SetDefault(LogLevelKey, defaultLogLevel.String())
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges a config file into v. An explicit path must exist; with an
// empty path the default locations are searched and a missing file is ignored.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		return errors.Wrapf(v.ReadInConfig(), "reading %s", path)
	}
	v.SetConfigName(configName)
	for _, dir := range searchPath() {
		v.AddConfigPath(dir)
	}
	err := v.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		return nil
	}
	return errors.Wrap(err, "reading config")
}

// Load validates the settings held by v.
func Load(v *viper.Viper) (Config, error) {
	socket := v.GetString(SocketKey)
	if socket == "" {
		return Config{}, errors.New("no control socket configured: set --socket or " + envPrefix + "_SOCKET")
	}
	level, err := logrus.ParseLevel(v.GetString(LogLevelKey))
	if err != nil {
		return Config{}, errors.Wrap(err, "invalid "+LogLevelKey)
	}
	return Config{
		Socket:   socket,
		LogLevel: level,
	}, nil
}

func searchPath() []string {
	var dirs []string
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append(dirs, filepath.Join(dir, configName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".config", configName))
	}
	return dirs
}
