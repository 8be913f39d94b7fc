//go:build !windows

package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultSocketPath returns the port forwarding socket of Docker Desktop for
// the current user.
func DefaultSocketPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	candidates := []string{
		filepath.Join(home, ".docker", "desktop", "vpnkit.port.sock"),
	}
	if runtime.GOOS == "darwin" {
		// The path on the Mac has moved around a bit
		candidates = append(candidates,
			filepath.Join(home, "Library", "Containers", "com.docker.docker", "Data", "vpnkit.port.sock"),
		)
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return candidates[0]
}
