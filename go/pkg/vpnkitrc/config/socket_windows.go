package config

// DefaultSocketPath returns the port forwarding pipe of Docker Desktop.
func DefaultSocketPath() string {
	return `\\.\pipe\dockerVpnKitControl`
}
