//go:build !linux && !windows

package transport

// sun_path is 104 bytes including the trailing NUL
const maxUnixSocketPathLen = 103
