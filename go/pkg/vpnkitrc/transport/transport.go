package transport

import (
	"context"
	"net"
	"strings"
	"time"
)

// Transport carries the HTTP port control messages.
type Transport interface {
	Dial(_ context.Context, path string) (net.Conn, error)
	Listen(path string) (net.Listener, error)
	String() string
}

// ConnectTimeout bounds how long a single Dial may take.
const ConnectTimeout = 100 * time.Second

// schemes which may prefix a socket path. They carry no information beyond
// the path itself.
var schemes = []string{"unix://", "npipe://"}

// TrimScheme strips an optional unix:// or npipe:// prefix.
func TrimScheme(path string) string {
	for _, s := range schemes {
		if strings.HasPrefix(path, s) {
			return strings.TrimPrefix(path, s)
		}
	}
	return path
}

// Choose returns the transport for the given path. Every path is a Unix domain
// socket, or a named pipe on Windows.
func Choose(path string) Transport {
	return NewUnixTransport()
}
