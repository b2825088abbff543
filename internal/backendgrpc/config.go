package backendgrpc

import "time"

// Config controls the backend gRPC server/client setup.
//
// When KeepaliveInterval and KeepaliveMisses are both positive the server stops
// after that many intervals without a client ping. Zero disables the watchdog.
type Config struct {
	SocketPath        string
	KeepaliveInterval time.Duration
	KeepaliveMisses   int
}
