// Package tunnel optionally exposes the local HTTP server through a public
// HTTPS URL so phone clients can reach Genie without port forwarding.
package tunnel

import (
	"context"
	"net"
)

// Tunnel exposes a local address via a public HTTPS URL.
type Tunnel interface {
	Start(ctx context.Context, localAddr string) (publicURL string, err error)
	Close() error
	PublicURL() string
	Listener() net.Listener
}
