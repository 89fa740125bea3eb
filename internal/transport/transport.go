// Package transport decides how the proxy reaches its credential
// broker: a direct TCP connection, or a connection forwarded through
// an SSH gateway when the broker is only reachable from that host.
package transport

import (
	"context"
	"net"
	"time"

	"autologin/tunnel"
	"autologin/util"
)

// Dialer opens outbound network connections.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// New returns an SSH-tunnelled dialer when ssh is non-nil and a plain
// TCP dialer otherwise.
func New(ssh *tunnel.SSHConfig, timeout time.Duration, logger *util.Logger) Dialer {
	if ssh != nil {
		return NewSSHDialer(ssh, logger)
	}
	return &TCPDialer{Timeout: timeout}
}
