package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	ncerr "autologin/internal/errors"
	"autologin/tunnel"
	"autologin/util"
)

// SSHDialer routes connections through an SSH tunnel.  The tunnel is
// connected on the first Dial and reconnected whenever it has dropped.
type SSHDialer struct {
	tunnel tunnel.Tunnel
	config *tunnel.SSHConfig
	logger *util.Logger
	mu     sync.Mutex
}

// NewSSHDialer creates a dialer that forwards connections through an
// SSH tunnel.  The tunnel is not connected until the first Dial.
func NewSSHDialer(cfg *tunnel.SSHConfig, logger *util.Logger) *SSHDialer {
	return &SSHDialer{
		tunnel: tunnel.NewSSHTunnel(cfg, logger),
		config: cfg,
		logger: logger,
	}
}

// connect (re)establishes the SSH tunnel if it is not alive.
func (d *SSHDialer) connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tunnel.IsAlive() {
		return nil
	}
	d.logger.Verbose("establishing SSH tunnel to %s@%s", d.config.User, d.config.Addr())
	return d.tunnel.Connect(ctx)
}

// Dial connects to address through the SSH tunnel.  A tunnel that
// died between the liveness check and the dial is reconnected once.
func (d *SSHDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	for attempt := 0; ; attempt++ {
		if err := d.connect(ctx); err != nil {
			return nil, err
		}
		conn, err := d.tunnel.Dial(ctx, network, address)
		if errors.Is(err, ncerr.ErrNotConnected) && attempt == 0 {
			d.logger.Warn("SSH tunnel dropped, reconnecting")
			continue
		}
		return conn, err
	}
}

// Close tears down the underlying SSH tunnel.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tunnel.Close()
}
