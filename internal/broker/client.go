package broker

import (
	"bufio"
	"context"
	"fmt"
	"time"

	ncerr "autologin/internal/errors"
	"autologin/internal/portal"
	"autologin/internal/retry"
	"autologin/internal/transport"
	"autologin/util"
)

// DefaultClientTimeout bounds one request, login included.
const DefaultClientTimeout = 15 * time.Second

// Client requests credential pairs from a broker.
type Client struct {
	addr    string
	dialer  transport.Dialer
	backoff *retry.Backoff
	timeout time.Duration
	logger  *util.Logger
}

// NewClient creates a client for the broker at addr.  Connections are
// opened with dialer, so the broker may sit behind an SSH gateway.
func NewClient(addr string, dialer transport.Dialer, timeout time.Duration, logger *util.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultClientTimeout
	}
	return &Client{
		addr:    addr,
		dialer:  dialer,
		timeout: timeout,
		logger:  logger,
		backoff: retry.DefaultBackoff(),
	}
}

// Addr returns the broker address.
func (c *Client) Addr() string { return c.addr }

// Credentials asks the broker for a fresh credential pair.  Refused
// dials are retried; a broker that answers without a usable pair is
// not asked again.
func (c *Client) Credentials(ctx context.Context) (portal.Credentials, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var creds portal.Credentials
	err := c.backoff.Do(ctx, func(attempt int) error {
		var err error
		creds, err = c.request(ctx)
		if err != nil {
			c.logger.Verbose("broker request %d/%d: %v", attempt, c.backoff.MaxAttempts, err)
		}
		return err
	})
	if err != nil {
		return portal.Credentials{}, err
	}
	c.logger.Verbose("received credential pair from broker %s", c.addr)
	return creds, nil
}

// request runs one getSession exchange.
func (c *Client) request(ctx context.Context) (portal.Credentials, error) {
	conn, err := c.dialer.Dial(ctx, "tcp", c.addr)
	if err != nil {
		return portal.Credentials{}, err
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl) //nolint:errcheck
	}
	if _, err := fmt.Fprintf(conn, "%s\n", Command); err != nil {
		return portal.Credentials{}, ncerr.Wrap("write", c.addr, err)
	}

	r := bufio.NewReader(conn)
	session, err1 := util.ReadLine(r)
	port, err2 := util.ReadLine(r)
	creds := portal.Credentials{SessionID: session, Portal: port}
	if !creds.Valid() {
		if err := ncerr.Join(err1, err2); err != nil && !util.IsHarmless(err) {
			return portal.Credentials{}, retry.Permanent(fmt.Errorf("%w: %v", ncerr.ErrNoCredentials, err))
		}
		return portal.Credentials{}, retry.Permanent(ncerr.ErrNoCredentials)
	}
	return creds, nil
}
