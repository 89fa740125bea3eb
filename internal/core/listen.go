package core

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	ncerr "autologin/internal/errors"
	"autologin/internal/metrics"
	"autologin/util"
)

const (
	// DefaultMaxConns bounds concurrently served connections.
	DefaultMaxConns = 256
	// DefaultGracePeriod is how long shutdown waits for in-flight
	// connections.
	DefaultGracePeriod = 5 * time.Second

	maxAcceptDelay = time.Second
)

// ListenMode binds once and dispatches every accepted connection to
// Handler on its own goroutine.  At most MaxConns connections are
// served at a time; further connections wait in the kernel backlog.
type ListenMode struct {
	Address     string // ":port"
	Handler     ConnHandler
	MaxConns    int // <= 0 means unbounded
	GracePeriod time.Duration
	Metrics     *metrics.Collector
	Logger      *util.Logger

	// Closers are released when Run returns.
	Closers []io.Closer

	// OnListen, if set, is called with the bound address.
	OnListen func(net.Addr)
}

// Run binds the address and serves until ctx is cancelled or the
// listener fails.  A bind failure is returned immediately.
func (m *ListenMode) Run(ctx context.Context) error {
	defer m.release()

	ln, err := net.Listen("tcp", m.Address)
	if err != nil {
		return ncerr.Wrap("listen", m.Address, err)
	}
	defer ln.Close()

	m.Logger.Info("listening on %s", ln.Addr())
	if m.OnListen != nil {
		m.OnListen(ln.Addr())
	}

	// Shut the listener down when the context expires.
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	var slots chan struct{}
	if m.MaxConns > 0 {
		slots = make(chan struct{}, m.MaxConns)
	}
	acquire := func() bool {
		if slots == nil {
			return true
		}
		select {
		case slots <- struct{}{}:
			return true
		case <-ctx.Done():
			return false
		}
	}
	release := func() {
		if slots != nil {
			<-slots
		}
	}

	var wg sync.WaitGroup
	var delay time.Duration
	for {
		if !acquire() {
			return m.drain(&wg)
		}

		conn, err := ln.Accept()
		if err != nil {
			release()
			if ctx.Err() != nil {
				return m.drain(&wg)
			}
			if ncerr.IsTemporary(err) {
				delay = nextDelay(delay)
				m.Logger.Warn("accept: %v; retrying in %v", err, delay)
				time.Sleep(delay)
				continue
			}
			m.drain(&wg) //nolint:errcheck
			return ncerr.Wrap("accept", ln.Addr().String(), err)
		}
		delay = 0

		m.Logger.Debug("connection from %s", conn.RemoteAddr())
		m.Metrics.ConnectionOpened()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer release()
			defer m.Metrics.ConnectionClosed()
			m.Handler.ServeConn(ctx, conn)
		}()
	}
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > maxAcceptDelay {
		d = maxAcceptDelay
	}
	return d
}

// drain waits for in-flight connections, up to the grace period.
func (m *ListenMode) drain(wg *sync.WaitGroup) error {
	grace := m.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.Logger.Verbose("listener stopped")
	case <-time.After(grace):
		m.Logger.Warn("shutdown: %d connection(s) still active after %v",
			m.Metrics.ActiveConnections(), grace)
	}
	m.Logger.Verbose("final metrics: %s", m.Metrics.JSON())
	return nil
}

func (m *ListenMode) release() {
	for _, c := range m.Closers {
		if err := c.Close(); err != nil {
			m.Logger.Debug("close: %v", err)
		}
	}
}
