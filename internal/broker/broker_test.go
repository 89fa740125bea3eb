package broker

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	ncerr "autologin/internal/errors"
	"autologin/internal/metrics"
	"autologin/internal/portal"
	"autologin/internal/portal/portaltest"
	"autologin/internal/transport"
	"autologin/util"
)

type fakeLogins struct {
	creds portal.Credentials
	err   error
	calls atomic.Int64
}

func (f *fakeLogins) Login(_ context.Context, user, pass string) (portal.Credentials, error) {
	f.calls.Add(1)
	if user != "alice" || pass != "secret" {
		return portal.Credentials{}, ncerr.ErrNoCredentials
	}
	return f.creds, f.err
}

// serve runs srv on a loopback listener until the test ends.
func serve(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.ServeConn(context.Background(), conn)
		}
	}()
	return ln.Addr().String()
}

// exchange sends raw bytes and returns everything the server wrote
// before closing.
func exchange(t *testing.T, addr, send string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck

	if send != "" {
		_, err = conn.Write([]byte(send))
		require.NoError(t, err)
	}
	out, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(out)
}

func newServer(logins Logins, cfg ServerConfig, m *metrics.Collector) *Server {
	cfg.Username, cfg.Password = "alice", "secret"
	return NewServer(cfg, logins, m, util.NewLogger(0))
}

var pair = portal.Credentials{SessionID: "sess-1", Portal: "portal-1"}

func TestServer_GetSession(t *testing.T) {
	m := metrics.New()
	addr := serve(t, newServer(&fakeLogins{creds: pair}, ServerConfig{}, m))

	assert.Equal(t, "sess-1\nportal-1\n", exchange(t, addr, "getSession\n"))
	assert.EqualValues(t, 1, m.BrokerSessions())
}

func TestServer_AcceptsCRLF(t *testing.T) {
	addr := serve(t, newServer(&fakeLogins{creds: pair}, ServerConfig{}, nil))
	assert.Equal(t, "sess-1\nportal-1\n", exchange(t, addr, "getSession\r\n"))
}

func TestServer_BadCommandClosesSilently(t *testing.T) {
	logins := &fakeLogins{creds: pair}
	m := metrics.New()
	addr := serve(t, newServer(logins, ServerConfig{}, m))

	assert.Empty(t, exchange(t, addr, "badcommand\n"))
	assert.Zero(t, logins.calls.Load())
	assert.EqualValues(t, 1, m.Snapshot().BrokerRejected)
}

func TestServer_LoginFailureClosesSilently(t *testing.T) {
	addr := serve(t, newServer(&fakeLogins{err: ncerr.ErrNoCredentials}, ServerConfig{}, nil))
	assert.Empty(t, exchange(t, addr, "getSession\n"))
}

func TestServer_ReadTimeout(t *testing.T) {
	addr := serve(t, newServer(&fakeLogins{creds: pair}, ServerConfig{ReadTimeout: 100 * time.Millisecond}, nil))

	start := time.Now()
	assert.Empty(t, exchange(t, addr, ""))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestServer_RateLimited(t *testing.T) {
	logins := &fakeLogins{creds: pair}
	srv := newServer(logins, ServerConfig{
		ReadTimeout: 200 * time.Millisecond,
		Rate:        rate.Every(time.Hour),
		Burst:       1,
	}, nil)
	addr := serve(t, srv)

	assert.Equal(t, "sess-1\nportal-1\n", exchange(t, addr, "getSession\n"))
	assert.Empty(t, exchange(t, addr, "getSession\n"))
	assert.EqualValues(t, 1, logins.calls.Load())
}

func TestServer_Defaults(t *testing.T) {
	srv := NewServer(ServerConfig{}, &fakeLogins{}, nil, util.NewLogger(0))
	assert.Equal(t, DefaultReadTimeout, srv.readTimeout)
	assert.Equal(t, DefaultRate, srv.limiter.Limit())
	assert.Equal(t, DefaultBurst, srv.limiter.Burst())
}

// ── Client ───────────────────────────────────────────────────────────

func newClient(addr string) *Client {
	c := NewClient(addr, &transport.TCPDialer{Timeout: time.Second}, 5*time.Second, util.NewLogger(0))
	c.backoff.InitialDelay = 10 * time.Millisecond
	c.backoff.Jitter = false
	return c
}

func TestClient_Credentials(t *testing.T) {
	addr := serve(t, newServer(&fakeLogins{creds: pair}, ServerConfig{}, nil))

	creds, err := newClient(addr).Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pair, creds)
}

func TestClient_NoReply(t *testing.T) {
	addr := serve(t, newServer(&fakeLogins{err: errors.New("portal down")}, ServerConfig{}, nil))

	_, err := newClient(addr).Credentials(context.Background())
	assert.ErrorIs(t, err, ncerr.ErrNoCredentials)
}

func TestClient_RetriesRefusedDial(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	c := newClient(addr)
	_, err = c.Credentials(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (3) exceeded")

	var ne *ncerr.NetworkError
	assert.ErrorAs(t, err, &ne)
}

// countingDialer records how many connections the client opened.
type countingDialer struct {
	transport.TCPDialer
	dials atomic.Int64
}

func (d *countingDialer) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	d.dials.Add(1)
	return d.TCPDialer.Dial(ctx, network, address)
}

func TestClient_NoReplyIsNotRetried(t *testing.T) {
	logins := &fakeLogins{err: errors.New("portal down")}
	addr := serve(t, newServer(logins, ServerConfig{}, nil))

	d := &countingDialer{TCPDialer: transport.TCPDialer{Timeout: time.Second}}
	c := NewClient(addr, d, 5*time.Second, util.NewLogger(0))
	c.backoff.InitialDelay = 10 * time.Millisecond

	_, err := c.Credentials(context.Background())
	assert.ErrorIs(t, err, ncerr.ErrNoCredentials)
	assert.NotContains(t, err.Error(), "max retries")
	assert.Equal(t, int64(1), d.dials.Load())
	assert.Equal(t, int64(1), logins.calls.Load())
}

func TestClient_AgainstRealPortal(t *testing.T) {
	srv := portaltest.NewServer("<html></html>")
	defer srv.Close()

	pc := portal.New(srv.URL, 5*time.Second, util.NewLogger(0))
	addr := serve(t, NewServer(ServerConfig{Username: portaltest.Username, Password: portaltest.Password}, pc, nil, util.NewLogger(0)))

	creds, err := newClient(addr).Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, portaltest.SessionID, creds.SessionID)
	assert.Equal(t, portaltest.PortalID, creds.Portal)
}
