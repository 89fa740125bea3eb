package core

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	ncerr "autologin/internal/errors"
	"autologin/internal/metrics"
	"autologin/util"
)

// connFunc adapts a function to ConnHandler.
type connFunc func(ctx context.Context, conn net.Conn)

func (f connFunc) ServeConn(ctx context.Context, conn net.Conn) { f(ctx, conn) }

// startListen runs mode in the background and returns the bound
// address and the channel Run's result is delivered on.
func startListen(t *testing.T, ctx context.Context, mode *ListenMode) (string, <-chan error) {
	t.Helper()
	if mode.Address == "" {
		mode.Address = "127.0.0.1:0"
	}
	if mode.Logger == nil {
		mode.Logger = util.NewLogger(0)
	}
	bound := make(chan net.Addr, 1)
	mode.OnListen = func(a net.Addr) { bound <- a }

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- mode.Run(ctx)
	}()

	select {
	case a := <-bound:
		return a.String(), serverErr
	case err := <-serverErr:
		t.Fatalf("listener failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener did not start")
	}
	return "", nil
}

func waitStopped(t *testing.T, serverErr <-chan error) {
	t.Helper()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Run returned %v, want nil after cancel", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

// TestListenMode_Serves verifies every accepted connection reaches the
// handler.
func TestListenMode_Serves(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	m := metrics.New()
	mode := &ListenMode{
		Metrics: m,
		Handler: connFunc(func(_ context.Context, conn net.Conn) {
			defer conn.Close()
			conn.Write([]byte("hello\n")) //nolint:errcheck
		}),
	}
	addr, serverErr := startListen(t, ctx, mode)

	for i := 0; i < 3; i++ {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		conn.SetDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
		got, _ := io.ReadAll(conn)
		conn.Close()
		if string(got) != "hello\n" {
			t.Errorf("connection %d: got %q", i, got)
		}
	}

	cancel()
	waitStopped(t, serverErr)

	if total := m.TotalConnections(); total != 3 {
		t.Errorf("TotalConnections = %d, want 3", total)
	}
	if active := m.ActiveConnections(); active != 0 {
		t.Errorf("ActiveConnections = %d, want 0", active)
	}
}

// TestListenMode_LogsFinalMetrics verifies shutdown reports the
// counters at verbose level.
func TestListenMode_LogsFinalMetrics(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var buf bytes.Buffer
	logger := util.NewLogger(2)
	logger.SetOutput(&buf)
	mode := &ListenMode{
		Metrics: metrics.New(),
		Logger:  logger,
		Handler: connFunc(func(_ context.Context, conn net.Conn) { conn.Close() }),
	}
	addr, serverErr := startListen(t, ctx, mode)

	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck
	io.ReadAll(conn)                                  //nolint:errcheck
	conn.Close()

	cancel()
	waitStopped(t, serverErr)

	out := buf.String()
	if !strings.Contains(out, "final metrics") {
		t.Fatalf("no metrics line in log:\n%s", out)
	}
	if !strings.Contains(out, `"connections_total": 1`) {
		t.Errorf("metrics line missing connection count:\n%s", out)
	}
}

// TestListenMode_BindFailure verifies a port already in use is reported
// as a listen error.
func TestListenMode_BindFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer busy.Close()

	mode := &ListenMode{
		Address: busy.Addr().String(),
		Handler: connFunc(func(context.Context, net.Conn) {}),
		Logger:  util.NewLogger(0),
	}
	err = mode.Run(context.Background())
	if err == nil {
		t.Fatal("expected bind error")
	}
	var ne *ncerr.NetworkError
	if !errors.As(err, &ne) || ne.Op != "listen" {
		t.Errorf("error = %v, want a listen NetworkError", err)
	}
}

// TestListenMode_MaxConns verifies that no more than MaxConns handlers
// run at once.
func TestListenMode_MaxConns(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var active, peak atomic.Int32
	started := make(chan struct{}, 8)
	gate := make(chan struct{})

	mode := &ListenMode{
		MaxConns: 2,
		Handler: connFunc(func(_ context.Context, conn net.Conn) {
			defer conn.Close()
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			started <- struct{}{}
			<-gate
			active.Add(-1)
		}),
	}
	addr, serverErr := startListen(t, ctx, mode)

	var conns []net.Conn
	for i := 0; i < 4; i++ {
		conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		conns = append(conns, conn)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for i := 0; i < 2; i++ {
		<-started
	}
	select {
	case <-started:
		t.Fatal("a third handler started while two were active")
	case <-time.After(200 * time.Millisecond):
	}

	close(gate)
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("queued connections were not served")
		}
	}

	cancel()
	waitStopped(t, serverErr)

	if p := peak.Load(); p != 2 {
		t.Errorf("peak concurrency = %d, want 2", p)
	}
}

type closeRecorder struct{ closed atomic.Bool }

func (c *closeRecorder) Close() error {
	c.closed.Store(true)
	return nil
}

// TestListenMode_Closers verifies resources are released on shutdown.
func TestListenMode_Closers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := &closeRecorder{}
	mode := &ListenMode{
		Handler: connFunc(func(_ context.Context, conn net.Conn) { conn.Close() }),
		Closers: []io.Closer{rec},
	}
	_, serverErr := startListen(t, ctx, mode)

	cancel()
	waitStopped(t, serverErr)
	if !rec.closed.Load() {
		t.Error("closer was not called")
	}
}

// TestListenMode_GracePeriod verifies shutdown does not wait forever
// for a stuck handler.
func TestListenMode_GracePeriod(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	block := make(chan struct{})
	defer close(block)
	entered := make(chan struct{})

	mode := &ListenMode{
		GracePeriod: 100 * time.Millisecond,
		Handler: connFunc(func(_ context.Context, conn net.Conn) {
			defer conn.Close()
			close(entered)
			<-block
		}),
	}
	addr, serverErr := startListen(t, ctx, mode)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	<-entered

	start := time.Now()
	cancel()
	waitStopped(t, serverErr)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("shutdown took %v, want about the grace period", elapsed)
	}
}

func TestNextDelay(t *testing.T) {
	var d time.Duration
	want := []time.Duration{5, 10, 20, 40}
	for _, w := range want {
		d = nextDelay(d)
		if d != w*time.Millisecond {
			t.Fatalf("nextDelay = %v, want %v", d, w*time.Millisecond)
		}
	}
	for i := 0; i < 20; i++ {
		d = nextDelay(d)
	}
	if d != maxAcceptDelay {
		t.Errorf("delay should cap at %v, got %v", maxAcceptDelay, d)
	}
}
