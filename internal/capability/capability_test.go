package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autologin/internal/metrics"
	"autologin/internal/resolver"
	"autologin/internal/session"
	"autologin/internal/template"
	"autologin/util"
)

type sink struct {
	bytes.Buffer
	closed bool
}

func (s *sink) Close() error { s.closed = true; return nil }

type fakeStream struct {
	url         string
	calls       atomic.Int64
	invalidated bool
}

func (f *fakeStream) Resolve(context.Context) (string, bool) {
	f.calls.Add(1)
	return f.url, f.url != ""
}

func (f *fakeStream) Snapshot() resolver.State {
	return resolver.State{URL: f.url, Fresh: f.url != "", Breaker: "closed"}
}

func (f *fakeStream) Invalidate() {
	f.invalidated = true
	f.url = ""
}

// run invokes h for a request and returns the raw response.
func run(t *testing.T, h Capability, method, resource string) string {
	t.Helper()
	out := &sink{}
	sess := session.New(out, "HTTP/1.1", nil, util.NewLogger(0))
	req := &session.Request{Method: method, Resource: resource, Version: "HTTP/1.1"}

	require.NoError(t, h.Handle(context.Background(), req, sess))
	require.NoError(t, sess.Complete())
	require.True(t, out.closed)
	return out.String()
}

func newFrontend(t *testing.T, files map[string]string, stream StreamSource) *Frontend {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	store := template.NewStore(dir, util.NewLogger(0))
	t.Cleanup(func() { store.Close() })
	return &Frontend{Templates: store, Stream: stream}
}

func TestFrontend_IndexWithStream(t *testing.T) {
	stream := &fakeStream{url: "https://stream1.nac-cdn.org/poster/a/b/high/index.m3u8"}
	f := newFrontend(t, map[string]string{"index.html": `<video src="${streamURL}">`}, stream)

	resp := run(t, f, "GET", "/")

	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"), resp)
	assert.Contains(t, resp, "Content-Type: text/html")
	assert.Contains(t, resp, "\r\n\r\n"+`<video src="https://stream1.nac-cdn.org/poster/a/b/high/index.m3u8">`+"\r\n\r\n")
	assert.EqualValues(t, 1, stream.calls.Load())
}

func TestFrontend_NamedPage(t *testing.T) {
	f := newFrontend(t, map[string]string{"style.css": "body{}"}, &fakeStream{})

	resp := run(t, f, "GET", "/style.css")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, resp, "Content-Type: text/css")
}

func TestFrontend_NoPlaceholderSkipsResolve(t *testing.T) {
	stream := &fakeStream{url: "x"}
	f := newFrontend(t, map[string]string{"about.html": "static"}, stream)

	run(t, f, "GET", "/about.html")
	assert.Zero(t, stream.calls.Load())
}

func TestFrontend_UnresolvedStreamStill200(t *testing.T) {
	f := newFrontend(t, map[string]string{"index.html": `[${streamURL}]`}, &fakeStream{})

	resp := run(t, f, "GET", "/")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, resp, "[]")
}

func TestFrontend_MissingTemplate(t *testing.T) {
	f := newFrontend(t, nil, &fakeStream{})

	resp := run(t, f, "GET", "/")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 404 Not Found\r\n"), resp)
	assert.Contains(t, resp, "404 Not Found")
}

func TestFrontend_TraversalSanitized(t *testing.T) {
	f := newFrontend(t, map[string]string{"index.html": "ok"}, &fakeStream{})

	resp := run(t, f, "GET", "/../index.html")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 404 Not Found\r\n"), resp)
}

func TestFrontend_MethodNotAllowed(t *testing.T) {
	stream := &fakeStream{url: "x"}
	f := newFrontend(t, map[string]string{"index.html": "${streamURL}"}, stream)

	resp := run(t, f, "POST", "/")
	assert.Equal(t, "HTTP/1.1 405 Method Not Allowed\r\n\r\n", resp)
	assert.Zero(t, stream.calls.Load())
}

func TestFrontend_ExtraVars(t *testing.T) {
	f := newFrontend(t, map[string]string{"index.html": "v${version}"}, nil)
	f.Vars = template.Vars{"version": func() string { return "1.0" }}

	assert.Contains(t, run(t, f, "GET", "/"), "v1.0")
}

func TestNotFound(t *testing.T) {
	resp := run(t, NotFound{}, "GET", "/nope")
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 404 Not Found\r\n"))
	assert.Contains(t, resp, "<h1>404 Not Found</h1>")
}

func TestStatus(t *testing.T) {
	m := metrics.New()
	m.ResponseSent(200)
	s := &Status{Metrics: m, Resolver: &fakeStream{url: "https://x"}}

	resp := run(t, s, "GET", StatusPath)
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"), resp)
	assert.Contains(t, resp, "Content-Type: application/json")

	body := resp[strings.Index(resp, "\r\n\r\n")+4:]
	body = strings.TrimSuffix(body, "\r\n\r\n")
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(body), &report))
	assert.EqualValues(t, 1, report.Metrics.Status2xx)
	require.NotNil(t, report.Resolver)
	assert.Equal(t, "https://x", report.Resolver.URL)
}

func TestStatus_PostInvalidates(t *testing.T) {
	stream := &fakeStream{url: "https://x"}
	s := &Status{Metrics: metrics.New(), Resolver: stream}

	resp := run(t, s, "POST", StatusPath)
	require.True(t, strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n"), resp)
	assert.True(t, stream.invalidated)
	assert.Contains(t, resp, `"fresh": false`)
	assert.NotContains(t, resp, "https://x")
}

func TestStatus_MethodNotAllowed(t *testing.T) {
	resp := run(t, &Status{}, "DELETE", StatusPath)
	assert.Equal(t, "HTTP/1.1 405 Method Not Allowed\r\n\r\n", resp)
}

func TestFunc(t *testing.T) {
	called := false
	h := Func(func(_ context.Context, _ *session.Request, sess *session.Session) error {
		called = true
		return sess.SendStatus(200)
	})
	run(t, h, "GET", "/")
	assert.True(t, called)
}
