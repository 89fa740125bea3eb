// Package session implements the per-connection side of the HTTP
// subset: parsing one request and writing one response.
//
// A Session enforces the response ordering.  A status line must be
// written before any header or body, and the session is completed
// exactly once:
//
//	OPEN ──SendStatus──▶ STATUS_SET ──Complete──▶ DISPOSED
//	  └────────────────Complete───────────────────▲
//
// Abort also reaches DISPOSED but drops the connection unanswered.
//
// Calls made in the wrong state fail with an error matching
// [ncerr.ErrInvalidState] instead of being ignored.
package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"

	ncerr "autologin/internal/errors"
	"autologin/util"
)

// State is the response-protocol state of a Session.
type State int

const (
	StateOpen State = iota
	StateStatusSet
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateStatusSet:
		return "status-set"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// HeaderStyle selects the separator used for response header lines.
type HeaderStyle int

const (
	// HeaderStyleStandard writes "Key: value".
	HeaderStyleStandard HeaderStyle = iota
	// HeaderStyleLegacy writes "Key=value", byte compatible with older
	// clients of this proxy.
	HeaderStyleLegacy
)

// Session encapsulates the response side of a single connection.
// It is owned by one goroutine and is not safe for concurrent use.
type Session struct {
	w       *bufio.Writer
	sink    io.Closer
	version string
	headers map[string]string
	style   HeaderStyle
	status  int
	state   State

	Logger *util.Logger
}

// New creates a Session that writes to sink.  version is echoed in the
// status line; headers are the request headers (may be nil).
func New(sink io.WriteCloser, version string, headers map[string]string, logger *util.Logger) *Session {
	if headers == nil {
		headers = map[string]string{}
	}
	return &Session{
		w:       bufio.NewWriter(sink),
		sink:    sink,
		version: version,
		headers: headers,
		Logger:  logger,
	}
}

// SetHeaderStyle changes the response header separator.  It must be
// called before the first header is written.
func (s *Session) SetHeaderStyle(style HeaderStyle) { s.style = style }

// ── Accessors ────────────────────────────────────────────────────────

// Version returns the protocol version of the request.
func (s *Session) Version() string { return s.version }

// Status returns the status code sent so far, or 0.
func (s *Session) Status() int { return s.status }

// State returns the current protocol state.
func (s *Session) State() State { return s.state }

// Disposed reports whether Complete has been called.
func (s *Session) Disposed() bool { return s.state == StateDisposed }

// RequestHeader returns a request header value.
func (s *Session) RequestHeader(key string) (string, bool) {
	v, ok := s.headers[key]
	return v, ok
}

// RequestHeaders returns a copy of all request headers.
func (s *Session) RequestHeaders() map[string]string {
	out := make(map[string]string, len(s.headers))
	for k, v := range s.headers {
		out[k] = v
	}
	return out
}

// ── Response protocol ────────────────────────────────────────────────

// SendStatus writes "<version> <code> <reason>\r\n".  It may be called
// once, before anything else is written.
func (s *Session) SendStatus(code int) error {
	if s.state != StateOpen {
		return &ncerr.StateError{Op: "status", State: s.state.String()}
	}
	s.status = code
	s.state = StateStatusSet
	_, err := fmt.Fprintf(s.w, "%s %d %s\r\n", s.version, code, Reason(code))
	return err
}

// SendHeader writes one response header line.
func (s *Session) SendHeader(key, value string) error {
	if s.state != StateStatusSet {
		return &ncerr.StateError{Op: "header", State: s.state.String()}
	}
	sep := ": "
	if s.style == HeaderStyleLegacy {
		sep = "="
	}
	_, err := fmt.Fprintf(s.w, "%s%s%s\r\n", key, sep, value)
	return err
}

// SendBody writes a blank line, the body and a trailing line terminator.
func (s *Session) SendBody(body string) error {
	if s.state != StateStatusSet {
		return &ncerr.StateError{Op: "body", State: s.state.String()}
	}
	_, err := s.w.WriteString("\r\n" + body + "\r\n")
	return err
}

// Complete writes the final terminator, flushes, closes the sink and
// disposes the session.  The sink is closed even if flushing fails.
func (s *Session) Complete() error {
	if s.state == StateDisposed {
		return &ncerr.StateError{Op: "complete", State: s.state.String()}
	}
	s.state = StateDisposed

	_, werr := s.w.WriteString("\r\n")
	ferr := s.w.Flush()
	cerr := s.sink.Close()

	s.headers = nil
	return errors.Join(werr, ferr, cerr)
}

// Abort closes the connection without the terminating blank line.
// Output still buffered is discarded and no status is reported, so the
// client sees a dropped connection rather than a truncated response.
func (s *Session) Abort() error {
	if s.state == StateDisposed {
		return &ncerr.StateError{Op: "abort", State: s.state.String()}
	}
	s.state = StateDisposed
	s.status = 0
	s.headers = nil
	s.w.Reset(io.Discard)
	return s.sink.Close()
}

// Reason returns the reason phrase for a status code.
func Reason(code int) string {
	if r := http.StatusText(code); r != "" {
		return r
	}
	return "Unknown"
}
