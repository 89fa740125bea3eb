// Package capability holds the route handlers.  A Capability answers
// one parsed request by writing through the connection's Session; it
// never touches the raw connection, which keeps handlers testable and
// decoupled from transport details.
package capability

import (
	"context"
	"fmt"

	"autologin/internal/session"
)

// Capability handles one request.  The caller completes the session if
// the handler did not.
type Capability interface {
	Handle(ctx context.Context, req *session.Request, sess *session.Session) error
}

// Func adapts a function to [Capability].
type Func func(ctx context.Context, req *session.Request, sess *session.Session) error

func (f Func) Handle(ctx context.Context, req *session.Request, sess *session.Session) error {
	return f(ctx, req, sess)
}

// ── Error pages ──────────────────────────────────────────────────────

// ErrorPage renders the body sent with an error status.
func ErrorPage(code int) string {
	title := statusTitle(code)
	return "<!DOCTYPE html>\n<html><head><title>" + title + "</title></head>" +
		"<body><h1>" + title + "</h1></body></html>"
}

func statusTitle(code int) string {
	return fmt.Sprintf("%d %s", code, session.Reason(code))
}

// SendError writes code with the matching error page.
func SendError(sess *session.Session, code int) error {
	if err := sess.SendStatus(code); err != nil {
		return err
	}
	if err := sess.SendHeader("Content-Type", "text/html; charset=utf-8"); err != nil {
		return err
	}
	return sess.SendBody(ErrorPage(code))
}

// NotFound answers every request with 404.
type NotFound struct{}

func (NotFound) Handle(_ context.Context, req *session.Request, sess *session.Session) error {
	sess.Logger.Info("404 %s not found", req.Resource)
	return SendError(sess, 404)
}

// methodNotAllowed answers a non-GET request with a bare 405.
func methodNotAllowed(req *session.Request, sess *session.Session) error {
	sess.Logger.Warn("405 %q not allowed", req.Method)
	return sess.SendStatus(405)
}
