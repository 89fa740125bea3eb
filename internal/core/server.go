package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"autologin/internal/capability"
	ncerr "autologin/internal/errors"
	"autologin/internal/metrics"
	"autologin/internal/router"
	"autologin/internal/session"
	"autologin/util"
)

// DefaultReadTimeout bounds reading one request.
const DefaultReadTimeout = 30 * time.Second

// HTTPServer is the [ConnHandler] of the proxy.  It parses one request
// per connection, routes it and completes the response.
type HTTPServer struct {
	Router      *router.Router[capability.Capability]
	NotFound    capability.Capability
	HeaderStyle session.HeaderStyle
	ReadTimeout time.Duration // 0 disables the deadline
	Metrics     *metrics.Collector
	Logger      *util.Logger
}

// ServeConn handles one connection.
//
//   - Malformed or empty request: closed without a response.
//   - Resource not starting with "/": 400, no handler runs.
//   - No route: the NotFound handler.
func (s *HTTPServer) ServeConn(ctx context.Context, conn net.Conn) {
	log := s.Logger.With("req", uuid.NewString()[:8], "peer", util.PeerHost(conn))

	if s.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout)) //nolint:errcheck
	}
	req, err := session.ParseRequest(bufio.NewReader(conn))
	if err != nil {
		if errors.Is(err, io.EOF) {
			log.Debug("peer closed without a request")
		} else {
			log.Warn("dropping connection: %v", err)
		}
		s.Metrics.ConnectionDropped()
		conn.Close()
		return
	}
	conn.SetReadDeadline(time.Time{}) //nolint:errcheck

	log.Verbose("%s %s %s", req.Method, req.Resource, req.Version)
	sess := session.New(conn, req.Version, req.Headers, log)
	sess.SetHeaderStyle(s.HeaderStyle)
	defer s.finish(sess, log)

	if err := req.Validate(); err != nil {
		log.Warn("400 %v", err)
		if err := sess.SendStatus(400); err != nil {
			log.Error("%v", err)
		}
		return
	}

	h, ok := s.Router.Lookup(req.Resource)
	if !ok {
		h = s.notFound()
	}
	if err := s.invoke(ctx, h, req, sess, log); err != nil {
		s.Metrics.RecordError(err.Error())
		if errors.Is(err, ncerr.ErrInvalidState) {
			log.Error("protocol violation, aborting: %v", err)
			if !sess.Disposed() {
				sess.Abort() //nolint:errcheck
			}
		} else if !util.IsHarmless(err) {
			log.Error("handler: %v", err)
		}
	}
}

func (s *HTTPServer) notFound() capability.Capability {
	if s.NotFound != nil {
		return s.NotFound
	}
	return capability.NotFound{}
}

// invoke runs h, turning a panic into an error and, if nothing has
// been written yet, a 500.
func (s *HTTPServer) invoke(ctx context.Context, h capability.Capability, req *session.Request, sess *session.Session, log *util.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
			if sess.State() == session.StateOpen {
				capability.SendError(sess, 500) //nolint:errcheck
			}
		}
	}()
	return h.Handle(ctx, req, sess)
}

// finish completes the session unless the handler already did.
func (s *HTTPServer) finish(sess *session.Session, log *util.Logger) {
	if !sess.Disposed() {
		if err := sess.Complete(); err != nil && !util.IsHarmless(err) {
			log.Debug("complete: %v", err)
		}
	}
	if code := sess.Status(); code != 0 {
		s.Metrics.ResponseSent(code)
		log.Debug("%d %s", code, session.Reason(code))
	}
}
