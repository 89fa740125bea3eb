package capability

import (
	"context"
	"encoding/json"

	"autologin/internal/metrics"
	"autologin/internal/resolver"
	"autologin/internal/session"
)

// StatusPath is the literal route of the status page.
const StatusPath = "/.status"

// ResolverCache exposes the resolver cache state.
type ResolverCache interface {
	Snapshot() resolver.State
	Invalidate()
}

// Status reports the metrics snapshot and the resolver state as JSON.
// A POST first drops the cached stream URL and closes the breaker, so
// the next page load goes back to the portal.
type Status struct {
	Metrics  *metrics.Collector
	Resolver ResolverCache
}

type statusReport struct {
	Metrics  metrics.Snapshot `json:"metrics"`
	Resolver *resolver.State  `json:"resolver,omitempty"`
}

func (s *Status) Handle(_ context.Context, req *session.Request, sess *session.Session) error {
	switch req.Method {
	case "GET":
	case "POST":
		if s.Resolver != nil {
			s.Resolver.Invalidate()
			sess.Logger.Info("resolver cache invalidated")
		}
	default:
		return methodNotAllowed(req, sess)
	}

	report := statusReport{Metrics: s.Metrics.Snapshot()}
	if s.Resolver != nil {
		st := s.Resolver.Snapshot()
		report.Resolver = &st
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		sess.Logger.Error("status: %v", err)
		return SendError(sess, 500)
	}

	if err := sess.SendStatus(200); err != nil {
		return err
	}
	if err := sess.SendHeader("Content-Type", "application/json"); err != nil {
		return err
	}
	return sess.SendBody(string(data))
}
