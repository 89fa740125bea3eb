// Package broker implements the credential broker, a sidecar that
// logs in to the portal on request and hands the resulting session
// cookies to the proxy over a one-line protocol:
//
//	client: getSession\n
//	server: <session id>\n<portal id>\n   (then closes)
//
// Any other input, a timeout or a failed login closes the connection
// without a reply.
package broker

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/time/rate"

	"autologin/internal/metrics"
	"autologin/internal/portal"
	"autologin/util"
)

const (
	// Command is the only request the broker understands.
	Command = "getSession"

	DefaultReadTimeout = 3 * time.Second
	DefaultRate        = rate.Limit(1)
	DefaultBurst       = 2
)

// Logins performs a portal login and returns the issued cookies.
type Logins interface {
	Login(ctx context.Context, username, password string) (portal.Credentials, error)
}

// ServerConfig configures a Server.  Zero values select defaults.
type ServerConfig struct {
	Username    string
	Password    string
	ReadTimeout time.Duration
	Rate        rate.Limit
	Burst       int
}

// Server answers broker requests.  The only state shared between
// connections is the configured account and the login rate limiter.
type Server struct {
	logins      Logins
	username    string
	password    string
	readTimeout time.Duration
	limiter     *rate.Limiter
	metrics     *metrics.Collector
	logger      *util.Logger
}

// NewServer creates a broker that logs in through logins.
func NewServer(cfg ServerConfig, logins Logins, m *metrics.Collector, logger *util.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	return &Server{
		logins:      logins,
		username:    cfg.Username,
		password:    cfg.Password,
		readTimeout: cfg.ReadTimeout,
		limiter:     rate.NewLimiter(cfg.Rate, cfg.Burst),
		metrics:     m,
		logger:      logger,
	}
}

// ServeConn handles one broker connection and closes it.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	log := s.logger.With("peer", util.PeerHost(conn))

	deadline := time.Now().Add(s.readTimeout)
	conn.SetDeadline(deadline) //nolint:errcheck

	line, err := util.ReadLine(bufio.NewReader(conn))
	if err != nil {
		s.reject(log, "read: %v", err)
		return
	}
	if line != Command {
		s.reject(log, "unknown command %q", line)
		return
	}

	// Waiting for a login slot counts against the read deadline.
	wctx, cancel := context.WithDeadline(ctx, deadline)
	err = s.limiter.Wait(wctx)
	cancel()
	if err != nil {
		s.reject(log, "rate limited: %v", err)
		return
	}

	creds, err := s.logins.Login(ctx, s.username, s.password)
	if err != nil {
		s.metrics.RecordError(err.Error())
		s.reject(log, "couldn't find session: %v", err)
		return
	}

	conn.SetWriteDeadline(time.Now().Add(s.readTimeout)) //nolint:errcheck
	if _, err := fmt.Fprintf(conn, "%s\n%s\n", creds.SessionID, creds.Portal); err != nil {
		log.Warn("write session: %v", err)
		return
	}
	s.metrics.BrokerSession()
	log.Info("handed out session")
	log.Debug("session id %s, portal %s", creds.SessionID, creds.Portal)
}

func (s *Server) reject(log *util.Logger, format string, args ...interface{}) {
	s.metrics.BrokerRejected()
	log.Warn("closing without reply: "+format, args...)
}
