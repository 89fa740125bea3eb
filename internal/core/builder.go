package core

import (
	"fmt"
	"io"

	"golang.org/x/time/rate"

	"autologin/config"
	"autologin/internal/broker"
	"autologin/internal/capability"
	"autologin/internal/metrics"
	"autologin/internal/portal"
	"autologin/internal/resolver"
	"autologin/internal/router"
	"autologin/internal/session"
	"autologin/internal/template"
	"autologin/internal/transport"
	"autologin/tunnel"
	"autologin/util"
)

// PagePattern matches single-segment page names such as "/index.html"
// or "/player".
const PagePattern = `/[\w-]+(\.[\w-]+)?`

// Build constructs the appropriate Mode from the given configuration.
// This is the single dispatch point between the proxy and the broker.
func Build(cfg *config.Config, logger *util.Logger) (Mode, error) {
	if cfg.Broker {
		return buildBroker(cfg, logger), nil
	}
	return buildServe(cfg, logger)
}

// ── mode builders ────────────────────────────────────────────────────

func buildServe(cfg *config.Config, logger *util.Logger) (Mode, error) {
	m := metrics.New()
	pc := portal.New(cfg.PortalURL, cfg.PortalTimeout, logger)

	var (
		auth    resolver.Authenticator
		closers []io.Closer
	)
	if cfg.DirectLogin() {
		auth = &resolver.DirectAuth{Portal: pc, Username: cfg.Username, Password: cfg.Password}
	} else {
		dialer := buildDialer(cfg, logger)
		closers = append(closers, dialer)
		auth = &resolver.BrokerAuth{
			Portal: pc,
			Broker: broker.NewClient(cfg.BrokerAddr(), dialer, cfg.BrokerTimeout, logger),
		}
	}

	res := resolver.New(auth, resolver.Options{
		TTL:     cfg.TTL,
		Timeout: cfg.PortalTimeout * 3,
		Metrics: m,
		Logger:  logger,
	})

	store := template.NewStore(cfg.Templates, logger)
	closers = append(closers, store)

	routes, err := buildRoutes(store, res, m)
	if err != nil {
		return nil, err
	}

	logger.Verbose("portal %s, login via %s, templates in %s", cfg.PortalURL, auth.Name(), store.Root())

	return &ListenMode{
		Address:  fmt.Sprintf(":%d", cfg.Port),
		MaxConns: cfg.MaxConns,
		Metrics:  m,
		Logger:   logger,
		Closers:  closers,
		Handler: &HTTPServer{
			Router:      routes,
			NotFound:    capability.NotFound{},
			HeaderStyle: headerStyle(cfg),
			ReadTimeout: cfg.ReadTimeout,
			Metrics:     m,
			Logger:      logger,
		},
	}, nil
}

func buildBroker(cfg *config.Config, logger *util.Logger) Mode {
	m := metrics.New()
	pc := portal.New(cfg.PortalURL, cfg.PortalTimeout, logger)

	return &ListenMode{
		Address:  fmt.Sprintf(":%d", cfg.Port),
		MaxConns: cfg.MaxConns,
		Metrics:  m,
		Logger:   logger,
		Handler: broker.NewServer(broker.ServerConfig{
			Username: cfg.Username,
			Password: cfg.Password,
			Rate:     rate.Limit(cfg.BrokerRate),
			Burst:    cfg.BrokerBurst,
		}, pc, m, logger),
	}
}

// ── shared helpers ───────────────────────────────────────────────────

// buildRoutes registers the page and status routes.
func buildRoutes(store *template.Store, res *resolver.Resolver, m *metrics.Collector) (*router.Router[capability.Capability], error) {
	pages := &capability.Frontend{Templates: store, Stream: res}

	r := router.New[capability.Capability]()
	r.Literal("/", pages)
	if err := r.Pattern(PagePattern, pages); err != nil {
		return nil, err
	}
	r.Literal(capability.StatusPath, &capability.Status{Metrics: m, Resolver: res})
	return r, nil
}

// buildDialer creates the right transport.Dialer for reaching the
// broker.
func buildDialer(cfg *config.Config, logger *util.Logger) transport.Dialer {
	var sshCfg *tunnel.SSHConfig
	if cfg.TunnelEnabled {
		sshCfg = &tunnel.SSHConfig{
			User:          cfg.TunnelUser,
			Host:          cfg.TunnelHost,
			Port:          cfg.TunnelPort,
			KeyPath:       cfg.SSHKeyPath,
			Password:      cfg.SSHPass,
			PromptPass:    cfg.SSHPassword,
			UseAgent:      cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			ConnTimeout:   config.DefaultConnTimeout,
			KeepAlive:     cfg.KeepAlive,
		}
	}
	return transport.New(sshCfg, config.DefaultConnTimeout, logger)
}

func headerStyle(cfg *config.Config) session.HeaderStyle {
	if cfg.LegacyHeaders {
		return session.HeaderStyleLegacy
	}
	return session.HeaderStyleStandard
}
