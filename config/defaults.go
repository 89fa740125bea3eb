package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, config file parsing, and environment variable
// loading.

const (
	// DefaultPortalURL is the production IPTV portal.
	DefaultPortalURL = "https://iptv.nak.org"

	// DefaultTemplates is the template directory, relative to the
	// working directory.
	DefaultTemplates = "frontend"

	// DefaultTTL is how long a resolved stream URL is reused.
	DefaultTTL = 11 * time.Hour

	// DefaultMaxConns bounds concurrently served connections.
	DefaultMaxConns = 256

	// DefaultReadTimeout bounds reading one request.
	DefaultReadTimeout = 30 * time.Second

	// DefaultPortalTimeout bounds a single portal request.
	DefaultPortalTimeout = 20 * time.Second

	// DefaultBrokerHost is used when the broker is given as a port.
	DefaultBrokerHost = "127.0.0.1"

	// DefaultBrokerRate and DefaultBrokerBurst limit broker logins.
	DefaultBrokerRate  = 1.0
	DefaultBrokerBurst = 2

	// DefaultBrokerTimeout bounds one broker request from the proxy.
	DefaultBrokerTimeout = 15 * time.Second

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultKeepAlive is the SSH keepalive interval.
	DefaultKeepAlive = 30 * time.Second

	// DefaultConnTimeout is the TCP/SSH connection timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultGracePeriod is how long shutdown waits for in-flight
	// connections.
	DefaultGracePeriod = 5 * time.Second
)

// Default returns a Config populated with every default.
func Default() *Config {
	return &Config{
		Templates:     DefaultTemplates,
		MaxConns:      DefaultMaxConns,
		ReadTimeout:   DefaultReadTimeout,
		PortalURL:     DefaultPortalURL,
		TTL:           DefaultTTL,
		PortalTimeout: DefaultPortalTimeout,
		BrokerRate:    DefaultBrokerRate,
		BrokerBurst:   DefaultBrokerBurst,
		BrokerTimeout: DefaultBrokerTimeout,
		KeepAlive:     DefaultKeepAlive,
		Verbose:       1,
	}
}
