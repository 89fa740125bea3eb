// Package config defines the runtime configuration of the proxy and
// the credential broker and provides helpers for parsing broker and
// tunnel specifications.
package config

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"time"

	ncerr "autologin/internal/errors"
)

// Config holds every tuneable for one process.
type Config struct {
	// ── Mode ─────────────────────────────────────────────────────────
	Broker bool // run the credential broker instead of the proxy

	// ── Server ───────────────────────────────────────────────────────
	Port          int
	Templates     string
	MaxConns      int
	ReadTimeout   time.Duration
	LegacyHeaders bool

	// ── Portal ───────────────────────────────────────────────────────
	PortalURL     string
	Username      string
	Password      string
	TTL           time.Duration
	PortalTimeout time.Duration

	// ── Broker ───────────────────────────────────────────────────────
	BrokerSpec    string // raw "port" or "host:port"
	BrokerHost    string
	BrokerPort    int
	BrokerRate    float64 // logins per second
	BrokerBurst   int
	BrokerTimeout time.Duration

	// ── SSH tunnel ───────────────────────────────────────────────────
	TunnelSpec     string // raw user@host[:port] from -T
	TunnelEnabled  bool
	TunnelUser     string
	TunnelHost     string
	TunnelPort     int
	SSHKeyPath     string
	SSHPassword    bool   // true → prompt interactively
	SSHPass        string // password from env or file
	UseSSHAgent    bool
	StrictHostKey  bool
	KnownHostsPath string
	KeepAlive      time.Duration

	// ── Output ───────────────────────────────────────────────────────
	Verbose    int
	Timestamps bool // prefix log lines with the time of day
	ConfigFile string
	DryRun     bool
}

// DirectLogin reports whether the proxy logs in itself rather than
// asking a broker.
func (c *Config) DirectLogin() bool {
	return c.Username != "" && c.BrokerPort == 0
}

// BrokerAddr returns the broker address as host:port.
func (c *Config) BrokerAddr() string {
	return net.JoinHostPort(c.BrokerHost, strconv.Itoa(c.BrokerPort))
}

// ── Broker-spec parser ───────────────────────────────────────────────

var (
	brokerPortOnly = regexp.MustCompile(`^\d+$`)
	brokerHostPort = regexp.MustCompile(`^([A-Za-z0-9.-]+):(\d+)$`)
)

// ParseBrokerSpec accepts "7000" (localhost), "10.0.0.5:7000" or
// "broker.example.com:7000".
func ParseBrokerSpec(spec string) (host string, port int, err error) {
	switch {
	case brokerPortOnly.MatchString(spec):
		host = DefaultBrokerHost
		port, err = strconv.Atoi(spec)
	case brokerHostPort.MatchString(spec):
		m := brokerHostPort.FindStringSubmatch(spec)
		host = m[1]
		port, err = strconv.Atoi(m[2])
	default:
		return "", 0, fmt.Errorf("invalid broker %q; expected port or host:port", spec)
	}
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid broker port in %q", spec)
	}
	return host, port, nil
}

// ── Tunnel-spec parser ───────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid tunnel spec %q; expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid tunnel port %q", m[3])
		}
	}
	return user, host, port, nil
}

// Resolve parses the raw broker and tunnel specs into their fields.
func (c *Config) Resolve() error {
	if c.BrokerSpec != "" {
		host, port, err := ParseBrokerSpec(c.BrokerSpec)
		if err != nil {
			return &ncerr.ConfigError{Field: "broker-addr", Value: c.BrokerSpec, Message: err.Error(),
				Hint: "use a port (7000) or host:port (10.0.0.5:7000)"}
		}
		c.BrokerHost, c.BrokerPort = host, port
	}
	if c.TunnelSpec != "" {
		user, host, port, err := ParseTunnelSpec(c.TunnelSpec)
		if err != nil {
			return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: err.Error()}
		}
		c.TunnelEnabled = true
		c.TunnelUser, c.TunnelHost, c.TunnelPort = user, host, port
	}
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return &ncerr.ConfigError{Field: "port", Value: c.Port, Message: "a listen port (1-65535) is required",
			Hint: "autologin -p 8080 7000"}
	}
	if c.MaxConns < 0 {
		return &ncerr.ConfigError{Field: "max-conns", Value: c.MaxConns, Message: "must not be negative",
			Hint: "use 0 for unbounded"}
	}
	if c.ReadTimeout < 0 {
		return &ncerr.ConfigError{Field: "read-timeout", Value: c.ReadTimeout, Message: "must not be negative"}
	}

	if c.Broker {
		return c.validateBroker()
	}
	return c.validateServe()
}

func (c *Config) validateBroker() error {
	if c.Username == "" || c.Password == "" {
		return &ncerr.ConfigError{Field: "username", Message: "broker mode needs portal credentials",
			Hint: "autologin --broker -p 7000 -u <user> --password <pass>"}
	}
	if c.BrokerRate <= 0 {
		return &ncerr.ConfigError{Field: "broker-rate", Value: c.BrokerRate, Message: "must be positive"}
	}
	if c.TunnelEnabled {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: "the broker does not dial out through a tunnel",
			Hint: "pass -T to the proxy that reaches this broker"}
	}
	return nil
}

func (c *Config) validateServe() error {
	switch {
	case c.BrokerPort == 0 && c.Username == "":
		return &ncerr.ConfigError{Field: "broker-addr", Message: "either a broker or portal credentials are required",
			Hint: "autologin -p 8080 7000, or autologin -p 8080 -u <user> --password <pass>"}
	case c.BrokerPort != 0 && c.Username != "":
		return &ncerr.ConfigError{Field: "username", Value: c.Username, Message: "cannot be combined with a broker",
			Hint: "drop -u/--password to use the broker, or drop the broker address"}
	case c.Username != "" && c.Password == "":
		return &ncerr.ConfigError{Field: "password", Message: "required with --username"}
	}
	if c.TTL <= 0 {
		return &ncerr.ConfigError{Field: "ttl", Value: c.TTL, Message: "must be positive"}
	}
	if c.TunnelEnabled && c.BrokerPort == 0 {
		return &ncerr.ConfigError{Field: "tunnel", Value: c.TunnelSpec, Message: "a tunnel is only used to reach a broker"}
	}
	if c.TunnelEnabled && c.TunnelHost == "" {
		return &ncerr.ConfigError{Field: "tunnel", Message: "tunnel host is required"}
	}
	return nil
}
