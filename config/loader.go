package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Config file  (file.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the AUTOLOGIN_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).  Durations accept Go
// syntax ("90s", "11h") or a bare number of seconds.

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flags are applied so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	if envBool("AUTOLOGIN_BROKER") {
		cfg.Broker = true
	}

	// Server
	if v := envInt("AUTOLOGIN_PORT"); v > 0 {
		cfg.Port = v
	}
	if v := os.Getenv("AUTOLOGIN_TEMPLATES"); v != "" {
		cfg.Templates = v
	}
	if v := envInt("AUTOLOGIN_MAX_CONNS"); v > 0 {
		cfg.MaxConns = v
	}
	if v := envDuration("AUTOLOGIN_READ_TIMEOUT"); v > 0 {
		cfg.ReadTimeout = v
	}
	if envBool("AUTOLOGIN_LEGACY_HEADERS") {
		cfg.LegacyHeaders = true
	}

	// Portal
	if v := os.Getenv("AUTOLOGIN_PORTAL_URL"); v != "" {
		cfg.PortalURL = v
	}
	if v := os.Getenv("AUTOLOGIN_USERNAME"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv("AUTOLOGIN_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := envDuration("AUTOLOGIN_TTL"); v > 0 {
		cfg.TTL = v
	}
	if v := envDuration("AUTOLOGIN_PORTAL_TIMEOUT"); v > 0 {
		cfg.PortalTimeout = v
	}

	// Broker
	if v := os.Getenv("AUTOLOGIN_BROKER_ADDR"); v != "" {
		cfg.BrokerSpec = v
	}
	if v := envFloat("AUTOLOGIN_BROKER_RATE"); v > 0 {
		cfg.BrokerRate = v
	}
	if v := envInt("AUTOLOGIN_BROKER_BURST"); v > 0 {
		cfg.BrokerBurst = v
	}
	if v := envDuration("AUTOLOGIN_BROKER_TIMEOUT"); v > 0 {
		cfg.BrokerTimeout = v
	}

	// SSH tunnel
	if v := os.Getenv("AUTOLOGIN_TUNNEL"); v != "" {
		cfg.TunnelSpec = v
	}
	if v := os.Getenv("AUTOLOGIN_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}
	if v := os.Getenv("AUTOLOGIN_SSH_PASS"); v != "" {
		cfg.SSHPass = v
	}
	if envBool("AUTOLOGIN_SSH_PASSWORD") {
		cfg.SSHPassword = true
	}
	if envBool("AUTOLOGIN_SSH_AGENT") {
		cfg.UseSSHAgent = true
	}
	if envBool("AUTOLOGIN_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("AUTOLOGIN_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}
	if v := envDuration("AUTOLOGIN_KEEP_ALIVE"); v > 0 {
		cfg.KeepAlive = v
	}

	// Output
	if v := envInt("AUTOLOGIN_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
	if envBool("AUTOLOGIN_TIMESTAMPS") {
		cfg.Timestamps = true
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envFloat(key string) float64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string) time.Duration {
	d, err := parseDuration(os.Getenv(key))
	if err != nil {
		return 0
	}
	return d
}

// parseDuration accepts Go duration syntax or whole seconds.
func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return secondsDuration(n), nil
	}
	return time.ParseDuration(s)
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
