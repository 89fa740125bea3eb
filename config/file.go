package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// fileConfig mirrors the TOML layout:
//
//	[server]
//	port = 8080
//	templates = "frontend"
//
//	[portal]
//	url = "https://iptv.nak.org"
//	ttl = "11h"
//
//	[broker]
//	addr = "10.0.0.5:7000"
//
//	[tunnel]
//	spec = "ops@bastion:2222"
type fileConfig struct {
	Server serverFile `toml:"server"`
	Portal portalFile `toml:"portal"`
	Broker brokerFile `toml:"broker"`
	Tunnel tunnelFile `toml:"tunnel"`
}

type serverFile struct {
	Port          int      `toml:"port"`
	Templates     string   `toml:"templates"`
	MaxConns      int      `toml:"max_conns"`
	ReadTimeout   duration `toml:"read_timeout"`
	LegacyHeaders bool     `toml:"legacy_headers"`
	Timestamps    bool     `toml:"timestamps"`
}

type portalFile struct {
	URL      string   `toml:"url"`
	Username string   `toml:"username"`
	Password string   `toml:"password"`
	TTL      duration `toml:"ttl"`
	Timeout  duration `toml:"timeout"`
}

type brokerFile struct {
	Enabled bool     `toml:"enabled"`
	Addr    string   `toml:"addr"`
	Rate    float64  `toml:"rate"`
	Burst   int      `toml:"burst"`
	Timeout duration `toml:"timeout"`
}

type tunnelFile struct {
	Spec          string   `toml:"spec"`
	Key           string   `toml:"key"`
	Password      string   `toml:"password"`
	Agent         bool     `toml:"agent"`
	StrictHostKey bool     `toml:"strict_host_key"`
	KnownHosts    string   `toml:"known_hosts"`
	KeepAlive     duration `toml:"keep_alive"`
}

// duration decodes "90s" style strings or whole seconds.
type duration struct{ time.Duration }

func (d *duration) UnmarshalText(text []byte) error {
	v, err := parseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// LoadFile overlays the TOML file at path onto cfg.  Keys absent from
// the file leave cfg untouched.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return decodeFile(cfg, string(data))
}

func decodeFile(cfg *Config, data string) error {
	fc := fromConfig(cfg)
	md, err := toml.Decode(data, &fc)
	if err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	fc.apply(cfg)
	return nil
}

// fromConfig seeds the file struct with the current values so that
// only the keys present in the file change anything.
func fromConfig(cfg *Config) fileConfig {
	return fileConfig{
		Server: serverFile{
			Port:          cfg.Port,
			Templates:     cfg.Templates,
			MaxConns:      cfg.MaxConns,
			ReadTimeout:   duration{cfg.ReadTimeout},
			LegacyHeaders: cfg.LegacyHeaders,
			Timestamps:    cfg.Timestamps,
		},
		Portal: portalFile{
			URL:      cfg.PortalURL,
			Username: cfg.Username,
			Password: cfg.Password,
			TTL:      duration{cfg.TTL},
			Timeout:  duration{cfg.PortalTimeout},
		},
		Broker: brokerFile{
			Enabled: cfg.Broker,
			Addr:    cfg.BrokerSpec,
			Rate:    cfg.BrokerRate,
			Burst:   cfg.BrokerBurst,
			Timeout: duration{cfg.BrokerTimeout},
		},
		Tunnel: tunnelFile{
			Spec:          cfg.TunnelSpec,
			Key:           cfg.SSHKeyPath,
			Password:      cfg.SSHPass,
			Agent:         cfg.UseSSHAgent,
			StrictHostKey: cfg.StrictHostKey,
			KnownHosts:    cfg.KnownHostsPath,
			KeepAlive:     duration{cfg.KeepAlive},
		},
	}
}

func (fc fileConfig) apply(cfg *Config) {
	cfg.Port = fc.Server.Port
	cfg.Templates = fc.Server.Templates
	cfg.MaxConns = fc.Server.MaxConns
	cfg.ReadTimeout = fc.Server.ReadTimeout.Duration
	cfg.LegacyHeaders = fc.Server.LegacyHeaders
	cfg.Timestamps = fc.Server.Timestamps

	cfg.PortalURL = fc.Portal.URL
	cfg.Username = fc.Portal.Username
	cfg.Password = fc.Portal.Password
	cfg.TTL = fc.Portal.TTL.Duration
	cfg.PortalTimeout = fc.Portal.Timeout.Duration

	cfg.Broker = fc.Broker.Enabled
	cfg.BrokerSpec = fc.Broker.Addr
	cfg.BrokerRate = fc.Broker.Rate
	cfg.BrokerBurst = fc.Broker.Burst
	cfg.BrokerTimeout = fc.Broker.Timeout.Duration

	cfg.TunnelSpec = fc.Tunnel.Spec
	cfg.SSHKeyPath = fc.Tunnel.Key
	cfg.SSHPass = fc.Tunnel.Password
	cfg.UseSSHAgent = fc.Tunnel.Agent
	cfg.StrictHostKey = fc.Tunnel.StrictHostKey
	cfg.KnownHostsPath = fc.Tunnel.KnownHosts
	cfg.KeepAlive = fc.Tunnel.KeepAlive.Duration
}
