// Package cmd wires up the CLI flags and dispatches to the proxy or
// the credential broker.
package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"autologin/config"
	"autologin/internal/core"
	"autologin/util"
)

// version is overridable at link time:
//
//	go build -ldflags "-X autologin/cmd.version=2.0.0"
var version = "1.0.0" //nolint:gochecknoglobals

// Execute parses args and runs the proxy or the broker.
func Execute(ctx context.Context, args []string) error {
	// Flags bind to their own Config; only the ones actually given on
	// the command line are copied over the file and env layers.
	fv := config.Default()
	fs := flag.NewFlagSet("autologin", flag.ContinueOnError)

	// ── mode ─────────────────────────────────────────────────────
	fs.BoolVarP(&fv.Broker, "broker", "s", false, "Run the credential broker")

	// ── server ───────────────────────────────────────────────────
	fs.IntVarP(&fv.Port, "port", "p", 0, "Listen port")
	fs.StringVarP(&fv.Templates, "templates", "t", fv.Templates, "Template directory")
	fs.IntVar(&fv.MaxConns, "max-conns", fv.MaxConns, "Concurrent connection limit (0 = unbounded)")
	fs.DurationVar(&fv.ReadTimeout, "read-timeout", fv.ReadTimeout, "Time allowed to send a request")
	fs.BoolVar(&fv.LegacyHeaders, "legacy-headers", false, `Write response headers as "Key=value"`)

	// ── portal ───────────────────────────────────────────────────
	fs.StringVar(&fv.PortalURL, "portal-url", fv.PortalURL, "Portal base URL")
	fs.StringVarP(&fv.Username, "username", "u", "", "Portal username")
	fs.StringVar(&fv.Password, "password", "", "Portal password")
	fs.DurationVar(&fv.TTL, "ttl", fv.TTL, "How long a stream URL is reused")
	fs.DurationVar(&fv.PortalTimeout, "portal-timeout", fv.PortalTimeout, "Timeout per portal request")

	// ── broker ───────────────────────────────────────────────────
	fs.StringVarP(&fv.BrokerSpec, "broker-addr", "b", "", "Broker address: port or host:port")
	fs.Float64Var(&fv.BrokerRate, "broker-rate", fv.BrokerRate, "Broker logins per second")
	fs.IntVar(&fv.BrokerBurst, "broker-burst", fv.BrokerBurst, "Broker login burst")
	fs.DurationVar(&fv.BrokerTimeout, "broker-timeout", fv.BrokerTimeout, "Timeout per broker request")

	// ── SSH tunnel ───────────────────────────────────────────────
	fs.StringVarP(&fv.TunnelSpec, "tunnel", "T", "", "Reach the broker via [user@]host[:port]")
	fs.StringVar(&fv.SSHKeyPath, "ssh-key", "", "SSH private key file")
	fs.BoolVar(&fv.SSHPassword, "ssh-password", false, "Prompt for SSH password")
	fs.BoolVar(&fv.UseSSHAgent, "ssh-agent", false, "Use SSH agent")
	fs.BoolVar(&fv.StrictHostKey, "strict-hostkey", false, "Verify SSH host keys")
	fs.StringVar(&fv.KnownHostsPath, "known-hosts", "", "Custom known_hosts path")
	fs.DurationVar(&fv.KeepAlive, "keep-alive", fv.KeepAlive, "SSH keepalive interval (0 disables)")

	// ── output ───────────────────────────────────────────────────
	var verbosity int
	var quiet bool
	fs.CountVarP(&verbosity, "verbose", "v", "Increase verbosity (repeatable)")
	fs.BoolVarP(&quiet, "quiet", "q", false, "Only print errors")
	fs.BoolVar(&fv.Timestamps, "timestamps", false, "Prefix log lines with the time")
	fs.StringVar(&fv.ConfigFile, "config", "", "TOML config file")
	fs.BoolVar(&fv.DryRun, "dry-run", false, "Validate the configuration and exit")

	var showVersion, showHelp bool
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVarP(&showHelp, "help", "h", false, "Show this help")

	fs.Usage = func() { printUsage(fs) }

	// ── parse ────────────────────────────────────────────────────
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showHelp || len(args) == 0 {
		printUsage(fs)
		return nil
	}
	if showVersion {
		fmt.Printf("autologin %s\n", version)
		return nil
	}

	// ── layer: defaults → file → env → flags ─────────────────────
	cfg := config.Default()
	if fv.ConfigFile != "" {
		if err := config.LoadFile(cfg, fv.ConfigFile); err != nil {
			return err
		}
	}
	config.LoadFromEnv(cfg)
	applyFlags(fs, cfg, fv)

	switch {
	case quiet:
		cfg.Verbose = 0
	case verbosity > 0:
		cfg.Verbose = 1 + verbosity
	}

	if err := parsePositional(cfg, fs.Changed("port"), fs.Args()); err != nil {
		return err
	}

	// ── resolve + validate ───────────────────────────────────────
	if err := cfg.Resolve(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if cfg.DryRun {
		printSummary(cfg)
		return nil
	}

	// ── build + run ──────────────────────────────────────────────
	logger := util.NewLogger(cfg.Verbose)
	if cfg.Timestamps {
		logger.SetTimestamps(true)
	}

	mode, err := core.Build(cfg, logger)
	if err != nil {
		return err
	}
	return mode.Run(ctx)
}

// ── helpers ──────────────────────────────────────────────────────────

// applyFlags copies every flag set on the command line from fv to cfg.
func applyFlags(fs *flag.FlagSet, cfg, fv *config.Config) {
	apply := map[string]func(){
		"broker":         func() { cfg.Broker = fv.Broker },
		"port":           func() { cfg.Port = fv.Port },
		"templates":      func() { cfg.Templates = fv.Templates },
		"max-conns":      func() { cfg.MaxConns = fv.MaxConns },
		"read-timeout":   func() { cfg.ReadTimeout = fv.ReadTimeout },
		"legacy-headers": func() { cfg.LegacyHeaders = fv.LegacyHeaders },
		"portal-url":     func() { cfg.PortalURL = fv.PortalURL },
		"username":       func() { cfg.Username = fv.Username },
		"password":       func() { cfg.Password = fv.Password },
		"ttl":            func() { cfg.TTL = fv.TTL },
		"portal-timeout": func() { cfg.PortalTimeout = fv.PortalTimeout },
		"broker-addr":    func() { cfg.BrokerSpec = fv.BrokerSpec },
		"broker-rate":    func() { cfg.BrokerRate = fv.BrokerRate },
		"broker-burst":   func() { cfg.BrokerBurst = fv.BrokerBurst },
		"broker-timeout": func() { cfg.BrokerTimeout = fv.BrokerTimeout },
		"tunnel":         func() { cfg.TunnelSpec = fv.TunnelSpec },
		"ssh-key":        func() { cfg.SSHKeyPath = fv.SSHKeyPath },
		"ssh-password":   func() { cfg.SSHPassword = fv.SSHPassword },
		"ssh-agent":      func() { cfg.UseSSHAgent = fv.UseSSHAgent },
		"strict-hostkey": func() { cfg.StrictHostKey = fv.StrictHostKey },
		"known-hosts":    func() { cfg.KnownHostsPath = fv.KnownHostsPath },
		"keep-alive":     func() { cfg.KeepAlive = fv.KeepAlive },
		"timestamps":     func() { cfg.Timestamps = fv.Timestamps },
		"config":         func() { cfg.ConfigFile = fv.ConfigFile },
		"dry-run":        func() { cfg.DryRun = fv.DryRun },
	}
	fs.Visit(func(f *flag.Flag) {
		if set, ok := apply[f.Name]; ok {
			set()
		}
	})
}

// parsePositional handles the short forms:
//
//	autologin <port> [<broker>]
//	autologin -sp <port> <user> <password>
//
// A port given with -p is not repeated positionally.
func parsePositional(cfg *config.Config, portSet bool, remaining []string) error {
	if !portSet && len(remaining) > 0 {
		port, err := strconv.Atoi(remaining[0])
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("invalid port %q", remaining[0])
		}
		cfg.Port = port
		remaining = remaining[1:]
	}

	if cfg.Broker {
		switch len(remaining) {
		case 0:
		case 2:
			cfg.Username, cfg.Password = remaining[0], remaining[1]
		default:
			return fmt.Errorf("broker mode takes <port> <user> <password>")
		}
		return nil
	}

	switch len(remaining) {
	case 0:
	case 1:
		cfg.BrokerSpec = remaining[0]
	default:
		return fmt.Errorf("too many arguments (use --help for usage)")
	}
	return nil
}

func printSummary(cfg *config.Config) {
	if cfg.Broker {
		fmt.Printf("broker on :%d for %s (%.2g logins/s, burst %d)\n",
			cfg.Port, cfg.Username, cfg.BrokerRate, cfg.BrokerBurst)
		return
	}
	fmt.Printf("proxy on :%d, templates %s, portal %s, ttl %v\n",
		cfg.Port, cfg.Templates, cfg.PortalURL, cfg.TTL)
	switch {
	case cfg.DirectLogin():
		fmt.Printf("login: direct as %s\n", cfg.Username)
	case cfg.TunnelEnabled:
		fmt.Printf("login: broker %s via ssh %s\n", cfg.BrokerAddr(), util.FormatAddr(cfg.TunnelHost, cfg.TunnelPort))
	default:
		fmt.Printf("login: broker %s\n", cfg.BrokerAddr())
	}
}

func printUsage(fs *flag.FlagSet) {
	fmt.Fprintf(os.Stderr, `autologin – IPTV portal autologin proxy v%s

Serves pages from a template directory, filling in a stream URL
obtained by logging in to the portal on the visitor's behalf.

Usage:
  autologin [options] <port> <broker>           Proxy, cookies from a broker
  autologin [options] -p <port> -u <user> --password <pw>
                                                Proxy, logs in itself
  autologin -sp <port> <user> <password>        Credential broker

Options:
`, version)
	fs.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
Examples:
  autologin 8080 7000                           Broker on localhost:7000
  autologin -p 8080 -b 10.0.0.5:7000            Remote broker
  autologin -T ops@bastion 8080 10.1.0.9:7000   Broker behind an SSH gateway
  autologin -sp 7000 alice s3cret               Run the broker
  autologin --config /etc/autologin.toml        Settings from a file
`)
}
