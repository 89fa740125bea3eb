package config

import (
	"errors"
	"strings"
	"testing"

	ncerr "autologin/internal/errors"
)

// TestValidate_ErrorMessages verifies that Validate returns actionable
// error messages with hints.
func TestValidate_ErrorMessages(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantSub string // substring expected in error
	}{
		{
			name:    "no port has hint",
			cfg:     Config{},
			wantSub: "hint:",
		},
		{
			name:    "no upstream has hint",
			cfg:     Config{Port: 8080, TTL: DefaultTTL},
			wantSub: "hint:",
		},
		{
			name:    "broker needs credentials",
			cfg:     Config{Broker: true, Port: 7000, BrokerRate: 1},
			wantSub: "broker mode needs portal credentials",
		},
		{
			name:    "credentials conflict with broker",
			cfg:     Config{Port: 8080, TTL: DefaultTTL, BrokerPort: 7000, Username: "alice"},
			wantSub: "cannot be combined with a broker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantSub)
			}
		})
	}
}

func TestValidate_ConfigErrorType(t *testing.T) {
	err := (&Config{}).Validate()
	var ce *ncerr.ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error %T should be *ConfigError", err)
	}
	if ce.Field != "port" {
		t.Errorf("Field = %q, want port", ce.Field)
	}
}
