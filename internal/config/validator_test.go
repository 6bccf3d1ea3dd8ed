package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	cfg := &Config{
		Transport: TransportConfig{
			Kind: "stdio",
			Upstream: UpstreamConfig{
				Command: "/usr/local/bin/mcp-server",
			},
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestConfig_Validate_Minimal(t *testing.T) {
	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
}

func TestConfig_Validate_MissingTransportKind(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Transport.Kind = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for missing transport.kind")
	}
}

func TestConfig_Validate_InvalidTransportKind(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Transport.Kind = "carrier_pigeon"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for invalid transport.kind")
	}
}

func TestConfig_Validate_UpstreamBothSet(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Transport.Upstream.HTTP = "http://localhost:3000/mcp"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error when both http and command are set")
	}
}

func TestConfig_Validate_UpstreamNeitherSet(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Transport.Upstream.Command = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error when neither http nor command is set")
	}
}

func TestConfig_Validate_InvalidUpstreamURL(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Transport.Upstream.Command = ""
	cfg.Transport.Upstream.HTTP = "not-a-url"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for invalid upstream URL")
	}
}

func TestConfig_Validate_InvalidAdminAddr(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.Server.AdminAddr = "not a host port"
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for invalid admin_addr")
	}
}

func TestConfig_Validate_InvalidCELRule(t *testing.T) {
	cfg := minimalValidConfig()
	cfg.CEL.Rules = []CELRuleConfig{{Name: "r", Expression: "true", Action: "quarantine"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() expected error for invalid CEL rule action")
	}
}

func TestFormatValidationErrors_Messages(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for empty config")
	}
	if !strings.Contains(err.Error(), "transport") {
		t.Errorf("error message = %q, want it to mention transport", err.Error())
	}
}
