package config

import (
	"errors"
	"testing"
	"time"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/jkool"
)

func TestValidateAppliesDefaults(t *testing.T) {
	cfg := Config{Token: "test-token"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport != DefaultTransport {
		t.Errorf("Transport = %q, want %q", cfg.Transport, DefaultTransport)
	}
	if cfg.URL != DefaultURL {
		t.Errorf("URL = %q, want %q", cfg.URL, DefaultURL)
	}
	if cfg.LogLevel != DefaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, DefaultLogLevel)
	}
	if cfg.Logger != DefaultLogger {
		t.Errorf("Logger = %q, want %q", cfg.Logger, DefaultLogger)
	}
	if cfg.KeepAlive != DefaultKeepAlive {
		t.Errorf("KeepAlive = %s, want %s", cfg.KeepAlive, DefaultKeepAlive)
	}
}

func TestValidateRequiresToken(t *testing.T) {
	cfg := Config{Transport: "https"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestValidateMQTTRequiresURL(t *testing.T) {
	cfg := Config{Transport: "MQTT"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing broker url")
	}

	cfg.URL = "broker.local"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transport != "mqtt" {
		t.Errorf("Transport = %q, want normalized %q", cfg.Transport, "mqtt")
	}
}

func TestValidateUnknownTransport(t *testing.T) {
	cfg := Config{Transport: "sftp", Token: "t"}
	err := cfg.Validate()
	if !errors.Is(err, jkool.ErrConfiguration) {
		t.Fatalf("Validate() = %v, want ErrConfiguration", err)
	}
}

func TestValidateStubSkipsCredentials(t *testing.T) {
	cfg := Config{UseStub: true}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected no error when UseStub=true and Token empty, got: %v", err)
	}
}

func TestValidateRanges(t *testing.T) {
	base := func() Config {
		return Config{Token: "test-token"}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"port_zero", func(c *Config) { c.Port = 0 }, false},
		{"port_max", func(c *Config) { c.Port = 65535 }, false},
		{"port_negative", func(c *Config) { c.Port = -1 }, true},
		{"port_over", func(c *Config) { c.Port = 70000 }, true},
		{"qos_two", func(c *Config) { c.QoS = 2 }, false},
		{"qos_three", func(c *Config) { c.QoS = 3 }, true},
		{"keep_alive_negative", func(c *Config) { c.KeepAlive = -time.Second }, true},
		{"log_level_warning", func(c *Config) { c.LogLevel = "WARNING" }, false},
		{"log_level_bogus", func(c *Config) { c.LogLevel = "loud" }, true},
		{"client_cert_without_key", func(c *Config) { c.ClientCert = "/c.pem" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("err=%v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestOptionsMapping(t *testing.T) {
	cfg := Config{
		Transport: "mqtt",
		URL:       "broker.local",
		Topic:     "logs",
		Port:      1884,
		QoS:       1,
		Compress:  true,
	}
	opts := cfg.Options()
	if opts.Transport != "mqtt" || opts.URL != "broker.local" {
		t.Errorf("opts = %+v", opts)
	}
	if opts.MQTT.Topic != "logs" || opts.MQTT.Port != 1884 || opts.MQTT.QoS != 1 {
		t.Errorf("MQTT = %+v", opts.MQTT)
	}
	if !opts.HTTP.Compress {
		t.Error("HTTP.Compress not mapped")
	}
	if opts.MQTT.TLS != nil {
		t.Error("TLS must stay off without TLS settings")
	}

	cfg.CACert = "/etc/ca.pem"
	cfg.TLSVersion = "1.3"
	opts = cfg.Options()
	if opts.MQTT.TLS == nil || opts.MQTT.TLS.CACert != "/etc/ca.pem" || opts.MQTT.TLS.Version != "1.3" {
		t.Errorf("TLS = %+v", opts.MQTT.TLS)
	}
}
