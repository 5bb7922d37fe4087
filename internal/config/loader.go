package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

const (
	EnvConfig     = "JKOOL_STREAMER_CONFIG"
	EnvConfigFile = "JKOOL_STREAMER_CONFIG_FILE"
)

// Loader loads configuration from environment variables. Tests can override
// Lookup and ReadFile to inject deterministic inputs.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load retrieves the streamer configuration and validates it. Sources are
// applied in order: the JSONC file, the JSON payload, then per-key overrides.
func (l Loader) Load() (Config, error) {
	cfg, err := l.load()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadUnvalidated is Load without Validate, for callers that apply further
// overrides (command-line flags) before validating.
func (l Loader) LoadUnvalidated() (Config, error) {
	return l.load()
}

func (l Loader) load() (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	var cfg Config

	if path, ok := l.Lookup(EnvConfigFile); ok && strings.TrimSpace(path) != "" {
		data, err := l.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := applyJSON(jsonc.ToJSON(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	if raw, ok := l.Lookup(EnvConfig); ok && strings.TrimSpace(raw) != "" {
		if err := applyJSON([]byte(raw), &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", EnvConfig, err)
		}
	}

	overrideString(l.Lookup, "JKOOL_TRANSPORT", &cfg.Transport)
	overrideString(l.Lookup, "JKOOL_TOKEN", &cfg.Token)
	overrideString(l.Lookup, "JKOOL_URL", &cfg.URL)
	overrideString(l.Lookup, "JKOOL_LOG_LEVEL", &cfg.LogLevel)
	overrideString(l.Lookup, "JKOOL_HEALTH_ADDR", &cfg.HealthAddr)
	if err := overrideBool(l.Lookup, "JKOOL_USE_STUB", &cfg.UseStub); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyJSON(raw []byte, cfg *Config) error {
	type jsonConfig struct {
		Transport     string   `json:"transport"`
		Token         string   `json:"token"`
		URL           string   `json:"url"`
		LogLevel      string   `json:"log_level"`
		Logger        string   `json:"logger"`
		HealthAddr    string   `json:"health_addr"`
		Compress      *bool    `json:"compress"`
		Topic         string   `json:"topic"`
		Port          *int     `json:"port"`
		Username      string   `json:"username"`
		Password      string   `json:"password"`
		QoS           *int     `json:"qos"`
		KeepAlive     string   `json:"keep_alive"`
		TLS           *bool    `json:"tls"`
		CACert        string   `json:"ca_cert"`
		ClientCert    string   `json:"client_cert"`
		ClientKey     string   `json:"client_key"`
		Ciphers       []string `json:"ciphers"`
		TLSVersion    string   `json:"tls_version"`
		TLSSkipVerify *bool    `json:"tls_skip_verify"`
		UseStub       *bool    `json:"use_stub"`
	}
	var payload jsonConfig
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}

	assignString(&cfg.Transport, payload.Transport)
	assignString(&cfg.Token, payload.Token)
	assignString(&cfg.URL, payload.URL)
	assignString(&cfg.LogLevel, payload.LogLevel)
	assignString(&cfg.Logger, payload.Logger)
	assignString(&cfg.HealthAddr, payload.HealthAddr)
	assignString(&cfg.Topic, payload.Topic)
	assignString(&cfg.Username, payload.Username)
	assignString(&cfg.Password, payload.Password)
	assignString(&cfg.CACert, payload.CACert)
	assignString(&cfg.ClientCert, payload.ClientCert)
	assignString(&cfg.ClientKey, payload.ClientKey)
	assignString(&cfg.TLSVersion, payload.TLSVersion)
	assignBool(&cfg.Compress, payload.Compress)
	assignBool(&cfg.TLS, payload.TLS)
	assignBool(&cfg.TLSSkipVerify, payload.TLSSkipVerify)
	assignBool(&cfg.UseStub, payload.UseStub)

	if payload.Port != nil {
		cfg.Port = *payload.Port
	}
	if payload.QoS != nil {
		if *payload.QoS < 0 || *payload.QoS > 2 {
			return fmt.Errorf("qos must be 0, 1 or 2, got %d", *payload.QoS)
		}
		cfg.QoS = byte(*payload.QoS)
	}
	if payload.KeepAlive != "" {
		d, err := time.ParseDuration(payload.KeepAlive)
		if err != nil {
			return fmt.Errorf("keep_alive: %w", err)
		}
		cfg.KeepAlive = d
	}
	if payload.Ciphers != nil {
		cfg.Ciphers = payload.Ciphers
	}
	return nil
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if lookup == nil || target == nil {
		return
	}
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: invalid %s=%q: %w", key, value, err)
	}
	*target = b
	return nil
}

func assignString(target *string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		*target = v
	}
}

func assignBool(target *bool, value *bool) {
	if value != nil {
		*target = *value
	}
}
