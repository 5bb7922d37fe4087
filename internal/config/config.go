package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/jkool"
)

const (
	DefaultTransport = "http"
	DefaultURL       = jkool.DefaultURL
	DefaultLogLevel  = "info"
	DefaultLogger    = "jkool-stream"
	DefaultKeepAlive = jkool.DefaultKeepAlive
)

// Config captures bootstrap configuration extracted from environment variables,
// an optional JSONC file (`JKOOL_STREAMER_CONFIG_FILE`) or injected JSON payload
// (`JKOOL_STREAMER_CONFIG`).
type Config struct {
	Transport string
	Token     string
	URL       string
	LogLevel  string
	// Logger is the logger name encoded as the event operation.
	Logger     string
	HealthAddr string

	// HTTP
	Compress bool

	// MQTT
	Topic         string
	Port          int
	Username      string
	Password      string
	QoS           byte
	KeepAlive     time.Duration
	CACert        string
	ClientCert    string
	ClientKey     string
	Ciphers       []string
	TLSVersion    string
	TLSSkipVerify bool
	// TLS enables TLS towards the broker even without a CA certificate.
	TLS bool

	// UseStub swaps the network transport for an in-memory one.
	UseStub bool
}

// Validate applies defaults and raises an error when required fields are missing.
func (c *Config) Validate() error {
	if c.Transport == "" {
		c.Transport = DefaultTransport
	}
	kind, err := jkool.ParseKind(c.Transport)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Transport = strings.ToLower(strings.TrimSpace(c.Transport))

	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: unsupported log_level %q", c.LogLevel)
	}
	if c.Logger == "" {
		c.Logger = DefaultLogger
	}
	if c.KeepAlive == 0 {
		c.KeepAlive = DefaultKeepAlive
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("config: keep_alive must not be negative, got %s", c.KeepAlive)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port must be between 0 and 65535, got %d", c.Port)
	}
	if c.QoS > 2 {
		return fmt.Errorf("config: qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if (c.ClientCert == "") != (c.ClientKey == "") {
		return fmt.Errorf("config: client_cert and client_key must be set together")
	}

	if c.UseStub {
		return nil
	}
	switch kind {
	case jkool.KindHTTP:
		if c.URL == "" {
			c.URL = DefaultURL
		}
		if c.Token == "" {
			return fmt.Errorf("config: token is required for the http transport (set JKOOL_TOKEN)")
		}
	case jkool.KindMQTT:
		if c.URL == "" {
			return fmt.Errorf("config: url is required for the mqtt transport")
		}
	}
	return nil
}

// Options maps the configuration onto the transport dispatcher options.
func (c Config) Options() jkool.Options {
	opts := jkool.Options{
		Transport: c.Transport,
		Token:     c.Token,
		URL:       c.URL,
		HTTP: jkool.HTTPOptions{
			Compress: c.Compress,
		},
		MQTT: jkool.MQTTOptions{
			Port:      c.Port,
			Topic:     c.Topic,
			Username:  c.Username,
			Password:  c.Password,
			QoS:       c.QoS,
			KeepAlive: c.KeepAlive,
		},
	}
	if c.usesTLS() {
		opts.MQTT.TLS = &jkool.TLSOptions{
			CACert:     c.CACert,
			ClientCert: c.ClientCert,
			ClientKey:  c.ClientKey,
			Ciphers:    c.Ciphers,
			Version:    c.TLSVersion,
			SkipVerify: c.TLSSkipVerify,
		}
	}
	return opts
}

func (c Config) usesTLS() bool {
	return c.TLS || c.CACert != "" || c.ClientCert != "" || c.TLSVersion != "" || len(c.Ciphers) > 0 || c.TLSSkipVerify
}
