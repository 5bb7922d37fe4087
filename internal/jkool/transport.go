// Package jkool delivers encoded events to the jKool collector.
//
// Two transports are provided: HTTPTransport, which authorizes an access
// token once and then POSTs each event on a single persistent connection, and
// MQTTTransport, which publishes each event to a broker topic. Handler picks
// one of them by name. Failures are returned to the caller unchanged; nothing
// in this package retries, reconnects or buffers.
package jkool

import (
	"context"
	"strconv"
	"strings"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/event"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/telemetry"
)

// Transport is the capability set shared by every delivery variant.
type Transport interface {
	Connect(ctx context.Context) error
	Emit(ctx context.Context, rec event.Record) error
	Close() error
}

// Kind identifies a transport variant.
type Kind int

const (
	KindHTTP Kind = iota + 1
	KindMQTT
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindMQTT:
		return "mqtt"
	default:
		return "unknown"
	}
}

// ParseKind maps a transport name onto its Kind, case-insensitively. "http"
// and "https" both select KindHTTP; the URL scheme decides about TLS.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "http", "https":
		return KindHTTP, nil
	case "mqtt":
		return KindMQTT, nil
	default:
		return 0, &ConfigurationError{Field: "transport", Reason: "unsupported protocol " + strconv.Quote(name)}
	}
}

// Options configures a Handler.
type Options struct {
	// Transport is "http", "https" or "mqtt". Empty selects "http".
	Transport string
	Token     string
	URL       string
	Recorder  *telemetry.Recorder

	// HTTP and MQTT carry the transport specific settings. Token, URL and
	// Recorder above fill their counterparts when those are unset.
	HTTP HTTPOptions
	MQTT MQTTOptions
}

// Handler forwards every emit to the transport selected at construction.
type Handler struct {
	kind      Kind
	transport Transport
}

// NewHandler builds the transport named by opts.Transport without touching
// the network. An unknown name fails immediately with a *ConfigurationError.
func NewHandler(opts Options) (*Handler, error) {
	name := opts.Transport
	if strings.TrimSpace(name) == "" {
		name = "http"
	}
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}

	var t Transport
	switch kind {
	case KindHTTP:
		ho := opts.HTTP
		if ho.Token == "" {
			ho.Token = opts.Token
		}
		if ho.URL == "" {
			ho.URL = opts.URL
		}
		if ho.Recorder == nil {
			ho.Recorder = opts.Recorder
		}
		t, err = NewHTTP(ho)
	case KindMQTT:
		mo := opts.MQTT
		if mo.URL == "" {
			mo.URL = opts.URL
		}
		if mo.Recorder == nil {
			mo.Recorder = opts.Recorder
		}
		t, err = NewMQTT(mo)
	}
	if err != nil {
		return nil, err
	}
	return &Handler{kind: kind, transport: t}, nil
}

// New builds the selected transport and connects it.
func New(ctx context.Context, opts Options) (*Handler, error) {
	h, err := NewHandler(opts)
	if err != nil {
		return nil, err
	}
	if err := h.Connect(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Connect connects the underlying transport.
func (h *Handler) Connect(ctx context.Context) error { return h.transport.Connect(ctx) }

// Emit forwards rec unchanged.
func (h *Handler) Emit(ctx context.Context, rec event.Record) error {
	return h.transport.Emit(ctx, rec)
}

// Close closes the underlying transport.
func (h *Handler) Close() error { return h.transport.Close() }

// Kind reports the selected variant.
func (h *Handler) Kind() Kind { return h.kind }

// Transport exposes the underlying transport.
func (h *Handler) Transport() Transport { return h.transport }
