package jkool

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/agentinfo"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/event"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/telemetry"
)

const (
	DefaultMQTTPort       = 1883
	DefaultMQTTSecurePort = 8883
	DefaultKeepAlive      = 60 * time.Second
)

// TLSOptions configures TLS towards the broker. File fields are paths to PEM
// files.
type TLSOptions struct {
	CACert     string
	ClientCert string
	ClientKey  string
	// Ciphers lists cipher suite names as reported by tls.CipherSuites.
	Ciphers []string
	// Version is the minimum TLS version ("1.0" to "1.3"); default "1.2".
	Version string
	// SkipVerify disables broker certificate validation.
	SkipVerify bool
}

// Hooks receive asynchronous connection lifecycle notifications. They run on
// client goroutines and must not block.
type Hooks struct {
	OnConnect        func()
	OnPublish        func(topic string, err error)
	OnConnectionLost func(err error)
}

// MQTTOptions configures an MQTT transport.
type MQTTOptions struct {
	// URL is a broker host or a URL such as tcp://host:1883 or ssl://host.
	URL string
	// Port overrides any port in URL. Zero selects 1883, or 8883 with TLS.
	Port int
	// Topic is the publish topic. When empty the name of the first emitted
	// record becomes the topic for the transport's lifetime.
	Topic     string
	Username  string
	Password  string
	TLS       *TLSOptions
	KeepAlive time.Duration
	QoS       byte
	ClientID  string
	Hooks     Hooks
	Recorder  *telemetry.Recorder
}

// mqttClient is the subset of mqtt.Client the transport drives.
type mqttClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTTransport publishes events to a broker over a persistent session. The
// client's network goroutines run from Connect until Stop or an unexpected
// disconnect; publishes do not wait for acknowledgement.
type MQTTTransport struct {
	broker   string
	qos      byte
	hooks    Hooks
	recorder *telemetry.Recorder
	client   mqttClient

	topicMu sync.Mutex
	topic   string

	running atomic.Bool
	closed  atomic.Bool
}

// NewMQTT validates the options, including any TLS material, and prepares the
// client. It performs no network I/O.
func NewMQTT(opts MQTTOptions) (*MQTTTransport, error) {
	return newMQTT(opts, func(o *mqtt.ClientOptions) mqttClient { return mqtt.NewClient(o) })
}

func newMQTT(opts MQTTOptions, newClient func(*mqtt.ClientOptions) mqttClient) (*MQTTTransport, error) {
	if opts.QoS > 2 {
		return nil, &ConfigurationError{Field: "qos", Reason: fmt.Sprintf("must be 0, 1 or 2, got %d", opts.QoS)}
	}

	var tlsConfig *tls.Config
	if opts.TLS != nil {
		var err error
		if tlsConfig, err = buildTLSConfig(*opts.TLS); err != nil {
			return nil, err
		}
	}

	broker, err := brokerURL(opts.URL, opts.Port, tlsConfig != nil)
	if err != nil {
		return nil, err
	}

	t := &MQTTTransport{
		broker:   broker,
		qos:      opts.QoS,
		hooks:    opts.Hooks,
		recorder: opts.Recorder,
		topic:    opts.Topic,
	}
	if t.recorder == nil {
		t.recorder = telemetry.NewRecorder(nil)
	}

	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	clientID := opts.ClientID
	if clientID == "" {
		clientID = agentinfo.ClientID()
	}

	co := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOnConnectHandler(func(mqtt.Client) { t.onConnect() }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { t.onConnectionLost(err) })
	if opts.Username != "" {
		co.SetUsername(opts.Username)
		co.SetPassword(opts.Password)
	}
	if tlsConfig != nil {
		co.SetTLSConfig(tlsConfig)
	}

	t.client = newClient(co)
	return t, nil
}

// Connect establishes the session and starts the client's network loop.
func (t *MQTTTransport) Connect(ctx context.Context) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if t.running.Load() {
		return nil
	}

	tok := t.client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		// The attempt may still succeed; tear the session down once it settles.
		go func() {
			<-tok.Done()
			t.client.Disconnect(0)
		}()
		return &ConnectionError{Op: "connect", Addr: t.broker, Err: ctx.Err()}
	}
	if err := tok.Error(); err != nil {
		return &ConnectionError{Op: "connect", Addr: t.broker, Err: err}
	}

	t.running.Store(true)
	t.recorder.Logger().Info("mqtt session established", "component", "jkool-mqtt", "broker", t.broker)
	return nil
}

// Emit encodes rec and publishes it. The publish outcome is reported through
// Hooks.OnPublish and the recorder, not through the return value.
func (t *MQTTTransport) Emit(_ context.Context, rec event.Record) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if !t.running.Load() {
		return ErrNotConnected
	}

	topic, err := t.resolveTopic(rec.Name)
	if err != nil {
		return err
	}
	data, err := event.Encode(rec)
	if err != nil {
		return err
	}

	tok := t.client.Publish(topic, t.qos, false, data)
	go t.awaitPublish(topic, tok)
	return nil
}

// Stop halts the network loop. The transport can be connected again.
func (t *MQTTTransport) Stop() {
	if t.running.Swap(false) {
		t.client.Disconnect(250)
	}
}

// Close stops the network loop for good.
func (t *MQTTTransport) Close() error {
	t.closed.Store(true)
	t.Stop()
	return nil
}

// Running reports whether the network loop is active.
func (t *MQTTTransport) Running() bool { return t.running.Load() }

// Broker returns the resolved broker URL.
func (t *MQTTTransport) Broker() string { return t.broker }

// Topic returns the publish topic, or "" while it is still undetermined.
func (t *MQTTTransport) Topic() string {
	t.topicMu.Lock()
	defer t.topicMu.Unlock()
	return t.topic
}

func (t *MQTTTransport) resolveTopic(name string) (string, error) {
	t.topicMu.Lock()
	defer t.topicMu.Unlock()
	if t.topic == "" {
		if name == "" {
			return "", &ConfigurationError{Field: "topic", Reason: "no topic configured and record has no name"}
		}
		t.topic = name
	}
	return t.topic, nil
}

func (t *MQTTTransport) awaitPublish(topic string, tok mqtt.Token) {
	<-tok.Done()
	err := tok.Error()
	t.recorder.Published(topic, err)
	if t.hooks.OnPublish != nil {
		t.hooks.OnPublish(topic, err)
	}
}

func (t *MQTTTransport) onConnect() {
	if t.hooks.OnConnect != nil {
		t.hooks.OnConnect()
	}
}

// onConnectionLost stops the loop so no goroutine keeps servicing a dead
// session.
func (t *MQTTTransport) onConnectionLost(err error) {
	t.recorder.Logger().Warn("mqtt connection lost", "component", "jkool-mqtt", "broker", t.broker, "error", err)
	t.Stop()
	if t.hooks.OnConnectionLost != nil {
		t.hooks.OnConnectionLost(err)
	}
}

// brokerURL resolves the paho broker address. An explicit port wins over the
// URL's port; otherwise TLS selects 8883.
func brokerURL(raw string, port int, secure bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", &ConfigurationError{Field: "url", Reason: "broker address is required"}
	}
	if port < 0 || port > 65535 {
		return "", &ConfigurationError{Field: "port", Reason: fmt.Sprintf("out of range: %d", port)}
	}

	scheme, host, urlPort := "", raw, ""
	if strings.Contains(raw, "://") {
		u, err := url.Parse(raw)
		if err != nil {
			return "", &ConfigurationError{Field: "url", Reason: "cannot parse " + strconv.Quote(raw), Err: err}
		}
		scheme, host, urlPort = strings.ToLower(u.Scheme), u.Hostname(), u.Port()
	} else if h, p, err := net.SplitHostPort(raw); err == nil {
		host, urlPort = h, p
	}
	if host == "" {
		return "", &ConfigurationError{Field: "url", Reason: "broker host missing in " + strconv.Quote(raw)}
	}

	switch scheme {
	case "", "tcp", "mqtt":
		scheme = "tcp"
		if secure {
			scheme = "ssl"
		}
	case "ssl", "tls", "mqtts", "tcps":
		scheme = "ssl"
		secure = true
	case "ws", "wss":
		if scheme == "wss" {
			secure = true
		}
	default:
		return "", &ConfigurationError{Field: "url", Reason: "unsupported broker scheme " + strconv.Quote(scheme)}
	}

	resolved := urlPort
	if port != 0 {
		resolved = strconv.Itoa(port)
	}
	if resolved == "" {
		resolved = strconv.Itoa(DefaultMQTTPort)
		if secure {
			resolved = strconv.Itoa(DefaultMQTTSecurePort)
		}
	}
	return scheme + "://" + net.JoinHostPort(host, resolved), nil
}

// buildTLSConfig loads and validates the TLS material once, at construction,
// so a missing or broken file fails before any connection attempt.
func buildTLSConfig(opts TLSOptions) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.SkipVerify,
	}

	if opts.CACert != "" {
		pem, err := os.ReadFile(opts.CACert)
		if err != nil {
			return nil, &ConfigurationError{Field: "tls.ca_cert", Reason: "cannot read " + opts.CACert, Err: err}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, &ConfigurationError{Field: "tls.ca_cert", Reason: "no certificates found in " + opts.CACert}
		}
		cfg.RootCAs = pool
	}

	switch {
	case opts.ClientCert != "" && opts.ClientKey != "":
		pair, err := tls.LoadX509KeyPair(opts.ClientCert, opts.ClientKey)
		if err != nil {
			return nil, &ConfigurationError{Field: "tls.client_cert", Reason: "cannot load key pair", Err: err}
		}
		cfg.Certificates = []tls.Certificate{pair}
	case opts.ClientCert != "" || opts.ClientKey != "":
		return nil, &ConfigurationError{Field: "tls.client_cert", Reason: "client certificate and key must be set together"}
	}

	if v := strings.TrimSpace(opts.Version); v != "" {
		version, ok := tlsVersions[strings.TrimPrefix(strings.ToLower(v), "tlsv")]
		if !ok {
			return nil, &ConfigurationError{Field: "tls.version", Reason: "unsupported version " + strconv.Quote(v)}
		}
		cfg.MinVersion = version
	}

	if len(opts.Ciphers) > 0 {
		known := make(map[string]uint16)
		for _, s := range tls.CipherSuites() {
			known[s.Name] = s.ID
		}
		for _, s := range tls.InsecureCipherSuites() {
			known[s.Name] = s.ID
		}
		for _, name := range opts.Ciphers {
			id, ok := known[strings.TrimSpace(name)]
			if !ok {
				return nil, &ConfigurationError{Field: "tls.ciphers", Reason: "unknown cipher suite " + strconv.Quote(name)}
			}
			cfg.CipherSuites = append(cfg.CipherSuites, id)
		}
	}

	return cfg, nil
}

var tlsVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}
