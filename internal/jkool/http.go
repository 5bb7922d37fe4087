package jkool

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/agentinfo"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/event"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/telemetry"
)

const (
	// DefaultURL is the jKool cloud ingestion endpoint.
	DefaultURL = "https://data.jkoolcloud.com"

	// ConnectTimeout bounds dialing (and the TLS handshake) to the collector.
	ConnectTimeout = 10 * time.Second
)

// State is the lifecycle position of an HTTP transport.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateAuthorizing
	StateReady
	StateSending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateAuthorizing:
		return "authorizing"
	case StateReady:
		return "ready"
	case StateSending:
		return "sending"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// HTTPOptions configures an HTTP(S) transport.
type HTTPOptions struct {
	Token string
	// URL defaults to DefaultURL. The scheme selects TLS ("https"), the host
	// defaults to "localhost" and the path is used for every request.
	URL string
	// TLSConfig overrides the client TLS settings for https URLs.
	TLSConfig *tls.Config
	// Compress gzips event bodies and sets Content-Encoding. The handshake
	// is always sent uncompressed.
	Compress bool
	Recorder *telemetry.Recorder
}

// HTTPTransport streams events over one persistent HTTP(S) connection. The
// access token is checked once, right after connecting; events are then
// POSTed serially on the same connection.
type HTTPTransport struct {
	token    string
	secure   bool
	host     string
	port     string
	path     string
	endpoint string
	compress bool

	client    *http.Client
	transport *http.Transport
	recorder  *telemetry.Recorder

	sendMu sync.Mutex
	state  atomic.Int32
}

// NewHTTP parses the collector URL and prepares the client. It performs no
// network I/O; call Connect before Emit.
func NewHTTP(opts HTTPOptions) (*HTTPTransport, error) {
	raw := strings.TrimSpace(opts.URL)
	if raw == "" {
		raw = DefaultURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, &ConfigurationError{Field: "url", Reason: "cannot parse " + strconv.Quote(raw), Err: err}
	}

	t := &HTTPTransport{
		token:    opts.Token,
		secure:   strings.EqualFold(u.Scheme, "https"),
		host:     u.Hostname(),
		port:     u.Port(),
		path:     u.Path,
		compress: opts.Compress,
		recorder: opts.Recorder,
	}
	if t.host == "" {
		t.host = "localhost"
	}
	if t.recorder == nil {
		t.recorder = telemetry.NewRecorder(nil)
	}

	scheme := "http"
	if t.secure {
		scheme = "https"
	}
	path := t.path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	t.endpoint = (&url.URL{Scheme: scheme, Host: t.addr(), Path: path, RawQuery: u.RawQuery}).String()

	var tlsConfig *tls.Config
	if opts.TLSConfig != nil {
		tlsConfig = opts.TLSConfig.Clone()
	}
	t.transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: ConnectTimeout,
		MaxConnsPerHost:     1,
		MaxIdleConnsPerHost: 1,
		DisableCompression:  true,
	}
	t.client = &http.Client{Transport: t.transport}
	return t, nil
}

// Connect opens the connection and performs the authorization handshake.
// A transport-level failure or a rejected token closes the transport; it is
// not retried.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	switch t.State() {
	case StateReady:
		return nil
	case StateClosed:
		return ErrClosed
	}

	t.state.Store(int32(StateConnecting))
	log := t.recorder.Logger().With("component", "jkool-http", "endpoint", t.endpoint)

	ctx = httptrace.WithClientTrace(ctx, &httptrace.ClientTrace{
		GotConn: func(httptrace.GotConnInfo) {
			t.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthorizing))
		},
	})

	body := []byte("<access-request><token>" + t.token + "</token></access-request>")
	status, reason, respBody, err := t.post(ctx, "text/plain", body, false)
	if err != nil {
		t.close()
		log.Error("connect failed", "error", err)
		return err
	}
	if status < 200 || status >= 300 {
		t.close()
		log.Error("token rejected", "status", status, "reason", reason)
		return &AuthorizationError{StatusCode: status, Reason: reason, Body: respBody}
	}

	t.state.Store(int32(StateReady))
	log.Info("authorized", "status", status)
	return nil
}

// Emit encodes rec and POSTs it to the collector. A non-2xx response is
// returned as *StatusError; a connection failure closes the transport.
func (t *HTTPTransport) Emit(ctx context.Context, rec event.Record) error {
	data, err := event.Encode(rec)
	if err != nil {
		return err
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	switch t.State() {
	case StateReady:
	case StateClosed:
		return ErrClosed
	default:
		return ErrNotConnected
	}

	t.state.Store(int32(StateSending))
	status, reason, _, err := t.post(ctx, "application/json", data, t.compress)
	if err != nil {
		t.close()
		t.recorder.Failed("http", err)
		return err
	}
	t.state.Store(int32(StateReady))

	t.recorder.Delivered("http", status, reason)
	if status < 200 || status >= 300 {
		return &StatusError{StatusCode: status, Reason: reason}
	}
	return nil
}

// Close releases the connection. Closed transports reject further emits.
func (t *HTTPTransport) Close() error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.close()
	return nil
}

func (t *HTTPTransport) close() {
	t.state.Store(int32(StateClosed))
	t.transport.CloseIdleConnections()
}

// State reports the current lifecycle state.
func (t *HTTPTransport) State() State { return State(t.state.Load()) }

// Secure reports whether the collector is reached over TLS.
func (t *HTTPTransport) Secure() bool { return t.secure }

// Host returns the collector host.
func (t *HTTPTransport) Host() string { return t.host }

// Port returns the explicit collector port, or "" for the scheme default.
func (t *HTTPTransport) Port() string { return t.port }

// Path returns the request path from the collector URL.
func (t *HTTPTransport) Path() string { return t.path }

// Endpoint returns the URL every request is POSTed to.
func (t *HTTPTransport) Endpoint() string { return t.endpoint }

func (t *HTTPTransport) addr() string {
	if t.port != "" {
		return net.JoinHostPort(t.host, t.port)
	}
	if strings.Contains(t.host, ":") {
		return "[" + t.host + "]"
	}
	return t.host
}

// post sends one request and drains the response so the connection is kept
// for the next call. Only the first 4 KiB of the body are returned.
func (t *HTTPTransport) post(ctx context.Context, contentType string, body []byte, compress bool) (int, string, string, error) {
	if compress {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return 0, "", "", fmt.Errorf("jkool: compress body: %w", err)
		}
		if err := zw.Close(); err != nil {
			return 0, "", "", fmt.Errorf("jkool: compress body: %w", err)
		}
		body = buf.Bytes()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, "", "", fmt.Errorf("jkool: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", agentinfo.UserAgent())
	if compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, "", "", &ConnectionError{Op: "post", Addr: t.endpoint, Err: err}
	}
	defer resp.Body.Close()

	head, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_, _ = io.Copy(io.Discard, resp.Body)

	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	return resp.StatusCode, reason, strings.TrimSpace(string(head)), nil
}
