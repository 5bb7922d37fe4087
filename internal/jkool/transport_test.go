package jkool

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestParseKind(t *testing.T) {
	tests := []struct {
		name    string
		want    Kind
		wantErr bool
	}{
		{"http", KindHTTP, false},
		{"HTTPS", KindHTTP, false},
		{" Mqtt ", KindMQTT, false},
		{"SFTP", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestNewRejectsUnknownTransportBeforeNetwork(t *testing.T) {
	c, srv, conns := newCollector(t, http.StatusOK, http.StatusOK)

	_, err := New(context.Background(), Options{Transport: "SFTP", Token: testToken, URL: srv.URL})
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("New() error = %v, want ErrConfiguration", err)
	}
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "transport" {
		t.Errorf("error = %#v, want transport ConfigurationError", err)
	}
	if len(c.captured()) != 0 || conns.Load() != 0 {
		t.Error("no network activity may happen for an unknown transport")
	}
}

func TestNewHTTPHandlerForwardsEmits(t *testing.T) {
	c, srv, _ := newCollector(t, http.StatusOK, http.StatusOK)

	h, err := New(context.Background(), Options{Transport: "HTTP", Token: testToken, URL: srv.URL + "/v1"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer h.Close()
	if h.Kind() != KindHTTP {
		t.Errorf("Kind() = %v", h.Kind())
	}
	if _, ok := h.Transport().(*HTTPTransport); !ok {
		t.Errorf("Transport() = %T, want *HTTPTransport", h.Transport())
	}

	if err := h.Emit(context.Background(), testRecord()); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	reqs := c.captured()
	if len(reqs) != 2 {
		t.Fatalf("got %d requests, want handshake + event", len(reqs))
	}
	if !json.Valid(reqs[1].body) {
		t.Errorf("event body not JSON: %q", reqs[1].body)
	}
}

func TestNewPropagatesAuthorizationFailure(t *testing.T) {
	_, srv, _ := newCollector(t, http.StatusUnauthorized, http.StatusOK)

	h, err := New(context.Background(), Options{Token: "bad", URL: srv.URL})
	if !errors.Is(err, ErrAuthorization) {
		t.Fatalf("New() error = %v, want ErrAuthorization", err)
	}
	if h != nil {
		t.Error("no handler may be returned when authorization fails")
	}
}

func TestNewHandlerMQTTRequiresURL(t *testing.T) {
	if _, err := NewHandler(Options{Transport: "mqtt"}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("NewHandler() error = %v, want ErrConfiguration", err)
	}
}

func TestNewHandlerMQTTUsesTopLevelURL(t *testing.T) {
	h, err := NewHandler(Options{Transport: "mqtt", URL: "broker.local"})
	if err != nil {
		t.Fatalf("NewHandler() error: %v", err)
	}
	mt, ok := h.Transport().(*MQTTTransport)
	if !ok {
		t.Fatalf("Transport() = %T, want *MQTTTransport", h.Transport())
	}
	if mt.Broker() != "tcp://broker.local:1883" {
		t.Errorf("Broker() = %q", mt.Broker())
	}
}

func TestStubTransport(t *testing.T) {
	stub := NewStubTransport(nil)
	if err := stub.Emit(context.Background(), testRecord()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Emit() before Connect = %v", err)
	}
	if err := stub.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	if err := stub.Emit(context.Background(), testRecord()); err != nil {
		t.Fatalf("Emit() error: %v", err)
	}
	if got := len(stub.Payloads()); got != 1 {
		t.Errorf("Payloads() = %d, want 1", got)
	}

	stub.EmitErr = errors.New("boom")
	if err := stub.Emit(context.Background(), testRecord()); err == nil || err.Error() != "boom" {
		t.Errorf("Emit() = %v, want injected error", err)
	}

	stub.Close()
	if err := stub.Emit(context.Background(), testRecord()); !errors.Is(err, ErrClosed) {
		t.Errorf("Emit() after Close = %v, want ErrClosed", err)
	}
}
