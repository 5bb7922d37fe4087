package jkool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/event"
)

// StubTransport implements Transport by keeping encoded events in memory. It
// is intended for CI and dry runs where no collector is reachable.
type StubTransport struct {
	log *slog.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
	payloads  [][]byte
	// EmitErr, when set, is returned by Emit instead of storing the event.
	EmitErr error
}

// NewStubTransport returns an unconnected stub.
func NewStubTransport(logger *slog.Logger) *StubTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &StubTransport{log: logger}
}

// Connect marks the stub connected.
func (s *StubTransport) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.connected = true
	return nil
}

// Emit encodes rec and stores the payload.
func (s *StubTransport) Emit(_ context.Context, rec event.Record) error {
	data, err := event.Encode(rec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return ErrClosed
	case !s.connected:
		return ErrNotConnected
	case s.EmitErr != nil:
		return s.EmitErr
	}
	s.payloads = append(s.payloads, data)
	s.log.Info("stub emit", "operation", rec.Name, "bytes", len(data))
	return nil
}

// Close marks the stub closed.
func (s *StubTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Payloads returns the encoded events emitted so far.
func (s *StubTransport) Payloads() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.payloads))
	copy(out, s.payloads)
	return out
}
