package jkool

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is. The concrete error types below match them.
var (
	ErrConnection    = errors.New("jkool: connection failure")
	ErrAuthorization = errors.New("jkool: authorization failure")
	ErrConfiguration = errors.New("jkool: configuration error")
	ErrNotConnected  = errors.New("jkool: transport not connected")
	ErrClosed        = errors.New("jkool: transport closed")
)

// ConfigurationError reports an invalid option, detected before any network
// activity.
type ConfigurationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("jkool: invalid %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// ConnectionError wraps a transport-level failure while connecting to or
// sending to the collector. It is never retried.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("jkool: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }

// AuthorizationError is returned when the collector rejects the access token
// during the connect handshake. The transport is closed when it is returned.
type AuthorizationError struct {
	StatusCode int
	Reason     string
	Body       string
}

func (e *AuthorizationError) Error() string {
	msg := fmt.Sprintf("jkool: error authorizing token (status %d %s)", e.StatusCode, e.Reason)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrAuthorization }

// StatusError reports a non-2xx collector response to an emitted event.
type StatusError struct {
	StatusCode int
	Reason     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jkool: event rejected (status %d %s)", e.StatusCode, e.Reason)
}
