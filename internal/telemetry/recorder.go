package telemetry

import (
	"log/slog"
	"sync/atomic"
)

// Recorder centralises delivery telemetry for the streamer. Outcomes are
// logged through slog and counted so the CLI can report totals on exit.
type Recorder struct {
	logger *slog.Logger

	sent   atomic.Int64
	failed atomic.Int64
}

// Stats is a point-in-time copy of the delivery counters.
type Stats struct {
	Sent   int64
	Failed int64
}

// NewRecorder constructs a telemetry recorder using the provided slog.Logger.
func NewRecorder(logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{logger: logger}
}

// Logger returns the underlying slog.Logger for direct use.
func (r *Recorder) Logger() *slog.Logger {
	return r.logger
}

// Delivered records a collector response to an emitted event.
func (r *Recorder) Delivered(transport string, status int, reason string) {
	if status >= 200 && status < 300 {
		r.sent.Add(1)
		r.logger.Debug("event delivered", "transport", transport, "status", status, "reason", reason)
		return
	}
	r.failed.Add(1)
	r.logger.Warn("event rejected", "transport", transport, "status", status, "reason", reason)
}

// Published records the outcome of an asynchronous MQTT publish.
func (r *Recorder) Published(topic string, err error) {
	if err != nil {
		r.failed.Add(1)
		r.logger.Warn("publish failed", "transport", "mqtt", "topic", topic, "error", err)
		return
	}
	r.sent.Add(1)
	r.logger.Debug("event published", "transport", "mqtt", "topic", topic)
}

// Failed records an event that never reached the collector.
func (r *Recorder) Failed(transport string, err error) {
	r.failed.Add(1)
	r.logger.Error("event delivery failed", "transport", transport, "error", err)
}

// Stats returns the current counters.
func (r *Recorder) Stats() Stats {
	return Stats{Sent: r.sent.Load(), Failed: r.failed.Load()}
}
