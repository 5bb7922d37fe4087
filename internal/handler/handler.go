// Package handler adapts log/slog to the jKool transports: every record that
// passes the level check is converted to an event.Record and emitted.
package handler

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/event"
)

// LoggerKey is the attribute that overrides Options.Name for a record or, via
// WithAttrs, for a derived logger.
const LoggerKey = "logger"

// DefaultName is the operation of events from a handler built without a Name.
const DefaultName = "jkool-stream"

// Emitter receives converted records. jkool.Transport and jkool.Handler
// satisfy it.
type Emitter interface {
	Emit(ctx context.Context, rec event.Record) error
}

// Options configures a Handler.
type Options struct {
	// Name is the logger name encoded as the event operation. Empty means
	// DefaultName.
	Name string
	// Level is the minimum level handled. Nil means slog.LevelInfo.
	Level slog.Leveler
	// CorrelateTraces adds the active OpenTelemetry trace id as corr_id when
	// the record does not carry one.
	CorrelateTraces bool
}

// Handler is a slog.Handler that emits records to the jKool collector.
// Emit errors are returned from Handle unchanged.
type Handler struct {
	emitter Emitter
	opts    Options
	base    fields
	prefix  string
}

// New returns a handler emitting to e.
func New(e Emitter, opts *Options) *Handler {
	h := &Handler{emitter: e}
	if opts != nil {
		h.opts = *opts
	}
	if h.opts.Name == "" {
		h.opts.Name = DefaultName
	}
	if h.opts.Level == nil {
		h.opts.Level = slog.LevelInfo
	}
	return h
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	f := h.base.clone()
	r.Attrs(func(a slog.Attr) bool {
		f.add(h.prefix, a)
		return true
	})

	rec := event.Record{
		Name:    h.opts.Name,
		Created: r.Time,
		Message: r.Message,
		Level:   r.Level,
		Tags:    f.selected(),
	}
	if f.logger != "" {
		rec.Name = f.logger
	}

	if h.opts.CorrelateTraces {
		if _, ok := rec.Tag("corr_id"); !ok {
			if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
				rec.Tags = append(rec.Tags, event.Tag{Name: "corr_id", Value: sc.TraceID().String()})
			}
		}
	}

	return h.emitter.Emit(ctx, rec)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := *h
	h2.base = h.base.clone()
	for _, a := range attrs {
		h2.base.add(h.prefix, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "_"
	return &h2
}

// fields accumulates the tags of one record in attribute order.
type fields struct {
	tags     []event.Tag
	logger   string
	names    map[string]bool
	hasNames bool
}

func (f fields) clone() fields {
	out := fields{
		tags:     append([]event.Tag(nil), f.tags...),
		logger:   f.logger,
		hasNames: f.hasNames,
	}
	if f.names != nil {
		out.names = make(map[string]bool, len(f.names))
		for k := range f.names {
			out.names[k] = true
		}
	}
	return out
}

// add flattens a into tags. Groups become name prefixes joined with "_" so
// they surface as hyphenated JSON keys.
func (f *fields) add(prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	switch {
	case a.Value.Kind() == slog.KindGroup:
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "_"
		}
		for _, ga := range a.Value.Group() {
			f.add(inner, ga)
		}
		return
	case a.Key == event.TagNamesKey:
		if names, ok := a.Value.Any().([]string); ok {
			if f.names == nil {
				f.names = make(map[string]bool, len(names))
			}
			for _, n := range names {
				f.names[prefix+n] = true
			}
			f.hasNames = true
			return
		}
	case a.Key == LoggerKey && prefix == "":
		f.logger = a.Value.String()
		return
	}

	f.tags = append(f.tags, event.Tag{Name: prefix + a.Key, Value: tagValue(a.Value)})
}

// selected returns the tags to encode: the attrs named by the record's
// tag-name list. Without a list the event carries only its base fields.
func (f fields) selected() []event.Tag {
	if !f.hasNames {
		return nil
	}
	out := make([]event.Tag, 0, len(f.tags))
	for _, t := range f.tags {
		if f.names[t.Name] {
			out = append(out, t)
		}
	}
	return out
}

// tagValue unwraps v for JSON encoding. Errors are rendered as their message
// since encoding/json would otherwise emit an empty object.
func tagValue(v slog.Value) any {
	if err, ok := v.Any().(error); ok && v.Kind() == slog.KindAny {
		return err.Error()
	}
	return v.Any()
}
