package event

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/metrics"
)

// TagNamesKey is the reserved attribute listing which attributes of a record
// are event tags. Handlers that see it merge only the listed attributes.
const TagNamesKey = "all_tags"

// Fields holds the optional jKool event fields accepted by LogEvent. Empty
// strings, nil pointers and nil slices are treated as "not supplied" and are
// left out of the event entirely.
type Fields struct {
	TrackingID       string
	TimeUsec         *int64
	CorrID           string
	Exception        string
	Resource         string
	WaitTimeUsed     *int64
	SourceURL        string
	PID              *int64
	TID              *int64
	CompCode         string
	ReasonCode       *int64
	Location         string
	Operation        string
	User             string
	StartTimeUsec    *int64
	EndTimeUsec      *int64
	ElapsedTimeUsec  *int64
	MsgSize          *int64
	Encoding         string
	Charset          string
	MimeType         string
	MsgAge           *int64
	MsgTag           string
	ParentTrackingID string
	Properties       []metrics.Property
	Snapshots        []*metrics.Snapshot

	// Severity defaults to slog.LevelInfo, the zero value.
	Severity slog.Level
}

// Int64 returns a pointer to v, for the numeric Fields.
func Int64(v int64) *int64 {
	return &v
}

// Attrs collects the supplied fields as slog attributes, followed by the
// TagNamesKey attribute naming them. The tracking id falls back to a fresh
// UUID, generated on every call. The returned string is the tracking id used.
func Attrs(sourceFQN string, f Fields) ([]slog.Attr, string) {
	trackingID := f.TrackingID
	if trackingID == "" {
		trackingID = uuid.NewString()
	}

	var attrs []slog.Attr
	str := func(key, v string) {
		if v != "" {
			attrs = append(attrs, slog.String(key, v))
		}
	}
	num := func(key string, v *int64) {
		if v != nil {
			attrs = append(attrs, slog.Int64(key, *v))
		}
	}

	str("source_fqn", sourceFQN)
	str("tracking_id", trackingID)
	num("time_usec", f.TimeUsec)
	str("corr_id", f.CorrID)
	str("exception", f.Exception)
	str("resource", f.Resource)
	num("wait_time_used", f.WaitTimeUsed)
	str("source_url", f.SourceURL)
	num("pid", f.PID)
	num("tid", f.TID)
	str("comp_code", f.CompCode)
	num("reason_code", f.ReasonCode)
	str("location", f.Location)
	str("operation", f.Operation)
	str("user", f.User)
	num("start_time_usec", f.StartTimeUsec)
	num("end_time_usec", f.EndTimeUsec)
	num("elapsed_time_usec", f.ElapsedTimeUsec)
	num("msg_size", f.MsgSize)
	str("encoding", f.Encoding)
	str("charset", f.Charset)
	str("mime_type", f.MimeType)
	num("msg_age", f.MsgAge)
	str("msg_tag", f.MsgTag)
	str("parent_tracking_id", f.ParentTrackingID)
	if f.Properties != nil {
		attrs = append(attrs, slog.Any("properties", f.Properties))
	}
	if f.Snapshots != nil {
		attrs = append(attrs, slog.Any("snapshots", f.Snapshots))
	}

	names := make([]string, 0, len(attrs))
	for _, a := range attrs {
		names = append(names, a.Key)
	}
	attrs = append(attrs, slog.Any(TagNamesKey, names))
	return attrs, trackingID
}

// LogEvent logs msg through logger with the jKool event fields attached. It
// performs no I/O itself; delivery is up to the logger's handler. The
// tracking id of the event is returned so callers can parent snapshots or
// follow-up events to it.
func LogEvent(ctx context.Context, logger *slog.Logger, msg, sourceFQN string, f Fields) string {
	attrs, trackingID := Attrs(sourceFQN, f)
	if logger == nil {
		logger = slog.Default()
	}
	logger.LogAttrs(ctx, f.Severity, msg, attrs...)
	return trackingID
}
