package app

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/event"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/metrics"
)

type sendFlags struct {
	source     string
	severity   string
	trackingID string
	corrID     string
	resource   string
	location   string
	user       string
	compCode   string
	exception  string
	elapsed    int64
	properties map[string]string
}

func (a *App) sendCommand() *cobra.Command {
	var f sendFlags
	cmd := &cobra.Command{
		Use:   "send MESSAGE",
		Short: "Send a single event",
		Example: `  # Report a completed job
  jkool-stream send "nightly export done" --source etl.export --resource db1

  # Attach properties
  jkool-stream send "cache stats" --property hits=120 --property misses=7`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields, err := f.fields()
			if err != nil {
				return err
			}
			msg := strings.Join(args, " ")
			return a.stream(cmd, func(ctx context.Context, s *session) error {
				id := event.LogEvent(ctx, s.events, msg, f.source, fields)
				if err := s.sink.Last(); err != nil {
					return fmt.Errorf("send event %s: %w", id, err)
				}
				fmt.Fprintln(cmd.ErrOrStderr(), id)
				return nil
			})
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.source, "source", "", "source FQN of the event")
	fl.StringVar(&f.severity, "severity", "info", "trace, debug, info, warning, error or critical")
	fl.StringVar(&f.trackingID, "tracking-id", "", "tracking id (default: random UUID)")
	fl.StringVar(&f.corrID, "corr-id", "", "correlation id")
	fl.StringVar(&f.resource, "resource", "", "resource name")
	fl.StringVar(&f.location, "location", "", "location")
	fl.StringVar(&f.user, "user", "", "user name")
	fl.StringVar(&f.compCode, "comp-code", "", "completion code")
	fl.StringVar(&f.exception, "exception", "", "exception text")
	fl.Int64Var(&f.elapsed, "elapsed-usec", 0, "elapsed time in microseconds")
	fl.StringToStringVar(&f.properties, "property", nil, "event property as name=value (repeatable)")
	return cmd
}

func (f sendFlags) fields() (event.Fields, error) {
	level, ok := event.ParseSeverity(f.severity)
	if !ok {
		return event.Fields{}, fmt.Errorf("unknown severity %q", f.severity)
	}

	fields := event.Fields{
		TrackingID: f.trackingID,
		CorrID:     f.corrID,
		Resource:   f.resource,
		Location:   f.location,
		User:       f.user,
		CompCode:   f.compCode,
		Exception:  f.exception,
		Severity:   level,
	}
	if f.elapsed > 0 {
		fields.ElapsedTimeUsec = event.Int64(f.elapsed)
	}

	if len(f.properties) > 0 {
		names := make([]string, 0, len(f.properties))
		for name := range f.properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fields.Properties = append(fields.Properties, metrics.NewProperty(name, f.properties[name], "string"))
		}
	}
	return fields, nil
}
