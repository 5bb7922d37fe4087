package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/event"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/handler"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/linesource"
)

func (a *App) pipeCommand() *cobra.Command {
	var level string
	cmd := &cobra.Command{
		Use:   "pipe",
		Short: "Send every line read from stdin as an event",
		Long: `Each non-blank stdin line becomes one event. Lines holding a JSON object
are decoded: "msg" (or "message") is the event text, "level" (or "severity")
its severity, "logger" its operation, and every other scalar key a tag.`,
		Example: `  journalctl -f -o cat | jkool-stream pipe --logger host.journal`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newParser(level)
			if err != nil {
				return err
			}
			return a.stream(cmd, func(ctx context.Context, s *session) error {
				return p.Scan(ctx, cmd.InOrStdin(), emitLine(ctx, s))
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "info", "severity of lines that carry none")
	return cmd
}

func newParser(level string) (*linesource.Parser, error) {
	lvl, ok := event.ParseSeverity(level)
	if !ok {
		return nil, fmt.Errorf("unknown severity %q", level)
	}
	return &linesource.Parser{Level: lvl}, nil
}

// emitLine logs each line and stops at the first error that leaves the
// transport unusable. Per-event rejections are only counted.
func emitLine(ctx context.Context, s *session) func(linesource.Line) error {
	return func(line linesource.Line) error {
		linesource.Log(ctx, s.events, line, handler.LoggerKey)
		return s.sink.Fatal()
	}
}
