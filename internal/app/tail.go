package app

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/linesource"
)

func (a *App) tailCommand() *cobra.Command {
	var (
		level     string
		fromStart bool
	)
	cmd := &cobra.Command{
		Use:   "tail FILE",
		Short: "Follow a file and send appended lines as events",
		Long: `Follow FILE like tail -F: lines appended to it are sent as events, parsed
the same way as by the pipe command. Truncated or re-created files are
read again from the top. Stops on SIGINT or SIGTERM.`,
		Example: `  jkool-stream tail /var/log/app.log --logger app --from-start`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newParser(level)
			if err != nil {
				return err
			}
			return a.stream(cmd, func(ctx context.Context, s *session) error {
				tailer, err := linesource.NewTailer(args[0], fromStart)
				if err != nil {
					return err
				}
				tailer.OnError = func(err error) {
					s.log.Warn("watch error", "path", tailer.Path(), "error", err)
				}
				s.log.Info("following file", "path", tailer.Path(), "from_start", fromStart)

				emit := emitLine(ctx, s)
				return tailer.Run(ctx, func(raw []byte) error {
					return emit(p.Parse(raw))
				})
			})
		},
	}
	cmd.Flags().StringVar(&level, "level", "info", "severity of lines that carry none")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "send the existing content first")
	return cmd
}
