// Package app implements the jkool-stream command line.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/agentinfo"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/config"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/event"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/handler"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/jkool"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/telemetry"
)

// App holds the process inputs. The zero value uses the real environment and
// standard streams.
type App struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
	Stdin    io.Reader
	Stdout   io.Writer
	Stderr   io.Writer

	flags rootFlags
}

type rootFlags struct {
	transport  string
	url        string
	token      string
	logLevel   string
	logger     string
	healthAddr string
	topic      string
	compress   bool
	stub       bool
}

// Execute runs the command line with os.Args.
func Execute(ctx context.Context) error {
	return (&App{}).Command().ExecuteContext(ctx)
}

// Command builds the root command with its subcommands.
func (a *App) Command() *cobra.Command {
	if a.Stdin == nil {
		a.Stdin = os.Stdin
	}
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}

	root := &cobra.Command{
		Use:   "jkool-stream",
		Short: "Stream log events to a jKool collector",
		Long: `jkool-stream delivers log events to a jKool collector over HTTP(S) or MQTT.

Configuration is read from JKOOL_STREAMER_CONFIG_FILE (JSONC), then
JKOOL_STREAMER_CONFIG (JSON), then the JKOOL_* variables, and finally
the flags below.`,
		Version:       agentinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(a.Stdin)
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)

	pf := root.PersistentFlags()
	pf.StringVar(&a.flags.transport, "transport", "", "transport: http, https or mqtt")
	pf.StringVar(&a.flags.url, "url", "", "collector URL or MQTT broker")
	pf.StringVar(&a.flags.token, "token", "", "access token (http transport)")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "diagnostic log level: debug, info, warn, error")
	pf.StringVar(&a.flags.logger, "logger", "", "logger name sent as the event operation")
	pf.StringVar(&a.flags.healthAddr, "health-addr", "", "serve gRPC health checks on this address")
	pf.StringVar(&a.flags.topic, "topic", "", "MQTT topic (default: the logger name)")
	pf.BoolVar(&a.flags.compress, "compress", false, "gzip HTTP event bodies")
	pf.BoolVar(&a.flags.stub, "stub", false, "print events to stdout instead of sending them")

	root.AddCommand(a.sendCommand(), a.pipeCommand(), a.tailCommand())
	return root
}

// loadConfig merges the environment with the flags that were set explicitly.
func (a *App) loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Loader{Lookup: a.Lookup, ReadFile: a.ReadFile}.LoadUnvalidated()
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	override := func(name string, target *string, value string) {
		if flags.Changed(name) {
			*target = strings.TrimSpace(value)
		}
	}
	override("transport", &cfg.Transport, a.flags.transport)
	override("url", &cfg.URL, a.flags.url)
	override("token", &cfg.Token, a.flags.token)
	override("log-level", &cfg.LogLevel, a.flags.logLevel)
	override("logger", &cfg.Logger, a.flags.logger)
	override("health-addr", &cfg.HealthAddr, a.flags.healthAddr)
	override("topic", &cfg.Topic, a.flags.topic)
	if flags.Changed("compress") {
		cfg.Compress = a.flags.compress
	}
	if flags.Changed("stub") {
		cfg.UseStub = a.flags.stub
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// session is what a command sees while its transport is connected.
type session struct {
	// events logs through the transport.
	events *slog.Logger
	// log is the diagnostic logger.
	log  *slog.Logger
	sink *errorSink
}

// streamFunc produces events until its input is exhausted.
type streamFunc func(ctx context.Context, s *session) error

// stream connects the configured transport, runs fn and tears everything down.
// The health server, when configured, reports NOT_SERVING until the transport
// is connected.
func (a *App) stream(cmd *cobra.Command, fn streamFunc) error {
	cfg, err := a.loadConfig(cmd)
	if err != nil {
		return err
	}

	log := newLogger(a.Stderr, cfg.LogLevel)
	recorder := telemetry.NewRecorder(log)
	if agentinfo.InfoErr != nil {
		log.Warn("agent manifest unusable, using built-in metadata", "error", agentinfo.InfoErr)
	}
	log.Debug("starting streamer",
		"agent", agentinfo.Info.Name,
		"agent_version", agentinfo.Version(),
		"transport", cfg.Transport,
		"url", cfg.URL,
		"stub", cfg.UseStub,
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	g, gctx := errgroup.WithContext(ctx)

	var health *healthServer
	if cfg.HealthAddr != "" {
		if health, err = listenHealth(cfg.HealthAddr, log); err != nil {
			return err
		}
		g.Go(health.serve)
	}

	t, stub, err := connect(gctx, cfg, recorder)
	if err != nil {
		health.stop()
		_ = g.Wait()
		return err
	}
	health.setServing(true)

	sink := &errorSink{next: t}
	sess := &session{
		events: slog.New(handler.New(sink, &handler.Options{
			Name:            cfg.Logger,
			Level:           event.LevelTrace,
			CorrelateTraces: true,
		})),
		log:  log,
		sink: sink,
	}

	g.Go(func() error {
		defer health.stop()
		defer t.Close()
		return fn(gctx, sess)
	})
	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}

	if stub != nil {
		for _, p := range stub.Payloads() {
			fmt.Fprintf(a.Stdout, "%s\n", p)
		}
	}
	stats := recorder.Stats()
	log.Info("streamer stopped", "sent", stats.Sent, "failed", stats.Failed)
	return err
}

// transport is what stream drives: a connected emitter that can be closed.
type transport interface {
	handler.Emitter
	Close() error
}

func connect(ctx context.Context, cfg config.Config, recorder *telemetry.Recorder) (transport, *jkool.StubTransport, error) {
	if cfg.UseStub {
		stub := jkool.NewStubTransport(recorder.Logger())
		if err := stub.Connect(ctx); err != nil {
			return nil, nil, err
		}
		return stub, stub, nil
	}

	opts := cfg.Options()
	opts.Recorder = recorder
	h, err := jkool.New(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	return h, nil, nil
}

// errorSink remembers delivery failures, which slog.Logger discards.
type errorSink struct {
	next handler.Emitter

	mu    sync.Mutex
	last  error
	fatal error
}

func (s *errorSink) Emit(ctx context.Context, rec event.Record) error {
	err := s.next.Emit(ctx, rec)
	if err != nil {
		s.mu.Lock()
		s.last = err
		if s.fatal == nil && isFatal(err) {
			s.fatal = err
		}
		s.mu.Unlock()
	}
	return err
}

// Last returns and clears the most recent delivery error.
func (s *errorSink) Last() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.last
	s.last = nil
	return err
}

// Fatal returns the first error after which no further event can be delivered.
func (s *errorSink) Fatal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fatal
}

func isFatal(err error) bool {
	return errors.Is(err, jkool.ErrConnection) ||
		errors.Is(err, jkool.ErrClosed) ||
		errors.Is(err, jkool.ErrNotConnected) ||
		errors.Is(err, jkool.ErrAuthorization)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	return slog.New(h)
}

func parseLevel(value string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
