package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/nupi-ai/plugin-log-remote-jkool/internal/handler"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/jkool"
	"github.com/nupi-ai/plugin-log-remote-jkool/internal/linesource"
)

func fakeEnv(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

// run executes the command line and returns stdout.
func run(t *testing.T, env map[string]string, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := &App{
		Lookup: fakeEnv(env),
		Stdin:  strings.NewReader(stdin),
		Stdout: &stdout,
		Stderr: &stderr,
	}
	cmd := a.Command()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("output line %q is not JSON: %v", line, err)
		}
		events = append(events, m)
	}
	return events
}

var stubEnv = map[string]string{"JKOOL_USE_STUB": "true"}

func TestCommandHasSubcommands(t *testing.T) {
	cmd := (&App{}).Command()
	found := map[string]bool{}
	for _, c := range cmd.Commands() {
		found[c.Name()] = true
	}
	for _, name := range []string{"send", "pipe", "tail"} {
		if !found[name] {
			t.Errorf("expected command %q to be registered", name)
		}
	}
	for _, flag := range []string{"transport", "url", "token", "health-addr", "stub"} {
		if cmd.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("expected --%s flag to be registered", flag)
		}
	}
}

func TestSendStub(t *testing.T) {
	out, err := run(t, stubEnv, "",
		"send", "db", "ready",
		"--logger", "svc",
		"--source", "svc.worker",
		"--resource", "db1",
		"--severity", "warning",
		"--tracking-id", "t-42",
		"--property", "b=2",
		"--property", "a=1",
	)
	if err != nil {
		t.Fatalf("send error: %v", err)
	}

	events := decodeLines(t, out)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1: %s", len(events), out)
	}
	ev := events[0]
	want := map[string]any{
		"operation":   "svc",
		"msg-text":    "db ready",
		"severity":    "WARNING",
		"source-fqn":  "svc.worker",
		"resource":    "db1",
		"tracking-id": "t-42",
	}
	for k, v := range want {
		if ev[k] != v {
			t.Errorf("%s = %v, want %v", k, ev[k], v)
		}
	}

	props, ok := ev["properties"].([]any)
	if !ok || len(props) != 2 {
		t.Fatalf("properties = %v", ev["properties"])
	}
	if first := props[0].(map[string]any); first["name"] != "a" || first["value"] != "1" {
		t.Errorf("first property = %v, want a=1", first)
	}
}

func TestSendRejectsUnknownSeverity(t *testing.T) {
	if _, err := run(t, stubEnv, "", "send", "x", "--severity", "loud"); err == nil {
		t.Fatal("expected error for unknown severity")
	}
}

func TestSendRequiresToken(t *testing.T) {
	if _, err := run(t, nil, "", "send", "x"); err == nil {
		t.Fatal("expected error for missing token")
	}
}

func TestSendUnknownTransport(t *testing.T) {
	_, err := run(t, map[string]string{"JKOOL_TOKEN": "t"}, "", "send", "x", "--transport", "sftp")
	if !errors.Is(err, jkool.ErrConfiguration) {
		t.Fatalf("error = %v, want ErrConfiguration", err)
	}
}

func TestPipeStub(t *testing.T) {
	stdin := "plain text\n\n{\"msg\":\"charged\",\"level\":\"error\",\"logger\":\"billing\",\"order\":7}\n"
	out, err := run(t, stubEnv, stdin, "pipe", "--level", "debug")
	if err != nil {
		t.Fatalf("pipe error: %v", err)
	}

	events := decodeLines(t, out)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %s", len(events), out)
	}
	if events[0]["msg-text"] != "plain text" || events[0]["severity"] != "DEBUG" {
		t.Errorf("first event = %v", events[0])
	}
	if events[0]["operation"] != "jkool-stream" {
		t.Errorf("operation = %v, want default logger", events[0]["operation"])
	}
	second := events[1]
	if second["operation"] != "billing" || second["severity"] != "ERROR" || second["order"] != float64(7) {
		t.Errorf("second event = %v", second)
	}
}

type fakeCollector struct {
	mu     sync.Mutex
	bodies []string
}

func (c *fakeCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.bodies = append(c.bodies, string(body))
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *fakeCollector) captured() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.bodies...)
}

func TestSendHTTP(t *testing.T) {
	c := &fakeCollector{}
	srv := httptest.NewServer(c)
	defer srv.Close()

	env := map[string]string{
		"JKOOL_URL":   srv.URL,
		"JKOOL_TOKEN": "tok-1",
	}
	out, err := run(t, env, "", "send", "hello", "--resource", "db1")
	if err != nil {
		t.Fatalf("send error: %v", err)
	}
	if out != "" {
		t.Errorf("stdout = %q, want empty outside stub mode", out)
	}

	bodies := c.captured()
	if len(bodies) != 2 {
		t.Fatalf("got %d requests, want handshake + event", len(bodies))
	}
	if bodies[0] != "<access-request><token>tok-1</token></access-request>" {
		t.Errorf("handshake = %q", bodies[0])
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(bodies[1]), &ev); err != nil {
		t.Fatalf("event body: %v", err)
	}
	if ev["msg-text"] != "hello" || ev["resource"] != "db1" {
		t.Errorf("event = %v", ev)
	}
}

func TestSendHTTPRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Content-Type"), "text/plain") {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	env := map[string]string{"JKOOL_URL": srv.URL, "JKOOL_TOKEN": "tok-1"}
	_, err := run(t, env, "", "send", "hello")
	var statusErr *jkool.StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("error = %v, want StatusError", err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitLineStopsWhenTransportCloses(t *testing.T) {
	ctx := context.Background()
	stub := jkool.NewStubTransport(discardLogger())
	if err := stub.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	sink := &errorSink{next: stub}
	s := &session{
		events: slog.New(handler.New(sink, nil)),
		log:    discardLogger(),
		sink:   sink,
	}
	emit := emitLine(ctx, s)

	if err := emit(linesource.Line{Message: "one"}); err != nil {
		t.Fatalf("emit() error: %v", err)
	}
	stub.Close()
	if err := emit(linesource.Line{Message: "two"}); !errors.Is(err, jkool.ErrClosed) {
		t.Errorf("emit() after close = %v, want ErrClosed", err)
	}
	if len(stub.Payloads()) != 1 {
		t.Errorf("payloads = %d, want 1", len(stub.Payloads()))
	}
}

func TestErrorSinkLastClears(t *testing.T) {
	stub := jkool.NewStubTransport(discardLogger())
	stub.Connect(context.Background())
	stub.EmitErr = &jkool.StatusError{StatusCode: http.StatusBadRequest, Reason: "Bad Request"}
	sink := &errorSink{next: stub}

	slog.New(handler.New(sink, nil)).Info("rejected")

	if err := sink.Last(); err == nil {
		t.Fatal("Last() = nil, want the rejection")
	}
	if err := sink.Last(); err != nil {
		t.Errorf("Last() after read = %v, want nil", err)
	}
	if err := sink.Fatal(); err != nil {
		t.Errorf("Fatal() = %v, status errors are not fatal", err)
	}
}

func TestHealthServerReportsStatus(t *testing.T) {
	hs, err := listenHealth("127.0.0.1:0", discardLogger())
	if err != nil {
		t.Fatalf("listenHealth() error: %v", err)
	}
	go hs.serve()
	defer hs.stop()

	conn, err := grpc.NewClient(hs.addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthgrpc.NewHealthClient(conn)

	check := func() healthgrpc.HealthCheckResponse_ServingStatus {
		t.Helper()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		resp, err := client.Check(ctx, &healthgrpc.HealthCheckRequest{Service: HealthService})
		if err != nil {
			t.Fatalf("Check() error: %v", err)
		}
		return resp.GetStatus()
	}

	if got := check(); got != healthgrpc.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status before ready = %v", got)
	}
	hs.setServing(true)
	if got := check(); got != healthgrpc.HealthCheckResponse_SERVING {
		t.Errorf("status after ready = %v", got)
	}
}

func TestNilHealthServerIsNoop(t *testing.T) {
	var hs *healthServer
	hs.setServing(true)
	hs.stop()
	if err := hs.serve(); err != nil {
		t.Errorf("serve() = %v", err)
	}
}
