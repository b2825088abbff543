package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithServerSessionAddsFields(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	log := WithServerSession(ctx, "s1", "sess-1")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["server"] != "s1" {
		t.Fatalf("expected server field, got %+v", entry)
	}
	if entry["session"] != "sess-1" {
		t.Fatalf("expected session field, got %+v", entry)
	}
}

func TestWithServerSkipsDuplicateMarker(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture).With("server", "s1")
	ctx := ContextWithSessionLogger(context.Background(), logger, "s1", "")
	WithServer(ctx, "s1").Info("hello")

	line := capture.buf.String()
	if bytes.Count([]byte(line), []byte(`"server"`)) != 1 {
		t.Fatalf("expected single server field, got %s", line)
	}
}

func TestWithTabAddsField(t *testing.T) {
	capture := &logCapture{}
	WithTab(newCaptureLogger(capture), "terminal-sess-1").Info("hello")

	entry := capture.firstEntry(t)
	if entry["tab"] != "terminal-sess-1" {
		t.Fatalf("expected tab field, got %+v", entry)
	}
}

func TestDetachKeepsMarkers(t *testing.T) {
	ctx := ContextWithSession(ContextWithServer(context.Background(), "s1"), "sess-1")
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	detached := Detach(ctx)
	if detached.Err() != nil {
		t.Fatalf("expected detached context to outlive parent")
	}
	if got, _ := detached.Value(serverKey).(string); got != "" {
		t.Fatalf("unexpected untyped marker %q", got)
	}
	if detached.Value(sessionKey) == nil || detached.Value(serverKey) == nil {
		t.Fatalf("expected server and session markers on detached context")
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
