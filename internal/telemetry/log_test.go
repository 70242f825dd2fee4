package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type collect struct {
	mu     sync.Mutex
	events []Event
}

func (c *collect) Handle(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collect) levels() []Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Level, len(c.events))
	for i, e := range c.events {
		out[i] = e.Level
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"error", LevelError},
		{"WARN", LevelWarn},
		{" trace ", LevelTrace},
		{"audit", LevelAudit},
		{"nonsense", LevelInfo},
		{"", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestLog_Filters(t *testing.T) {
	all := []Level{LevelFatal, LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace, LevelAudit, LevelMetric}

	tests := []struct {
		name string
		opts HandlerOptions
		want []Level
	}{
		{
			name: "default threshold is info",
			opts: HandlerOptions{},
			want: []Level{LevelFatal, LevelError, LevelWarn, LevelInfo},
		},
		{
			name: "warn",
			opts: HandlerOptions{Level: LevelWarn},
			want: []Level{LevelFatal, LevelError, LevelWarn},
		},
		{
			name: "trace with audit",
			opts: HandlerOptions{Level: LevelTrace, Audit: true},
			want: []Level{LevelFatal, LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace, LevelAudit},
		},
		{
			name: "metrics only above error",
			opts: HandlerOptions{Level: LevelError, Metrics: true},
			want: []Level{LevelFatal, LevelError, LevelMetric},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := NewLog()
			h := &collect{}
			log.AddHandler(h, tt.opts)

			for _, l := range all {
				log.Record(Event{Level: l, Msg: l.String()})
			}

			got := h.levels()
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("event %d: expected %s, got %s", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestLog_PanickingHandler(t *testing.T) {
	log := NewLog()
	log.AddHandler(HandlerFunc(func(Event) { panic("boom") }), HandlerOptions{})
	h := &collect{}
	log.AddHandler(h, HandlerOptions{})

	log.Record(Event{Level: LevelError, Msg: "x"})

	if len(h.levels()) != 1 {
		t.Errorf("second handler should still receive the event")
	}
}

func TestLog_SetsTime(t *testing.T) {
	fixed := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	log := NewLog()
	log.now = func() time.Time { return fixed }
	h := &collect{}
	log.AddHandler(h, HandlerOptions{})

	log.Record(Event{Level: LevelInfo})
	explicit := fixed.Add(time.Hour)
	log.Record(Event{Level: LevelInfo, Time: explicit})

	if !h.events[0].Time.Equal(fixed) {
		t.Errorf("expected time to be filled, got %s", h.events[0].Time)
	}
	if !h.events[1].Time.Equal(explicit) {
		t.Errorf("explicit time must be kept, got %s", h.events[1].Time)
	}
}

func TestSlogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	NewSlogHandler(logger).Handle(Event{
		Level: LevelWarn,
		ID:    "n1",
		Type:  "debug",
		Name:  "printer",
		Z:     "f1",
		Msg:   "slow consumer",
	})

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}

	want := map[string]any{
		"level":      "WARN",
		"msg":        "slow consumer",
		"level_name": "warn",
		"node_id":    "n1",
		"node_type":  "debug",
		"node_name":  "printer",
		"z":          "f1",
	}
	for k, v := range want {
		if rec[k] != v {
			t.Errorf("%s: expected %v, got %v", k, v, rec[k])
		}
	}
}

func TestEngineLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "trace")
	if got := EngineLogLevel(); got != LevelTrace {
		t.Errorf("expected trace, got %s", got)
	}

	t.Setenv("LOG_LEVEL", "")
	if got := EngineLogLevel(); got != LevelInfo {
		t.Errorf("expected info, got %s", got)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger for empty context")
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithLogger(context.Background(), logger)

	WithFlowID(FromContext(ctx), "orders").Info("hello")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("invalid log line: %v", err)
	}
	if rec["flow_id"] != "orders" || rec["msg"] != "hello" {
		t.Errorf("unexpected record: %v", rec)
	}
}
