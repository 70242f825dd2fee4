package telemetry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Level — уровень события движка.
//
// Числовые значения упорядочены так, что меньшее значение важнее:
// обработчик с порогом Warn получает Fatal, Error и Warn.
// Audit и Metric не входят в шкалу и включаются отдельными флагами.
type Level int

const (
	LevelFatal  Level = 10
	LevelError  Level = 20
	LevelWarn   Level = 30
	LevelInfo   Level = 40
	LevelDebug  Level = 50
	LevelTrace  Level = 60
	LevelAudit  Level = 98
	LevelMetric Level = 99
)

var levelNames = map[Level]string{
	LevelFatal:  "fatal",
	LevelError:  "error",
	LevelWarn:   "warn",
	LevelInfo:   "info",
	LevelDebug:  "debug",
	LevelTrace:  "trace",
	LevelAudit:  "audit",
	LevelMetric: "metric",
}

// String возвращает имя уровня.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

// ParseLevel разбирает имя уровня (регистр не важен).
// Неизвестное имя даёт LevelInfo.
func ParseLevel(name string) Level {
	name = strings.ToLower(strings.TrimSpace(name))
	for l, n := range levelNames {
		if n == name {
			return l
		}
	}
	return LevelInfo
}

// Event — одно событие журнала движка.
type Event struct {
	Level Level
	Time  time.Time

	// ID, Type, Name, Z — узел-источник (пустые для событий самого flow).
	ID   string
	Type string
	Name string
	Z    string

	Msg string
}

// Sink принимает события. Record не должен блокировать вызывающего.
type Sink interface {
	Record(Event)
}

// Handler — получатель событий, подключаемый к Log.
type Handler interface {
	Handle(Event)
}

// HandlerFunc позволяет использовать функцию как Handler.
type HandlerFunc func(Event)

// Handle вызывает f(e).
func (f HandlerFunc) Handle(e Event) { f(e) }

// HandlerOptions — фильтр обработчика.
type HandlerOptions struct {
	// Level — порог: обработчик получает события с Level <= порога.
	Level Level

	// Audit — получать события LevelAudit.
	Audit bool

	// Metrics — получать события LevelMetric.
	Metrics bool
}

type handlerEntry struct {
	handler Handler
	opts    HandlerOptions
}

// Log — журнал движка: рассылает события всем подключённым обработчикам
// с учётом их фильтров.
//
// Log создаётся явно и передаётся в flow.Init; глобального состояния нет.
type Log struct {
	mu       sync.RWMutex
	handlers []handlerEntry
	now      func() time.Time
}

// NewLog создаёт пустой журнал.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// AddHandler подключает обработчик. Нулевой Level означает LevelInfo.
func (l *Log) AddHandler(h Handler, opts HandlerOptions) {
	if opts.Level == 0 {
		opts.Level = LevelInfo
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, handlerEntry{handler: h, opts: opts})
}

// Record рассылает событие. Паника обработчика не прерывает рассылку.
func (l *Log) Record(e Event) {
	if e.Time.IsZero() {
		e.Time = l.now()
	}

	l.mu.RLock()
	handlers := make([]handlerEntry, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()

	for _, entry := range handlers {
		if !entry.opts.accepts(e.Level) {
			continue
		}
		dispatch(entry.handler, e)
	}
}

func dispatch(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("log handler panicked", "panic", r)
		}
	}()
	h.Handle(e)
}

func (o HandlerOptions) accepts(level Level) bool {
	switch level {
	case LevelAudit:
		return o.Audit
	case LevelMetric:
		return o.Metrics
	default:
		return level <= o.Level
	}
}

// Discard — Sink, который ничего не делает.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(Event) {}

// SlogHandler пишет события в slog.Logger.
type SlogHandler struct {
	logger *slog.Logger
}

// NewSlogHandler создаёт обработчик. nil — slog.Default().
func NewSlogHandler(logger *slog.Logger) *SlogHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogHandler{logger: logger}
}

// Handle реализует Handler.
func (h *SlogHandler) Handle(e Event) {
	attrs := make([]any, 0, 10)
	attrs = append(attrs, "level_name", e.Level.String())
	if e.ID != "" {
		attrs = append(attrs, "node_id", e.ID, "node_type", e.Type)
	}
	if e.Name != "" {
		attrs = append(attrs, "node_name", e.Name)
	}
	if e.Z != "" {
		attrs = append(attrs, "z", e.Z)
	}
	h.logger.Log(context.Background(), slogLevel(e.Level), e.Msg, attrs...)
}

func slogLevel(l Level) slog.Level {
	switch {
	case l <= LevelError:
		return slog.LevelError
	case l == LevelWarn:
		return slog.LevelWarn
	case l == LevelInfo, l == LevelAudit, l == LevelMetric:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
