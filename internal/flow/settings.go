package flow

import (
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/node"
	"github.com/shaiso/Relay/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultNodeCloseTimeout  = 15 * time.Second
	DefaultMaxConfigAttempts = 100

	// errorLoopLimit — на каком по счёту повторе одной и той же ошибки
	// маршрутизация прекращается.
	errorLoopLimit = 10
)

// Settings — настройки движка.
type Settings struct {
	// NodeCloseTimeout — сколько ждать закрытия одного узла.
	NodeCloseTimeout time.Duration

	// MaxConfigAttempts — сколько раз config-узел может вернуться в очередь,
	// прежде чем зависимость будет признана циклической.
	MaxConfigAttempts int
}

// DefaultSettings возвращает настройки по умолчанию.
func DefaultSettings() Settings {
	return Settings{
		NodeCloseTimeout:  DefaultNodeCloseTimeout,
		MaxConfigAttempts: DefaultMaxConfigAttempts,
	}
}

// SettingsFromEnv читает настройки из окружения:
//   - RELAY_NODE_CLOSE_TIMEOUT_MS
//   - RELAY_CONFIG_MAX_ATTEMPTS
//
// Некорректные и неположительные значения игнорируются.
func SettingsFromEnv() Settings {
	s := DefaultSettings()
	if v, err := strconv.Atoi(os.Getenv("RELAY_NODE_CLOSE_TIMEOUT_MS")); err == nil && v > 0 {
		s.NodeCloseTimeout = time.Duration(v) * time.Millisecond
	}
	if v, err := strconv.Atoi(os.Getenv("RELAY_CONFIG_MAX_ATTEMPTS")); err == nil && v > 0 {
		s.MaxConfigAttempts = v
	}
	return s
}

func (s Settings) withDefaults() Settings {
	if s.NodeCloseTimeout <= 0 {
		s.NodeCloseTimeout = DefaultNodeCloseTimeout
	}
	if s.MaxConfigAttempts <= 0 {
		s.MaxConfigAttempts = DefaultMaxConfigAttempts
	}
	return s
}

// IDGenerator выдаёт глобально уникальные ID для копий узлов subflow.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator — IDGenerator на основе UUID v4.
type UUIDGenerator struct{}

// NewID возвращает новый UUID.
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// Deps — внешние зависимости движка.
type Deps struct {
	// Registry — реестр типов узлов.
	Registry *node.Registry

	// Sink — журнал движка. По умолчанию telemetry.Discard.
	Sink telemetry.Sink

	// IDs — генератор ID. По умолчанию UUIDGenerator.
	IDs IDGenerator

	// Metrics — метрики (может быть nil).
	Metrics *telemetry.Metrics

	// Env — поиск переменных окружения для свойств "$(NAME)".
	// По умолчанию engine.OSLookup.
	Env engine.LookupFunc
}

// Runtime — контекст движка: настройки и зависимости, общие для всех flow.
//
// Runtime заменяет глобальное состояние: его время жизни — процесс или тест.
type Runtime struct {
	settings Settings
	deps     Deps
}

// Init создаёт Runtime. Незаданные настройки и зависимости получают
// значения по умолчанию.
func Init(settings Settings, deps Deps) *Runtime {
	if deps.Registry == nil {
		deps.Registry = node.NewRegistry()
	}
	if deps.Sink == nil {
		deps.Sink = telemetry.Discard
	}
	if deps.IDs == nil {
		deps.IDs = UUIDGenerator{}
	}
	if deps.Env == nil {
		deps.Env = engine.OSLookup
	}
	return &Runtime{
		settings: settings.withDefaults(),
		deps:     deps,
	}
}

// Settings возвращает действующие настройки.
func (r *Runtime) Settings() Settings {
	return r.settings
}

// Registry возвращает реестр типов.
func (r *Runtime) Registry() *node.Registry {
	return r.deps.Registry
}

// Create создаёт остановленный Flow для def.
// global — глобальный граф (config-узлы и шаблоны, доступные всем flow), может быть nil.
func (r *Runtime) Create(global, def *domain.GraphDefinition) *Flow {
	def = prepare(def)
	return &Flow{
		rt:          r,
		id:          def.ID,
		global:      global,
		def:         def,
		state:       domain.FlowStateStopped,
		active:      make(map[string]node.Node),
		subflows:    make(map[string][]string),
		catchIndex:  make(map[string][]node.Node),
		statusIndex: make(map[string][]node.Node),
		parents:     make(map[string]string),
	}
}

// prepare возвращает поверхностную копию def с непустыми map.
// Исходное определение не изменяется.
func prepare(def *domain.GraphDefinition) *domain.GraphDefinition {
	if def == nil {
		def = &domain.GraphDefinition{}
	}
	cp := *def
	if cp.Configs == nil {
		cp.Configs = make(map[string]*domain.ConfigNodeSpec)
	}
	if cp.Nodes == nil {
		cp.Nodes = make(map[string]*domain.NodeSpec)
	}
	if cp.Subflows == nil {
		cp.Subflows = make(map[string]*domain.SubflowTemplate)
	}
	return &cp
}
