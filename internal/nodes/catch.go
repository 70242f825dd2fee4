package nodes

import (
	"slices"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/node"
)

// Handler — узел catch или status.
//
// Получает ошибки (catch) или статусы (status) узлов своего scope и
// пересылает их по первому выходу. Scope узла — список источников:
// пустой список принимает события всех узлов.
type Handler struct {
	*node.Base
	sources []string
}

// NewCatch — конструктор типа "catch".
func NewCatch(cfg node.Config) (node.Node, error) {
	return newHandler(cfg), nil
}

// NewStatus — конструктор типа "status".
func NewStatus(cfg node.Config) (node.Node, error) {
	return newHandler(cfg), nil
}

func newHandler(cfg node.Config) *Handler {
	h := &Handler{
		Base:    node.NewBase(cfg),
		sources: slices.Clone(cfg.Spec.Scope),
	}
	h.OnInput(func(msg domain.Message) error {
		h.Send(msg)
		return nil
	})
	return h
}

// Sources реализует node.SourceFilter.
func (h *Handler) Sources() []string {
	return h.sources
}
