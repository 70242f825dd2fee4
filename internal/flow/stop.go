package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/node"
	"github.com/shaiso/Relay/internal/telemetry"
)

// closeTarget — узел, ожидающий закрытия.
type closeTarget struct {
	node    node.Node
	removed bool
}

// Stop останавливает узлы flow и ждёт, пока каждый закроется или
// превысит таймаут.
//
// stopList == nil — останавливаются все активные узлы. ID экземпляра
// subflow тянет за собой всех его участников. removedList — узлы,
// удалённые из графа: их Close получает removed=true (участники
// экземпляра наследуют флаг экземпляра).
//
// Узлы удаляются из таблиц до первого Close, поэтому ни один узел не
// будет закрыт дважды. Ошибки и таймауты закрытия сообщаются через
// Error самого узла; Stop их не возвращает.
func (f *Flow) Stop(ctx context.Context, stopList, removedList []string) {
	if ctx == nil {
		ctx = context.Background()
	}

	f.opMu.Lock()
	defer f.opMu.Unlock()

	f.mu.Lock()
	prevState := f.state
	all := stopList == nil
	if all {
		stopList = domain.SortedKeys(f.active)
	}
	f.state = domain.FlowStateStopping
	targets := f.detach(stopList, removedList)
	f.rebuildIndices()
	f.mu.Unlock()

	f.closeAll(ctx, targets)

	f.mu.Lock()
	switch {
	case len(f.active) == 0:
		f.state = domain.FlowStateStopped
	default:
		f.state = prevState
	}
	id, count, state := f.id, len(f.active), f.state
	f.mu.Unlock()

	f.rt.deps.Metrics.SetActiveNodes(id, count)
	if state != prevState {
		f.recordState(state)
	}
}

// detach удаляет узлы из таблицы активных и таблицы экземпляров.
// Вызывается под f.mu.
func (f *Flow) detach(stopList, removedList []string) []closeTarget {
	removed := make(map[string]bool, len(removedList))
	for _, id := range removedList {
		removed[id] = true
	}

	seen := make(map[string]bool)
	var targets []closeTarget

	var visit func(id string, inheritRemoved bool)
	visit = func(id string, inheritRemoved bool) {
		if seen[id] {
			return
		}
		seen[id] = true
		isRemoved := inheritRemoved || removed[id]

		if n, ok := f.active[id]; ok {
			targets = append(targets, closeTarget{node: n, removed: isRemoved})
			delete(f.active, id)
		}
		if members, ok := f.subflows[id]; ok {
			delete(f.subflows, id)
			for _, member := range members {
				visit(member, isRemoved)
			}
		}
	}

	for _, id := range stopList {
		visit(id, false)
	}
	return targets
}

// closeAll закрывает узлы параллельно и ждёт всех.
// Ни один исход не прерывает остальные.
func (f *Flow) closeAll(ctx context.Context, targets []closeTarget) {
	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			f.closeNode(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
}

func (f *Flow) closeNode(ctx context.Context, t closeTarget) {
	msg := fmt.Sprintf("Stopping node %s:%s", t.node.Type(), t.node.ID())
	if t.removed {
		msg += " removed"
	}
	f.recordNode(telemetry.LevelTrace, t.node, msg)

	start := time.Now()
	err := closeWithTimeout(ctx, t.node, t.removed, f.rt.settings.NodeCloseTimeout)
	elapsed := time.Since(start)
	f.rt.deps.Metrics.NodeClosed(elapsed, err, errors.Is(err, ErrCloseTimeout))
	if err != nil {
		t.node.Error(fmt.Errorf("close node %s: %w", t.node.ID(), err), nil)
	}

	f.recordNode(telemetry.LevelTrace, t.node,
		fmt.Sprintf("Stopped node %s:%s (%dms)", t.node.Type(), t.node.ID(), elapsed.Milliseconds()))
}

// closeWithTimeout вызывает Close и ждёт не дольше timeout.
// Не уложившийся Close не прерывается: горутина завершится сама.
func closeWithTimeout(ctx context.Context, n node.Node, removed bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrClosePanic, r)
			}
		}()
		done <- n.Close(ctx, removed)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s", ErrCloseTimeout, timeout)
	}
}
