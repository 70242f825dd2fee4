package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shaiso/Relay/internal/domain"
	"github.com/shaiso/Relay/internal/engine"
	"github.com/shaiso/Relay/internal/repo"
)

// Sync сверяет развёрнутые flow со Store: разворачивает новые и
// изменённые графы, останавливает удалённые и выключенные.
//
// Ошибки развёртывания отдельных графов пишутся в журнал; возвращается
// только ошибка чтения Store.
func (o *Orchestrator) Sync(ctx context.Context) error {
	records, err := o.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list flows: %w", err)
	}

	o.opMu.Lock()
	defer o.opMu.Unlock()
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}

	// Глобальный граф первым: остальные ссылаются на его узлы.
	slices.SortStableFunc(records, func(a, b repo.FlowRecord) int {
		switch {
		case a.ID == b.ID:
			return 0
		case a.ID == GlobalID:
			return -1
		case b.ID == GlobalID:
			return 1
		}
		return 0
	})

	seen := make(map[string]bool, len(records))
	for i := range records {
		rec := &records[i]
		if !rec.Enabled {
			continue
		}
		seen[rec.ID] = true
		if err := o.deploy(ctx, rec); err != nil {
			o.logger.Error("deploy failed", "flow_id", rec.ID, "revision", rec.Revision, "error", err)
		}
	}

	for _, d := range o.dependents() {
		if id := d.flow.ID(); !seen[id] {
			o.remove(ctx, id)
		}
	}
	if !seen[GlobalID] {
		o.remove(ctx, GlobalID)
	}
	return nil
}

// Deploy разворачивает запись: создаёт flow или применяет diff к
// уже работающему. Запись с той же ревизией, что уже развёрнута,
// пропускается.
func (o *Orchestrator) Deploy(ctx context.Context, rec *repo.FlowRecord) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}
	return o.deploy(ctx, rec)
}

// Remove останавливает flow и забывает его. Узлы закрываются с removed=true.
func (o *Orchestrator) Remove(ctx context.Context, id string) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()
	if o.IsStopped() {
		return ErrOrchestratorStopped
	}
	if !o.remove(ctx, id) {
		return fmt.Errorf("%w: %s", ErrFlowNotFound, id)
	}
	return nil
}

func (o *Orchestrator) deploy(ctx context.Context, rec *repo.FlowRecord) error {
	if o.deployedRevision(rec.ID) == rec.Revision {
		return nil
	}

	def := rec.Definition
	if def == nil {
		def = &domain.GraphDefinition{}
	}
	engine.SetID(def, rec.ID)

	var err error
	if rec.ID == GlobalID {
		err = o.deployGlobal(ctx, def, rec.Revision)
	} else {
		err = o.deployFlow(ctx, def, rec.Revision)
	}
	o.metrics.DeployApplied(err)
	return err
}

// deployedRevision возвращает ревизию развёрнутого графа или -1.
func (o *Orchestrator) deployedRevision(id string) int64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	d := o.flows[id]
	if id == GlobalID {
		d = o.global
	}
	if d == nil {
		return -1
	}
	return d.revision
}

func (o *Orchestrator) deployFlow(ctx context.Context, def *domain.GraphDefinition, revision int64) error {
	globalDef, globalFlow := o.globalDefinition()
	if err := engine.Validate(def, globalDef); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidGraph, def.ID, err)
	}

	o.mu.RLock()
	d := o.flows[def.ID]
	o.mu.RUnlock()

	if d == nil {
		f := o.rt.Create(globalDef, def)
		f.SetParent(globalFlow)
		err := f.Start(nil)

		o.mu.Lock()
		o.flows[def.ID] = &deployment{flow: f, revision: revision}
		o.mu.Unlock()

		o.logger.Info("flow deployed", "flow_id", def.ID, "revision", revision, "state", f.State())
		return err
	}

	diff := engine.ComputeDiff(d.flow.Definition(), def)
	d.flow.Stop(ctx, engine.StopList(diff), diff.Removed)
	d.flow.Update(globalDef, def)
	err := d.flow.Start(diff)

	o.mu.Lock()
	d.revision = revision
	o.mu.Unlock()

	o.logger.Info("flow redeployed",
		"flow_id", def.ID,
		"revision", revision,
		"added", len(diff.Added),
		"changed", len(diff.Changed),
		"removed", len(diff.Removed),
		"rewired", len(diff.Rewired),
		"state", d.flow.State(),
	)
	return err
}

// deployGlobal применяет глобальный граф. Flow, зависящие от него,
// перезапускаются целиком, если глобальный граф изменился.
func (o *Orchestrator) deployGlobal(ctx context.Context, def *domain.GraphDefinition, revision int64) error {
	if err := engine.Validate(def, nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidGraph, def.ID, err)
	}

	o.mu.RLock()
	g := o.global
	o.mu.RUnlock()

	dependents := o.dependents()

	if g == nil {
		for _, d := range dependents {
			d.flow.Stop(ctx, nil, nil)
		}

		f := o.rt.Create(nil, def)
		err := f.Start(nil)

		o.mu.Lock()
		o.global = &deployment{flow: f, revision: revision}
		o.mu.Unlock()

		o.restart(dependents)
		o.logger.Info("global flow deployed", "revision", revision, "state", f.State())
		return err
	}

	diff := engine.ComputeDiff(g.flow.Definition(), def)
	if diff.IsEmpty() {
		o.mu.Lock()
		g.revision = revision
		o.mu.Unlock()
		return nil
	}

	for _, d := range dependents {
		d.flow.Stop(ctx, nil, nil)
	}
	g.flow.Stop(ctx, engine.StopList(diff), diff.Removed)
	g.flow.Update(nil, def)
	err := g.flow.Start(diff)

	o.mu.Lock()
	g.revision = revision
	o.mu.Unlock()

	o.restart(dependents)
	o.logger.Info("global flow redeployed", "revision", revision, "dependents", len(dependents))
	return err
}

// restart запускает остановленные flow заново с текущим глобальным графом.
func (o *Orchestrator) restart(dependents []*deployment) {
	globalDef, globalFlow := o.globalDefinition()
	for _, d := range dependents {
		d.flow.SetParent(globalFlow)
		d.flow.Update(globalDef, d.flow.Definition())
		if err := d.flow.Start(nil); err != nil {
			o.logger.Error("restart failed", "flow_id", d.flow.ID(), "error", err)
		}
	}
}

// remove останавливает flow id. Возвращает false, если он не развёрнут.
func (o *Orchestrator) remove(ctx context.Context, id string) bool {
	o.mu.Lock()
	d := o.flows[id]
	if id == GlobalID {
		d = o.global
		o.global = nil
	} else {
		delete(o.flows, id)
	}
	o.mu.Unlock()

	if d == nil {
		return false
	}

	if id == GlobalID {
		dependents := o.dependents()
		for _, dep := range dependents {
			dep.flow.Stop(ctx, nil, nil)
		}
		d.flow.Stop(ctx, nil, activeIDs(d.flow))
		o.restart(dependents)
	} else {
		d.flow.Stop(ctx, nil, activeIDs(d.flow))
	}

	o.metrics.SetActiveNodes(id, 0)
	o.logger.Info("flow removed", "flow_id", id)
	return true
}

// isPermanent — ошибка развёртывания, которую не исправит повторная попытка.
func isPermanent(err error) bool {
	return err != nil && !errors.Is(err, ErrOrchestratorStopped)
}
