package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/shaiso/Relay/internal/mq"
	"github.com/shaiso/Relay/internal/repo"
)

// handleDeploy обрабатывает команду развёртывания из deploy.commands.
//
// Команда несёт только ID графа: актуальное определение читается из
// Store. Граф, которого нет в Store или который выключен, снимается.
func (o *Orchestrator) handleDeploy(ctx context.Context, msg *mq.Message) error {
	payload, err := mq.ParsePayload[mq.DeployPayload](msg)
	if err != nil {
		return fmt.Errorf("%w: %w", mq.ErrPoisonMessage, err)
	}
	if payload.FlowID == "" {
		return fmt.Errorf("%w: empty flow_id", mq.ErrPoisonMessage)
	}

	o.logger.Debug("received deploy command", "flow_id", payload.FlowID, "remove", payload.Remove)

	if payload.Remove {
		return o.removeIgnoringMissing(ctx, payload.FlowID)
	}

	rec, err := o.store.Get(ctx, payload.FlowID)
	if errors.Is(err, repo.ErrNotFound) {
		return o.removeIgnoringMissing(ctx, payload.FlowID)
	}
	if err != nil {
		// Store недоступен: вернём сообщение в очередь.
		return fmt.Errorf("load flow %s: %w", payload.FlowID, err)
	}
	if !rec.Enabled {
		return o.removeIgnoringMissing(ctx, payload.FlowID)
	}

	if err := o.Deploy(ctx, rec); isPermanent(err) {
		return fmt.Errorf("%w: %w", mq.ErrPoisonMessage, err)
	} else if err != nil {
		return err
	}
	return nil
}

func (o *Orchestrator) removeIgnoringMissing(ctx context.Context, id string) error {
	if err := o.Remove(ctx, id); err != nil && !errors.Is(err, ErrFlowNotFound) {
		return err
	}
	return nil
}
