package exchange

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/xtrntr/settlement/internal/events"
	"github.com/xtrntr/settlement/internal/metrics"
	"github.com/xtrntr/settlement/internal/models"
	"github.com/xtrntr/settlement/internal/state"
)

// EmergencyStopTrading blocks all settlement until ResumeTrading.
func (e *Exchange) EmergencyStopTrading(ctx context.Context, admin common.Address, reason string) error {
	if !e.IsAdmin(admin) {
		return models.NewError(models.ErrNotAuthorized, admin.Hex())
	}
	head := e.clock.Head()
	err := e.store.Atomic(ctx, func(tx state.Tx) error {
		em, err := tx.Emergency(ctx)
		if err != nil {
			return err
		}
		if em.Active {
			return models.NewError(models.ErrEmergencyStopActive, em.Reason)
		}
		return tx.SetEmergency(ctx, models.EmergencyState{Active: true, Reason: reason, Admin: admin, Since: head.Number})
	})
	if err != nil {
		return err
	}
	metrics.EmergencyActive.Set(1)
	e.logger.Warn("emergency stop engaged", zap.Stringer("admin", admin), zap.String("reason", reason))
	e.events.Publish(ctx, events.Wrap(head.Number, events.EmergencyStop{Admin: admin, Reason: reason}))
	return nil
}

// ResumeTrading clears the emergency stop.
func (e *Exchange) ResumeTrading(ctx context.Context, admin common.Address) error {
	if !e.IsAdmin(admin) {
		return models.NewError(models.ErrNotAuthorized, admin.Hex())
	}
	head := e.clock.Head()
	err := e.store.Atomic(ctx, func(tx state.Tx) error {
		em, err := tx.Emergency(ctx)
		if err != nil {
			return err
		}
		if !em.Active {
			return models.ErrTradingNotStopped
		}
		return tx.SetEmergency(ctx, models.EmergencyState{})
	})
	if err != nil {
		return err
	}
	metrics.EmergencyActive.Set(0)
	e.logger.Info("trading resumed", zap.Stringer("admin", admin))
	e.events.Publish(ctx, events.Wrap(head.Number, events.TradingResumed{Admin: admin}))
	return nil
}

// GetEmergencyState returns the circuit breaker state.
func (e *Exchange) GetEmergencyState(ctx context.Context) (models.EmergencyState, error) {
	var em models.EmergencyState
	err := e.store.View(ctx, func(tx state.Tx) error {
		var err error
		em, err = tx.Emergency(ctx)
		return err
	})
	return em, err
}

func (e *Exchange) checkEmergency(ctx context.Context, tx state.Tx) error {
	em, err := tx.Emergency(ctx)
	if err != nil {
		return err
	}
	if em.Active {
		return models.NewError(models.ErrEmergencyStopActive, em.Reason)
	}
	return nil
}
