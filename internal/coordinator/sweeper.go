package coordinator

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/metrics"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/repository"
)

const sweepBatchSize = 100

// SweepExpired finds orders whose source timelock has passed, marks them
// Expired and refunds both escrows. Scheduled periodically.
func (c *Coordinator) SweepExpired(ctx context.Context) (bool, error) {
	orders, err := c.orders.FindExpired(ctx, time.Now(), sweepBatchSize)
	if err != nil {
		return false, err
	}

	for _, order := range orders {
		c.sweepOne(ctx, order)
	}
	c.gaugeStates(ctx)
	return len(orders) == sweepBatchSize, nil
}

func (c *Coordinator) sweepOne(ctx context.Context, stale *models.SwapOrder) {
	unlock := c.lockOrder(stale.ID)
	defer unlock()

	order, err := c.orders.GetByID(ctx, stale.ID)
	if err != nil || order == nil {
		return
	}
	if order.State.IsTerminal() || order.State == models.SwapStateExpired {
		return
	}
	// a revealed secret outruns expiry: the withdraw path finishes the swap
	if order.State == models.SwapStateSecretRevealed {
		return
	}

	log.Printf("⌛ Order %s expired (timelock %d), refunding", order.ID, order.SourceTimelock)
	if err := c.transition(ctx, order, models.SwapStateExpired); err != nil {
		if !errors.Is(err, repository.ErrStaleState) {
			log.Printf("❌ Failed to expire order %s: %v", order.ID, err)
		}
		return
	}

	c.drive(ctx, order, 0)
}

// PumpRetries re-drives orders whose retry delay has elapsed, plus freshly
// recovered in-flight orders after a restart. Scheduled periodically.
func (c *Coordinator) PumpRetries(ctx context.Context) (bool, error) {
	states := []models.SwapState{
		models.SwapStateCreated,
		models.SwapStatePriced,
		models.SwapStateDestEscrowPending,
		models.SwapStateSecretRevealed,
		models.SwapStateExpired,
	}

	now := time.Now()
	drained := false
	for _, state := range states {
		orders, err := c.orders.FindByState(ctx, state, sweepBatchSize)
		if err != nil {
			return false, err
		}
		if len(orders) == sweepBatchSize {
			drained = true
		}

		for _, order := range orders {
			if order.NextRetryAt != nil && order.NextRetryAt.After(now) {
				continue
			}
			c.pumpOne(ctx, order)
		}
	}
	return drained, nil
}

func (c *Coordinator) pumpOne(ctx context.Context, stale *models.SwapOrder) {
	unlock := c.lockOrder(stale.ID)
	defer unlock()

	order, err := c.orders.GetByID(ctx, stale.ID)
	if err != nil || order == nil {
		return
	}
	if order.State.IsTerminal() {
		return
	}
	if order.NextRetryAt != nil && order.NextRetryAt.After(time.Now()) {
		return
	}

	c.drive(ctx, order, 0)
}

// gaugeStates refreshes the per-state gauge from storage
func (c *Coordinator) gaugeStates(ctx context.Context) {
	states := []models.SwapState{
		models.SwapStateCreated,
		models.SwapStatePriced,
		models.SwapStateDestEscrowPending,
		models.SwapStateDestEscrowLocked,
		models.SwapStateSecretRevealed,
		models.SwapStateExpired,
	}
	for _, state := range states {
		orders, err := c.orders.FindByState(ctx, state, 1000)
		if err != nil {
			return
		}
		metrics.SwapsByState.WithLabelValues(string(state)).Set(float64(len(orders)))
	}
}
