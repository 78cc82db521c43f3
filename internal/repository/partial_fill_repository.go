package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrOverFill reports a fill that would exceed the parent's remaining amount
var ErrOverFill = errors.New("fill exceeds remaining parent amount")

// PartialFillLedger tracks fill/refund accounting for orders that support
// partial execution. A parent order's remaining amount is its fromAmount
// minus all recorded fills (refunded or not — a refunded fill still consumed
// its slice of the parent).
type PartialFillLedger interface {
	// RecordFill registers a child fill against a parent order. Over-filling
	// the parent is rejected.
	RecordFill(ctx context.Context, parentOrderID, childOrderID, amount, txHash string) (*models.PartialFill, error)
	// MarkRefunded flags a recorded fill as refunded
	MarkRefunded(ctx context.Context, fillID, txHash string) error
	// Remaining returns parentAmount - sum(fills) as an integer string
	Remaining(ctx context.Context, parentOrderID, parentAmount string) (*big.Int, error)
	// FillsFor lists all fills recorded against a parent order
	FillsFor(ctx context.Context, parentOrderID string) ([]*models.PartialFill, error)
}

type partialFillLedger struct {
	db *gorm.DB
}

// NewPartialFillLedger creates the gorm-backed partial fill ledger
func NewPartialFillLedger(db *gorm.DB) PartialFillLedger {
	return &partialFillLedger{db: db}
}

func (l *partialFillLedger) RecordFill(ctx context.Context, parentOrderID, childOrderID, amount, txHash string) (*models.PartialFill, error) {
	fillAmount, ok := new(big.Int).SetString(amount, 10)
	if !ok || fillAmount.Sign() <= 0 {
		return nil, fmt.Errorf("invalid fill amount %q", amount)
	}

	var fill *models.PartialFill
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var parent models.SwapOrder
		if err := tx.Where("id = ?", parentOrderID).First(&parent).Error; err != nil {
			return fmt.Errorf("parent order not found: %w", err)
		}

		parentAmount, ok := new(big.Int).SetString(parent.FromAmount, 10)
		if !ok {
			return fmt.Errorf("parent order %s has malformed amount %q", parentOrderID, parent.FromAmount)
		}

		filled, err := sumFills(tx, parentOrderID)
		if err != nil {
			return err
		}

		remaining := new(big.Int).Sub(parentAmount, filled)
		if fillAmount.Cmp(remaining) > 0 {
			return fmt.Errorf("%w: fill %s > remaining %s of parent order %s", ErrOverFill, fillAmount, remaining, parentOrderID)
		}

		fill = &models.PartialFill{
			ID:            uuid.New().String(),
			ParentOrderID: parentOrderID,
			ChildOrderID:  childOrderID,
			FilledAmount:  fillAmount.String(),
			TxHash:        txHash,
			CreatedAt:     time.Now(),
		}
		return tx.Create(fill).Error
	})
	if err != nil {
		return nil, err
	}
	return fill, nil
}

func (l *partialFillLedger) MarkRefunded(ctx context.Context, fillID, txHash string) error {
	result := l.db.WithContext(ctx).Model(&models.PartialFill{}).
		Where("id = ?", fillID).
		Updates(map[string]interface{}{"refunded": true, "tx_hash": txHash})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("partial fill %s not found", fillID)
	}
	return nil
}

func (l *partialFillLedger) Remaining(ctx context.Context, parentOrderID, parentAmount string) (*big.Int, error) {
	total, ok := new(big.Int).SetString(parentAmount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid parent amount %q", parentAmount)
	}
	filled, err := sumFills(l.db.WithContext(ctx), parentOrderID)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(total, filled), nil
}

func (l *partialFillLedger) FillsFor(ctx context.Context, parentOrderID string) ([]*models.PartialFill, error) {
	var fills []*models.PartialFill
	err := l.db.WithContext(ctx).
		Where("parent_order_id = ?", parentOrderID).
		Order("created_at ASC").
		Find(&fills).Error
	return fills, err
}

// sumFills adds up all fills recorded against a parent. Amounts are kept as
// integer strings, so the sum is computed in Go, not SQL.
func sumFills(tx *gorm.DB, parentOrderID string) (*big.Int, error) {
	var fills []models.PartialFill
	if err := tx.Where("parent_order_id = ?", parentOrderID).Find(&fills).Error; err != nil {
		return nil, err
	}
	sum := new(big.Int)
	for _, f := range fills {
		amount, ok := new(big.Int).SetString(f.FilledAmount, 10)
		if !ok {
			return nil, fmt.Errorf("partial fill %s has malformed amount %q", f.ID, f.FilledAmount)
		}
		sum.Add(sum, amount)
	}
	return sum, nil
}
