package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"

	"gorm.io/gorm"
)

// IdempotencyLedger is the durable record of processed message ids and
// per-chain checkpoints. The write-then-advance ordering is the one
// cross-component invariant: RecordMessage must be durable before
// AdvanceCheckpoint is called for the block that produced it.
type IdempotencyLedger interface {
	// IsProcessed reports whether a message id has already been handled
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	// RecordMessage durably marks a message id as processed. Recording an
	// already-present id is a no-op success (at-least-once delivery upstream).
	RecordMessage(ctx context.Context, msg *models.ProcessedMessage) error
	// GetCheckpoint returns the last fully processed height for a chain,
	// or (0, false) when no checkpoint exists yet
	GetCheckpoint(ctx context.Context, chainID string) (uint64, bool, error)
	// AdvanceCheckpoint moves a chain's checkpoint forward. Heights at or
	// below the current checkpoint are rejected.
	AdvanceCheckpoint(ctx context.Context, chainID string, height uint64) error
	// PruneBelow evicts processed-message rows recorded at heights more than
	// depth blocks below the chain's checkpoint. Bounds ledger size; stated
	// contract, not incidental cleanup.
	PruneBelow(ctx context.Context, chainID string, depth uint64) (int64, error)
}

type idempotencyLedger struct {
	db *gorm.DB
}

// NewIdempotencyLedger creates the gorm-backed ledger
func NewIdempotencyLedger(db *gorm.DB) IdempotencyLedger {
	return &idempotencyLedger{db: db}
}

func (l *idempotencyLedger) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var msg models.ProcessedMessage
	err := l.db.WithContext(ctx).Where("message_id = ?", messageID).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *idempotencyLedger) RecordMessage(ctx context.Context, msg *models.ProcessedMessage) error {
	if msg.MessageID == "" {
		return fmt.Errorf("message id is required")
	}
	msg.CreatedAt = time.Now()
	err := l.db.WithContext(ctx).Create(msg).Error
	if err != nil && isDuplicateKey(err) {
		// already recorded by an earlier cycle; replay is expected
		return nil
	}
	return err
}

func (l *idempotencyLedger) GetCheckpoint(ctx context.Context, chainID string) (uint64, bool, error) {
	var cp models.Checkpoint
	err := l.db.WithContext(ctx).Where("chain_id = ?", chainID).First(&cp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cp.LastProcessedHeight, true, nil
}

func (l *idempotencyLedger) AdvanceCheckpoint(ctx context.Context, chainID string, height uint64) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cp models.Checkpoint
		err := tx.Where("chain_id = ?", chainID).First(&cp).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cp = models.Checkpoint{ChainID: chainID, LastProcessedHeight: height, UpdatedAt: time.Now()}
			return tx.Create(&cp).Error
		}
		if err != nil {
			return err
		}
		if height <= cp.LastProcessedHeight {
			return fmt.Errorf("checkpoint for %s cannot move from %d to %d", chainID, cp.LastProcessedHeight, height)
		}
		return tx.Model(&cp).Updates(map[string]interface{}{
			"last_processed_height": height,
			"updated_at":            time.Now(),
		}).Error
	})
}

func (l *idempotencyLedger) PruneBelow(ctx context.Context, chainID string, depth uint64) (int64, error) {
	height, ok, err := l.GetCheckpoint(ctx, chainID)
	if err != nil {
		return 0, err
	}
	if !ok || height <= depth {
		return 0, nil
	}
	cutoff := height - depth
	result := l.db.WithContext(ctx).
		Where("chain_id = ? AND block_height < ?", chainID, cutoff).
		Delete(&models.ProcessedMessage{})
	return result.RowsAffected, result.Error
}

// isDuplicateKey detects unique-constraint violations across drivers
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "23505") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}
