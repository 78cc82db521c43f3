// Chain Watcher
// Checkpointed block polling. Each watcher walks its chain one block at a
// time, decodes escrow lifecycle events into messages, and hands them to the
// coordinator exactly once per message id. The ordering invariant: a message
// is durably recorded in the idempotency ledger before the checkpoint for its
// block advances, so a crash between the two replays the block and the ledger
// absorbs the duplicate.
package watcher

import (
	"context"
	"fmt"
	"log"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/metrics"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/repository"
)

// Sink receives decoded messages, deduped by the ledger
type Sink interface {
	HandleMessage(ctx context.Context, msg *models.CrossChainMessage) error
}

// Publisher fans processed events out to the message bus
type Publisher interface {
	Publish(topic string, payload interface{}) error
}

// ChainSource is the chain-specific half of a watcher
type ChainSource interface {
	// ChainID is the checkpoint and message-id namespace
	ChainID() string
	// Head returns the latest finalized block height
	Head(ctx context.Context) (uint64, error)
	// ProcessBlock decodes escrow events from one block. A missing or pruned
	// block returns (nil, nil): its height is skipped and the walk continues.
	ProcessBlock(ctx context.Context, height uint64) ([]*models.CrossChainMessage, error)
}

// Watcher drives one ChainSource against the shared ledger
type Watcher struct {
	source    ChainSource
	ledger    repository.IdempotencyLedger
	orders    repository.SwapOrderRepository
	sink      Sink
	publisher Publisher

	batchMaxBlocks uint64
}

// NewWatcher wires a chain source to the ledger and the coordinator sink
func NewWatcher(source ChainSource, ledger repository.IdempotencyLedger, orders repository.SwapOrderRepository, sink Sink, publisher Publisher, batchMaxBlocks int) *Watcher {
	if batchMaxBlocks <= 0 {
		batchMaxBlocks = 10
	}
	return &Watcher{
		source:         source,
		ledger:         ledger,
		orders:         orders,
		sink:           sink,
		publisher:      publisher,
		batchMaxBlocks: uint64(batchMaxBlocks),
	}
}

// ChainID returns the watched chain's identifier
func (w *Watcher) ChainID() string {
	return w.source.ChainID()
}

// PollOnce processes up to batchMaxBlocks blocks past the checkpoint.
// Returns drainMore=true when the head is still ahead afterwards, so the
// scheduler reschedules immediately instead of waiting a full interval.
func (w *Watcher) PollOnce(ctx context.Context) (bool, error) {
	chainID := w.source.ChainID()

	head, err := w.source.Head(ctx)
	if err != nil {
		metrics.WatcherCycleErrors.WithLabelValues(chainID).Inc()
		return false, fmt.Errorf("failed to get %s head: %w", chainID, err)
	}

	checkpoint, exists, err := w.ledger.GetCheckpoint(ctx, chainID)
	if err != nil {
		metrics.WatcherCycleErrors.WithLabelValues(chainID).Inc()
		return false, fmt.Errorf("failed to load %s checkpoint: %w", chainID, err)
	}
	if !exists {
		// first run: start at the current head, do not replay history
		if err := w.ledger.AdvanceCheckpoint(ctx, chainID, head); err != nil {
			return false, fmt.Errorf("failed to initialize %s checkpoint: %w", chainID, err)
		}
		log.Printf("🏁 Initialized %s checkpoint at height %d", chainID, head)
		metrics.WatcherLastProcessedHeight.WithLabelValues(chainID).Set(float64(head))
		return false, nil
	}

	if head <= checkpoint {
		return false, nil
	}

	to := checkpoint + w.batchMaxBlocks
	if to > head {
		to = head
	}

	for height := checkpoint + 1; height <= to; height++ {
		if err := w.processHeight(ctx, height); err != nil {
			// abort the cycle; the checkpoint stays and the block is retried
			metrics.WatcherCycleErrors.WithLabelValues(chainID).Inc()
			return false, fmt.Errorf("failed to process %s block %d: %w", chainID, height, err)
		}
		if err := w.ledger.AdvanceCheckpoint(ctx, chainID, height); err != nil {
			metrics.WatcherCycleErrors.WithLabelValues(chainID).Inc()
			return false, fmt.Errorf("failed to advance %s checkpoint to %d: %w", chainID, height, err)
		}
		metrics.WatcherLastProcessedHeight.WithLabelValues(chainID).Set(float64(height))
		metrics.WatcherBlocksProcessed.WithLabelValues(chainID).Inc()
	}

	return head > to, nil
}

// processHeight decodes one block and delivers its messages in order
func (w *Watcher) processHeight(ctx context.Context, height uint64) error {
	chainID := w.source.ChainID()

	messages, err := w.source.ProcessBlock(ctx, height)
	if err != nil {
		return err
	}

	for _, msg := range messages {
		if err := msg.Validate(); err != nil {
			log.Printf("⚠️ Dropping malformed %s message at block %d: %v", chainID, height, err)
			continue
		}

		processed, err := w.ledger.IsProcessed(ctx, msg.MessageID)
		if err != nil {
			return fmt.Errorf("ledger lookup for %s failed: %w", msg.MessageID, err)
		}
		if processed {
			metrics.WatcherDuplicatesSkipped.WithLabelValues(chainID).Inc()
			continue
		}

		log.Printf("📥 %s event at block %d: type=%s escrow=%s tx=%s",
			chainID, height, msg.Type, msg.EscrowRef, msg.SourceTxHash)
		metrics.WatcherEventsDecoded.WithLabelValues(chainID, string(msg.Type)).Inc()

		if err := w.sink.HandleMessage(ctx, msg); err != nil {
			return fmt.Errorf("coordinator rejected message %s: %w", msg.MessageID, err)
		}

		if err := w.orders.SaveEvent(ctx, messageToEvent(msg, height)); err != nil {
			return fmt.Errorf("failed to persist event %s: %w", msg.MessageID, err)
		}
		if err := w.ledger.RecordMessage(ctx, &models.ProcessedMessage{
			MessageID:   msg.MessageID,
			ChainID:     chainID,
			BlockHeight: height,
			TxHash:      msg.SourceTxHash,
			EventType:   string(msg.Type),
		}); err != nil {
			return fmt.Errorf("failed to record message %s: %w", msg.MessageID, err)
		}

		if w.publisher != nil {
			if err := w.publisher.Publish("escrows."+string(msg.Type), msg); err != nil {
				// bus delivery is best-effort; the durable ledger is authoritative
				log.Printf("⚠️ Failed to publish %s event: %v", msg.Type, err)
			}
		}
	}

	return nil
}

func messageToEvent(msg *models.CrossChainMessage, height uint64) *models.EscrowEvent {
	return &models.EscrowEvent{
		MessageID:   msg.MessageID,
		ChainID:     msg.SourceChain,
		EventType:   string(msg.Type),
		EscrowRef:   msg.EscrowRef,
		TxHash:      msg.SourceTxHash,
		BlockHeight: height,
		Sender:      msg.Sender,
		Recipient:   msg.Recipient,
		Token:       msg.Token,
		Amount:      msg.Amount,
		SecretHash:  msg.SecretHash,
		Secret:      msg.Secret,
		Timelock:    msg.Timelock,
	}
}

// PruneLedger evicts processed-message rows older than depth blocks.
// Run periodically by the scheduler.
func (w *Watcher) PruneLedger(ctx context.Context, depth uint64) error {
	pruned, err := w.ledger.PruneBelow(ctx, w.source.ChainID(), depth)
	if err != nil {
		return fmt.Errorf("failed to prune %s ledger: %w", w.source.ChainID(), err)
	}
	if pruned > 0 {
		log.Printf("🧹 Pruned %d processed messages for %s", pruned, w.source.ChainID())
		metrics.LedgerPrunedMessages.WithLabelValues(w.source.ChainID()).Add(float64(pruned))
	}
	return nil
}
