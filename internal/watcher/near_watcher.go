package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/clients"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/utils"
)

// NEARSource decodes escrow events from the NEAR escrow contract.
// NEAR has no log filter API, so each block is walked chunk by chunk and
// only transactions addressed to the escrow account are inspected.
type NEARSource struct {
	rpc           *clients.NEARRPCClient
	escrowAccount string
	chainID       string
	destChainID   string
}

// NewNEARSource builds a ChainSource over the NEAR RPC client
func NewNEARSource(rpc *clients.NEARRPCClient, escrowAccount, chainID, destChainID string) *NEARSource {
	return &NEARSource{
		rpc:           rpc,
		escrowAccount: escrowAccount,
		chainID:       chainID,
		destChainID:   destChainID,
	}
}

// ChainID implements ChainSource
func (s *NEARSource) ChainID() string {
	return s.chainID
}

// Head implements ChainSource
func (s *NEARSource) Head(ctx context.Context) (uint64, error) {
	block, err := s.rpc.GetLatestBlock(ctx)
	if err != nil {
		return 0, err
	}
	return block.Header.Height, nil
}

// ProcessBlock walks one block's chunks for escrow contract transactions.
// NEAR skips heights when no block is produced; those return (nil, nil).
func (s *NEARSource) ProcessBlock(ctx context.Context, height uint64) ([]*models.CrossChainMessage, error) {
	block, err := s.rpc.GetBlockByHeight(ctx, height)
	if err != nil {
		if clients.IsUnknownBlock(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get block %d: %w", height, err)
	}

	blockTime := int64(block.Header.TimestampNs / 1_000_000_000)

	var messages []*models.CrossChainMessage
	for _, chunkHeader := range block.Chunks {
		// chunks from earlier heights are included again in later blocks
		if chunkHeader.HeightIncluded != 0 && chunkHeader.HeightIncluded != height {
			continue
		}

		chunk, err := s.rpc.GetChunk(ctx, chunkHeader.ChunkHash)
		if err != nil {
			return nil, fmt.Errorf("failed to get chunk %s: %w", chunkHeader.ChunkHash, err)
		}

		for _, tx := range chunk.Transactions {
			if tx.ReceiverID != s.escrowAccount {
				continue
			}

			status, err := s.rpc.GetTransactionStatus(ctx, tx.Hash, tx.SignerID)
			if err != nil {
				return nil, fmt.Errorf("failed to get tx %s status: %w", tx.Hash, err)
			}
			if !status.Succeeded() {
				continue
			}

			msgs := s.decodeLogs(ctx, tx.Hash, tx.SignerID, status.Logs(), height, blockTime)
			messages = append(messages, msgs...)
		}
	}
	return messages, nil
}

// nearSwapEvent is the NEP-297 data payload shared by the escrow events
type nearSwapEvent struct {
	OrderID   string `json:"order_id"`
	Initiator string `json:"initiator"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	Hashlock  string `json:"hashlock"`
	Timelock  int64  `json:"timelock"`
	Secret    string `json:"secret"`
}

// decodeLogs maps contract logs to messages. One transaction produces at most
// one message per lifecycle type, matching the message-id derivation.
func (s *NEARSource) decodeLogs(ctx context.Context, txHash, signerID string, logs []string, height uint64, blockTime int64) []*models.CrossChainMessage {
	var messages []*models.CrossChainMessage
	seen := map[models.MessageType]bool{}

	emit := func(msgType models.MessageType, ev *nearSwapEvent) {
		if seen[msgType] {
			return
		}
		seen[msgType] = true
		messages = append(messages, &models.CrossChainMessage{
			MessageID:       models.DeriveMessageID(s.chainID, txHash, msgType),
			Type:            msgType,
			SourceChain:     s.chainID,
			DestChain:       s.destChainID,
			Sender:          ev.Initiator,
			Recipient:       ev.Recipient,
			Amount:          ev.Amount,
			Token:           "near",
			SecretHash:      ev.Hashlock,
			Secret:          ev.Secret,
			Timelock:        ev.Timelock,
			EscrowRef:       ev.OrderID,
			SourceTxHash:    txHash,
			ObservedAtBlock: height,
			BlockTimestamp:  blockTime,
		})
	}

	for _, line := range logs {
		if event, ok := utils.ParseNearEventJSON(line); ok {
			var data nearSwapEvent
			if err := json.Unmarshal(event.Data, &data); err != nil {
				// NEP-297 events carry data as a single-element array in some
				// contract versions
				var arr []nearSwapEvent
				if err := json.Unmarshal(event.Data, &arr); err != nil || len(arr) == 0 {
					log.Printf("⚠️ Undecodable %s event in tx %s: %v", event.Event, txHash, err)
					continue
				}
				data = arr[0]
			}

			switch event.Event {
			case "swap_order_created":
				if data.Initiator == "" {
					data.Initiator = signerID
				}
				emit(models.MessageTypeDeposit, &data)
			case "swap_order_completed":
				emit(models.MessageTypeWithdrawal, &data)
			case "swap_order_refunded":
				emit(models.MessageTypeRefund, &data)
			}
			continue
		}

		// plain-text fallback for older contract versions; the creation log
		// carries no hashlock, so the order is read back from contract state
		if orderID, amount, recipient, ok := utils.ParseNearCreationLog(line); ok {
			ev := &nearSwapEvent{
				OrderID:   orderID,
				Initiator: signerID,
				Recipient: recipient,
				Amount:    amount,
			}
			if order, err := s.fetchOrder(ctx, orderID); err != nil {
				log.Printf("⚠️ Failed to read back order %s from plain-text log: %v", orderID, err)
			} else {
				ev.Hashlock = order.Hashlock
				ev.Timelock = order.Timelock
				if order.Initiator != "" {
					ev.Initiator = order.Initiator
				}
			}
			emit(models.MessageTypeDeposit, ev)
		}
	}

	return messages
}

type nearOrderView struct {
	Initiator string `json:"initiator"`
	Hashlock  string `json:"hashlock"`
	Timelock  int64  `json:"timelock"`
}

func (s *NEARSource) fetchOrder(ctx context.Context, orderID string) (*nearOrderView, error) {
	result, err := s.rpc.CallFunction(ctx, s.escrowAccount, "get_order", map[string]string{"order_id": orderID})
	if err != nil {
		return nil, err
	}
	var order nearOrderView
	if err := json.Unmarshal(result.Result, &order); err != nil {
		return nil, fmt.Errorf("failed to decode order %s: %w", orderID, err)
	}
	return &order, nil
}
