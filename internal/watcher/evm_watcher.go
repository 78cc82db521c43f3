package watcher

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/utils"
)

// escrowEventsABI covers every lifecycle event the watcher decodes. Creation
// events come from the factory; withdraw and refund events from the escrow
// contracts themselves, so logs are matched by topic rather than address.
const escrowEventsABI = `[
	{
		"name": "SrcEscrowCreated",
		"inputs": [
			{"name": "escrow", "type": "address", "indexed": true},
			{"name": "secretHash", "type": "bytes32", "indexed": true},
			{"name": "initiator", "type": "address", "indexed": false},
			{"name": "recipient", "type": "address", "indexed": false},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "cancellationTimestamp", "type": "uint256", "indexed": false}
		],
		"anonymous": false,
		"type": "event"
	},
	{
		"name": "DstEscrowCreated",
		"inputs": [
			{"name": "escrow", "type": "address", "indexed": true},
			{"name": "secretHash", "type": "bytes32", "indexed": true},
			{"name": "recipient", "type": "address", "indexed": false},
			{"name": "amount", "type": "uint256", "indexed": false},
			{"name": "cancellationTimestamp", "type": "uint256", "indexed": false}
		],
		"anonymous": false,
		"type": "event"
	},
	{
		"name": "EscrowWithdrawn",
		"inputs": [
			{"name": "escrow", "type": "address", "indexed": true},
			{"name": "secret", "type": "bytes32", "indexed": false},
			{"name": "recipient", "type": "address", "indexed": false}
		],
		"anonymous": false,
		"type": "event"
	},
	{
		"name": "EscrowRefunded",
		"inputs": [
			{"name": "escrow", "type": "address", "indexed": true},
			{"name": "initiator", "type": "address", "indexed": false}
		],
		"anonymous": false,
		"type": "event"
	}
]`

// EVMSource decodes escrow events from one EVM chain
type EVMSource struct {
	client      *ethclient.Client
	chainID     string
	destChainID string
	factory     common.Address
	eventsABI   abi.ABI

	srcCreatedID common.Hash
	dstCreatedID common.Hash
	withdrawnID  common.Hash
	refundedID   common.Hash
}

// NewEVMSource builds a ChainSource over an already-dialed client. Creation
// events are only trusted from escrowFactory; any contract can emit a log with
// the same topic layout.
func NewEVMSource(client *ethclient.Client, chainID, destChainID, escrowFactory string) (*EVMSource, error) {
	eventsABI, err := abi.JSON(strings.NewReader(escrowEventsABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse events ABI: %w", err)
	}
	return &EVMSource{
		client:       client,
		chainID:      chainID,
		destChainID:  destChainID,
		factory:      common.HexToAddress(escrowFactory),
		eventsABI:    eventsABI,
		srcCreatedID: eventsABI.Events["SrcEscrowCreated"].ID,
		dstCreatedID: eventsABI.Events["DstEscrowCreated"].ID,
		withdrawnID:  eventsABI.Events["EscrowWithdrawn"].ID,
		refundedID:   eventsABI.Events["EscrowRefunded"].ID,
	}, nil
}

// ChainID implements ChainSource
func (s *EVMSource) ChainID() string {
	return s.chainID
}

// Head implements ChainSource
func (s *EVMSource) Head(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

// ProcessBlock decodes all escrow lifecycle logs in one block
func (s *EVMSource) ProcessBlock(ctx context.Context, height uint64) ([]*models.CrossChainMessage, error) {
	header, err := s.client.HeaderByNumber(ctx, new(big.Int).SetUint64(height))
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			// pruned or not yet available; skip the height
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get header %d: %w", height, err)
	}

	blockNum := new(big.Int).SetUint64(height)
	logs, err := s.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: blockNum,
		ToBlock:   blockNum,
		Topics: [][]common.Hash{{
			s.srcCreatedID, s.dstCreatedID, s.withdrawnID, s.refundedID,
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs at %d: %w", height, err)
	}

	var messages []*models.CrossChainMessage
	for i := range logs {
		msg, err := s.decodeLog(&logs[i], height, int64(header.Time))
		if err != nil {
			return nil, err
		}
		if msg != nil {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}

func (s *EVMSource) decodeLog(lg *types.Log, height uint64, blockTime int64) (*models.CrossChainMessage, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}

	switch lg.Topics[0] {
	case s.srcCreatedID, s.dstCreatedID:
		return s.decodeCreated(lg, height, blockTime)
	case s.withdrawnID:
		return s.decodeWithdrawn(lg, height, blockTime)
	case s.refundedID:
		return s.decodeRefunded(lg, height, blockTime)
	}
	return nil, nil
}

func (s *EVMSource) decodeCreated(lg *types.Log, height uint64, blockTime int64) (*models.CrossChainMessage, error) {
	if len(lg.Topics) < 3 {
		return nil, nil
	}
	if lg.Address != s.factory {
		// creation-shaped log from an unrelated contract
		return nil, nil
	}
	escrowAddr := common.BytesToAddress(lg.Topics[1].Bytes())
	secretHash := hex.EncodeToString(lg.Topics[2].Bytes())

	eventName := "SrcEscrowCreated"
	if lg.Topics[0] == s.dstCreatedID {
		eventName = "DstEscrowCreated"
	}

	values, err := s.eventsABI.Unpack(eventName, lg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s at tx %s: %w", eventName, lg.TxHash.Hex(), err)
	}

	msg := &models.CrossChainMessage{
		MessageID:       models.DeriveMessageID(s.chainID, lg.TxHash.Hex(), models.MessageTypeDeposit),
		Type:            models.MessageTypeDeposit,
		SourceChain:     s.chainID,
		DestChain:       s.destChainID,
		Token:           "native",
		SecretHash:      secretHash,
		EscrowRef:       utils.NormalizeEvmAddress(escrowAddr.Hex()),
		SourceTxHash:    strings.ToLower(lg.TxHash.Hex()),
		ObservedAtBlock: height,
		BlockTimestamp:  blockTime,
	}

	if eventName == "SrcEscrowCreated" {
		initiator, ok1 := values[0].(common.Address)
		recipient, ok2 := values[1].(common.Address)
		amount, ok3 := values[2].(*big.Int)
		timelock, ok4 := values[3].(*big.Int)
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, fmt.Errorf("unexpected SrcEscrowCreated layout at tx %s", lg.TxHash.Hex())
		}
		msg.Sender = utils.NormalizeEvmAddress(initiator.Hex())
		msg.Recipient = utils.NormalizeEvmAddress(recipient.Hex())
		msg.Amount = amount.String()
		msg.Timelock = timelock.Int64()
	} else {
		recipient, ok1 := values[0].(common.Address)
		amount, ok2 := values[1].(*big.Int)
		timelock, ok3 := values[2].(*big.Int)
		if !ok1 || !ok2 || !ok3 {
			return nil, fmt.Errorf("unexpected DstEscrowCreated layout at tx %s", lg.TxHash.Hex())
		}
		msg.Recipient = utils.NormalizeEvmAddress(recipient.Hex())
		msg.Amount = amount.String()
		msg.Timelock = timelock.Int64()
	}

	return msg, nil
}

func (s *EVMSource) decodeWithdrawn(lg *types.Log, height uint64, blockTime int64) (*models.CrossChainMessage, error) {
	if len(lg.Topics) < 2 {
		return nil, nil
	}
	values, err := s.eventsABI.Unpack("EscrowWithdrawn", lg.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EscrowWithdrawn at tx %s: %w", lg.TxHash.Hex(), err)
	}
	secret, ok1 := values[0].([32]byte)
	recipient, ok2 := values[1].(common.Address)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("unexpected EscrowWithdrawn layout at tx %s", lg.TxHash.Hex())
	}

	return &models.CrossChainMessage{
		MessageID:       models.DeriveMessageID(s.chainID, lg.TxHash.Hex(), models.MessageTypeWithdrawal),
		Type:            models.MessageTypeWithdrawal,
		SourceChain:     s.chainID,
		DestChain:       s.destChainID,
		Recipient:       utils.NormalizeEvmAddress(recipient.Hex()),
		Secret:          hex.EncodeToString(secret[:]),
		EscrowRef:       utils.NormalizeEvmAddress(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
		SourceTxHash:    strings.ToLower(lg.TxHash.Hex()),
		ObservedAtBlock: height,
		BlockTimestamp:  blockTime,
	}, nil
}

func (s *EVMSource) decodeRefunded(lg *types.Log, height uint64, blockTime int64) (*models.CrossChainMessage, error) {
	if len(lg.Topics) < 2 {
		return nil, nil
	}
	return &models.CrossChainMessage{
		MessageID:       models.DeriveMessageID(s.chainID, lg.TxHash.Hex(), models.MessageTypeRefund),
		Type:            models.MessageTypeRefund,
		SourceChain:     s.chainID,
		DestChain:       s.destChainID,
		EscrowRef:       utils.NormalizeEvmAddress(common.BytesToAddress(lg.Topics[1].Bytes()).Hex()),
		SourceTxHash:    strings.ToLower(lg.TxHash.Hex()),
		ObservedAtBlock: height,
		BlockTimestamp:  blockTime,
	}, nil
}
