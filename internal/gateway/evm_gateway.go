package gateway

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/config"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/metrics"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/utils"
)

// escrowFactoryABI covers the factory entrypoint and the creation event
const escrowFactoryABI = `[
	{
		"name": "createDstEscrow",
		"inputs": [
			{"name": "secretHash", "type": "bytes32"},
			{"name": "recipient", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "cancellationTimestamp", "type": "uint256"}
		],
		"outputs": [{"name": "escrow", "type": "address"}],
		"stateMutability": "payable",
		"type": "function"
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
	}
]`

// escrowABI covers the per-escrow read and settlement functions
const escrowABI = `[
	{
		"name": "getDetails",
		"inputs": [],
		"outputs": [
			{"name": "secretHash", "type": "bytes32"},
			{"name": "initiator", "type": "address"},
			{"name": "recipient", "type": "address"},
			{"name": "token", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "cancellationTimestamp", "type": "uint256"},
			{"name": "status", "type": "uint8"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"name": "withdraw",
		"inputs": [{"name": "secret", "type": "bytes32"}],
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"name": "refund",
		"inputs": [],
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// on-chain escrow status codes, matching the contract enum
const (
	evmStatusActive    = 0
	evmStatusWithdrawn = 1
	evmStatusRefunded  = 2
)

// EVMGateway performs escrow operations against an EVM chain
type EVMGateway struct {
	client     *ethclient.Client
	cfg        *config.EVMChainConfig
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	from       common.Address

	factoryABI abi.ABI
	escrowABI  abi.ABI

	searchWindow     uint64
	searchCandidates int
}

// NewEVMGateway dials the first healthy RPC endpoint and prepares the signer
func NewEVMGateway(cfg *config.EVMChainConfig, searchCandidates int) (*EVMGateway, error) {
	var client *ethclient.Client
	var err error
	for i, endpoint := range cfg.RPCEndpoints {
		client, err = ethclient.Dial(endpoint)
		if err != nil {
			log.Printf("❌ RPC endpoint %d/%d failed: %v", i+1, len(cfg.RPCEndpoints), err)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, err = client.NetworkID(ctx)
		cancel()
		if err == nil {
			break
		}
		client.Close()
		client = nil
	}
	if client == nil {
		return nil, fmt.Errorf("failed to connect to any EVM RPC endpoint: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(utils.StripHexPrefix(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("invalid EVM private key: %w", err)
	}

	factoryABIParsed, err := abi.JSON(strings.NewReader(escrowFactoryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse factory ABI: %w", err)
	}
	escrowABIParsed, err := abi.JSON(strings.NewReader(escrowABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse escrow ABI: %w", err)
	}

	gw := &EVMGateway{
		client:           client,
		cfg:              cfg,
		chainID:          big.NewInt(cfg.ChainID),
		privateKey:       privateKey,
		from:             crypto.PubkeyToAddress(privateKey.PublicKey),
		factoryABI:       factoryABIParsed,
		escrowABI:        escrowABIParsed,
		searchWindow:     cfg.EscrowSearchWin,
		searchCandidates: searchCandidates,
	}

	log.Printf("✅ EVM gateway ready: chainID=%d signer=%s factory=%s",
		cfg.ChainID, gw.from.Hex(), cfg.EscrowFactory)
	return gw, nil
}

// ChainID implements EscrowGateway
func (g *EVMGateway) ChainID() string {
	return fmt.Sprintf("evm:%d", g.cfg.ChainID)
}

// Client exposes the underlying RPC client for the chain watcher
func (g *EVMGateway) Client() *ethclient.Client {
	return g.client
}

// GetEscrow reads escrow details via getDetails
func (g *EVMGateway) GetEscrow(ctx context.Context, escrowRef string) (*models.Escrow, error) {
	if !utils.IsEvmAddress(escrowRef) {
		return nil, fmt.Errorf("invalid escrow address %q", escrowRef)
	}
	addr := common.HexToAddress(escrowRef)

	callData, err := g.escrowABI.Pack("getDetails")
	if err != nil {
		return nil, fmt.Errorf("failed to pack getDetails: %w", err)
	}

	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: callData}, nil)
	if err != nil {
		return nil, fmt.Errorf("getDetails call failed for %s: %w", escrowRef, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: no contract at %s", ErrEscrowNotFound, escrowRef)
	}

	var details struct {
		SecretHash            [32]byte
		Initiator             common.Address
		Recipient             common.Address
		Token                 common.Address
		Amount                *big.Int
		CancellationTimestamp *big.Int
		Status                uint8
	}
	if err := g.escrowABI.UnpackIntoInterface(&details, "getDetails", raw); err != nil {
		return nil, fmt.Errorf("failed to decode getDetails result: %w", err)
	}

	return &models.Escrow{
		EscrowID:   utils.NormalizeEvmAddress(escrowRef),
		ChainID:    g.ChainID(),
		Kind:       models.ChainKindEVM,
		Status:     evmStatusToModel(details.Status),
		Token:      utils.NormalizeEvmAddress(details.Token.Hex()),
		Amount:     details.Amount.String(),
		Timelock:   details.CancellationTimestamp.Int64(),
		SecretHash: hex.EncodeToString(details.SecretHash[:]),
		Initiator:  utils.NormalizeEvmAddress(details.Initiator.Hex()),
		Recipient:  utils.NormalizeEvmAddress(details.Recipient.Hex()),
	}, nil
}

func evmStatusToModel(status uint8) models.EscrowStatus {
	switch status {
	case evmStatusWithdrawn:
		return models.EscrowStatusWithdrawn
	case evmStatusRefunded:
		return models.EscrowStatusRefunded
	default:
		return models.EscrowStatusActive
	}
}

// FindEscrowBySecretHash walks factory creation logs backwards from the chain
// head, one search window chunk at a time, until a matching hashlock is found
// or the window and candidate budget are exhausted.
func (g *EVMGateway) FindEscrowBySecretHash(ctx context.Context, secretHash string) (*models.Escrow, error) {
	hashBytes, err := hex.DecodeString(utils.StripHexPrefix(secretHash))
	if err != nil || len(hashBytes) != 32 {
		return nil, fmt.Errorf("invalid secret hash %q", secretHash)
	}
	var topic common.Hash
	copy(topic[:], hashBytes)

	createdTopic := g.factoryABI.Events["DstEscrowCreated"].ID
	escrow, err := g.scanFactoryEvents(ctx,
		[][]common.Hash{{createdTopic}, nil, {topic}},
		func(e *models.Escrow) bool {
			return utils.SameAddress("0x"+e.SecretHash, "0x"+hex.EncodeToString(hashBytes))
		})
	if err != nil {
		return nil, err
	}
	if escrow == nil {
		return nil, fmt.Errorf("%w: no escrow for hashlock %s within %d blocks", ErrEscrowNotFound, secretHash, g.searchWindow)
	}
	return escrow, nil
}

// FindEscrowByInitiatorAndAmount walks the same factory creation logs looking
// for the newest escrow funded by initiator whose amount lands within the
// absolute tolerance.
func (g *EVMGateway) FindEscrowByInitiatorAndAmount(ctx context.Context, initiator string, amount, tolerance *big.Int) (*models.Escrow, error) {
	if !utils.IsEvmAddress(initiator) {
		return nil, fmt.Errorf("invalid initiator address %q", initiator)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("search amount must be positive")
	}
	if tolerance == nil {
		tolerance = new(big.Int)
	}

	createdTopic := g.factoryABI.Events["DstEscrowCreated"].ID
	escrow, err := g.scanFactoryEvents(ctx,
		[][]common.Hash{{createdTopic}},
		func(e *models.Escrow) bool {
			if !utils.SameAddress(e.Initiator, initiator) {
				return false
			}
			got, ok := new(big.Int).SetString(e.Amount, 10)
			return ok && amountWithinTolerance(got, amount, tolerance)
		})
	if err != nil {
		return nil, err
	}
	if escrow == nil {
		return nil, fmt.Errorf("%w: no escrow for initiator %s within %d blocks", ErrEscrowNotFound, initiator, g.searchWindow)
	}
	return escrow, nil
}

// scanFactoryEvents walks creation logs backwards from the chain head in
// chunks, reading each candidate's live details until match accepts one or the
// window and candidate budget are exhausted. Returns nil when nothing matched.
func (g *EVMGateway) scanFactoryEvents(ctx context.Context, topics [][]common.Hash, match func(*models.Escrow) bool) (*models.Escrow, error) {
	head, err := g.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain head: %w", err)
	}

	factoryAddr := common.HexToAddress(g.cfg.EscrowFactory)

	var floor uint64
	if head > g.searchWindow {
		floor = head - g.searchWindow
	}

	// chunked backward scan, bounded by the candidate budget
	const chunkSize = 2_000
	candidates := 0
	to := head
	for to > floor && candidates < g.searchCandidates {
		from := floor
		if to > chunkSize && to-chunkSize > floor {
			from = to - chunkSize
		}

		logs, err := g.client.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{factoryAddr},
			Topics:    topics,
		})
		if err != nil {
			return nil, fmt.Errorf("log search [%d, %d] failed: %w", from, to, err)
		}

		// newest first within the chunk
		for i := len(logs) - 1; i >= 0; i-- {
			candidates++
			if len(logs[i].Topics) < 2 {
				continue
			}
			escrowAddr := common.BytesToAddress(logs[i].Topics[1].Bytes())
			escrow, err := g.GetEscrow(ctx, escrowAddr.Hex())
			if err != nil {
				log.Printf("⚠️ Candidate escrow %s unreadable: %v", escrowAddr.Hex(), err)
				continue
			}
			if match(escrow) {
				return escrow, nil
			}
			if candidates >= g.searchCandidates {
				break
			}
		}

		if from == floor {
			break
		}
		to = from - 1
	}

	return nil, nil
}

// CreateDestEscrow locks funds on the EVM side as the destination escrow
func (g *EVMGateway) CreateDestEscrow(ctx context.Context, params *CreateEscrowParams) (*TxResult, string, error) {
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, "", fmt.Errorf("escrow amount must be positive")
	}
	if params.SrcCancellationAt > 0 && params.CancellationAt > params.SrcCancellationAt {
		return nil, "", fmt.Errorf("%w: dest %d > src %d", ErrTimelockMismatch, params.CancellationAt, params.SrcCancellationAt)
	}

	hashBytes, err := hex.DecodeString(utils.StripHexPrefix(params.SecretHash))
	if err != nil || len(hashBytes) != 32 {
		return nil, "", fmt.Errorf("invalid secret hash %q", params.SecretHash)
	}
	var secretHash [32]byte
	copy(secretHash[:], hashBytes)

	if !utils.IsEvmAddress(params.Recipient) {
		return nil, "", fmt.Errorf("invalid recipient address %q", params.Recipient)
	}

	safetyDeposit := params.SafetyDeposit
	if safetyDeposit == nil {
		safetyDeposit = new(big.Int)
		if g.cfg.SafetyDeposit != "" {
			if _, ok := safetyDeposit.SetString(g.cfg.SafetyDeposit, 10); !ok {
				return nil, "", fmt.Errorf("invalid configured safety deposit %q", g.cfg.SafetyDeposit)
			}
		}
	}
	value := new(big.Int).Add(params.Amount, safetyDeposit)

	callData, err := g.factoryABI.Pack("createDstEscrow",
		secretHash,
		common.HexToAddress(params.Recipient),
		params.Amount,
		big.NewInt(params.CancellationAt),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to pack createDstEscrow: %w", err)
	}

	factoryAddr := common.HexToAddress(g.cfg.EscrowFactory)
	receipt, err := g.sendTransaction(ctx, "createDstEscrow", &factoryAddr, value, callData)
	if err != nil {
		return nil, "", err
	}

	// resolve the new escrow address from the creation event
	createdTopic := g.factoryABI.Events["DstEscrowCreated"].ID
	var escrowRef string
	for _, lg := range receipt.Logs {
		if len(lg.Topics) >= 2 && lg.Topics[0] == createdTopic {
			escrowRef = utils.NormalizeEvmAddress(common.BytesToAddress(lg.Topics[1].Bytes()).Hex())
			break
		}
	}
	if escrowRef == "" {
		return nil, "", fmt.Errorf("createDstEscrow succeeded but no creation event in receipt %s", receipt.TxHash.Hex())
	}

	log.Printf("🔒 Destination escrow created: %s tx=%s value=%s", escrowRef, receipt.TxHash.Hex(), value)
	return &TxResult{TxHash: receipt.TxHash.Hex(), BlockHeight: receipt.BlockNumber.Uint64()}, escrowRef, nil
}

// Withdraw reveals the secret. Already-withdrawn escrows are a no-op success.
func (g *EVMGateway) Withdraw(ctx context.Context, escrowRef, secret string) (*TxResult, error) {
	escrow, err := g.GetEscrow(ctx, escrowRef)
	if err != nil {
		return nil, err
	}
	switch escrow.Status {
	case models.EscrowStatusWithdrawn:
		log.Printf("⏭️ Escrow %s already withdrawn, skipping", escrowRef)
		return &TxResult{}, nil
	case models.EscrowStatusRefunded:
		return nil, fmt.Errorf("%w: escrow %s already refunded", ErrInvalidState, escrowRef)
	}

	secretBytes, err := hex.DecodeString(utils.StripHexPrefix(secret))
	if err != nil || len(secretBytes) != 32 {
		return nil, fmt.Errorf("invalid secret %q", secret)
	}
	var secretArg [32]byte
	copy(secretArg[:], secretBytes)

	callData, err := g.escrowABI.Pack("withdraw", secretArg)
	if err != nil {
		return nil, fmt.Errorf("failed to pack withdraw: %w", err)
	}

	addr := common.HexToAddress(escrowRef)
	receipt, err := g.sendTransaction(ctx, "withdraw", &addr, big.NewInt(0), callData)
	if err != nil {
		return nil, err
	}

	log.Printf("💰 Withdrew escrow %s tx=%s", escrowRef, receipt.TxHash.Hex())
	return &TxResult{TxHash: receipt.TxHash.Hex(), BlockHeight: receipt.BlockNumber.Uint64()}, nil
}

// Refund returns escrowed funds after timelock expiry
func (g *EVMGateway) Refund(ctx context.Context, escrowRef string) (*TxResult, error) {
	escrow, err := g.GetEscrow(ctx, escrowRef)
	if err != nil {
		return nil, err
	}
	switch escrow.Status {
	case models.EscrowStatusRefunded:
		log.Printf("⏭️ Escrow %s already refunded, skipping", escrowRef)
		return &TxResult{}, nil
	case models.EscrowStatusWithdrawn:
		return nil, fmt.Errorf("%w: escrow %s already withdrawn", ErrInvalidState, escrowRef)
	}
	if time.Now().Unix() < escrow.Timelock {
		return nil, fmt.Errorf("%w: now < %d", ErrTimelockNotExpired, escrow.Timelock)
	}

	callData, err := g.escrowABI.Pack("refund")
	if err != nil {
		return nil, fmt.Errorf("failed to pack refund: %w", err)
	}

	addr := common.HexToAddress(escrowRef)
	receipt, err := g.sendTransaction(ctx, "refund", &addr, big.NewInt(0), callData)
	if err != nil {
		return nil, err
	}

	log.Printf("↩️ Refunded escrow %s tx=%s", escrowRef, receipt.TxHash.Hex())
	return &TxResult{TxHash: receipt.TxHash.Hex(), BlockHeight: receipt.BlockNumber.Uint64()}, nil
}

// sendTransaction builds, signs and broadcasts a legacy transaction, then
// waits for its receipt.
func (g *EVMGateway) sendTransaction(ctx context.Context, operation string, to *common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	timer := time.Now()
	defer func() {
		metrics.ContractCallDuration.WithLabelValues(g.ChainID(), operation).Observe(time.Since(timer).Seconds())
	}()

	nonce, err := g.client.PendingNonceAt(ctx, g.from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := g.resolveGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	gasLimit := g.cfg.GasLimit
	if gasLimit == 0 {
		gasLimit = 500_000
	}

	// value must cover exactly what the contract expects; an underfunded call
	// reverts with the contract's value check, surface it before broadcast
	if value.Sign() > 0 {
		balance, err := g.client.BalanceAt(ctx, g.from, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to query signer balance: %w", err)
		}
		cost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
		cost.Add(cost, value)
		if balance.Cmp(cost) < 0 {
			return nil, fmt.Errorf("%w: balance %s < required %s", ErrValueMismatch, balance, cost)
		}
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signer := types.NewEIP155Signer(g.chainID)
	signedTx, err := types.SignTx(tx, signer, g.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s transaction: %w", operation, err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("failed to broadcast %s transaction: %w", operation, err)
	}
	log.Printf("📤 Broadcast %s tx=%s nonce=%d", operation, signedTx.Hash().Hex(), nonce)

	return g.waitForReceipt(ctx, signedTx.Hash())
}

func (g *EVMGateway) resolveGasPrice(ctx context.Context) (*big.Int, error) {
	if g.cfg.GasPrice != "" && g.cfg.GasPrice != "auto" {
		gasPrice, ok := new(big.Int).SetString(g.cfg.GasPrice, 10)
		if !ok {
			return nil, fmt.Errorf("invalid configured gas price %q", g.cfg.GasPrice)
		}
		return gasPrice, nil
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	return gasPrice, nil
}

func (g *EVMGateway) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := g.client.TransactionReceipt(ctx, txHash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return nil, fmt.Errorf("transaction %s reverted", txHash.Hex())
			}
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}
