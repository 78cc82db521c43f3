package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/clients"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/config"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/metrics"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/utils"
)

const (
	// 100 Tgas covers every escrow method comfortably
	nearFunctionCallGas = 100_000_000_000_000

	// one yoctoNEAR attached to settlement calls per the access-key pattern
	oneYocto = 1
)

// nearOrder mirrors the escrow contract's order view
type nearOrder struct {
	ID        string `json:"id"`
	Initiator string `json:"initiator"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"` // yoctoNEAR, U128 as decimal string
	Hashlock  string `json:"hashlock"`
	Timelock  uint64 `json:"timelock"` // unix seconds
	Status    string `json:"status"`   // Active | Completed | Refunded
}

// NEARGateway performs escrow operations against the NEAR escrow contract
type NEARGateway struct {
	rpc    *clients.NEARRPCClient
	signer *clients.NEARSigner
	cfg    *config.NEARChainConfig
}

// NewNEARGateway prepares the RPC client and the relayer account signer
func NewNEARGateway(cfg *config.NEARChainConfig) (*NEARGateway, error) {
	signer, err := clients.NewNEARSigner(cfg.RelayerAccount, cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("failed to build NEAR signer: %w", err)
	}

	gw := &NEARGateway{
		rpc:    clients.NewNEARRPCClient(cfg.RPCEndpoint),
		signer: signer,
		cfg:    cfg,
	}

	log.Printf("✅ NEAR gateway ready: network=%s escrow=%s relayer=%s",
		cfg.NetworkID, cfg.EscrowAccount, cfg.RelayerAccount)
	return gw, nil
}

// ChainID implements EscrowGateway
func (g *NEARGateway) ChainID() string {
	return "near:" + g.cfg.NetworkID
}

// RPC exposes the underlying client for the chain watcher
func (g *NEARGateway) RPC() *clients.NEARRPCClient {
	return g.rpc
}

// GetEscrow reads order state via the get_order view method
func (g *NEARGateway) GetEscrow(ctx context.Context, escrowRef string) (*models.Escrow, error) {
	result, err := g.rpc.CallFunction(ctx, g.cfg.EscrowAccount, "get_order", map[string]string{"order_id": escrowRef})
	if err != nil {
		return nil, fmt.Errorf("get_order call failed for %s: %w", escrowRef, err)
	}
	if len(result.Result) == 0 || string(result.Result) == "null" {
		return nil, fmt.Errorf("%w: order %s", ErrEscrowNotFound, escrowRef)
	}

	var order nearOrder
	if err := json.Unmarshal(result.Result, &order); err != nil {
		return nil, fmt.Errorf("failed to decode order %s: %w", escrowRef, err)
	}
	return g.orderToEscrow(&order), nil
}

func (g *NEARGateway) orderToEscrow(order *nearOrder) *models.Escrow {
	status := models.EscrowStatusActive
	switch order.Status {
	case "Completed":
		status = models.EscrowStatusWithdrawn
	case "Refunded":
		status = models.EscrowStatusRefunded
	}
	return &models.Escrow{
		EscrowID:   order.ID,
		ChainID:    g.ChainID(),
		Kind:       models.ChainKindNEAR,
		Status:     status,
		Token:      "near",
		Amount:     order.Amount,
		Timelock:   int64(order.Timelock),
		SecretHash: order.Hashlock,
		Initiator:  order.Initiator,
		Recipient:  order.Recipient,
	}
}

// FindEscrowBySecretHash asks the contract for orders matching the hashlock.
// The contract indexes orders by hashlock, so this is a single bounded view
// call rather than a block scan.
func (g *NEARGateway) FindEscrowBySecretHash(ctx context.Context, secretHash string) (*models.Escrow, error) {
	result, err := g.rpc.CallFunction(ctx, g.cfg.EscrowAccount, "get_orders_by_hashlock", map[string]string{"hashlock": secretHash})
	if err != nil {
		return nil, fmt.Errorf("get_orders_by_hashlock call failed: %w", err)
	}

	var orders []nearOrder
	if err := json.Unmarshal(result.Result, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode hashlock lookup: %w", err)
	}
	if len(orders) == 0 {
		return nil, fmt.Errorf("%w: no order for hashlock %s", ErrEscrowNotFound, secretHash)
	}

	// newest order wins when the hashlock was reused
	escrow := g.orderToEscrow(&orders[len(orders)-1])
	return escrow, nil
}

// FindEscrowByInitiatorAndAmount asks the contract for the initiator's orders
// and picks the newest whose amount lands within the absolute tolerance.
func (g *NEARGateway) FindEscrowByInitiatorAndAmount(ctx context.Context, initiator string, amount, tolerance *big.Int) (*models.Escrow, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("search amount must be positive")
	}
	if tolerance == nil {
		tolerance = new(big.Int)
	}

	result, err := g.rpc.CallFunction(ctx, g.cfg.EscrowAccount, "get_orders_by_maker", map[string]string{"maker": initiator})
	if err != nil {
		return nil, fmt.Errorf("get_orders_by_maker call failed: %w", err)
	}

	var orders []nearOrder
	if err := json.Unmarshal(result.Result, &orders); err != nil {
		return nil, fmt.Errorf("failed to decode maker lookup: %w", err)
	}

	// newest first
	for i := len(orders) - 1; i >= 0; i-- {
		if orders[i].Initiator != initiator {
			continue
		}
		got, ok := new(big.Int).SetString(orders[i].Amount, 10)
		if !ok {
			continue
		}
		if amountWithinTolerance(got, amount, tolerance) {
			return g.orderToEscrow(&orders[i]), nil
		}
	}
	return nil, fmt.Errorf("%w: no order for initiator %s within tolerance", ErrEscrowNotFound, initiator)
}

// CreateDestEscrow locks NEAR in the escrow contract as the destination side
func (g *NEARGateway) CreateDestEscrow(ctx context.Context, params *CreateEscrowParams) (*TxResult, string, error) {
	if params.Amount == nil || params.Amount.Sign() <= 0 {
		return nil, "", fmt.Errorf("escrow amount must be positive")
	}
	if params.SrcCancellationAt > 0 && params.CancellationAt > params.SrcCancellationAt {
		return nil, "", fmt.Errorf("%w: dest %d > src %d", ErrTimelockMismatch, params.CancellationAt, params.SrcCancellationAt)
	}

	timelockSeconds := params.CancellationAt - time.Now().Unix()
	if timelockSeconds <= 0 {
		return nil, "", fmt.Errorf("%w: cancellation %d already in the past", ErrTimelockMismatch, params.CancellationAt)
	}

	args, err := json.Marshal(map[string]interface{}{
		"recipient":        params.Recipient,
		"hashlock":         params.SecretHash,
		"timelock_seconds": timelockSeconds,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal create_swap_order args: %w", err)
	}

	result, err := g.callChange(ctx, "create_swap_order", args, params.Amount)
	if err != nil {
		return nil, "", err
	}

	// the contract logs the new order id; parse it from the receipt logs
	orderID := parseCreatedOrderID(result)
	if orderID == "" {
		return nil, "", fmt.Errorf("create_swap_order succeeded but no order id in logs, tx=%s", result.Transaction.Hash)
	}

	log.Printf("🔒 Destination escrow created: %s tx=%s amount=%s yoctoNEAR", orderID, result.Transaction.Hash, params.Amount)
	return &TxResult{TxHash: result.Transaction.Hash}, orderID, nil
}

// Withdraw reveals the secret via complete_swap_order.
// Already-completed orders are a no-op success.
func (g *NEARGateway) Withdraw(ctx context.Context, escrowRef, secret string) (*TxResult, error) {
	escrow, err := g.GetEscrow(ctx, escrowRef)
	if err != nil {
		return nil, err
	}
	switch escrow.Status {
	case models.EscrowStatusWithdrawn:
		log.Printf("⏭️ Order %s already completed, skipping", escrowRef)
		return &TxResult{}, nil
	case models.EscrowStatusRefunded:
		return nil, fmt.Errorf("%w: order %s already refunded", ErrInvalidState, escrowRef)
	}

	args, err := json.Marshal(map[string]string{
		"order_id": escrowRef,
		"secret":   secret,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal complete_swap_order args: %w", err)
	}

	result, err := g.callChange(ctx, "complete_swap_order", args, big.NewInt(oneYocto))
	if err != nil {
		return nil, err
	}

	log.Printf("💰 Completed order %s tx=%s", escrowRef, result.Transaction.Hash)
	return &TxResult{TxHash: result.Transaction.Hash}, nil
}

// Refund returns funds to the initiator after timelock expiry
func (g *NEARGateway) Refund(ctx context.Context, escrowRef string) (*TxResult, error) {
	escrow, err := g.GetEscrow(ctx, escrowRef)
	if err != nil {
		return nil, err
	}
	switch escrow.Status {
	case models.EscrowStatusRefunded:
		log.Printf("⏭️ Order %s already refunded, skipping", escrowRef)
		return &TxResult{}, nil
	case models.EscrowStatusWithdrawn:
		return nil, fmt.Errorf("%w: order %s already completed", ErrInvalidState, escrowRef)
	}
	if time.Now().Unix() < escrow.Timelock {
		return nil, fmt.Errorf("%w: now < %d", ErrTimelockNotExpired, escrow.Timelock)
	}

	args, err := json.Marshal(map[string]string{"order_id": escrowRef})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal refund_swap_order args: %w", err)
	}

	result, err := g.callChange(ctx, "refund_swap_order", args, big.NewInt(oneYocto))
	if err != nil {
		return nil, err
	}

	log.Printf("↩️ Refunded order %s tx=%s", escrowRef, result.Transaction.Hash)
	return &TxResult{TxHash: result.Transaction.Hash}, nil
}

// callChange signs and broadcasts one function call transaction and waits for
// its execution outcome.
func (g *NEARGateway) callChange(ctx context.Context, method string, args []byte, deposit *big.Int) (*clients.BroadcastResult, error) {
	timer := time.Now()
	defer func() {
		metrics.ContractCallDuration.WithLabelValues(g.ChainID(), method).Observe(time.Since(timer).Seconds())
	}()

	nonce, blockHash, err := g.rpc.GetAccessKeyNonce(ctx, g.signer.AccountID, g.signer.PublicKeyString())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch access key nonce: %w", err)
	}

	signedTx, err := g.signer.SignTransaction(g.cfg.EscrowAccount, nonce+1, blockHash, &clients.FunctionCallAction{
		MethodName: method,
		Args:       args,
		Gas:        nearFunctionCallGas,
		Deposit:    deposit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s transaction: %w", method, err)
	}

	result, err := g.rpc.BroadcastTxCommit(ctx, signedTx)
	if err != nil {
		return nil, fmt.Errorf("failed to broadcast %s: %w", method, err)
	}
	if !result.Succeeded() {
		return nil, fmt.Errorf("%s failed on chain: %s", method, result.FailureMessage())
	}
	return result, nil
}

// parseCreatedOrderID extracts the order id from contract receipt logs.
// Newer contract versions emit a NEP-297 event, older ones a plain-text line.
func parseCreatedOrderID(result *clients.BroadcastResult) string {
	for _, line := range result.Logs() {
		if event, ok := utils.ParseNearEventJSON(line); ok && event.Event == "swap_order_created" {
			var data struct {
				OrderID string `json:"order_id"`
			}
			if err := json.Unmarshal(event.Data, &data); err == nil && data.OrderID != "" {
				return data.OrderID
			}
			continue
		}
		if id, _, _, ok := utils.ParseNearCreationLog(line); ok {
			return id
		}
	}
	return ""
}
