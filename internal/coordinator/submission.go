package coordinator

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/utils"
)

// OrderRequest is a swap order submitted through the API rather than
// discovered on chain. Submitted orders have no source escrow yet; deposits
// matching their hashlock fill them, partially or in full.
type OrderRequest struct {
	FromChain  string `json:"from_chain"`
	ToChain    string `json:"to_chain"`
	Amount     string `json:"amount"`
	SecretHash string `json:"secret_hash"`
	Initiator  string `json:"initiator"`
	Recipient  string `json:"recipient"`
	Timelock   int64  `json:"timelock"`

	// meta-order fields, only used by the meta submission path
	Signature string `json:"signature,omitempty"`
	Nonce     uint64 `json:"nonce,omitempty"`
}

// OrderSubmission accepts externally submitted orders
type OrderSubmission interface {
	Submit(ctx context.Context, req *OrderRequest) (*models.SwapOrder, error)
}

// ValidateOrderRequest enforces the submission rules shared by all
// submission paths.
func (c *Coordinator) ValidateOrderRequest(req *OrderRequest) error {
	if _, ok := c.gateways[req.FromChain]; !ok {
		return fmt.Errorf("unknown source chain %q", req.FromChain)
	}
	if _, ok := c.gateways[req.ToChain]; !ok {
		return fmt.Errorf("unknown destination chain %q", req.ToChain)
	}
	if req.FromChain == req.ToChain {
		return fmt.Errorf("source and destination chain must differ")
	}

	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("amount must be a positive integer, got %q", req.Amount)
	}

	if err := models.ValidateSecretHash(req.SecretHash); err != nil {
		return err
	}

	if err := validateChainAddress(req.ToChain, req.Recipient); err != nil {
		return fmt.Errorf("invalid recipient: %w", err)
	}
	if req.Initiator != "" {
		if err := validateChainAddress(req.FromChain, req.Initiator); err != nil {
			return fmt.Errorf("invalid initiator: %w", err)
		}
	}

	if req.Timelock > 0 && req.Timelock <= time.Now().Unix() {
		return fmt.Errorf("timelock %d is already in the past", req.Timelock)
	}
	return nil
}

func validateChainAddress(chainID, address string) error {
	switch {
	case strings.HasPrefix(chainID, "evm:"):
		if !utils.IsEvmAddress(address) {
			return fmt.Errorf("%q is not an EVM address", address)
		}
	case strings.HasPrefix(chainID, "near:"):
		if !models.IsValidNearAccount(address) {
			return fmt.Errorf("%q is not a NEAR account id", address)
		}
	default:
		return fmt.Errorf("unknown chain namespace %q", chainID)
	}
	return nil
}

// DirectSubmission persists a submitted order as-is
type DirectSubmission struct {
	coordinator *Coordinator
}

// NewDirectSubmission builds the default submission path
func NewDirectSubmission(c *Coordinator) *DirectSubmission {
	return &DirectSubmission{coordinator: c}
}

// Submit validates and stores a new fillable order
func (s *DirectSubmission) Submit(ctx context.Context, req *OrderRequest) (*models.SwapOrder, error) {
	c := s.coordinator
	if err := c.ValidateOrderRequest(req); err != nil {
		return nil, err
	}

	existing, err := c.orders.GetBySecretHash(ctx, req.SecretHash)
	if err != nil {
		return nil, err
	}
	if existing != nil && !existing.State.IsTerminal() {
		return nil, fmt.Errorf("an open order with hashlock %s already exists", req.SecretHash)
	}

	order := &models.SwapOrder{
		ID:             uuid.New().String(),
		State:          models.SwapStateCreated,
		FromChain:      req.FromChain,
		ToChain:        req.ToChain,
		SecretHash:     req.SecretHash,
		FromAmount:     req.Amount,
		Initiator:      req.Initiator,
		Recipient:      req.Recipient,
		SourceTimelock: req.Timelock,
		MaxRetries:     c.maxRetries,
	}
	if req.Timelock > 0 {
		order.ExpiresAt = time.Unix(req.Timelock, 0)
	}

	if err := c.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to persist submitted order: %w", err)
	}
	log.Printf("📬 Order %s submitted: %s -> %s amount=%s", order.ID, order.FromChain, order.ToChain, order.FromAmount)
	c.publishTransition(order, "")
	return order, nil
}

// MetaOrderSubmission accepts gasless orders signed off-chain. Only the
// signature envelope is checked here; on-chain verification happens when the
// initiator's deposit lands.
//
// TODO: verify the EIP-712 digest against the initiator address once the
// order typehash is frozen.
type MetaOrderSubmission struct {
	direct *DirectSubmission
}

// NewMetaOrderSubmission wraps the direct path with meta-order checks
func NewMetaOrderSubmission(c *Coordinator) *MetaOrderSubmission {
	return &MetaOrderSubmission{direct: NewDirectSubmission(c)}
}

// Submit checks the signature envelope and delegates to the direct path
func (s *MetaOrderSubmission) Submit(ctx context.Context, req *OrderRequest) (*models.SwapOrder, error) {
	if req.Signature == "" {
		return nil, fmt.Errorf("meta orders require a signature")
	}
	sig, err := hex.DecodeString(utils.StripHexPrefix(req.Signature))
	if err != nil || len(sig) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes of hex")
	}
	if req.Initiator == "" {
		return nil, fmt.Errorf("meta orders require the initiator address")
	}
	return s.direct.Submit(ctx, req)
}
