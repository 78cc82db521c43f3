// Escrow Gateway
// Chain-facing contract operations: creating destination escrows, revealing
// secrets to withdraw, and refunding after timelock expiry. One implementation
// per chain backend.
package gateway

import (
	"context"
	"errors"
	"math/big"

	"github.com/ecryptoguru/cross-chain-resolver-example-sub001/internal/models"
)

// Guard errors. Each maps to one precondition checked before any funds move,
// so callers can tell a permanent rejection from a transient RPC failure.
var (
	// ErrInvalidState escrow is not in the state the operation requires
	ErrInvalidState = errors.New("escrow is not in a valid state for this operation")

	// ErrTimelockNotExpired refund attempted before the cancellation timestamp
	ErrTimelockNotExpired = errors.New("timelock has not expired yet")

	// ErrTimelockMismatch destination cancellation would land after the source's
	ErrTimelockMismatch = errors.New("destination timelock exceeds source timelock")

	// ErrValueMismatch attached value does not cover amount plus safety deposit
	ErrValueMismatch = errors.New("attached value does not match amount plus safety deposit")

	// ErrFillTooSmall requested fill is below the configured minimum
	ErrFillTooSmall = errors.New("fill amount below minimum")

	// ErrEscrowNotFound no escrow matches the given reference or secret hash
	ErrEscrowNotFound = errors.New("escrow not found")
)

// CreateEscrowParams are the immutable terms of a new destination escrow
type CreateEscrowParams struct {
	OrderID        string
	SecretHash     string // hex, no 0x prefix
	Recipient      string
	Amount         *big.Int // chain-native smallest unit
	SafetyDeposit  *big.Int
	CancellationAt int64 // unix seconds
	SrcCancellationAt int64 // source chain cancellation, upper bound for ours
}

// TxResult identifies a broadcast transaction
type TxResult struct {
	TxHash      string
	BlockHeight uint64
}

// EscrowGateway performs escrow contract operations on one chain
type EscrowGateway interface {
	// ChainID returns the identifier used in checkpoints and message ids
	ChainID() string

	// GetEscrow reads the current on-chain state of an escrow
	GetEscrow(ctx context.Context, escrowRef string) (*models.Escrow, error)

	// FindEscrowBySecretHash searches recent history for an escrow whose
	// hashlock matches. Returns ErrEscrowNotFound when the bounded search
	// window is exhausted.
	FindEscrowBySecretHash(ctx context.Context, secretHash string) (*models.Escrow, error)

	// FindEscrowByInitiatorAndAmount searches recent history for an escrow
	// funded by initiator whose amount lands within an absolute tolerance,
	// newest first. The tolerance absorbs rounding introduced by cross-chain
	// decimal rebasing. Returns ErrEscrowNotFound when the bounded search
	// window is exhausted.
	FindEscrowByInitiatorAndAmount(ctx context.Context, initiator string, amount, tolerance *big.Int) (*models.Escrow, error)

	// CreateDestEscrow locks funds on this chain as the destination side of a
	// swap. Fails with ErrTimelockMismatch before broadcasting when the
	// destination cancellation would exceed the source's.
	CreateDestEscrow(ctx context.Context, params *CreateEscrowParams) (*TxResult, string, error)

	// Withdraw reveals the secret to release escrowed funds. Withdrawing an
	// already-withdrawn escrow is a no-op success.
	Withdraw(ctx context.Context, escrowRef, secret string) (*TxResult, error)

	// Refund returns funds to the initiator after timelock expiry. Fails with
	// ErrTimelockNotExpired before broadcasting when called early.
	Refund(ctx context.Context, escrowRef string) (*TxResult, error)
}

// amountWithinTolerance reports |a - b| <= tolerance
func amountWithinTolerance(a, b, tolerance *big.Int) bool {
	diff := new(big.Int).Sub(a, b)
	return diff.Abs(diff).Cmp(tolerance) <= 0
}
