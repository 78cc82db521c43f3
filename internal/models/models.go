package models

import (
	"time"
)

// ChainKind distinguishes the two escrow backends
type ChainKind string

const (
	ChainKindEVM  ChainKind = "evm"
	ChainKindNEAR ChainKind = "near"
)

// EscrowStatus on-chain escrow lifecycle
type EscrowStatus string

const (
	EscrowStatusActive    EscrowStatus = "active"
	EscrowStatusWithdrawn EscrowStatus = "withdrawn"
	EscrowStatusRefunded  EscrowStatus = "refunded"
)

// Escrow is the relayer's view of one HTLC lock on one chain.
// It is read from chain state, never persisted as authoritative data.
type Escrow struct {
	EscrowID   string       `json:"escrow_id"` // contract address or account-scoped order id
	ChainID    string       `json:"chain_id"`
	Kind       ChainKind    `json:"kind"`
	Status     EscrowStatus `json:"status"`
	Token      string       `json:"token"`
	Amount     string       `json:"amount"` // integer, chain-native smallest unit
	Timelock   int64        `json:"timelock"` // unix seconds
	SecretHash string       `json:"secret_hash"` // hex, no 0x prefix, 64 chars
	Initiator  string       `json:"initiator"`
	Recipient  string       `json:"recipient"`
}

// SwapState coordinator state machine states
type SwapState string

const (
	SwapStateCreated           SwapState = "created"
	SwapStatePriced            SwapState = "priced"
	SwapStateDestEscrowPending SwapState = "dest_escrow_pending"
	SwapStateDestEscrowLocked  SwapState = "dest_escrow_locked"
	SwapStateSecretRevealed    SwapState = "secret_revealed"
	SwapStateWithdrawn         SwapState = "withdrawn"
	SwapStateExpired           SwapState = "expired"
	SwapStateRefunded          SwapState = "refunded"
	SwapStateFailed            SwapState = "failed"
)

// IsTerminal reports whether no further transitions are possible
func (s SwapState) IsTerminal() bool {
	return s == SwapStateWithdrawn || s == SwapStateRefunded || s == SwapStateFailed
}

// SwapOrder is the coordinator's view of one atomic swap spanning two escrows
type SwapOrder struct {
	ID               string    `json:"id" gorm:"primaryKey"`
	State            SwapState `json:"state" gorm:"index;not null"`
	FromChain        string    `json:"from_chain" gorm:"not null"`
	ToChain          string    `json:"to_chain" gorm:"not null"`
	SourceEscrowRef  string    `json:"source_escrow_ref" gorm:"index;not null"`
	DestEscrowRef    string    `json:"dest_escrow_ref"`
	SecretHash       string    `json:"secret_hash" gorm:"index;not null"`
	Secret           string    `json:"secret"`
	FromAmount       string    `json:"from_amount" gorm:"not null"`
	ComputedToAmount string    `json:"computed_to_amount"`
	RateBumpBps      int64     `json:"rate_bump_bps"`
	GasFee           string    `json:"gas_fee"` // wei, additive on top of the rate
	Initiator        string    `json:"initiator"`
	Recipient        string    `json:"recipient"`
	SourceTimelock   int64     `json:"source_timelock"`
	DestTimelock     int64     `json:"dest_timelock"`

	// parent order reference for partial fills
	ParentOrderID string `json:"parent_order_id" gorm:"index"`

	RetryCount  int        `json:"retry_count" gorm:"default:0"`
	MaxRetries  int        `json:"max_retries" gorm:"default:5"`
	NextRetryAt *time.Time `json:"next_retry_at"`
	LastError   string     `json:"last_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ProcessedMessage is one row of the idempotency ledger: a message id that has
// been fully handled. Never deleted except by height-based eviction.
type ProcessedMessage struct {
	MessageID   string    `json:"message_id" gorm:"primaryKey"`
	ChainID     string    `json:"chain_id" gorm:"index;not null"`
	BlockHeight uint64    `json:"block_height" gorm:"index;not null"`
	TxHash      string    `json:"tx_hash"`
	EventType   string    `json:"event_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// Checkpoint is the last fully processed height for one chain.
// Advances monotonically; rewound only by the resync tool.
type Checkpoint struct {
	ChainID             string    `json:"chain_id" gorm:"primaryKey"`
	LastProcessedHeight uint64    `json:"last_processed_height" gorm:"not null"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// PartialFill records one child fill or refund against a parent order
type PartialFill struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	ParentOrderID string    `json:"parent_order_id" gorm:"index;not null"`
	ChildOrderID  string    `json:"child_order_id" gorm:"index"`
	FilledAmount  string    `json:"filled_amount" gorm:"not null"` // integer string
	Refunded      bool      `json:"refunded" gorm:"default:false"`
	TxHash        string    `json:"tx_hash"`
	CreatedAt     time.Time `json:"created_at"`
}

// EscrowEvent is the durable record of one decoded escrow lifecycle event,
// keyed the same way the watcher dedupes: (chain, tx, event kind).
type EscrowEvent struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string    `json:"message_id" gorm:"uniqueIndex;not null"`
	ChainID     string    `json:"chain_id" gorm:"index;not null"`
	EventType   string    `json:"event_type" gorm:"not null"`
	EscrowRef   string    `json:"escrow_ref" gorm:"index"`
	TxHash      string    `json:"tx_hash"`
	BlockHeight uint64    `json:"block_height"`
	Sender      string    `json:"sender"`
	Recipient   string    `json:"recipient"`
	Token       string    `json:"token"`
	Amount      string    `json:"amount"`
	SecretHash  string    `json:"secret_hash"`
	Secret      string    `json:"secret"`
	Timelock    int64     `json:"timelock"`
	CreatedAt   time.Time `json:"created_at"`
}
