package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// MessageType classifies a detected escrow lifecycle event
type MessageType string

const (
	MessageTypeDeposit    MessageType = "deposit"
	MessageTypeWithdrawal MessageType = "withdrawal"
	MessageTypeRefund     MessageType = "refund"
)

// CrossChainMessage is the relayer's internal representation of one detected
// lifecycle event. MessageID is the idempotency key.
type CrossChainMessage struct {
	MessageID       string      `json:"message_id"`
	Type            MessageType `json:"type"`
	SourceChain     string      `json:"source_chain"`
	DestChain       string      `json:"dest_chain"`
	Sender          string      `json:"sender"`
	Recipient       string      `json:"recipient"`
	Amount          string      `json:"amount"`
	Token           string      `json:"token"`
	SecretHash      string      `json:"secret_hash"`
	Secret          string      `json:"secret,omitempty"`
	Timelock        int64       `json:"timelock,omitempty"`
	EscrowRef       string      `json:"escrow_ref"`
	SourceTxHash    string      `json:"source_tx_hash"`
	ObservedAtBlock uint64      `json:"observed_at_block"`
	BlockTimestamp  int64       `json:"block_timestamp"`
}

// DeriveMessageID builds the deterministic idempotency key for an event.
// Stable under retries: the same (chain, tx, type) always maps to the same id.
func DeriveMessageID(sourceChain, txHash string, msgType MessageType) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sourceChain))
	h.Write([]byte(":"))
	h.Write([]byte(strings.ToLower(txHash)))
	h.Write([]byte(":"))
	h.Write([]byte(msgType))
	return hex.EncodeToString(h.Sum(nil))
}

// KindOfChain maps a chain id like "evm:31337" or "near:testnet" to its kind
func KindOfChain(chainID string) ChainKind {
	if strings.HasPrefix(chainID, "near:") {
		return ChainKindNEAR
	}
	return ChainKindEVM
}

// SecretMatchesHashlock checks a revealed preimage against a hashlock using
// the hash function of the chain whose escrow the secret will unlock:
// keccak256 on EVM, sha256 on NEAR. The secret is hex with or without the
// 0x prefix; anything undecodable cannot match.
func SecretMatchesHashlock(secret, hashlock string, kind ChainKind) bool {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimPrefix(secret, "0x"), "0X"))
	if err != nil || len(raw) == 0 {
		return false
	}

	var digest []byte
	if kind == ChainKindNEAR {
		sum := sha256.Sum256(raw)
		digest = sum[:]
	} else {
		h := sha3.NewLegacyKeccak256()
		h.Write(raw)
		digest = h.Sum(nil)
	}
	return strings.EqualFold(hex.EncodeToString(digest), strings.TrimPrefix(hashlock, "0x"))
}

var hexSecretHashRe = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// ValidateSecretHash checks the 32-byte hex digest format (no 0x prefix)
func ValidateSecretHash(hash string) error {
	if !hexSecretHashRe.MatchString(hash) {
		return fmt.Errorf("invalid hashlock format (expected 64 character hex): %q", hash)
	}
	return nil
}

var nearAccountRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]*[a-z0-9])?$`)

// IsValidNearAccount validates a NEAR account id: 2..64 chars, lowercase
// alphanumeric plus separators, no leading/trailing/double separators.
func IsValidNearAccount(accountID string) bool {
	if len(accountID) < 2 || len(accountID) > 64 {
		return false
	}
	if !nearAccountRe.MatchString(accountID) {
		return false
	}
	for _, pair := range []string{"..", "__", "--", "._", "_.", ".-", "-.", "_-", "-_"} {
		if strings.Contains(accountID, pair) {
			return false
		}
	}
	return true
}

// Validate rejects malformed messages before they reach the coordinator
func (m *CrossChainMessage) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("message id is empty")
	}
	if m.SourceChain == "" || m.DestChain == "" {
		return fmt.Errorf("source and destination chains are required")
	}
	switch m.Type {
	case MessageTypeDeposit, MessageTypeWithdrawal, MessageTypeRefund:
	default:
		return fmt.Errorf("unknown message type %q", m.Type)
	}
	if m.Type == MessageTypeDeposit {
		if m.Amount == "" || m.Amount == "0" {
			return fmt.Errorf("amount must be greater than 0")
		}
		if err := ValidateSecretHash(m.SecretHash); err != nil {
			return err
		}
	}
	return nil
}
