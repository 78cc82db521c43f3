package clients

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/big"
	"strings"
)

// NEAR protocol transaction encoding. Transactions are Borsh-serialized,
// hashed with sha256 and signed with the account's ed25519 key.

const (
	ed25519KeyPrefix = "ed25519:"

	// action enum tags from the protocol spec
	actionFunctionCall = 2
)

// FunctionCallAction is one contract invocation inside a transaction
type FunctionCallAction struct {
	MethodName string
	Args       []byte
	Gas        uint64
	Deposit    *big.Int // yoctoNEAR
}

// NEARSigner holds the relayer account's signing key
type NEARSigner struct {
	AccountID string
	publicKey [32]byte
	secretKey ed25519.PrivateKey
}

// NewNEARSigner parses an "ed25519:<base58>" secret key as exported by
// near-cli credentials files. The 64-byte decoded value is the expanded key;
// its second half is the public key.
func NewNEARSigner(accountID, secretKey string) (*NEARSigner, error) {
	if !strings.HasPrefix(secretKey, ed25519KeyPrefix) {
		return nil, fmt.Errorf("secret key must start with %q", ed25519KeyPrefix)
	}
	raw, err := base58Decode(strings.TrimPrefix(secretKey, ed25519KeyPrefix))
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("secret key must decode to %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}

	signer := &NEARSigner{
		AccountID: accountID,
		secretKey: ed25519.PrivateKey(raw),
	}
	copy(signer.publicKey[:], raw[32:])
	return signer, nil
}

// PublicKeyString returns the key in the "ed25519:<base58>" node API format
func (s *NEARSigner) PublicKeyString() string {
	return ed25519KeyPrefix + base58Encode(s.publicKey[:])
}

// SignTransaction builds, signs and base64-encodes a single-action function
// call transaction, ready for broadcast_tx_commit.
func (s *NEARSigner) SignTransaction(receiverID string, nonce uint64, blockHash string, action *FunctionCallAction) (string, error) {
	blockHashBytes, err := base58Decode(blockHash)
	if err != nil {
		return "", fmt.Errorf("failed to decode block hash: %w", err)
	}
	if len(blockHashBytes) != 32 {
		return "", fmt.Errorf("block hash must decode to 32 bytes, got %d", len(blockHashBytes))
	}

	var buf bytes.Buffer
	writeString(&buf, s.AccountID)
	buf.WriteByte(0) // key type: ed25519
	buf.Write(s.publicKey[:])
	writeUint64(&buf, nonce)
	writeString(&buf, receiverID)
	buf.Write(blockHashBytes)

	// actions vec
	writeUint32(&buf, 1)
	buf.WriteByte(actionFunctionCall)
	writeString(&buf, action.MethodName)
	writeUint32(&buf, uint32(len(action.Args)))
	buf.Write(action.Args)
	writeUint64(&buf, action.Gas)
	writeUint128(&buf, action.Deposit)

	txBytes := buf.Bytes()
	txHash := sha256.Sum256(txBytes)
	signature := ed25519.Sign(s.secretKey, txHash[:])

	var signed bytes.Buffer
	signed.Write(txBytes)
	signed.WriteByte(0) // signature type: ed25519
	signed.Write(signature)

	return base64.StdEncoding.EncodeToString(signed.Bytes()), nil
}

func writeString(buf *bytes.Buffer, s string) {
	writeUint32(buf, uint32(len(s)))
	buf.WriteString(s)
}

func writeUint32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeUint128(buf *bytes.Buffer, v *big.Int) {
	var b [16]byte
	if v != nil {
		v.FillBytes(b[:])
	}
	// big.Int is big-endian, the wire format is little-endian
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	buf.Write(b[:])
}

const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var base58Index = func() [256]int8 {
	var idx [256]int8
	for i := range idx {
		idx[i] = -1
	}
	for i, c := range base58Alphabet {
		idx[c] = int8(i)
	}
	return idx
}()

func base58Encode(input []byte) string {
	zeros := 0
	for zeros < len(input) && input[zeros] == 0 {
		zeros++
	}

	num := new(big.Int).SetBytes(input)
	base := big.NewInt(58)
	mod := new(big.Int)
	var out []byte
	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		out = append(out, base58Alphabet[mod.Int64()])
	}
	for i := 0; i < zeros; i++ {
		out = append(out, base58Alphabet[0])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}

func base58Decode(input string) ([]byte, error) {
	zeros := 0
	for zeros < len(input) && input[zeros] == '1' {
		zeros++
	}

	num := new(big.Int)
	base := big.NewInt(58)
	for _, c := range []byte(input) {
		v := base58Index[c]
		if v < 0 {
			return nil, fmt.Errorf("invalid base58 character %q", c)
		}
		num.Mul(num, base)
		num.Add(num, big.NewInt(int64(v)))
	}

	decoded := num.Bytes()
	out := make([]byte, zeros+len(decoded))
	copy(out[zeros:], decoded)
	return out, nil
}
