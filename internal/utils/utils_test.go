package utils

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebaseAmount(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		from, to int
		expected string
	}{
		{name: "same decimals", amount: "123456", from: 18, to: 18, expected: "123456"},
		{name: "evm to near", amount: "1000000000000000000", from: 18, to: 24, expected: "1000000000000000000000000"},
		{name: "near to evm", amount: "1000000000000000000000000", from: 24, to: 18, expected: "1000000000000000000"},
		{name: "truncates toward zero", amount: "1999999", from: 24, to: 18, expected: "1"},
		{name: "zero", amount: "0", from: 18, to: 24, expected: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, ok := new(big.Int).SetString(tt.amount, 10)
			require.True(t, ok)
			out, err := RebaseAmount(amount, tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, out.String())
		})
	}
}

func TestRebaseAmount_Rejects(t *testing.T) {
	_, err := RebaseAmount(nil, 18, 24)
	assert.Error(t, err)

	_, err = RebaseAmount(big.NewInt(1), -1, 24)
	assert.Error(t, err)
}

func TestRebaseAmount_DoesNotMutateInput(t *testing.T) {
	in := big.NewInt(42)
	out, err := RebaseAmount(in, 6, 12)
	require.NoError(t, err)
	assert.Equal(t, "42", in.String())
	assert.Equal(t, "42000000", out.String())
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount("1000000000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000000", amount.String())

	_, err = ParseAmount("1.5")
	assert.Error(t, err)

	_, err = ParseAmount("")
	assert.Error(t, err)
}

func TestIsEvmAddress(t *testing.T) {
	assert.True(t, IsEvmAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"))
	assert.True(t, IsEvmAddress("5FbDB2315678afecb367f032d93F642f64180aa3"))
	assert.False(t, IsEvmAddress(""))
	assert.False(t, IsEvmAddress("0x123"))
	assert.False(t, IsEvmAddress("alice.near"))
	assert.False(t, IsEvmAddress("0xZZbDB2315678afecb367f032d93F642f64180aa3"))
}

func TestSameAddress(t *testing.T) {
	assert.True(t, SameAddress("0xABCdef0000000000000000000000000000000001", "0xabcDEF0000000000000000000000000000000001"))
	assert.True(t, SameAddress(" alice.near", "alice.near "))
	assert.False(t, SameAddress("alice.near", "bob.near"))
}

func TestNormalizeEvmAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001",
		NormalizeEvmAddress("ABCdef0000000000000000000000000000000001"))
	assert.Equal(t, "0xabc", NormalizeEvmAddress("0xABC"))
}

func TestStripHexPrefix(t *testing.T) {
	assert.Equal(t, "deadbeef", StripHexPrefix("0xdeadbeef"))
	assert.Equal(t, "deadbeef", StripHexPrefix("0Xdeadbeef"))
	assert.Equal(t, "deadbeef", StripHexPrefix("deadbeef"))
}

func TestParseNearEventJSON(t *testing.T) {
	line := `EVENT_JSON:{"standard":"htlc_escrow","version":"1.0.0","event":"swap_order_created","data":{"order_id":"order-1"}}`
	event, ok := ParseNearEventJSON(line)
	require.True(t, ok)
	assert.Equal(t, "swap_order_created", event.Event)
	assert.Equal(t, "htlc_escrow", event.Standard)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(event.Data))

	_, ok = ParseNearEventJSON("Created swap order x for 1 yoctoNEAR to recipient y")
	assert.False(t, ok)

	_, ok = ParseNearEventJSON("EVENT_JSON:not json")
	assert.False(t, ok)

	_, ok = ParseNearEventJSON(`EVENT_JSON:{"standard":"htlc_escrow"}`)
	assert.False(t, ok, "missing event name")
}

func TestParseNearCreationLog(t *testing.T) {
	orderID, amount, recipient, ok := ParseNearCreationLog(
		"Created swap order order-42 for 1000000000000000000000000 yoctoNEAR to recipient alice.near")
	require.True(t, ok)
	assert.Equal(t, "order-42", orderID)
	assert.Equal(t, "1000000000000000000000000", amount)
	assert.Equal(t, "alice.near", recipient)

	_, _, _, ok = ParseNearCreationLog("Refunded swap order order-42")
	assert.False(t, ok)

	_, _, _, ok = ParseNearCreationLog("Created swap order order-42 for abc yoctoNEAR to recipient alice.near")
	assert.False(t, ok)
}
