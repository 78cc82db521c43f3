package utils

import (
	"regexp"
	"strings"
)

var evmHexRe = regexp.MustCompile(`^[0-9a-fA-F]{40}$`)

// IsEvmAddress checks whether the string is a 20-byte EVM address
func IsEvmAddress(address string) bool {
	if address == "" {
		return false
	}
	if strings.HasPrefix(strings.ToLower(address), "0x") {
		return len(address) == 42 && evmHexRe.MatchString(address[2:])
	}
	return evmHexRe.MatchString(address)
}

// NormalizeEvmAddress lowercases and 0x-prefixes an EVM address
func NormalizeEvmAddress(address string) string {
	a := strings.ToLower(strings.TrimSpace(address))
	if !strings.HasPrefix(a, "0x") {
		a = "0x" + a
	}
	return a
}

// SameAddress compares two addresses, case-insensitively for hex addresses.
// NEAR account ids are already canonical lowercase so the comparison is safe
// for both chain kinds.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// StripHexPrefix removes an optional 0x prefix
func StripHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
