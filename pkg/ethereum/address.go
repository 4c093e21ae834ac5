// Package ethereum validates and normalizes EVM settlement addresses
// supplied with quote requests, quotes, and accept_quote calls whose
// chainId names an EVM-compatible chain. The RFQ core never holds keys
// or signs transactions itself; settlement execution is delegated to the
// external privacy vault, so this package is address-hygiene only.
package ethereum

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidateAddress checks that addr is a well-formed 20-byte hex address,
// rejecting anything that isn't 0x-prefixed 40 hex characters. It does not
// verify EIP-55 checksum casing; callers that receive all-lowercase or
// all-uppercase addresses from wallets are not penalized for it.
func ValidateAddress(addr string) error {
	hasPrefix := strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X")
	if !hasPrefix || !common.IsHexAddress(addr) {
		return fmt.Errorf("invalid EVM address: %q", addr)
	}
	return nil
}

// NormalizeAddress returns addr in EIP-55 checksummed form. Callers should
// persist the checksummed form so downstream equality comparisons (e.g.
// matching a settlement leg to a stored commitment) are case-insensitive
// at the boundary and exact thereafter.
func NormalizeAddress(addr string) (string, error) {
	if err := ValidateAddress(addr); err != nil {
		return "", err
	}
	return common.HexToAddress(addr).Hex(), nil
}

// SameAddress reports whether two address strings refer to the same
// account, regardless of checksum casing. A string that fails
// ValidateAddress (including one without the "0x" prefix) is not
// normalized and is compared as written, case-insensitively.
func SameAddress(a, b string) bool {
	return strings.EqualFold(normalizeOrRaw(a), normalizeOrRaw(b))
}

func normalizeOrRaw(addr string) string {
	if n, err := NormalizeAddress(addr); err == nil {
		return n
	}
	return addr
}

// IsEVMChain reports whether chainID names a chain whose settlement
// addresses should be validated with this package rather than treated as
// an opaque identifier. Chain IDs are the decimal EIP-155 chain ID.
func IsEVMChain(chainID string) bool {
	if chainID == "" {
		return false
	}
	for _, r := range chainID {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
