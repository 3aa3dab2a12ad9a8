package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var evmAddressPattern = regexp.MustCompile("^(0x|0X)?[0-9a-fA-F]{40}$")

// IsEvmAddress checks whether address is a 20-byte hex address, with or without 0x
func IsEvmAddress(address string) bool {
	return address != "" && evmAddressPattern.MatchString(address)
}

// NormalizeEvmAddress returns the lowercase 0x form used as ledger key.
// Ledger rows are keyed by lowercase addresses, never by checksum case.
func NormalizeEvmAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !IsEvmAddress(address) {
		return "", fmt.Errorf("invalid EVM address format: %q", address)
	}
	if !strings.HasPrefix(strings.ToLower(address), "0x") {
		address = "0x" + address
	}
	return strings.ToLower(address), nil
}

// AddressKey lowercase ledger key of a decoded chain address
func AddressKey(address common.Address) string {
	return strings.ToLower(address.Hex())
}

// SameAddress compares two addresses ignoring case and 0x prefix
func SameAddress(a, b string) bool {
	na, errA := NormalizeEvmAddress(a)
	nb, errB := NormalizeEvmAddress(b)
	return errA == nil && errB == nil && na == nb
}
