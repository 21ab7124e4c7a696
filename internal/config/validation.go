package config

import (
	"fmt"
	"strings"
)

// base58Alphabet is the character set ledger addresses are drawn from.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidationErrors collects all wallet validation errors
type ValidationErrors struct {
	InvalidWallets []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.InvalidWallets) > 0
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")

	if len(e.InvalidWallets) > 0 {
		sb.WriteString("\nInvalid wallet addresses:\n")
		for _, w := range e.InvalidWallets {
			sb.WriteString(fmt.Sprintf("  - %s\n", w))
		}
		sb.WriteString("\nAddresses must be 32-44 base58 characters\n")
	}

	return sb.String()
}

// ValidateWallets checks every configured wallet address.
func ValidateWallets(wallets []string) error {
	errs := &ValidationErrors{}

	for _, wallet := range wallets {
		if !validAddress(wallet) {
			errs.InvalidWallets = append(errs.InvalidWallets, wallet)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validAddress(addr string) bool {
	if len(addr) < 32 || len(addr) > 44 {
		return false
	}
	for _, r := range addr {
		if !strings.ContainsRune(base58Alphabet, r) {
			return false
		}
	}
	return true
}
