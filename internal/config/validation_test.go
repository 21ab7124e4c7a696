package config

import (
	"strings"
	"testing"
)

func TestValidateWallets_Valid(t *testing.T) {
	wallets := []string{
		"So11111111111111111111111111111111111111112",
		"4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T",
	}
	if err := ValidateWallets(wallets); err != nil {
		t.Errorf("expected valid wallets, got %v", err)
	}
}

func TestValidateWallets_Empty(t *testing.T) {
	if err := ValidateWallets(nil); err != nil {
		t.Errorf("expected nil error for empty list, got %v", err)
	}
}

func TestValidateWallets_Invalid(t *testing.T) {
	wallets := []string{
		"So11111111111111111111111111111111111111112", // valid
		"too-short",
		"contains!invalid@chars111111111111111111111",
		"0OIl1111111111111111111111111111111111111111", // excluded base58 chars
	}

	err := ValidateWallets(wallets)
	if err == nil {
		t.Fatal("expected validation error")
	}

	verrs, ok := err.(*ValidationErrors)
	if !ok {
		t.Fatalf("expected *ValidationErrors, got %T", err)
	}
	if len(verrs.InvalidWallets) != 3 {
		t.Errorf("expected 3 invalid wallets, got %d: %v", len(verrs.InvalidWallets), verrs.InvalidWallets)
	}
	if !strings.Contains(err.Error(), "too-short") {
		t.Errorf("expected offending address in message, got: %s", err.Error())
	}
}
