package testutil

import (
	"orgvault/internal/orgvault"
	"orgvault/internal/vault"
)

// NewTestVault creates a new in-memory vault for testing.
func NewTestVault() orgvault.Vault {
	return vault.NewMemoryVault("test-vault")
}
