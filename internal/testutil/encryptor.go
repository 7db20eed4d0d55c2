package testutil

import (
	"orgvault/internal/encryption"
	"orgvault/internal/orgvault"
)

// NewTestEncryptor creates a deterministic encryptor for testing.
func NewTestEncryptor() orgvault.Encryptor {
	return encryption.NewTestEncryptor()
}
