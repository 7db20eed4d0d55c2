package encryption

import (
	"bytes"
	"strings"
	"testing"
)

func TestTestEncryptor_RoundTrip(t *testing.T) {
	e := NewTestEncryptor()

	recipient, err := e.Setup("anything")
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if recipient != "test-recipient" {
		t.Errorf("Setup() = %q, want %q", recipient, "test-recipient")
	}

	plaintext := "hello world"
	var ciphertext bytes.Buffer
	if err := e.Encrypt(strings.NewReader(plaintext), &ciphertext); err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	if ciphertext.String() == plaintext {
		t.Error("Encrypt() output equals plaintext")
	}

	dc, err := e.Unlock("anything")
	if err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}

	var decrypted bytes.Buffer
	if err := dc.Decrypt(bytes.NewReader(ciphertext.Bytes()), &decrypted); err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if decrypted.String() != plaintext {
		t.Errorf("Decrypt() = %q, want %q", decrypted.String(), plaintext)
	}
}

func TestTestDecryptionContext_RejectsBadHeader(t *testing.T) {
	dc := &TestDecryptionContext{}

	var out bytes.Buffer
	if err := dc.Decrypt(strings.NewReader("no header here"), &out); err == nil {
		t.Error("Decrypt() expected error for missing header")
	}
}

func TestTestEncryptor_IsConfigured(t *testing.T) {
	if !NewTestEncryptor().IsConfigured() {
		t.Error("IsConfigured() = false, want true")
	}
}
