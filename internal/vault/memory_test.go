package vault

import (
	"bytes"
	"strings"
	"testing"
)

func TestMemoryVault_PutAndGetArchive(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	tests := []struct {
		name    string
		archive string
		content string
	}{
		{
			name:    "store and retrieve an archive",
			archive: "backup-20250310-091500.tar.gz",
			content: "tar bytes",
		},
		{
			name:    "store empty archive",
			archive: "empty.tar.gz",
			content: "",
		},
		{
			name:    "store large archive",
			archive: "large.tar.gz",
			content: strings.Repeat("x", 10000),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := strings.NewReader(tt.content)
			if err := vault.PutArchive(tt.archive, r, int64(len(tt.content))); err != nil {
				t.Fatalf("PutArchive() error = %v", err)
			}

			var buf bytes.Buffer
			if err := vault.GetArchive(tt.archive, &buf); err != nil {
				t.Fatalf("GetArchive() error = %v", err)
			}
			if got := buf.String(); got != tt.content {
				t.Errorf("GetArchive() = %q, want %q", got, tt.content)
			}
		})
	}
}

func TestMemoryVault_PutArchiveOverwrites(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	for _, content := range []string{"first", "second"} {
		r := strings.NewReader(content)
		if err := vault.PutArchive("a.tar.gz", r, int64(len(content))); err != nil {
			t.Fatalf("PutArchive(%q) error = %v", content, err)
		}
	}

	var buf bytes.Buffer
	if err := vault.GetArchive("a.tar.gz", &buf); err != nil {
		t.Fatalf("GetArchive() error = %v", err)
	}
	if got := buf.String(); got != "second" {
		t.Errorf("GetArchive() = %q, want %q", got, "second")
	}
}

func TestMemoryVault_GetArchiveNotFound(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	var buf bytes.Buffer
	if err := vault.GetArchive("nonexistent.tar.gz", &buf); err == nil {
		t.Error("GetArchive() expected error for nonexistent archive, got nil")
	}
}

func TestMemoryVault_PutArchiveSizeMismatch(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	content := "test"
	r := strings.NewReader(content)
	if err := vault.PutArchive("a.tar.gz", r, int64(len(content)+10)); err == nil {
		t.Error("PutArchive() expected error for size mismatch, got nil")
	}
}

func TestMemoryVault_ListArchives(t *testing.T) {
	vault := NewMemoryVault("test-vault")

	for _, name := range []string{"b.tar.gz", "a.tar.gz", "c.tar.gz"} {
		if err := vault.PutArchive(name, strings.NewReader("x"), 1); err != nil {
			t.Fatalf("PutArchive(%q) error = %v", name, err)
		}
	}

	names, err := vault.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}

	want := []string{"a.tar.gz", "b.tar.gz", "c.tar.gz"}
	if len(names) != len(want) {
		t.Fatalf("len(names) = %d, want %d", len(names), len(want))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestMemoryVault_ValidateSetup(t *testing.T) {
	vault := NewMemoryVault("test-vault")
	if err := vault.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() unexpected error: %v", err)
	}
}
