package vault

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileSystemVault_PutAndGetArchive(t *testing.T) {
	v, err := NewFileSystemVault("fs-vault", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	content := "tar bytes"
	if err := v.PutArchive("backup-20250310-091500.tar.gz", strings.NewReader(content), int64(len(content))); err != nil {
		t.Fatalf("PutArchive() error = %v", err)
	}

	var buf bytes.Buffer
	if err := v.GetArchive("backup-20250310-091500.tar.gz", &buf); err != nil {
		t.Fatalf("GetArchive() error = %v", err)
	}
	if got := buf.String(); got != content {
		t.Errorf("GetArchive() = %q, want %q", got, content)
	}
}

func TestFileSystemVault_RejectsPathTraversal(t *testing.T) {
	v, err := NewFileSystemVault("fs-vault", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	names := []string{"../escape.tar.gz", "a/b.tar.gz", "/abs.tar.gz"}
	for _, name := range names {
		if err := v.PutArchive(name, strings.NewReader("x"), 1); err == nil {
			t.Errorf("PutArchive(%q) expected error, got nil", name)
		}
		var buf bytes.Buffer
		if err := v.GetArchive(name, &buf); err == nil {
			t.Errorf("GetArchive(%q) expected error, got nil", name)
		}
	}
}

func TestFileSystemVault_PutArchiveSizeMismatch(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault("fs-vault", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	if err := v.PutArchive("a.tar.gz", strings.NewReader("test"), 99); err == nil {
		t.Fatal("PutArchive() expected error for size mismatch, got nil")
	}

	// The failed write must not leave the destination behind.
	if _, err := os.Stat(filepath.Join(root, "archives", "a.tar.gz")); !os.IsNotExist(err) {
		t.Error("destination exists after failed write")
	}
}

func TestFileSystemVault_GetArchiveNotFound(t *testing.T) {
	v, err := NewFileSystemVault("fs-vault", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	var buf bytes.Buffer
	if err := v.GetArchive("missing.tar.gz", &buf); err == nil {
		t.Error("GetArchive() expected error for missing archive, got nil")
	}
}

func TestFileSystemVault_ListArchives(t *testing.T) {
	v, err := NewFileSystemVault("fs-vault", t.TempDir())
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	for _, name := range []string{"b.tar.gz", "a.tar.gz"} {
		if err := v.PutArchive(name, strings.NewReader("x"), 1); err != nil {
			t.Fatalf("PutArchive(%q) error = %v", name, err)
		}
	}

	names, err := v.ListArchives()
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	want := []string{"a.tar.gz", "b.tar.gz"}
	if len(names) != 2 || names[0] != want[0] || names[1] != want[1] {
		t.Errorf("ListArchives() = %v, want %v", names, want)
	}
}

func TestFileSystemVault_ValidateSetup(t *testing.T) {
	root := t.TempDir()
	v, err := NewFileSystemVault("fs-vault", root)
	if err != nil {
		t.Fatalf("NewFileSystemVault() error = %v", err)
	}

	if err := v.ValidateSetup(); err != nil {
		t.Errorf("ValidateSetup() unexpected error: %v", err)
	}

	if err := os.RemoveAll(filepath.Join(root, "archives")); err != nil {
		t.Fatalf("removing archive dir: %v", err)
	}
	if err := v.ValidateSetup(); err == nil {
		t.Error("ValidateSetup() expected error after removing archive dir")
	}
}
