// Package archive ships committed snapshots to a vault as gzipped tar
// archives, optionally age-encrypted, and restores them back under the
// backup root.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"orgvault/internal/backup"
	"orgvault/internal/orgvault"
)

const (
	archiveSuffix   = ".tar.gz"
	encryptedSuffix = ".tar.gz.age"
)

// Archiver packs snapshot directories into vault archives. Only committed
// snapshots (manifest present) can be archived; an in-flight run's directory
// is not a snapshot yet.
type Archiver struct {
	vault     orgvault.Vault
	encryptor orgvault.Encryptor // nil means archives are stored unencrypted
	logger    orgvault.Logger
	root      string
}

// NewArchiver creates an Archiver over the given backup root. When encryptor
// is non-nil, every archive is encrypted with its public key.
func NewArchiver(vault orgvault.Vault, encryptor orgvault.Encryptor, logger orgvault.Logger, root string) *Archiver {
	return &Archiver{
		vault:     vault,
		encryptor: encryptor,
		logger:    logger,
		root:      root,
	}
}

// Archive packs the named snapshot and uploads it. Returns the stored
// archive name.
func (a *Archiver) Archive(name string) (string, error) {
	if !backup.IsSnapshotName(name) {
		return "", fmt.Errorf("not a snapshot name: %s", name)
	}
	dir := filepath.Join(a.root, name)
	if _, err := backup.ReadManifest(dir); err != nil {
		return "", fmt.Errorf("snapshot %s is not committed: %w", name, err)
	}

	// Tar to a temp file first so the upload knows its size.
	tarFile, err := os.CreateTemp("", "orgvault-archive-*")
	if err != nil {
		return "", fmt.Errorf("creating temp archive: %w", err)
	}
	tarPath := tarFile.Name()
	defer os.Remove(tarPath)

	if err := packDir(tarFile, dir, name); err != nil {
		tarFile.Close()
		return "", err
	}
	if err := tarFile.Close(); err != nil {
		return "", fmt.Errorf("closing temp archive: %w", err)
	}

	uploadPath := tarPath
	archiveName := name + archiveSuffix

	if a.encryptor != nil {
		encFile, err := os.CreateTemp("", "orgvault-archive-enc-*")
		if err != nil {
			return "", fmt.Errorf("creating temp encrypted archive: %w", err)
		}
		encPath := encFile.Name()
		defer os.Remove(encPath)

		plain, err := os.Open(tarPath)
		if err != nil {
			encFile.Close()
			return "", fmt.Errorf("reopening temp archive: %w", err)
		}
		err = a.encryptor.Encrypt(plain, encFile)
		plain.Close()
		if err != nil {
			encFile.Close()
			return "", fmt.Errorf("encrypting archive: %w", err)
		}
		if err := encFile.Close(); err != nil {
			return "", fmt.Errorf("closing encrypted archive: %w", err)
		}

		uploadPath = encPath
		archiveName = name + encryptedSuffix
	}

	f, err := os.Open(uploadPath)
	if err != nil {
		return "", fmt.Errorf("opening archive for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat archive: %w", err)
	}

	if err := a.vault.PutArchive(archiveName, f, info.Size()); err != nil {
		return "", fmt.Errorf("uploading archive: %w", err)
	}

	a.logger.Info("snapshot archived", "snapshot", name, "archive", archiveName, "bytes", info.Size())
	return archiveName, nil
}

// Restore fetches an archive and unpacks the snapshot under the backup root.
// Encrypted archives require an unlocked DecryptionContext. Returns the
// restored snapshot directory.
func (a *Archiver) Restore(archiveName string, dc orgvault.DecryptionContext) (string, error) {
	encrypted := strings.HasSuffix(archiveName, encryptedSuffix)
	var snapshotName string
	switch {
	case encrypted:
		snapshotName = strings.TrimSuffix(archiveName, encryptedSuffix)
	case strings.HasSuffix(archiveName, archiveSuffix):
		snapshotName = strings.TrimSuffix(archiveName, archiveSuffix)
	default:
		return "", fmt.Errorf("not an archive name: %s", archiveName)
	}
	if !backup.IsSnapshotName(snapshotName) {
		return "", fmt.Errorf("not a snapshot archive: %s", archiveName)
	}
	if encrypted && dc == nil {
		return "", fmt.Errorf("archive %s is encrypted: unlock required", archiveName)
	}

	dest := filepath.Join(a.root, snapshotName)
	if _, err := os.Stat(dest); err == nil {
		return "", fmt.Errorf("snapshot %s already exists", snapshotName)
	}

	fetched, err := os.CreateTemp("", "orgvault-restore-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	fetchedPath := fetched.Name()
	defer os.Remove(fetchedPath)

	if err := a.vault.GetArchive(archiveName, fetched); err != nil {
		fetched.Close()
		return "", fmt.Errorf("fetching archive: %w", err)
	}
	if err := fetched.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	tarPath := fetchedPath
	if encrypted {
		plainFile, err := os.CreateTemp("", "orgvault-restore-plain-*")
		if err != nil {
			return "", fmt.Errorf("creating temp file: %w", err)
		}
		plainPath := plainFile.Name()
		defer os.Remove(plainPath)

		cipher, err := os.Open(fetchedPath)
		if err != nil {
			plainFile.Close()
			return "", fmt.Errorf("reopening fetched archive: %w", err)
		}
		err = dc.Decrypt(cipher, plainFile)
		cipher.Close()
		if err != nil {
			plainFile.Close()
			return "", fmt.Errorf("decrypting archive: %w", err)
		}
		if err := plainFile.Close(); err != nil {
			return "", fmt.Errorf("closing temp file: %w", err)
		}
		tarPath = plainPath
	}

	f, err := os.Open(tarPath)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	if err := unpackDir(f, a.root); err != nil {
		return "", err
	}

	a.logger.Info("snapshot restored", "archive", archiveName, "dir", dest)
	return dest, nil
}

// List returns the names of all archives in the vault.
func (a *Archiver) List() ([]string, error) {
	return a.vault.ListArchives()
}
