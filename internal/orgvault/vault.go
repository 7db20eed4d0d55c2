package orgvault

import "io"

// Vault provides an interface for archive storage backends. Completed
// snapshot directories are packed into a single archive stream and shipped
// off-box through this interface. All operations use io.Reader/io.Writer for
// streaming so large archives never have to fit in memory.
type Vault interface {
	// PutArchive stores an archive under the given name.
	// size is the number of bytes that will be read from r.
	// Storing the same name twice overwrites the previous archive.
	PutArchive(name string, r io.Reader, size int64) error

	// GetArchive retrieves an archive by name and writes it to w.
	GetArchive(name string, w io.Writer) error

	// ListArchives returns the names of all stored archives.
	ListArchives() ([]string, error)

	// ValidateSetup verifies that the vault is accessible and properly configured.
	ValidateSetup() error
}
