package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for orgvault.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Source     SourceConfig     `toml:"source"`
	Backup     BackupConfig     `toml:"backup"`
	Jobs       JobsConfig       `toml:"jobs"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Archive    ArchiveConfig    `toml:"archive"`
}

// SourceConfig holds the connection settings for the remote org.
type SourceConfig struct {
	InstanceURL    string `toml:"instance_url"`
	APIToken       string `toml:"api_token"`
	APIVersion     string `toml:"api_version"`
	ClientID       string `toml:"client_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// BackupConfig holds snapshot run settings. The limits are deliberate
// API-quota ceilings; zero values fall back to the backup package defaults.
type BackupConfig struct {
	Root            string `toml:"root"`
	Concurrency     int    `toml:"concurrency"`
	Retries         int    `toml:"retries"`
	QueryLimit      int    `toml:"query_limit"`
	FieldLimit      int    `toml:"field_limit"`
	ContentLimit    int    `toml:"content_limit"`
	AttachmentLimit int    `toml:"attachment_limit"`
	DocumentLimit   int    `toml:"document_limit"`
	IncludeFiles    bool   `toml:"include_files"`
}

// JobsConfig holds background job settings.
type JobsConfig struct {
	Dir                 string `toml:"dir"`
	CleanupGraceSeconds int    `toml:"cleanup_grace_seconds"`
}

// VaultConfig represents configuration for an archive vault backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for archive encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ArchiveConfig holds snapshot archiving settings.
type ArchiveConfig struct {
	Encrypt bool `toml:"encrypt"`
}

// NewConfig creates a new Config with the provided values and default paths.
func NewConfig(clientID, baseDir string) *Config {
	return &Config{
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Source: SourceConfig{
			APIVersion: "v59.0",
			ClientID:   clientID,
		},
		Backup: BackupConfig{
			Root:         filepath.Join(baseDir, "backups"),
			IncludeFiles: true,
		},
		Jobs: JobsConfig{
			Dir: filepath.Join(baseDir, "jobs"),
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "orgvault.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "orgvault.key"),
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
// This is an internal helper and should not be exported.
func writeToFile(path string, cfg *Config) error {
	// Ensure the directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	// Check if config already exists
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
