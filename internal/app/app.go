package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"orgvault/internal/archive"
	"orgvault/internal/backup"
	"orgvault/internal/config"
	"orgvault/internal/encryption"
	"orgvault/internal/job"
	"orgvault/internal/orgvault"
	"orgvault/internal/source"
	"orgvault/internal/timemachine"
	"orgvault/internal/vault"
)

// App is the application layer between the CLI and the core packages.
// It constructs all dependencies from config and manages the log file
// lifecycle. The caller must call Close when done.
type App struct {
	cfg       *config.Config
	src       source.RecordSource
	jobs      *job.Manager
	tm        *timemachine.TimeMachine
	archiver  *archive.Archiver
	encryptor orgvault.Encryptor
	clock     orgvault.Clock
	logger    orgvault.Logger
	logFile   *os.File
}

// NewApp creates a fully wired App from the given config. idgen supplies the
// operation id stamped onto every log line of this invocation.
func NewApp(cfg *config.Config, idgen orgvault.IDGenerator) (*App, error) {
	if cfg.Source.InstanceURL == "" {
		return nil, fmt.Errorf("no source instance_url configured")
	}
	if cfg.Backup.Root == "" {
		return nil, fmt.Errorf("no backup root configured")
	}

	slogger, logFile, err := newLogger(cfg.LogDir, idgen.New())
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	logger := &slogAdapter{l: slogger}

	src := source.NewRESTSource(source.Config{
		InstanceURL: cfg.Source.InstanceURL,
		APIToken:    cfg.Source.APIToken,
		APIVersion:  cfg.Source.APIVersion,
		ClientID:    cfg.Source.ClientID,
		Timeout:     time.Duration(cfg.Source.TimeoutSeconds) * time.Second,
	})

	clock := orgvault.RealClock{}

	jobs := job.NewManager(src, clock, logger, job.Config{
		BackupRoot:   cfg.Backup.Root,
		JobDir:       cfg.Jobs.Dir,
		CleanupGrace: time.Duration(cfg.Jobs.CleanupGraceSeconds) * time.Second,
	})

	encryptor, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	a := &App{
		cfg:       cfg,
		src:       src,
		jobs:      jobs,
		tm:        timemachine.New(cfg.Backup.Root, logger),
		encryptor: encryptor,
		clock:     clock,
		logger:    logger,
		logFile:   logFile,
	}

	if len(cfg.Vaults) > 0 {
		v, err := vault.NewVaultFromConfig(context.Background(), cfg.Vaults[0])
		if err != nil {
			logFile.Close()
			return nil, fmt.Errorf("creating vault: %w", err)
		}
		var archiveEnc orgvault.Encryptor
		if cfg.Archive.Encrypt {
			archiveEnc = encryptor
		}
		a.archiver = archive.NewArchiver(v, archiveEnc, logger, cfg.Backup.Root)
	}

	return a, nil
}

// DefaultOptions builds run options from configuration.
func (a *App) DefaultOptions() backup.Options {
	return backup.Options{
		IncludeFiles:    a.cfg.Backup.IncludeFiles,
		Concurrency:     a.cfg.Backup.Concurrency,
		Retries:         a.cfg.Backup.Retries,
		QueryLimit:      a.cfg.Backup.QueryLimit,
		FieldLimit:      a.cfg.Backup.FieldLimit,
		ContentLimit:    a.cfg.Backup.ContentLimit,
		AttachmentLimit: a.cfg.Backup.AttachmentLimit,
		DocumentLimit:   a.cfg.Backup.DocumentLimit,
	}
}

// RunBackup executes a snapshot run synchronously.
func (a *App) RunBackup(ctx context.Context, opts backup.Options) (*backup.Result, error) {
	writer := &backup.Writer{
		Source: a.src,
		Clock:  a.clock,
		Logger: a.logger,
		Root:   a.cfg.Backup.Root,
	}
	return writer.CreateSnapshot(ctx, opts)
}

// StartBackup starts a snapshot run as a background job and returns
// immediately.
func (a *App) StartBackup(ctx context.Context, opts backup.Options) (*job.Handle, error) {
	return a.jobs.Start(ctx, opts)
}

// JobStatus returns a job's record, or nil if no such job exists.
func (a *App) JobStatus(jobID string) (*job.Record, error) {
	return a.jobs.Status(jobID)
}

// ListJobs returns all job records, newest first.
func (a *App) ListJobs() ([]*job.Record, error) {
	return a.jobs.List()
}

// ListBackups lists all committed snapshots.
func (a *App) ListBackups() *timemachine.ListBackupsResult {
	return a.tm.ListBackups()
}

// QueryAtPointInTime answers a historical query.
func (a *App) QueryAtPointInTime(target time.Time, objectType string, filters timemachine.Filters) *timemachine.QueryResult {
	return a.tm.QueryAtPointInTime(target, objectType, filters)
}

// CompareOverTime compares an object type's records between two times.
func (a *App) CompareOverTime(start, end time.Time, objectType string, filters timemachine.Filters) *timemachine.CompareResult {
	return a.tm.CompareOverTime(start, end, objectType, filters)
}

// GetRecordHistory assembles one record's change history across snapshots.
func (a *App) GetRecordHistory(id, objectType string) *timemachine.HistoryResult {
	return a.tm.GetRecordHistory(id, objectType)
}

// SetupEncryption generates the archive encryption key pair.
func (a *App) SetupEncryption(passphrase string) (string, error) {
	return a.encryptor.Setup(passphrase)
}

// ArchiveSnapshot packs a committed snapshot and uploads it to the vault.
func (a *App) ArchiveSnapshot(name string) (string, error) {
	if a.archiver == nil {
		return "", fmt.Errorf("no vaults configured")
	}
	return a.archiver.Archive(name)
}

// RestoreArchive fetches an archive and unpacks it under the backup root.
// passphrase is only needed for encrypted archives.
func (a *App) RestoreArchive(name, passphrase string) (string, error) {
	if a.archiver == nil {
		return "", fmt.Errorf("no vaults configured")
	}

	var dc orgvault.DecryptionContext
	if passphrase != "" {
		unlocked, err := a.encryptor.Unlock(passphrase)
		if err != nil {
			return "", fmt.Errorf("unlocking private key: %w", err)
		}
		dc = unlocked
	}
	return a.archiver.Restore(name, dc)
}

// ListArchives returns the names of all archives in the vault.
func (a *App) ListArchives() ([]string, error) {
	if a.archiver == nil {
		return nil, fmt.Errorf("no vaults configured")
	}
	return a.archiver.List()
}

// Close releases the log file.
func (a *App) Close() error {
	if a.logFile != nil {
		return a.logFile.Close()
	}
	return nil
}
