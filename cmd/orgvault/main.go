package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"orgvault/internal/app"
	"orgvault/internal/backup"
	"orgvault/internal/config"
	"orgvault/internal/orgvault"
	"orgvault/internal/timemachine"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp() (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, orgvault.UUIDGenerator{})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// printJSON renders v as indented JSON on stdout.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// backupOptions assembles run options from the shared backup flags.
func backupOptions(cmd *cobra.Command, a *app.App) (backup.Options, error) {
	opts := a.DefaultOptions()

	incremental, _ := cmd.Flags().GetBool("incremental")
	if incremental {
		opts.Type = backup.TypeIncremental
	}

	since, _ := cmd.Flags().GetString("since")
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return opts, fmt.Errorf("parsing --since: %w", err)
		}
		opts.Type = backup.TypeIncremental
		opts.Since = t
	}

	noFiles, _ := cmd.Flags().GetBool("no-files")
	if noFiles {
		opts.IncludeFiles = false
	}

	return opts, nil
}

// parseFilters converts repeated k=v flag values into time machine filters.
func parseFilters(pairs []string) (timemachine.Filters, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := timemachine.Filters{}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q, expected field=value", pair)
		}
		filters[k] = v
	}
	return filters, nil
}

// readPassphrase prompts for a passphrase without echoing it.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

var rootCmd = &cobra.Command{
	Use:   "orgvault",
	Short: "Org backup and historical query tool",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Generate a new client ID
		clientID := uuid.New().String()

		cfg := config.NewConfig(clientID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Client ID: %s\n", clientID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Client ID:    %s\n", cfg.Source.ClientID)
		fmt.Printf("Instance URL: %s\n", cfg.Source.InstanceURL)
		fmt.Printf("Base Dir:     %s\n", cfg.BaseDir)
		fmt.Printf("Backup Root:  %s\n", cfg.Backup.Root)
		fmt.Printf("Log Dir:      %s\n", cfg.LogDir)
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create snapshots",
}

var backupRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backup synchronously",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		opts, err := backupOptions(cmd, a)
		if err != nil {
			return err
		}

		result, err := a.RunBackup(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		stats := result.Manifest.DownloadStats
		fmt.Printf("Backup complete: %s\n", result.Directory)
		fmt.Printf("Duration: %s\n", result.Duration.Truncate(time.Millisecond))
		fmt.Printf("Files: %d content, %d attachments, %d documents, %d bytes, %d errors\n",
			stats.ContentVersions, stats.Attachments, stats.Documents, stats.TotalBytes, stats.Errors)
		return nil
	},
}

var backupStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run a backup as a tracked job",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		opts, err := backupOptions(cmd, a)
		if err != nil {
			return err
		}

		handle, err := a.StartBackup(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("starting backup: %w", err)
		}

		if err := printJSON(map[string]string{
			"jobId":     handle.JobID,
			"status":    "started",
			"directory": handle.Directory,
		}); err != nil {
			return err
		}

		// The job runs inside this process, so hold it open until the run
		// finishes. Progress is observable from another terminal via
		// `orgvault job status`.
		<-handle.Done
		return nil
	},
}

// job command
var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect backup jobs",
}

var jobStatusCmd = &cobra.Command{
	Use:   "status JOB_ID",
	Short: "View a job's status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		record, err := a.JobStatus(args[0])
		if err != nil {
			return err
		}
		if record == nil {
			fmt.Printf("No such job: %s\n", args[0])
			return nil
		}
		return printJSON(record)
	},
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.ListJobs()
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}
		return printJSON(records)
	},
}

// backups command
var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "List committed snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return printJSON(a.ListBackups())
	},
}

// query command
var queryCmd = &cobra.Command{
	Use:   "query OBJECT_TYPE",
	Short: "Query records as of a point in time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		target := time.Now()
		if at != "" {
			t, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return fmt.Errorf("parsing --at: %w", err)
			}
			target = t
		}

		filterPairs, _ := cmd.Flags().GetStringArray("filter")
		filters, err := parseFilters(filterPairs)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return printJSON(a.QueryAtPointInTime(target, args[0], filters))
	},
}

// compare command
var compareCmd = &cobra.Command{
	Use:   "compare OBJECT_TYPE",
	Short: "Compare records between two points in time",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		startStr, _ := cmd.Flags().GetString("start")
		endStr, _ := cmd.Flags().GetString("end")

		start, err := time.Parse(time.RFC3339, startStr)
		if err != nil {
			return fmt.Errorf("parsing --start: %w", err)
		}
		end, err := time.Parse(time.RFC3339, endStr)
		if err != nil {
			return fmt.Errorf("parsing --end: %w", err)
		}

		filterPairs, _ := cmd.Flags().GetStringArray("filter")
		filters, err := parseFilters(filterPairs)
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return printJSON(a.CompareOverTime(start, end, args[0], filters))
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history OBJECT_TYPE RECORD_ID",
	Short: "View a record's change history across snapshots",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		return printJSON(a.GetRecordHistory(args[1], args[0]))
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive snapshots to a vault",
}

var archiveKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the archive encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		passphrase, err := readPassphrase("Passphrase for private key: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		recipient, err := a.SetupEncryption(passphrase)
		if err != nil {
			return fmt.Errorf("generating key pair: %w", err)
		}

		fmt.Printf("Public key: %s\n", recipient)
		return nil
	},
}

var archiveRunCmd = &cobra.Command{
	Use:   "run SNAPSHOT",
	Short: "Pack a snapshot and upload it to the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		name, err := a.ArchiveSnapshot(args[0])
		if err != nil {
			return fmt.Errorf("archiving snapshot: %w", err)
		}

		fmt.Printf("Archived as %s\n", name)
		return nil
	},
}

var archiveRestoreCmd = &cobra.Command{
	Use:   "restore ARCHIVE",
	Short: "Fetch an archive and unpack it under the backup root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var passphrase string
		if strings.HasSuffix(args[0], ".age") {
			passphrase, err = readPassphrase("Passphrase for private key: ")
			if err != nil {
				return err
			}
		}

		dir, err := a.RestoreArchive(args[0], passphrase)
		if err != nil {
			return fmt.Errorf("restoring archive: %w", err)
		}

		fmt.Printf("Restored to %s\n", dir)
		return nil
	},
}

var archiveListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archives in the vault",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		names, err := a.ListArchives()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			fmt.Println("No archives found.")
			return nil
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

func addBackupFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("incremental", false, "Only fetch records modified since the last snapshot")
	cmd.Flags().String("since", "", "Only fetch records modified after this RFC3339 timestamp (implies --incremental)")
	cmd.Flags().Bool("no-files", false, "Skip binary file downloads")
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// backup subcommands
	backupCmd.AddCommand(backupRunCmd)
	backupCmd.AddCommand(backupStartCmd)
	addBackupFlags(backupRunCmd)
	addBackupFlags(backupStartCmd)

	// job subcommands
	jobCmd.AddCommand(jobStatusCmd)
	jobCmd.AddCommand(jobListCmd)

	// archive subcommands
	archiveCmd.AddCommand(archiveKeygenCmd)
	archiveCmd.AddCommand(archiveRunCmd)
	archiveCmd.AddCommand(archiveRestoreCmd)
	archiveCmd.AddCommand(archiveListCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(jobCmd)
	rootCmd.AddCommand(backupsCmd)
	rootCmd.AddCommand(queryCmd)
	queryCmd.Flags().String("at", "", "Point in time to query, RFC3339 (default: now)")
	queryCmd.Flags().StringArray("filter", nil, "Filter records by field=value (repeatable, * wildcards)")
	rootCmd.AddCommand(compareCmd)
	compareCmd.Flags().String("start", "", "Start of the comparison window, RFC3339")
	compareCmd.Flags().String("end", "", "End of the comparison window, RFC3339")
	compareCmd.Flags().StringArray("filter", nil, "Filter records by field=value (repeatable, * wildcards)")
	compareCmd.MarkFlagRequired("start")
	compareCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(archiveCmd)
}
