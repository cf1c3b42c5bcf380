package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Napageneral/recall/internal/backup"
	"github.com/Napageneral/recall/internal/config"
	"github.com/Napageneral/recall/internal/state"
	"github.com/Napageneral/recall/internal/store"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "recall",
		Short: "Incremental conversation archive",
		Long: `Recall ingests conversations from chat platforms into a durable
file store, tracks per-source cursors for incremental fetching, and
prepares stored conversations for downstream embedding.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(stateCmd())
	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(backupCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("recall %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize recall config, storage and state database",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				fail("load config: %v", err)
			}

			configDir, err := config.GetConfigDir()
			if err != nil {
				fail("resolve config directory: %v", err)
			}
			if err := os.MkdirAll(configDir, 0755); err != nil {
				fail("create config directory: %v", err)
			}

			convDir, err := cfg.ConversationsDir()
			if err != nil {
				fail("resolve storage directory: %v", err)
			}
			if _, err := store.New(convDir, store.WithLockTimeout(cfg.LockTimeout())); err != nil {
				fail("create conversation store: %v", err)
			}

			dbPath, err := config.StateDBPath()
			if err != nil {
				fail("resolve state database path: %v", err)
			}
			mgr, err := state.Open(dbPath)
			if err != nil {
				fail("initialize state database: %v", err)
			}
			mgr.Close()

			if jsonOutput {
				printJSON(map[string]any{
					"ok":          true,
					"config_dir":  configDir,
					"storage_dir": convDir,
					"db_path":     dbPath,
				})
			} else {
				fmt.Printf("✓ Config directory: %s\n", configDir)
				fmt.Printf("✓ Conversation storage: %s\n", convDir)
				fmt.Printf("✓ State database: %s\n", dbPath)
				fmt.Println("\nRecall initialized successfully!")
			}
		},
	}
}

func stateCmd() *cobra.Command {
	stateRoot := &cobra.Command{
		Use:   "state",
		Short: "Inspect and reset per-source ingestion cursors",
	}

	stateRoot.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show every source's cursor state",
		Run: func(cmd *cobra.Command, args []string) {
			mgr := openState()
			defer mgr.Close()

			entries, err := mgr.List(context.Background())
			if err != nil {
				fail("list state: %v", err)
			}
			if jsonOutput {
				printJSON(entries)
				return
			}
			if len(entries) == 0 {
				fmt.Println("No sources registered")
				return
			}
			for _, e := range entries {
				fmt.Printf("%s\tlast_timestamp=%d\n", e.SourceID, e.LastTimestamp)
			}
		},
	})

	stateRoot.AddCommand(&cobra.Command{
		Use:   "reset <source>",
		Short: "Reset a source's cursor (next run does a full fetch)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			mgr := openState()
			defer mgr.Close()

			if err := mgr.Reset(context.Background(), args[0]); err != nil {
				fail("reset %s: %v", args[0], err)
			}
			if jsonOutput {
				printJSON(map[string]any{"ok": true, "source": args[0]})
			} else {
				fmt.Printf("✓ Reset cursor for %s\n", args[0])
			}
		},
	})

	return stateRoot
}

func storeCmd() *cobra.Command {
	storeRoot := &cobra.Command{
		Use:   "store",
		Short: "Inspect the conversation store",
	}

	var statusFlag string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored conversation ids",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			var statuses []store.Status
			if statusFlag != "" {
				statuses = append(statuses, store.Status(statusFlag))
			}
			ids, err := st.List(statuses...)
			if err != nil {
				fail("list conversations: %v", err)
			}
			if jsonOutput {
				printJSON(ids)
				return
			}
			for _, id := range ids {
				fmt.Println(id)
			}
		},
	}
	listCmd.Flags().StringVar(&statusFlag, "status", "", "Filter by status (unprocessed|processed)")
	storeRoot.AddCommand(listCmd)

	storeRoot.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show processed/unprocessed conversation counts",
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore()
			stats, err := st.Stats()
			if err != nil {
				fail("store stats: %v", err)
			}
			if jsonOutput {
				printJSON(stats)
			} else {
				fmt.Printf("Unprocessed: %d\nProcessed:   %d\nTotal:       %d\n",
					stats.Unprocessed, stats.Processed, stats.Total)
			}
		},
	})

	return storeRoot
}

func backupCmd() *cobra.Command {
	backupRoot := &cobra.Command{
		Use:   "backup",
		Short: "Create, list and restore store snapshots",
	}

	var tag string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the conversation store",
		Run: func(cmd *cobra.Command, args []string) {
			dir, err := openBackup().Create(tag)
			if err != nil {
				fail("create backup: %v", err)
			}
			if jsonOutput {
				printJSON(map[string]string{"dir": dir})
			} else {
				fmt.Printf("✓ Backup created: %s\n", dir)
			}
		},
	}
	createCmd.Flags().StringVar(&tag, "tag", "", "Optional tag suffix for the snapshot name")
	backupRoot.AddCommand(createCmd)

	backupRoot.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			infos, err := openBackup().List()
			if err != nil {
				fail("list backups: %v", err)
			}
			if jsonOutput {
				printJSON(infos)
				return
			}
			if len(infos) == 0 {
				fmt.Println("No backups")
				return
			}
			for _, info := range infos {
				fmt.Printf("%s\t%d files\n", info.ID, info.FileCount)
			}
		},
	})

	var overwrite bool
	restoreCmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore a snapshot into the conversation store",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			count, err := openBackup().Restore(args[0], overwrite)
			if err != nil {
				fail("restore %s: %v", args[0], err)
			}
			if jsonOutput {
				printJSON(map[string]any{"restored": count})
			} else {
				fmt.Printf("✓ Restored %d files\n", count)
			}
		},
	}
	restoreCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing conversation files")
	backupRoot.AddCommand(restoreCmd)

	return backupRoot
}

func openStore() *store.Store {
	cfg, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}
	dir, err := cfg.ConversationsDir()
	if err != nil {
		fail("resolve storage directory: %v", err)
	}
	backupsDir, err := cfg.BackupsDir()
	if err != nil {
		fail("resolve backups directory: %v", err)
	}
	mgr := backup.New(dir, backupsDir, cfg.MaxBackups, cfg.BackupInterval())
	st, err := store.New(dir,
		store.WithLockTimeout(cfg.LockTimeout()),
		store.WithAfterSave(mgr.MaybeAuto))
	if err != nil {
		fail("open conversation store: %v", err)
	}
	return st
}

func openBackup() *backup.Manager {
	cfg, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}
	convDir, err := cfg.ConversationsDir()
	if err != nil {
		fail("resolve storage directory: %v", err)
	}
	backupsDir, err := cfg.BackupsDir()
	if err != nil {
		fail("resolve backups directory: %v", err)
	}
	return backup.New(convDir, backupsDir, cfg.MaxBackups, cfg.BackupInterval())
}

func openState() *state.Manager {
	dbPath, err := config.StateDBPath()
	if err != nil {
		fail("resolve state database path: %v", err)
	}
	mgr, err := state.Open(dbPath)
	if err != nil {
		fail("open state database: %v", err)
	}
	return mgr
}

func fail(format string, args ...any) {
	if jsonOutput {
		printJSON(map[string]any{"ok": false, "message": fmt.Sprintf(format, args...)})
	} else {
		fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	}
	os.Exit(1)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode output: %v\n", err)
	}
}
