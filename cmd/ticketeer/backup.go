package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/dukerupert/ticketeer/internal/backup"
	"github.com/dukerupert/ticketeer/internal/config"
	"github.com/dukerupert/ticketeer/internal/database"
	"github.com/dukerupert/ticketeer/internal/errutil"
	"github.com/dukerupert/ticketeer/internal/logging"
)

func backupConfig(cfg *config.Config) backup.Config {
	return backup.Config{
		Endpoint:   cfg.BackupEndpoint,
		Bucket:     cfg.BackupBucket,
		Region:     cfg.BackupRegion,
		AccessKey:  cfg.BackupAccessKey,
		SecretKey:  cfg.BackupSecretKey,
		Prefix:     cfg.BackupPrefix,
		Passphrase: cfg.BackupPassphrase,
	}
}

// snapshot takes one backup and prunes expired ones.
func snapshot(ctx context.Context, m *backup.Manager, retention time.Duration, logger *slog.Logger) (string, error) {
	key, err := m.Run(ctx)
	if err != nil {
		return "", err
	}
	if retention > 0 {
		if _, err := m.Prune(ctx, retention); err != nil {
			errutil.LogError(logger, "prune failed", err)
		}
	}
	return key, nil
}

// NewBackupCmd creates the backup subcommand and its children.
func NewBackupCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload an encrypted database snapshot",
		Long: `Snapshot the SQLite database, encrypt it with the backup passphrase and
upload it to the configured bucket. Snapshots older than the retention
window are deleted afterwards.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), *configFile)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

			db, err := database.Open(cfg.DatabasePath())
			if err != nil {
				return oops.Code(errutil.CodeDependency).With("path", cfg.DatabasePath()).Wrapf(err, "open database")
			}
			defer db.Close()

			m, err := backup.NewManager(backupConfig(cfg), db, logger)
			if err != nil {
				return err
			}
			key, err := snapshot(cmd.Context(), m, cfg.BackupRetention, logger)
			if err != nil {
				return err
			}
			cmd.Printf("Uploaded %s\n", key)
			return nil
		},
	}

	cmd.AddCommand(newBackupListCmd(configFile))
	cmd.AddCommand(newBackupRestoreCmd(configFile))
	return cmd
}

func newBackupListCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), *configFile)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

			m, err := backup.NewManager(backupConfig(cfg), nil, logger)
			if err != nil {
				return err
			}
			objects, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, obj := range objects {
				cmd.Printf("%s\t%d\t%s\n", obj.Key, obj.Size, obj.LastModified.UTC().Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newBackupRestoreCmd(configFile *string) *cobra.Command {
	var key, output string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Download and decrypt a snapshot to a new file",
		Long: `Restore writes the snapshot to --output, which must not exist. The live
database is never touched; stop the server and move the file into place.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), *configFile)
			if err != nil {
				return err
			}
			logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

			m, err := backup.NewManager(backupConfig(cfg), nil, logger)
			if err != nil {
				return err
			}
			if err := m.Restore(cmd.Context(), key, output); err != nil {
				return err
			}
			cmd.Printf("Restored %s to %s\n", key, output)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "object key of the snapshot")
	cmd.Flags().StringVar(&output, "output", "", "path of the restored database file")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
