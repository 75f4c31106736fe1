package main

import (
	"github.com/spf13/cobra"

	"github.com/dukerupert/ticketeer/internal/config"
)

// NewRootCmd creates the root command for the ticketeer CLI.
func NewRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "ticketeer",
		Short: "Ticketeer - event ticketing backend",
		Long: `Ticketeer serves user accounts, event listings and QR ticket
issuance and validation over a JSON HTTP API.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd(&configFile))
	cmd.AddCommand(NewMigrateCmd(&configFile))
	cmd.AddCommand(NewBackupCmd(&configFile))

	return cmd
}
