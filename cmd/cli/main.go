package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	apiURL  string

	rootCmd = &cobra.Command{
		Use:   "coldtrack",
		Short: "Operate a coldtrack deployment",
		Long: `coldtrack manages a coldtrack deployment.

Database commands (migrate, create-superadmin) read DATABASE_URL and talk to
Postgres directly. The remaining commands call the HTTP API with the token
saved by "coldtrack login".`,
		Version:      version,
		SilenceUsage: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", envOr("COLDTRACK_API", "http://localhost:8080"), "API base URL")

	rootCmd.AddCommand(migrateCmd, superadminCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, whoamiCmd)
	rootCmd.AddCommand(liveCmd, exceptionsCmd, exportsCmd, workspacesCmd, backupCmd)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
