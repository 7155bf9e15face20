// Command taskd serves the per-user task API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "taskd: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:   "taskd",
		Short: "Per-user task API with bearer token authentication",
		Long: `taskd serves a task list over HTTP. Every request is authenticated with a
bearer token, resolved under the policy chosen by AUTH_POLICY (remote, local
or claims), and scoped to the caller's own tasks.

Configuration is read from the environment, after loading an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading the environment (default .env)")

	root.AddCommand(
		serveCmd(&envFile),
		migrateCmd(&envFile),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskd %s (%s)\n", version, commit)
		},
	}
}
