package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor bool
	asUser  string
)

var rootCmd = &cobra.Command{
	Use:           "intake",
	Short:         "Adaptive symptom assessment service",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&asUser, "user", "local", "user id for client commands and the MCP server")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(assessCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
