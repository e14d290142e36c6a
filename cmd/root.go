// Package cmd provides the quorum CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Quorum - multi-model consensus for LLM answers",
	Long: `Quorum asks several models to draft, refine, and validate an answer,
votes on the result, and has a curator finalize it.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
}

func Execute() error {
	return rootCmd.Execute()
}
