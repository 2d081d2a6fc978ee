package main

import (
	"github.com/spf13/cobra"

	"github.com/folioworks/folio/internal/api"
	"github.com/folioworks/folio/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Long-document generation pipeline with grounded retrieval",
	Long: `Folio generates long academic documents from a thesis specification:
title, research question, outline, citation style and target length.

The pipeline includes:
  - Scholarly literature search with relevance ranking
  - Source ingestion into a retrieval store for grounded generation
  - Chaptered generation with word budgets and rolling summaries
  - Iterative critique and repair against the outline and sources
  - Detectability and originality post-processing`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.folio/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "folio home directory (default: ~/.folio)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}
