package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "curatord",
		Short: "Content curation pipeline daemon.",
		Long: `curatord ingests items from configured sources (feeds, search APIs,
community boards), dedupes them by canonical URL, enriches each record with
scraped page metadata, and optionally layers AI editorialisation and page
screenshots on top before announcing the record as publishable.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (YAML); without one, defaults and CURATOR_* env vars apply")

	cmd.AddCommand(newServeCmd())

	return cmd
}
