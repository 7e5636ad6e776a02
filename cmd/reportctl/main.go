package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "reportctl",
	Short:        "Report scheduler command line",
	Long:         "Runs schedulers and previews report-ready notifications against the report scheduler database",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Path to a config file (defaults to config.yaml lookup and APP_* variables)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(runDueCmd)
	rootCmd.AddCommand(previewCmd)
	rootCmd.AddCommand(reportTypesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
