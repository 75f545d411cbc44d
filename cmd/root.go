// Package cmd implements the qqadapter CLI using cobra.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/qqadapter/internal/config"
	"github.com/crystaldolphin/qqadapter/internal/shared/cmdutils"
)

const version = "0.1.0"

var botsPath string

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "qqadapter",
	Short: cmdutils.Logo + " qqadapter: QQ bot gateway adapter",
	Long:  cmdutils.Logo + " qqadapter connects QQ open platform bots to a host bot framework",
}

// Execute runs the root command and exits on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVarP(&botsPath, "bots", "b", config.BotsPath(), "Bot list file (.json, .yaml or .yml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(botsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("%s qqadapter %s\n", cmdutils.Logo, version)
	},
}
