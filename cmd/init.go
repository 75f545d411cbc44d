package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/qqadapter/internal/config"
	"github.com/crystaldolphin/qqadapter/internal/config/channel"
	"github.com/crystaldolphin/qqadapter/internal/shared/cmdutils"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or normalise the bot list file",
	RunE:  runInit,
}

func runInit(_ *cobra.Command, _ []string) error {
	if _, err := os.Stat(botsPath); err == nil {
		existing, err := config.Load(botsPath)
		if err != nil {
			return fmt.Errorf("load bots: %w", err)
		}
		if err := config.Save(existing, botsPath); err != nil {
			return err
		}
		cmdutils.Success("Bot list normalised at %s", botsPath)
		return nil
	}

	example := channel.DefaultQQConfig()
	example.AppID = "your-app-id"
	example.Secret = "your-client-secret"
	example.Disable = true
	if err := config.Save([]channel.QQConfig{example}, botsPath); err != nil {
		return err
	}
	cmdutils.Success("Created bot list at %s", botsPath)

	fmt.Printf("\n%s qqadapter is ready!\n\n", cmdutils.Logo)
	fmt.Println("Next steps:")
	fmt.Printf("  1. Put your appId and secret in %s and remove \"disable\"\n", botsPath)
	fmt.Println("     Get them at: https://q.qq.com")
	fmt.Println("  2. Start: qqadapter run")
	return nil
}
