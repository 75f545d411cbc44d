package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crystaldolphin/qqadapter/internal/config"
	"github.com/crystaldolphin/qqadapter/internal/gateway"
	"github.com/crystaldolphin/qqadapter/internal/shared/stringutils"
)

var botsCmd = &cobra.Command{
	Use:   "bots",
	Short: "List configured bots",
	RunE: func(_ *cobra.Command, _ []string) error {
		bots, err := config.Load(botsPath)
		if err != nil {
			return fmt.Errorf("load bots: %w", err)
		}
		if len(bots) == 0 {
			fmt.Printf("No bots configured in %s\n", botsPath)
			return nil
		}

		fmt.Printf("%-12s %-16s %-8s %-8s %-10s %s\n", "AppID", "Name", "Enabled", "Mode", "Secret", "Intents")
		fmt.Println(strings.Repeat("-", 96))
		for _, b := range bots {
			fmt.Printf("%-12s %-16s %-8s %-8s %-10s %s\n",
				b.AppID,
				stringutils.Truncate(b.Name, 13),
				yesNo(!b.Disable),
				b.Mode,
				stringutils.Mask(b.Secret),
				gateway.IntentsFor(b).String(),
			)
		}
		return nil
	},
}

func yesNo(b bool) string {
	if b {
		return "✓"
	}
	return "✗"
}
