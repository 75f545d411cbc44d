package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crystaldolphin/qqadapter/internal/config"
	"github.com/crystaldolphin/qqadapter/internal/dependency"
	"github.com/crystaldolphin/qqadapter/internal/logger"
	"github.com/crystaldolphin/qqadapter/internal/shared/cmdutils"
)

var (
	runHost    string
	runPort    int
	runVerbose bool
	runLogFile string
	runNoWatch bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the adapter",
	RunE:  runAdapter,
}

func init() {
	def := config.DefaultAppConfig()
	runCmd.Flags().StringVar(&runHost, "host", def.Webhook.Host, "Webhook listen host")
	runCmd.Flags().IntVarP(&runPort, "port", "p", def.Webhook.Port, "Webhook listen port")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Verbose logging")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Also write logs to this rotating file")
	runCmd.Flags().BoolVar(&runNoWatch, "no-watch", false, "Do not reload the bot list on change")
}

func appConfigFromFlags() config.AppConfig {
	cfg := config.DefaultAppConfig()
	cfg.BotsPath = botsPath
	cfg.Webhook.Host = runHost
	cfg.Webhook.Port = runPort
	cfg.Log.File = runLogFile
	if runVerbose {
		cfg.Log.Level = "debug"
	}
	cfg.Watch = !runNoWatch
	return cfg
}

func runAdapter(_ *cobra.Command, _ []string) error {
	appCfg := appConfigFromFlags()

	closer, err := logger.Init(appCfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer closer.Close()

	bots, err := config.Load(appCfg.BotsPath)
	if err != nil {
		return fmt.Errorf("load bots: %w", err)
	}

	c, err := dependency.New(appCfg)
	if err != nil {
		return fmt.Errorf("wire services: %w", err)
	}
	reg := c.Registry()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Host().Run(gctx) })
	g.Go(func() error { return reg.Run(gctx) })
	g.Go(func() error { return c.Refresher().Start(gctx) })
	g.Go(func() error { return c.Webhooks().Start(gctx) })

	fmt.Printf("%s Starting qqadapter with %d bot(s) from %s\n", cmdutils.Logo, len(bots), appCfg.BotsPath)
	for _, b := range bots {
		if b.Disable {
			continue
		}
		if err := reg.Apply(gctx, b); err != nil {
			slog.Error("run: bot not started", "bot", b.AppID, "err", err)
			continue
		}
		cmdutils.Success("%s (%s)", b.AppID, b.Mode)
	}

	if appCfg.Watch {
		w := config.NewWatcher(appCfg.BotsPath, bots, func(ctx context.Context, d config.Diff) {
			if err := reg.Reconcile(ctx, d); err != nil {
				slog.Warn("run: reload partially applied", "err", err)
			}
		})
		g.Go(func() error { return w.Run(gctx) })
	}

	fmt.Printf("%s Adapter running. Press Ctrl+C to stop.\n", cmdutils.Logo)

	err = g.Wait()
	reg.Shutdown()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "adapter error: %v\n", err)
		return err
	}
	fmt.Println("\nShutdown complete.")
	return nil
}
