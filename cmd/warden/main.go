package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/wardenhq/warden/pkg/config"
	"github.com/wardenhq/warden/pkg/events"
	"github.com/wardenhq/warden/pkg/log"
	"github.com/wardenhq/warden/pkg/metrics"
	"github.com/wardenhq/warden/pkg/monitor"
	"github.com/wardenhq/warden/pkg/storage"
	"github.com/wardenhq/warden/pkg/watchdog"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - safe zone controller for RCON-managed game servers",
	Long: `Warden keeps player-owned safe zones in sync with player presence
on remote game servers. It polls each server over a persistent RCON
session, drives every zone through its lifecycle as owners connect and
disconnect, and continuously reconciles the in-game configuration with
the desired state.`,
	Version: Version,
}

var configPath string

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Warden version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	runCmd.Flags().StringVarP(&configPath, "config", "c", "/etc/warden/warden.yaml", "Path to configuration file")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the zone controller",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      cfg.LogLevel(),
			JSONOutput: cfg.Log.JSON,
		})
		logger := log.WithComponent("main")

		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer store.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		// Surface audit notifications in the controller log. The
		// operator command surface subscribes the same way for chat
		// delivery.
		notifications := broker.Subscribe()
		go func() {
			for ev := range notifications {
				logger.Info().
					Str("event", string(ev.Type)).
					Str("server_id", ev.ServerID).
					Str("zone_id", ev.ZoneID).
					Msg(ev.Message)
			}
		}()

		wd := watchdog.New(store, cfg.Monitor.WatchdogInterval, cfg.Monitor.WatchdogThreshold)
		wd.Start()
		defer wd.Stop()

		if cfg.MetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					logger.Error().Err(err).Msg("metrics listener failed")
				}
			}()
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			cancel()
		}()

		logger.Info().Int("servers", len(cfg.Servers)).Msg("starting monitoring")
		sup := monitor.NewSupervisor(cfg, store, broker)
		return sup.Run(ctx)
	},
}
