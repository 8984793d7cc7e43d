package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/nsu-agent/pkg/events"
	"github.com/cuemby/nsu-agent/pkg/log"
	"github.com/cuemby/nsu-agent/pkg/metrics"
	"github.com/cuemby/nsu-agent/pkg/nsu"
	"github.com/cuemby/nsu-agent/pkg/nsuconfig"
	"github.com/cuemby/nsu-agent/pkg/rmapi"
	"github.com/cuemby/nsu-agent/pkg/types"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Register with the configured controller and run the heartbeat loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		cfg, err := nsuconfig.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		conn, err := grpc.NewClient(cfg.ControllerAddress, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("failed to dial controller at %s: %w", cfg.ControllerAddress, err)
		}
		defer conn.Close()
		tracker := rmapi.NewGRPCResourceTracker(conn)

		containment := nsu.NewLocalContainment()
		if cfg.RecoveryEnabled && cfg.RecoveryStateStorePath != "" {
			store, err := nsu.OpenBoltStateStore(cfg.RecoveryStateStorePath)
			if err != nil {
				return fmt.Errorf("failed to open recovery state store: %w", err)
			}
			defer store.Close()
			containment.SetStateStore(store)
		}

		bus := events.NewBroker()
		bus.Start()
		defer bus.Stop()

		totalResource := types.Resource{MemoryMiB: 8192, VCores: 4}

		svc, err := nsu.NewService(cfg, tracker, containment, bus, types.NodeID(cfg.NodeID), totalResource, totalResource)
		if err != nil {
			return fmt.Errorf("failed to initialize node status updater: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		startCtx, startCancel := context.WithTimeout(ctx, 30*time.Second)
		defer startCancel()
		if err := svc.Start(startCtx); err != nil {
			return fmt.Errorf("failed to start node status updater: %w", err)
		}

		if metricsAddr != "" {
			go func() {
				http.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(metricsAddr, nil); err != nil {
					log.WithComponent("cli").Error().Err(err).Msg("metrics server exited")
				}
			}()
			log.WithComponent("cli").Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")
		}

		log.WithComponent("cli").Info().Str("nodeId", cfg.NodeID).Str("controller", cfg.ControllerAddress).Msg("node status updater running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.WithComponent("cli").Info().Msg("shutting down")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := svc.Stop(stopCtx); err != nil {
			return fmt.Errorf("failed to stop cleanly: %w", err)
		}

		return nil
	},
}

func init() {
	startCmd.Flags().String("config", "/etc/nsu-agent/config.yaml", "Path to the node status updater's YAML config file")
	startCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve Prometheus metrics on (empty disables it)")
}
