package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/nsu-agent/pkg/events"
	"github.com/cuemby/nsu-agent/pkg/log"
	"github.com/cuemby/nsu-agent/pkg/nsu"
	"github.com/cuemby/nsu-agent/pkg/nsuconfig"
	"github.com/cuemby/nsu-agent/pkg/rmapi/rmfake"
	"github.com/cuemby/nsu-agent/pkg/types"
	"github.com/spf13/cobra"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the node status updater against an in-process fake controller",
	Long: `Drives a registration and a sequence of heartbeats against
rmfake.Controller rather than a real cluster controller. Useful for
exercising the heartbeat loop, the node-labels handler, and master-key
rotation without standing up a controller.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		intervalMS, _ := cmd.Flags().GetInt64("interval-ms")

		cfg := nsuconfig.Default()
		cfg.NodeID = nodeID
		cfg.ControllerAddress = "in-process-fake"
		cfg.Version = Version
		cfg.NMExpiryIntervalMS = intervalMS

		controller := rmfake.NewController()
		containment := nsu.NewLocalContainment()
		bus := events.NewBroker()
		bus.Start()
		defer bus.Stop()

		subscribeAndLog(bus)

		totalResource := types.Resource{MemoryMiB: 4096, VCores: 2}
		svc, err := nsu.NewService(cfg, controller, containment, bus, types.NodeID(nodeID), totalResource, totalResource)
		if err != nil {
			return fmt.Errorf("failed to initialize node status updater: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("simulated registration failed: %w", err)
		}

		log.WithComponent("simulate").Info().Str("nodeId", nodeID).Msg("simulated node status updater running against the in-process fake controller")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		return svc.Stop(stopCtx)
	},
}

func init() {
	simulateCmd.Flags().String("node-id", "sim-node-1", "Node ID to register under")
	simulateCmd.Flags().Int64("interval-ms", 5000, "Default heartbeat interval, in milliseconds, used until the fake controller supplies one")
}

func subscribeAndLog(bus *events.Broker) {
	sub := bus.Subscribe()
	simLog := log.WithComponent("simulate")
	go func() {
		for ev := range sub {
			simLog.Info().Str("event", string(ev.Type)).Msg("event observed")
		}
	}()
}
