package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"controlling_reservoir/internal/config"
	"controlling_reservoir/internal/gateway"
	"controlling_reservoir/internal/logger"
	"controlling_reservoir/internal/models"

	"github.com/spf13/cobra"
)

func newPortsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports a controller could be attached to",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ports, err := gateway.ListPorts()
			if err != nil {
				return fmt.Errorf("list serial ports: %w", err)
			}
			if len(ports) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no serial ports found")
				return nil
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

// newReadCmd samples each reservoir once through the gateway and prints the readings.
func newReadCmd(configPath *string) *cobra.Command {
	var (
		reservoirID string
		withPumps   bool
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "read [reservoir]",
		Short: "Read the current level of one or all reservoirs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				reservoirID = args[0]
			}
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			log := logger.New(cfg.Log.Level)
			reservoirs := configuredReservoirs(cfg)
			device := gateway.New(gatewayConfig(cfg, reservoirs), log.Named("gateway"))

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			mode, err := device.Connect(ctx, cfg.Gateway.Port)
			if err != nil {
				return err
			}
			defer func() { _ = device.Disconnect() }()

			readings := make([]models.Reading, 0, len(reservoirs))
			for _, r := range reservoirs {
				if reservoirID != "" && r.ID != reservoirID {
					continue
				}
				reading, err := device.ReadLevel(ctx, r.ID)
				if err != nil {
					return fmt.Errorf("read %s: %w", r.ID, err)
				}
				readings = append(readings, reading)
			}
			if reservoirID != "" && len(readings) == 0 {
				return fmt.Errorf("unknown reservoir %q", reservoirID)
			}

			out := map[string]any{
				"mode":     mode.String(),
				"readings": readings,
			}
			if withPumps {
				pumps, err := device.PumpStatus(ctx)
				if err != nil {
					return fmt.Errorf("pump status: %w", err)
				}
				out["pumps"] = pumps
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVarP(&reservoirID, "reservoir", "r", "", "reservoir id (default all)")
	cmd.Flags().BoolVar(&withPumps, "pumps", false, "also query the controller's pump states")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "overall timeout")
	return cmd
}
