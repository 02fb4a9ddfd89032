package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/uavo-incident-aggregator/internal/config"
)

func newRunCommand() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one aggregation pass and print the batch result as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			since, err := flags.apply(cmd, cfg)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.pipeline.Aggregate(cmd.Context(), since)
			if err != nil {
				a.report(err)
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encode batch result: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.since, "since", "", "process observations at or after this RFC3339 time (default: resume from the last watermark)")
	cmd.Flags().DurationVar(&flags.timeWindow, "time-window", 0, "maximum gap between consecutive observations in a cluster (overrides TIME_WINDOW)")
	cmd.Flags().Float64Var(&flags.spatialThresholdKm, "spatial-threshold-km", 0, "maximum distance to a cluster's last observation (overrides SPATIAL_THRESHOLD_KM)")
	cmd.Flags().StringVar(&flags.weights, "weights", "", "point-count,diversity,correlation confidence weights (overrides CONFIDENCE_WEIGHTS)")
	return cmd
}
