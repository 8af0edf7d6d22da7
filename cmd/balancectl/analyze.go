package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/balance_recorder/internal/balance"
	"github.com/relabs-tech/balance_recorder/internal/export"
)

func printResult(w io.Writer, res balance.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	d, f := res.Details, res.Features
	fmt.Fprintf(w, "Status:            %s (%s)\n", res.Status, res.Tier())
	fmt.Fprintf(w, "Stability:         %.1f%%\n", res.Stability)
	fmt.Fprintf(w, "Samples:           %d\n", f.Samples)
	fmt.Fprintf(w, "Accel variability: %.3f\n", d.AccelVariability)
	fmt.Fprintf(w, "Gyro variability:  %.3f\n", d.GyroVariability)
	fmt.Fprintf(w, "Total movement:    %.3f\n", d.TotalMovement)
	fmt.Fprintf(w, "Lateral sway:      %.3f\n", f.LateralSway)
	fmt.Fprintf(w, "Tremor:            %t (%d extrema)\n", f.Tremor, f.Extrema)
	fmt.Fprintf(w, "Gait irregular:    %t\n", f.GaitIrregular)
	fmt.Fprintf(w, "Risk score:        %d\n", f.RiskScore)
	_, err := fmt.Fprintf(w, "\n%s\n", res.Message)
	return err
}

func analyzeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "analyze <combined.csv>",
		Short: "Score a combined CSV export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", args[0], err)
			}
			defer f.Close()

			rec, err := export.Decode(f)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			return printResult(cmd.OutOrStdout(), balance.Analyze(rec), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}
