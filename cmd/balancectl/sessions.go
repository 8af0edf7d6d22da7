package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/relabs-tech/balance_recorder/internal/balance"
	"github.com/relabs-tech/balance_recorder/internal/export"
	"github.com/relabs-tech/balance_recorder/internal/motion"
	"github.com/relabs-tech/balance_recorder/internal/storage"
)

func sessionsCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored recording sessions",
	}
	cmd.PersistentFlags().StringVar(&dbPath, "db", "balance.db", "path to the recorder database")

	open := func() (*storage.DB, error) {
		db, err := storage.NewDB(dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return db, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			list, err := db.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTARTED\tSAMPLES\tSTATUS\tSTABILITY")
			for _, s := range list {
				status, stability := "-", "-"
				if s.Analysis != nil {
					status = string(s.Analysis.Status)
					stability = fmt.Sprintf("%.1f", s.Analysis.Stability)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					s.ID, s.Name, s.StartedAt.Format(time.RFC3339), s.Samples, status, stability)
			}
			return tw.Flush()
		},
	})

	var asJSON, reanalyze bool
	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show the analysis of a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			s, rec, err := db.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res := s.Analysis
			if res == nil || reanalyze {
				r := balance.Analyze(rec)
				res = &r
				if err := db.SaveAnalysis(cmd.Context(), s.ID, r); err != nil {
					return err
				}
			}
			if !asJSON {
				fmt.Fprintf(cmd.OutOrStdout(), "Session %s (%s), %d samples\n\n", s.ID, s.Name, len(rec))
			}
			return printResult(cmd.OutOrStdout(), *res, asJSON)
		},
	}
	show.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	show.Flags().BoolVar(&reanalyze, "reanalyze", false, "recompute and store the analysis")
	cmd.AddCommand(show)

	var kind string
	exp := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a stored session as CSV to stdout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			_, rec, err := db.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if kind == "" {
				return export.WriteCombined(cmd.OutOrStdout(), rec)
			}
			return export.WriteKind(cmd.OutOrStdout(), rec, motion.Kind(kind))
		},
	}
	exp.Flags().StringVar(&kind, "kind", "", "accelerometer, gyroscope or magnetometer (default: combined)")
	cmd.AddCommand(exp)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := open()
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.DeleteSession(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}
