package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aint-no-code/reclaw-conformance/internal/config"
	"github.com/aint-no-code/reclaw-conformance/internal/history"
	"github.com/aint-no-code/reclaw-conformance/internal/report"
)

func newHistoryCmd(stdout io.Writer, cfg *config.Config) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [report-id]",
		Short: "Show recorded reports, or the outcomes of one report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.HistoryDB == "" {
				return errors.New("--history-db (or RECLAW_HISTORY_DB) is required")
			}
			store, err := history.NewSQLiteStore(cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx := cmd.Context()
			if len(args) == 1 {
				outcomes, err := store.GetOutcomes(ctx, args[0])
				if err != nil {
					return err
				}
				if len(outcomes) == 0 {
					return fmt.Errorf("report %s not found", args[0])
				}
				rep := report.New("", time.Time{}, outcomes)
				if cfg.JSON {
					return rep.WriteJSON(stdout)
				}
				return rep.WriteText(stdout, false)
			}

			summaries, err := store.ListReports(ctx, limit)
			if err != nil {
				return err
			}
			if cfg.JSON {
				enc := json.NewEncoder(stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summaries)
			}

			w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tBASE URL\tTOTAL\tFAILED\tSKIPPED")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					s.ID, s.StartedAt.Local().Format(time.DateTime), s.BaseURL, s.Total, s.Failed, s.Skipped)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "number of reports to show")
	return cmd
}
