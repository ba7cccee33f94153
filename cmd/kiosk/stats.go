package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-arkiosk/internal/config"
	"github.com/teslashibe/go-arkiosk/internal/httpc"
	"github.com/teslashibe/go-arkiosk/pkg/analytics"
)

func newStatsCommand() *cobra.Command {
	var (
		url    string
		dbPath string
		recent int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-stand activation counts",
		Long: `Stats reads the analytics database directly, or asks a running kiosk
when --url is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var (
				summary []analytics.StandSummary
				entries []analytics.Entry
				err     error
			)
			if url != "" {
				summary, entries, err = remoteStats(ctx, strings.TrimRight(url, "/"), recent)
			} else {
				if dbPath == "" {
					k, lerr := config.LoadKiosk()
					if lerr != nil {
						return lerr
					}
					dbPath = k.AnalyticsPath()
				}
				summary, entries, err = localStats(ctx, dbPath, recent)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printSummary(out, summary)
			if recent > 0 {
				printEntries(out, entries)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Kiosk base URL (reads the local database when empty)")
	cmd.Flags().StringVar(&dbPath, "db", "", "Analytics database (default $KIOSK_DATA_DIR/analytics.db)")
	cmd.Flags().IntVar(&recent, "recent", 0, "Also list the N most recent events")
	return cmd
}

func localStats(ctx context.Context, path string, recent int) ([]analytics.StandSummary, []analytics.Entry, error) {
	store, err := analytics.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer store.Close()

	summary, err := store.Summary(ctx)
	if err != nil || recent <= 0 {
		return summary, nil, err
	}
	entries, err := store.Recent(ctx, recent)
	return summary, entries, err
}

func remoteStats(ctx context.Context, base string, recent int) ([]analytics.StandSummary, []analytics.Entry, error) {
	var summary struct {
		Stands []analytics.StandSummary `json:"stands"`
	}
	if err := httpc.GetJSON(ctx, base+"/api/analytics/summary", &summary); err != nil {
		return nil, nil, err
	}
	if recent <= 0 {
		return summary.Stands, nil, nil
	}

	var events struct {
		Events []analytics.Entry `json:"events"`
	}
	if err := httpc.GetJSON(ctx, base+"/api/analytics/recent?limit="+strconv.Itoa(recent), &events); err != nil {
		return nil, nil, err
	}
	return summary.Stands, events.Events, nil
}

func printSummary(w io.Writer, summary []analytics.StandSummary) {
	rows := make([][]string, 0, len(summary))
	for _, s := range summary {
		rows = append(rows, []string{
			string(s.Stand),
			strconv.Itoa(s.Activations),
			strconv.Itoa(s.Suspensions),
			strconv.Itoa(s.Clears),
			formatTime(s.LastActivated),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Stand", "Activations", "Suspensions", "Clears", "Last activated"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
}

func printEntries(w io.Writer, entries []analytics.Entry) {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		at := e.Occurred
		rows = append(rows, []string{formatTime(&at), string(e.Kind), string(e.Stand), dash(e.Session)})
	}
	fmt.Fprintln(w, renderTable([]string{"When", "Event", "Stand", "Session"}, rows, nil))
}
