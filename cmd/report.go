package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/trace"
	"github.com/traffic-sim/traffic-sim/sim/trace/sqlite"
)

// reportOptions collects the report command's flags.
type reportOptions struct {
	DB     string
	RunID  string
	Events string
}

var reportOpts reportOptions

// reportCmd summarizes stored runs or a JSONL event file.
var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize stored simulation runs",
	Long: "With --events-db and no --run, list the stored runs. With --run, summarize that run's events. " +
		"With --events, summarize a JSONL event file written by run --events-out.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := report(context.Background(), reportOpts, os.Stdout); err != nil {
			logrus.Fatalf("Report failed: %v", err)
		}
	},
}

func report(ctx context.Context, opts reportOptions, out io.Writer) error {
	switch {
	case opts.Events != "":
		f, err := os.Open(opts.Events)
		if err != nil {
			return fmt.Errorf("opening events file: %w", err)
		}
		defer f.Close()
		records, err := trace.ReadJSONL(f)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Events file          : %s\n", opts.Events)
		printSummary(out, trace.Summarize(records))
		return nil
	case opts.DB != "":
		store, err := sqlite.Open(opts.DB)
		if err != nil {
			return err
		}
		defer store.Close()
		if opts.RunID == "" {
			return listRuns(ctx, store, out)
		}
		id, err := uuid.Parse(opts.RunID)
		if err != nil {
			return fmt.Errorf("--run: %w", err)
		}
		run, records, err := store.LoadRun(ctx, id)
		if err != nil {
			return err
		}
		printRun(out, run)
		printSummary(out, trace.Summarize(records))
		return nil
	default:
		return fmt.Errorf("one of --events-db or --events is required")
	}
}

func listRuns(ctx context.Context, store *sqlite.Store, out io.Writer) error {
	runs, err := store.ListRuns(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No stored runs.")
		return nil
	}
	fmt.Fprintf(out, "%-36s  %-20s  %-12s  %8s  %10s\n", "RUN", "CREATED", "MAP", "EVENTS", "ENDED (s)")
	for _, r := range runs {
		fmt.Fprintf(out, "%-36s  %-20s  %-12s  %8d  %10.1f\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Map,
			r.EventCount, float64(r.SimEndedTime)/network.TicksPerSecond)
	}
	return nil
}

func printRun(out io.Writer, r sqlite.Run) {
	fmt.Fprintf(out, "Run ID               : %s\n", r.ID)
	fmt.Fprintf(out, "Map                  : %s\n", r.Map)
	fmt.Fprintf(out, "Scenario             : %s\n", r.Scenario)
	fmt.Fprintf(out, "Seed                 : %d\n", r.Seed)
	fmt.Fprintf(out, "Created              : %s\n", r.CreatedAt.Format("2006-01-02 15:04:05"))
}

// printSummary writes the trip statistics followed by per-kind counts in
// name order.
func printSummary(out io.Writer, s *trace.Summary) {
	fmt.Fprintln(out, "=== Event Summary ===")
	fmt.Fprintf(out, "Events               : %d\n", s.TotalRecords)
	fmt.Fprintf(out, "Trips Started        : %d\n", s.TripsStarted)
	fmt.Fprintf(out, "Trips Finished       : %d\n", s.TripsFinished)
	fmt.Fprintf(out, "Trips Failed         : %d (stalled %d)\n", s.TripsFailed, s.TripsStalled)
	if s.TripsFinished > 0 {
		fmt.Fprintf(out, "Average Trip Time    : %.1f s (max %.1f s)\n",
			s.MeanTripTicks/network.TicksPerSecond, float64(s.MaxTripTicks)/network.TicksPerSecond)
	}
	fmt.Fprintf(out, "Last Event           : tick %d\n", s.LastTime)
	kinds := lo.Keys(s.ByKind)
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Fprintf(out, "  %-18s : %d\n", k, s.ByKind[k])
	}
}

func init() {
	reportCmd.Flags().StringVar(&reportOpts.DB, "events-db", "", "SQLite database written by run --events-db")
	reportCmd.Flags().StringVar(&reportOpts.RunID, "run", "", "Run ID to summarize (default: list runs)")
	reportCmd.Flags().StringVar(&reportOpts.Events, "events", "", "JSONL event file written by run --events-out")

	rootCmd.AddCommand(reportCmd)
}
