package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/traffic-sim/traffic-sim/sim"
	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/scenario"
	"github.com/traffic-sim/traffic-sim/sim/trace"
	"github.com/traffic-sim/traffic-sim/sim/trace/sqlite"
)

// runOptions collects the run command's flags.
type runOptions struct {
	MapPath      string
	ScenarioPath string
	ConfigPath   string
	Seed         int64 // generator seed when no scenario is given
	People       int   // generated people when no scenario is given

	// Overrides applied only when the flag was set.
	HorizonS        *float64
	MaxSteps        *int64
	TraceLevel      *string
	CheckInvariants *bool

	EventsOut   string
	EventsDB    string
	SaveAtS     float64
	SnapshotOut string
	LoadFrom    string
}

var runOpts runOptions

var (
	horizonS        float64
	maxSteps        int64
	traceLevel      string
	checkInvariants bool
)

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a traffic simulation",
	Run: func(cmd *cobra.Command, args []string) {
		opts := runOpts
		// Flags override the config file and environment only when set.
		if cmd.Flags().Changed("horizon") {
			opts.HorizonS = &horizonS
		}
		if cmd.Flags().Changed("max-steps") {
			opts.MaxSteps = &maxSteps
		}
		if cmd.Flags().Changed("trace") {
			opts.TraceLevel = &traceLevel
		}
		if cmd.Flags().Changed("check-invariants") {
			opts.CheckInvariants = &checkInvariants
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		startTime := time.Now()
		if err := runSimulation(ctx, opts, os.Stdout); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		logrus.Infof("Simulation complete in %v.", time.Since(startTime))
	},
}

// resolveConfig layers the config file, TRAFFICSIM_* variables and flags over
// the defaults.
func resolveConfig(opts runOptions) (sim.Config, error) {
	cfg := sim.DefaultConfig()
	if opts.ConfigPath != "" {
		loaded, err := sim.LoadConfig(opts.ConfigPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	if opts.HorizonS != nil {
		cfg.Run.HorizonS = *opts.HorizonS
	}
	if opts.MaxSteps != nil {
		cfg.Run.MaxSteps = *opts.MaxSteps
	}
	if opts.TraceLevel != nil {
		cfg.Run.TraceLevel = *opts.TraceLevel
	}
	if opts.CheckInvariants != nil {
		cfg.Run.CheckInvariants = *opts.CheckInvariants
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// runSimulation builds or restores a simulator, runs it and writes the
// requested outputs. Metrics are printed to out.
func runSimulation(ctx context.Context, opts runOptions, out io.Writer) error {
	if opts.MapPath == "" {
		return fmt.Errorf("--map is required")
	}
	if opts.SaveAtS > 0 && opts.SnapshotOut == "" {
		return fmt.Errorf("--save-at needs --snapshot-out")
	}
	m, err := network.Load(opts.MapPath)
	if err != nil {
		return err
	}
	pf := network.NewPathfinder(m)

	var s *sim.Simulator
	runID := uuid.New()
	scenarioName := opts.ScenarioPath
	if opts.LoadFrom != "" {
		snap, err := sim.LoadSnapshot(opts.LoadFrom)
		if err != nil {
			return err
		}
		if id, err := uuid.Parse(snap.RunID); err == nil {
			runID = id
		}
		if s, err = sim.Restore(m, pf, snap); err != nil {
			return err
		}
		scenarioName = opts.LoadFrom
		logrus.Infof("Restored run %s at tick %d", runID, s.Now())
	} else {
		cfg, err := resolveConfig(opts)
		if err != nil {
			return err
		}
		if s, err = sim.NewSimulator(m, pf, cfg); err != nil {
			return err
		}
		f, err := loadOrGenerate(m, opts)
		if err != nil {
			return err
		}
		if scenarioName == "" {
			scenarioName = f.Name
		}
		if err := f.Apply(s); err != nil {
			return err
		}
		logrus.Infof("Starting run %s on map %s, horizon=%vs", runID, m.Name, cfg.Run.HorizonS)
	}

	if opts.SaveAtS > 0 {
		if err := s.RunUntil(ctx, network.Ticks(opts.SaveAtS)); err != nil {
			return err
		}
		snap, err := s.Snapshot()
		if err != nil {
			return err
		}
		snap.RunID = runID.String()
		if err := sim.SaveSnapshot(opts.SnapshotOut, snap); err != nil {
			return err
		}
		logrus.Infof("Saved snapshot at tick %d to %s", s.Now(), opts.SnapshotOut)
	}
	if err := s.Run(ctx); err != nil {
		return err
	}

	if opts.EventsOut != "" {
		if err := writeEvents(opts.EventsOut, s.Events()); err != nil {
			return err
		}
	}
	if opts.EventsDB != "" {
		if err := storeRun(ctx, opts.EventsDB, sqlite.Run{
			ID:           runID,
			Map:          m.Name,
			Scenario:     scenarioName,
			Seed:         opts.Seed,
			SimEndedTime: s.Metrics().SimEndedTime,
		}, s.Events()); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Run ID               : %s\n", runID)
	s.Metrics().Print(out)
	return nil
}

func loadOrGenerate(m *network.Map, opts runOptions) (*scenario.File, error) {
	if opts.ScenarioPath != "" {
		return scenario.Load(opts.ScenarioPath)
	}
	gen := scenario.DefaultGenConfig()
	gen.Seed = opts.Seed
	if opts.People > 0 {
		gen.People = opts.People
	}
	return scenario.Generate(m, gen)
}

func writeEvents(path string, records []trace.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating events file: %w", err)
	}
	if err := trace.WriteJSONL(f, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing events file: %w", err)
	}
	logrus.Infof("Wrote %d events to %s", len(records), path)
	return nil
}

func storeRun(ctx context.Context, path string, run sqlite.Run, records []trace.Record) error {
	store, err := sqlite.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.SaveRun(ctx, run, records); err != nil {
		return err
	}
	logrus.Infof("Stored run %s with %d events in %s", run.ID, len(records), path)
	return nil
}

func init() {
	runCmd.Flags().StringVar(&runOpts.MapPath, "map", "", "Path to the map YAML")
	runCmd.Flags().StringVar(&runOpts.ScenarioPath, "scenario", "", "Path to the scenario YAML (default: generate one)")
	runCmd.Flags().StringVar(&runOpts.ConfigPath, "config", "", "Path to the kernel config YAML")
	runCmd.Flags().Int64Var(&runOpts.Seed, "seed", 42, "Seed for the generated scenario")
	runCmd.Flags().IntVar(&runOpts.People, "people", 0, "People in the generated scenario (default from the generator)")

	runCmd.Flags().Float64Var(&horizonS, "horizon", 0, "Simulation horizon in seconds (0 = none)")
	runCmd.Flags().Int64Var(&maxSteps, "max-steps", 0, "Maximum dispatched commands (0 = unlimited)")
	runCmd.Flags().StringVar(&traceLevel, "trace", string(trace.LevelFull), "Event trace level (none, trips, full)")
	runCmd.Flags().BoolVar(&checkInvariants, "check-invariants", false, "Audit kernel invariants after every command")

	runCmd.Flags().StringVar(&runOpts.EventsOut, "events-out", "", "Write the event stream as JSONL to this file")
	runCmd.Flags().StringVar(&runOpts.EventsDB, "events-db", "", "Store the run and its events in this SQLite database")
	runCmd.Flags().Float64Var(&runOpts.SaveAtS, "save-at", 0, "Snapshot the simulation at this time in seconds")
	runCmd.Flags().StringVar(&runOpts.SnapshotOut, "snapshot-out", "", "Snapshot file written by --save-at")
	runCmd.Flags().StringVar(&runOpts.LoadFrom, "load-from", "", "Resume from a snapshot file instead of a scenario")
	_ = runCmd.MarkFlagRequired("map")

	rootCmd.AddCommand(runCmd)
}
