package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/traffic-sim/traffic-sim/sim/network"
	"github.com/traffic-sim/traffic-sim/sim/scenario"
)

var (
	genMapPath string
	genOut     string
	genCfg     = scenario.DefaultGenConfig()
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a random scenario for a map",
	Long: "Draw homes, modes, departures and destinations for a number of people, start some drivers " +
		"from parked cars and schedule evenly spaced buses on every route. Output is written to stdout unless --out is given.",
	Run: func(cmd *cobra.Command, args []string) {
		if err := generate(genMapPath, genCfg, genOut, os.Stdout); err != nil {
			logrus.Fatalf("Generate failed: %v", err)
		}
	},
}

func generate(mapPath string, cfg scenario.GenConfig, outPath string, stdout io.Writer) error {
	m, err := network.Load(mapPath)
	if err != nil {
		return err
	}
	f, err := scenario.Generate(m, cfg)
	if err != nil {
		return err
	}
	if outPath != "" {
		return f.Save(outPath)
	}
	return writeScenario(stdout, f)
}

// writeScenario marshals f as YAML to w.
func writeScenario(w io.Writer, f *scenario.File) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("encoding scenario: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func init() {
	generateCmd.Flags().StringVar(&genMapPath, "map", "", "Path to the map YAML")
	generateCmd.Flags().StringVar(&genOut, "out", "", "Write the scenario to this file instead of stdout")
	generateCmd.Flags().Int64Var(&genCfg.Seed, "seed", genCfg.Seed, "Seed for the scenario generator")
	generateCmd.Flags().IntVar(&genCfg.People, "people", genCfg.People, "Number of people")
	generateCmd.Flags().Float64Var(&genCfg.DepartWindowS, "depart-window", genCfg.DepartWindowS, "Departures are spread over this many seconds")
	generateCmd.Flags().Float64Var(&genCfg.DriveShare, "drive-share", genCfg.DriveShare, "Relative weight of driving")
	generateCmd.Flags().Float64Var(&genCfg.BikeShare, "bike-share", genCfg.BikeShare, "Relative weight of cycling")
	generateCmd.Flags().Float64Var(&genCfg.BusShare, "bus-share", genCfg.BusShare, "Relative weight of riding the bus")
	generateCmd.Flags().Float64Var(&genCfg.WalkShare, "walk-share", genCfg.WalkShare, "Relative weight of walking")
	generateCmd.Flags().Float64Var(&genCfg.ParkedCarFraction, "parked-car-fraction", genCfg.ParkedCarFraction, "Fraction of drivers starting from a parked car")
	generateCmd.Flags().Float64Var(&genCfg.SeedParkedFraction, "seed-parked-fraction", genCfg.SeedParkedFraction, "Fraction of every lane's parking filled with unowned cars")
	generateCmd.Flags().IntVar(&genCfg.BusesPerRoute, "buses-per-route", genCfg.BusesPerRoute, "Buses scheduled on each route")
	generateCmd.Flags().Float64Var(&genCfg.BusHeadwayS, "bus-headway", genCfg.BusHeadwayS, "Seconds between buses on a route")
	_ = generateCmd.MarkFlagRequired("map")

	rootCmd.AddCommand(generateCmd)
}
