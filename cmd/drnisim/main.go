// drnisim runs the Link Aggregation / DRNI simulator scenarios.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/srhaddock/drni/scenario"
	"github.com/srhaddock/drni/sim"
)

// RunConfig is the optional YAML run description.
type RunConfig struct {
	Debug     int      `yaml:"debug"`
	LogFile   string   `yaml:"logFile"`
	Scenarios []string `yaml:"scenarios"`
}

var (
	flagDebug   int
	flagLogFile string
	flagConfig  string
)

func main() {
	root := &cobra.Command{
		Use:   "drnisim",
		Short: "Discrete-time Ethernet simulator for 802.1AX Link Aggregation and DRNI",
	}
	root.PersistentFlags().IntVarP(&flagDebug, "debug", "d", 1, "debug level (0 silent, higher is chattier)")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "append log output to file instead of stderr")
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "YAML run description")

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the available scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, s := range scenario.Registry {
				fmt.Println(s.Name)
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run [scenario ...]",
		Short: "Run the named scenarios (all of them by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := RunConfig{Debug: flagDebug}
			if flagConfig != "" {
				data, err := os.ReadFile(flagConfig)
				if err != nil {
					return err
				}
				if err := yaml.Unmarshal(data, &cfg); err != nil {
					return fmt.Errorf("parsing %s: %w", flagConfig, err)
				}
			}
			if len(args) > 0 {
				cfg.Scenarios = args
			}
			if flagLogFile != "" {
				cfg.LogFile = flagLogFile
			}

			var out io.Writer = os.Stderr
			if cfg.LogFile != "" {
				f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return runScenarios(cfg, out)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runScenarios(cfg RunConfig, out io.Writer) error {
	selected := map[string]bool{}
	for _, name := range cfg.Scenarios {
		selected[name] = true
	}

	log := sim.NewSimLog(cfg.Debug, out)
	n := scenario.BuildDefault(log)

	ran := 0
	for _, s := range scenario.Registry {
		if len(selected) > 0 && !selected[s.Name] {
			continue
		}
		log.Logf(1, "*** scenario %s ***", s.Name)
		fmt.Printf("running %s (start tick %d)\n", s.Name, log.Time)
		n.Reset()
		events, ticks := s.Fn(n)
		n.Run(events, ticks)
		for _, d := range n.Devices {
			if aggs := d.OperationalAggregators(); len(aggs) > 0 {
				fmt.Printf("  %s operational aggregators at end: %v\n", d.Name, aggs)
			}
		}
		ran++
	}
	if ran == 0 {
		return fmt.Errorf("no matching scenarios (see 'drnisim list')")
	}
	fmt.Printf("ran %d scenarios, final tick %d\n", ran, log.Time)
	return nil
}
