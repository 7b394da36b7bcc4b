package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fortiblox/X1-Arena/pkg/arena"
	"github.com/fortiblox/X1-Arena/pkg/ledger"
	"github.com/fortiblox/X1-Arena/pkg/library"
)

// sensorStream is the random stream used to seed agent sensors.
const sensorStream = 0x5e5

type runFlags struct {
	configPath  string
	ticks       uint64
	agents      int
	seed        uint64
	maxCycles   int
	ledgerPath  string
	libraryPath string
	program     string
	keep        uint64
	metrics     bool
}

func runCommand(newLogger func() (*zap.Logger, error)) *cobra.Command {
	f := &runFlags{}
	c := &cobra.Command{
		Use:   "run",
		Short: "Runs a simulation",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()
			return runSimulation(c, f, log)
		},
	}

	flags := c.Flags()
	flags.StringVar(&f.configPath, "config", "", "TOML simulation config")
	flags.Uint64Var(&f.ticks, "ticks", 0, "Ticks to run (overrides config)")
	flags.IntVar(&f.agents, "agents", 0, "Number of agents (overrides config)")
	flags.Uint64Var(&f.seed, "seed", 0, "Random seed (overrides config)")
	flags.IntVar(&f.maxCycles, "max-cycles", 0, "Round-robin cycles per tick, 0 = until idle (overrides config)")
	flags.StringVar(&f.ledgerPath, "ledger", "", "Record tick statistics to this ledger file")
	flags.StringVar(&f.libraryPath, "library", "", "Program library directory")
	flags.StringVar(&f.program, "program", "", "Library program run by every agent")
	flags.Uint64Var(&f.keep, "keep", 0, "Prune the ledger to this many records after the run (0 = keep all)")
	flags.BoolVar(&f.metrics, "metrics", false, "Print metrics in Prometheus text format after the run")
	return c
}

func (f *runFlags) config(c *cobra.Command) (arena.Config, error) {
	cfg := arena.DefaultConfig()
	if f.configPath != "" {
		var err error
		if cfg, err = arena.LoadConfig(f.configPath); err != nil {
			return cfg, err
		}
	}

	flags := c.Flags()
	if flags.Changed("ticks") {
		cfg.Ticks = f.ticks
	}
	if flags.Changed("agents") {
		cfg.Agents = f.agents
	}
	if flags.Changed("seed") {
		cfg.Seed = f.seed
	}
	if flags.Changed("max-cycles") {
		cfg.MaxCyclesPerTick = f.maxCycles
	}
	return cfg, cfg.Validate()
}

func runSimulation(c *cobra.Command, f *runFlags, log *zap.Logger) error {
	cfg, err := f.config(c)
	if err != nil {
		return err
	}
	if f.program != "" && f.libraryPath == "" {
		return errors.New("--program requires --library")
	}

	registry := prometheus.NewRegistry()
	opts := arena.Options{
		Logger:     log.Named("arena"),
		Registerer: registry,
	}

	if f.libraryPath != "" {
		libCfg := library.DefaultConfig(f.libraryPath)
		libCfg.Logger = log
		lib, err := library.Open(libCfg)
		if err != nil {
			return err
		}
		defer lib.Close()
		opts.Library = lib
	}

	var store *ledger.Store
	if f.ledgerPath != "" {
		store, err = ledger.Open(ledger.DefaultConfig(f.ledgerPath))
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Ledger = store
	}

	a, err := arena.New(cfg, opts)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, sensorStream))
	for i := 0; i < cfg.Agents; i++ {
		sensors := make([]float32, arena.MaxSensors)
		for j := range sensors {
			sensors[j] = rng.Float32()*2 - 1
		}
		id := arena.AgentID(i + 1)
		if _, err := a.AddAgent(id, sensors); err != nil {
			return err
		}
		if f.program != "" {
			if err := a.AssignProgramByName(id, f.program); err != nil {
				return fmt.Errorf("assign %s: %w", f.program, err)
			}
		}
	}

	ctx, cancel := context.WithCancel(c.Context())
	defer cancel()

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, stopping", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("starting simulation",
		zap.Int("agents", cfg.Agents),
		zap.Uint64("ticks", cfg.Ticks),
		zap.Uint64("seed", cfg.Seed),
		zap.Int("memory", cfg.MemorySize),
	)

	last, err := a.Run(ctx, cfg.Ticks)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if store != nil && f.keep > 0 {
		pruned, err := store.Prune(f.keep)
		if err != nil {
			return err
		}
		log.Info("pruned ledger", zap.Uint64("records", pruned))
	}

	out := c.OutOrStdout()
	if last != nil {
		printSummary(out, a, last)
	}
	if f.metrics {
		return writeMetrics(out, registry)
	}
	return nil
}

func printSummary(w io.Writer, a *arena.Arena, s *arena.TickStats) {
	fmt.Fprintf(w, "ticks:        %d (generation %d)\n", s.Tick, s.Generation)
	fmt.Fprintf(w, "agents:       %d\n", s.Agents)
	fmt.Fprintf(w, "cycles:       %d\n", s.CycleCount)
	fmt.Fprintf(w, "resources:    %d (efficiency %.4f)\n", s.AvailableResources, s.Efficiency)
	fmt.Fprintf(w, "utilization:  %.4f (%d of %d territories free)\n",
		s.Utilization, a.Allocator().Available(), a.Allocator().Total())
	fmt.Fprintf(w, "outputs:      mean %.4f stddev %.4f\n", s.OutputMean, s.OutputStdDev)
	fmt.Fprintf(w, "state:        %s\n", s.StateHash)
}

func writeMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}
