package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gossipsim/internal/config"
	"gossipsim/internal/experiment"
	"gossipsim/internal/logging"
)

var logger = logging.For("main")

func main() {
	configPath := flag.String("config", "", "path to config file")
	seed := flag.Uint64("seed", 0, "random seed (overrides config)")
	rounds := flag.Int("rounds", 0, "number of rounds (overrides config)")
	nodes := flag.Int("nodes", 0, "population size (overrides config)")
	reportPath := flag.String("report", "", "bbolt file to record results in (overrides config)")
	logLevel := flag.String("log-level", "", "debug, info, warn or error (overrides config)")
	progress := flag.Bool("progress", true, "draw a progress bar when stderr is a terminal")
	inspectPath := flag.String("inspect", "", "print the results recorded in a bbolt file and exit")
	flag.Parse()

	if *inspectPath != "" {
		if err := inspect(os.Stdout, config.ExpandHome(*inspectPath)); err != nil {
			log.Fatalf("inspect: %v", err)
		}
		return
	}

	// Load config (TOML file with defaults)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// CLI flags override config file values. Zero is a valid seed, so only
	// flags that were actually given are applied.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "seed":
			cfg.Simulation.Seed = *seed
		case "rounds":
			cfg.Simulation.Rounds = *rounds
		case "nodes":
			cfg.Population.Nodes = *nodes
		case "report":
			cfg.Report.Path = *reportPath
		case "log-level":
			cfg.Logging.Level = *logLevel
		}
	})

	logging.Init(cfg.Logging.Level, cfg.Logging.Format)

	e, err := experiment.Build(cfg)
	if err != nil {
		log.Fatalf("experiment: %v", err)
	}

	if *progress && logging.IsTerminal(os.Stderr) {
		e.AddObserver(newProgressBar(os.Stderr, e.Ticks()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop at the next tick boundary on SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := e.Run(ctx)
	signal.Stop(sigCh)

	rep := e.Report()
	writeCurve(os.Stdout, "local", rep.Curve(true))
	writeCurve(os.Stdout, "global", rep.Curve(false))

	attrs := []any{"sent", rep.Sent(), "failed", rep.Failed(), "ticks", rep.Timesteps(), "digest", rep.Digest()}
	if p, ok := rep.Final(true); ok {
		attrs = append(attrs, "local", formatMetrics(p.Mean))
	}
	if p, ok := rep.Final(false); ok {
		attrs = append(attrs, "global", formatMetrics(p.Mean))
	}
	logger.Info("run summary", attrs...)

	if err := e.Close(); err != nil {
		logger.Error("closing experiment", "err", err)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "simulation failed: %v\n", runErr)
		os.Exit(1)
	}
}
