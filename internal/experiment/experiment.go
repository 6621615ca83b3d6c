package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"

	"gossipsim/internal/cache"
	"gossipsim/internal/config"
	"gossipsim/internal/data"
	"gossipsim/internal/delay"
	"gossipsim/internal/gossip"
	"gossipsim/internal/logging"
	"gossipsim/internal/model"
	"gossipsim/internal/protocol"
	"gossipsim/internal/report"
	"gossipsim/internal/sim"
	"gossipsim/internal/store"
	boltstore "gossipsim/internal/store/bolt"
	"gossipsim/internal/topology"
)

var logger = logging.For("experiment")

// payloadNamespace scopes payload cache keys. Keys are derived from it and a
// counter, so they repeat across runs with the same seed.
var payloadNamespace = uuid.MustParse("3d0c8f1e-5b7a-4c29-9e64-2a8f71b0d5c3")

// Experiment is a built, ready-to-run simulation.
type Experiment struct {
	cfg    *config.Config
	sim    *sim.Simulator
	report *report.Report
	source *data.Synthetic
	nodes  []gossip.Node
	cache  *gossip.PayloadCache
	store  store.Store
}

// Build validates cfg and wires every component. All randomness comes from a
// single PCG source seeded with simulation.seed.
func Build(cfg *config.Config) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	sc := cfg.Simulation
	rng := rand.New(rand.NewPCG(sc.Seed, sc.Seed))

	proto, err := protocol.ParseProtocol(sc.Protocol)
	if err != nil {
		return nil, err
	}
	pop, err := populationConfig(cfg.Population)
	if err != nil {
		return nil, err
	}

	src, err := data.NewSynthetic(data.SyntheticConfig{
		Nodes:          cfg.Population.Nodes,
		Dim:            cfg.Data.Dim,
		SamplesPerNode: cfg.Data.SamplesPerNode,
		TestFraction:   cfg.Data.TestFraction,
		EvalSize:       cfg.Data.EvalSize,
		Noise:          cfg.Data.Noise,
	}, rng)
	if err != nil {
		return nil, err
	}

	topo, err := buildTopology(cfg.Topology, cfg.Population.Nodes, rng)
	if err != nil {
		return nil, err
	}
	d, err := buildDelay(cfg.Delay, rng)
	if err != nil {
		return nil, err
	}

	payloads := cache.New[model.Params](payloadNamespace)
	nodes, err := gossip.BuildPopulation(pop, rng, func(id int) gossip.NodeConfig {
		train, test := src.Local(id)
		return gossip.NodeConfig{
			RoundLen: gossip.RoundLength(sc.Delta, sc.Sync, rng),
			Handler:  model.NewLinear(cfg.Data.Dim, cfg.Model.LearningRate, cfg.Model.Epochs),
			Train:    train,
			Test:     test,
			Topology: topo,
			Cache:    payloads,
		}
	})
	if err != nil {
		return nil, err
	}

	s := sim.New(nodes, src, sim.Options{
		Delta:        sc.Delta,
		Protocol:     proto,
		DropProb:     sc.DropProb,
		OnlineProb:   sc.OnlineProb,
		SamplingEval: sc.SamplingEval,
		Delay:        d,
		Rng:          rng,
		ParallelEval: sc.ParallelEval,
		Cache:        payloads,
	})
	rep := report.New()
	s.AddObserver(rep)

	e := &Experiment{
		cfg:    cfg,
		sim:    s,
		report: rep,
		source: src,
		nodes:  nodes,
		cache:  payloads,
	}

	if cfg.Report.Path != "" {
		st, err := boltstore.Open(config.ExpandHome(cfg.Report.Path))
		if err != nil {
			return nil, fmt.Errorf("opening report store: %w", err)
		}
		if err := report.Reset(st); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("resetting report store: %w", err)
		}
		e.store = st
		s.AddObserver(report.NewRecorder(st, rep))
	}

	logger.Info("experiment built",
		"nodes", len(nodes),
		"malicious", gossip.CountRole(nodes, gossip.RoleMalicious),
		"protocol", proto,
		"topology", cfg.Topology.Kind,
		"delay", cfg.Delay.Kind,
		"seed", sc.Seed)
	return e, nil
}

func populationConfig(pc config.PopulationConfig) (gossip.PopulationConfig, error) {
	assign, err := gossip.ParseAssignment(pc.Assignment)
	if err != nil {
		return gossip.PopulationConfig{}, err
	}
	policy, err := gossip.ParseRestorePolicy(pc.RestorePolicy)
	if err != nil {
		return gossip.PopulationConfig{}, err
	}
	return gossip.PopulationConfig{
		Nodes:             pc.Nodes,
		MaliciousFraction: pc.MaliciousFraction,
		Assignment:        assign,
		Restore:           policy,
	}, nil
}

func buildTopology(tc config.TopologyConfig, n int, rng *rand.Rand) (topology.Topology, error) {
	switch strings.ToLower(tc.Kind) {
	case "complete":
		return topology.NewComplete(n, rng), nil
	case "ring":
		return topology.NewRing(n, tc.Neighbours, rng), nil
	}
	return nil, fmt.Errorf("unknown topology %q", tc.Kind)
}

func buildDelay(dc config.DelayConfig, rng *rand.Rand) (delay.Delay, error) {
	switch strings.ToLower(dc.Kind) {
	case "constant":
		return delay.NewConstant(dc.Ticks), nil
	case "uniform":
		return delay.NewUniform(dc.Min, dc.Max, rng), nil
	case "linear":
		return delay.NewLinear(dc.TimePerUnit, dc.Overhead), nil
	}
	return nil, fmt.Errorf("unknown delay %q", dc.Kind)
}

// AddObserver registers o after the built-in report and recorder.
func (e *Experiment) AddObserver(o sim.Observer) {
	e.sim.AddObserver(o)
}

// Run initialises the simulator and runs the configured number of rounds.
func (e *Experiment) Run(ctx context.Context) error {
	e.sim.Init()
	return e.sim.Start(ctx, e.cfg.Simulation.Rounds)
}

func (e *Experiment) Report() *report.Report { return e.report }
func (e *Experiment) Nodes() []gossip.Node    { return e.nodes }
func (e *Experiment) Source() *data.Synthetic { return e.source }

// Ticks is the number of ticks a full run takes.
func (e *Experiment) Ticks() int {
	return e.cfg.Simulation.Rounds * e.cfg.Simulation.Delta
}

// Store returns the results store, or nil when results stay in memory.
func (e *Experiment) Store() store.Store { return e.store }

// Close releases the results store and reports payloads still cached.
func (e *Experiment) Close() error {
	var errs []error
	if n := e.cache.Len(); n > 0 {
		logger.Debug("payloads left in cache", "count", n)
		e.cache.Clear()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing report store: %w", err))
		}
		e.store = nil
	}
	return errors.Join(errs...)
}
