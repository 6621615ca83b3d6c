package config

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gossipsim/internal/gossip"
	"gossipsim/internal/logging"
	"gossipsim/internal/protocol"
)

// Validate checks every field and reports all problems at once, each
// prefixed with its "section.field" name.
func (c *Config) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, fmt.Errorf("%s: "+format, append([]any{field}, args...)...))
	}

	s := c.Simulation
	if s.Rounds <= 0 {
		bad("simulation.rounds", "must be positive, got %d", s.Rounds)
	}
	if s.Delta <= 0 {
		bad("simulation.delta", "must be positive, got %d", s.Delta)
	}
	if _, err := protocol.ParseProtocol(s.Protocol); err != nil {
		bad("simulation.protocol", "%v", err)
	}
	if !probability(s.DropProb) {
		bad("simulation.drop_prob", "must be in [0,1], got %v", s.DropProb)
	}
	if !probability(s.OnlineProb) {
		bad("simulation.online_prob", "must be in [0,1], got %v", s.OnlineProb)
	}
	if !probability(s.SamplingEval) {
		bad("simulation.sampling_eval", "must be in [0,1], got %v", s.SamplingEval)
	}

	d := c.Delay
	switch strings.ToLower(d.Kind) {
	case "constant":
		if d.Ticks < 0 {
			bad("delay.ticks", "must not be negative, got %d", d.Ticks)
		}
	case "uniform":
		if d.Min < 0 {
			bad("delay.min", "must not be negative, got %d", d.Min)
		}
		if d.Max < d.Min {
			bad("delay.max", "must be >= delay.min (%d), got %d", d.Min, d.Max)
		}
	case "linear":
		if d.TimePerUnit < 0 || math.IsNaN(d.TimePerUnit) || math.IsInf(d.TimePerUnit, 0) {
			bad("delay.time_per_unit", "must be finite and not negative, got %v", d.TimePerUnit)
		}
		if d.Overhead < 0 {
			bad("delay.overhead", "must not be negative, got %d", d.Overhead)
		}
	default:
		bad("delay.kind", "unknown delay %q (want constant, uniform or linear)", d.Kind)
	}

	p := c.Population
	if p.Nodes <= 0 {
		bad("population.nodes", "must be positive, got %d", p.Nodes)
	}
	if !probability(p.MaliciousFraction) {
		bad("population.malicious_fraction", "must be in [0,1], got %v", p.MaliciousFraction)
	}
	if _, err := gossip.ParseAssignment(p.Assignment); err != nil {
		bad("population.assignment", "%v", err)
	}
	if _, err := gossip.ParseRestorePolicy(p.RestorePolicy); err != nil {
		bad("population.restore_policy", "%v", err)
	}

	switch strings.ToLower(c.Topology.Kind) {
	case "complete":
	case "ring":
		if c.Topology.Neighbours <= 0 {
			bad("topology.neighbours", "must be positive, got %d", c.Topology.Neighbours)
		}
	default:
		bad("topology.kind", "unknown topology %q (want complete or ring)", c.Topology.Kind)
	}

	if c.Model.LearningRate <= 0 || math.IsNaN(c.Model.LearningRate) {
		bad("model.learning_rate", "must be positive, got %v", c.Model.LearningRate)
	}
	if c.Model.Epochs < 0 {
		bad("model.epochs", "must not be negative, got %d", c.Model.Epochs)
	}

	dc := c.Data
	if dc.Dim <= 0 {
		bad("data.dim", "must be positive, got %d", dc.Dim)
	}
	if dc.SamplesPerNode < 0 {
		bad("data.samples_per_node", "must not be negative, got %d", dc.SamplesPerNode)
	}
	if dc.TestFraction < 0 || dc.TestFraction >= 1 || math.IsNaN(dc.TestFraction) {
		bad("data.test_fraction", "must be in [0,1), got %v", dc.TestFraction)
	}
	if dc.EvalSize < 0 {
		bad("data.eval_size", "must not be negative, got %d", dc.EvalSize)
	}
	if dc.Noise < 0 || math.IsNaN(dc.Noise) {
		bad("data.noise", "must not be negative, got %v", dc.Noise)
	}

	if !logging.ValidLevel(c.Logging.Level) {
		bad("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "auto", "text", "json":
	default:
		bad("logging.format", "unknown format %q (want auto, text or json)", c.Logging.Format)
	}

	return errors.Join(errs...)
}

func probability(v float64) bool {
	return v >= 0 && v <= 1
}
