package data

import (
	"fmt"
	"math/rand/v2"

	"gossipsim/internal/model"
)

// Source hands out each node's local data and, optionally, a shared
// evaluation set.
type Source interface {
	Local(id int) (train, test model.Dataset)
	HasEvalSet() bool
	EvalSet() model.Dataset
}

// SyntheticConfig parameterises a Synthetic source.
type SyntheticConfig struct {
	Nodes          int
	Dim            int
	SamplesPerNode int
	TestFraction   float64 // share of each node's samples held out as local test data
	EvalSize       int     // 0 disables the shared evaluation set
	Noise          float64 // standard deviation of the target noise
}

// Synthetic generates a linear regression task y = w·x + b + noise with a
// hidden (w, b) and partitions it across nodes.
type Synthetic struct {
	truth model.Params
	train []model.Dataset
	test  []model.Dataset
	eval  model.Dataset
}

// NewSynthetic draws all data up front from rng.
func NewSynthetic(cfg SyntheticConfig, rng *rand.Rand) (*Synthetic, error) {
	if cfg.Nodes <= 0 || cfg.Dim <= 0 || cfg.SamplesPerNode < 0 || cfg.EvalSize < 0 {
		return nil, fmt.Errorf("synthetic data: invalid sizes (nodes=%d dim=%d samples=%d eval=%d)",
			cfg.Nodes, cfg.Dim, cfg.SamplesPerNode, cfg.EvalSize)
	}
	if cfg.TestFraction < 0 || cfg.TestFraction >= 1 {
		return nil, fmt.Errorf("synthetic data: test fraction %v outside [0,1)", cfg.TestFraction)
	}

	s := &Synthetic{
		truth: make(model.Params, cfg.Dim+1),
		train: make([]model.Dataset, cfg.Nodes),
		test:  make([]model.Dataset, cfg.Nodes),
	}
	for i := range s.truth {
		s.truth[i] = rng.Float64()*4 - 2
	}

	nTest := int(float64(cfg.SamplesPerNode) * cfg.TestFraction)
	for id := range cfg.Nodes {
		ds := s.sample(cfg.SamplesPerNode, cfg.Dim, cfg.Noise, rng)
		cut := ds.Len() - nTest
		s.train[id] = model.Dataset{X: ds.X[:cut], Y: ds.Y[:cut]}
		if nTest > 0 {
			s.test[id] = model.Dataset{X: ds.X[cut:], Y: ds.Y[cut:]}
		}
	}
	if cfg.EvalSize > 0 {
		s.eval = s.sample(cfg.EvalSize, cfg.Dim, cfg.Noise, rng)
	}
	return s, nil
}

func (s *Synthetic) sample(n, dim int, noise float64, rng *rand.Rand) model.Dataset {
	ds := model.Dataset{X: make([][]float64, n), Y: make([]float64, n)}
	for i := range n {
		x := make([]float64, dim)
		y := s.truth[dim]
		for j := range x {
			x[j] = rng.Float64()*2 - 1
			y += s.truth[j] * x[j]
		}
		ds.X[i] = x
		ds.Y[i] = y + rng.NormFloat64()*noise
	}
	return ds
}

// Local returns node id's train and test data. Unknown ids get empty sets.
func (s *Synthetic) Local(id int) (model.Dataset, model.Dataset) {
	if id < 0 || id >= len(s.train) {
		return model.Dataset{}, model.Dataset{}
	}
	return s.train[id], s.test[id]
}

func (s *Synthetic) HasEvalSet() bool {
	return s.eval.Len() > 0
}

func (s *Synthetic) EvalSet() model.Dataset {
	return s.eval
}

// Truth returns the hidden parameters the data was generated from.
func (s *Synthetic) Truth() model.Params {
	return s.truth.Clone()
}
