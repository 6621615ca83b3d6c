package model

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is returned when a received payload has a different
// length than the local model.
var ErrShapeMismatch = errors.New("payload shape mismatch")

// Params is the transferable model state.
type Params []float64

// Clone returns an independent copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	out := make(Params, len(p))
	copy(out, p)
	return out
}

// Neutral returns an all-zero value with the same shape as p.
func (p Params) Neutral() Params {
	return make(Params, len(p))
}

// Mean returns the element-wise mean of p and other.
func (p Params) Mean(other Params) (Params, error) {
	if len(p) != len(other) {
		return nil, fmt.Errorf("%w: local %d, received %d", ErrShapeMismatch, len(p), len(other))
	}
	out := make(Params, len(p))
	for i := range p {
		out[i] = (p[i] + other[i]) / 2
	}
	return out, nil
}

// Dataset is a set of feature rows with their targets.
type Dataset struct {
	X [][]float64
	Y []float64
}

// Len returns the number of samples.
func (d Dataset) Len() int {
	return len(d.Y)
}

// Metrics maps a metric name to its value.
type Metrics map[string]float64

// Handler owns one node's model state.
//
// Swap is the substitutable current-state slot: it installs p as the live
// state and hands ownership of the previous state to the caller.
type Handler interface {
	Snapshot() Params
	Swap(p Params) Params
	Merge(recv Params, local Dataset) error
	Evaluate(ds Dataset) Metrics
}
