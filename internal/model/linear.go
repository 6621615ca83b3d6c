package model

import (
	"math"
)

const (
	MetricMSE = "mse"
	MetricMAE = "mae"
	MetricR2  = "r2"
)

// Linear is a linear-regression handler. The parameter vector holds one
// weight per feature followed by the bias.
//
// Merge averages the received parameters with the local ones, then runs
// Epochs passes of SGD over the local training data.
type Linear struct {
	params       Params
	LearningRate float64
	Epochs       int
}

// NewLinear creates a zero-initialised model over dim features.
func NewLinear(dim int, learningRate float64, epochs int) *Linear {
	return &Linear{
		params:       make(Params, dim+1),
		LearningRate: learningRate,
		Epochs:       epochs,
	}
}

func (l *Linear) Snapshot() Params {
	return l.params.Clone()
}

func (l *Linear) Swap(p Params) Params {
	prev := l.params
	l.params = p
	return prev
}

func (l *Linear) Merge(recv Params, local Dataset) error {
	merged, err := l.params.Mean(recv)
	if err != nil {
		return err
	}
	l.params = merged
	l.Train(local)
	return nil
}

// Train runs Epochs passes of per-sample SGD on the squared error.
func (l *Linear) Train(ds Dataset) {
	dim := len(l.params) - 1
	for range l.Epochs {
		for i, x := range ds.X {
			if len(x) != dim {
				continue
			}
			err := l.predict(x) - ds.Y[i]
			for j, v := range x {
				l.params[j] -= l.LearningRate * err * v
			}
			l.params[dim] -= l.LearningRate * err
		}
	}
}

func (l *Linear) predict(x []float64) float64 {
	dim := len(l.params) - 1
	y := l.params[dim]
	for j := 0; j < dim && j < len(x); j++ {
		y += l.params[j] * x[j]
	}
	return y
}

// Evaluate returns mse, mae and r2 over ds. An empty dataset yields no metrics.
func (l *Linear) Evaluate(ds Dataset) Metrics {
	n := ds.Len()
	if n == 0 || len(l.params) == 0 {
		return Metrics{}
	}
	var mean float64
	for _, y := range ds.Y {
		mean += y
	}
	mean /= float64(n)

	var sse, sae, sst float64
	for i, x := range ds.X {
		e := l.predict(x) - ds.Y[i]
		sse += e * e
		sae += math.Abs(e)
		d := ds.Y[i] - mean
		sst += d * d
	}
	r2 := 0.0
	if sst > 0 {
		r2 = 1 - sse/sst
	}
	return Metrics{
		MetricMSE: sse / float64(n),
		MetricMAE: sae / float64(n),
		MetricR2:  r2,
	}
}
