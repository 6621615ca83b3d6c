package delay

import (
	"math"
	"math/rand/v2"

	"gossipsim/internal/protocol"
)

// MaxTicks caps every delay. A message held this long never arrives within a
// run.
const MaxTicks = math.MaxInt32

// Delay returns a non-negative, finite tick offset for a message.
type Delay interface {
	Get(msg protocol.Message) int
}

// Constant always returns the same delay.
type Constant struct {
	ticks int
}

// NewConstant returns a constant delay. Negative values are clamped to 0.
func NewConstant(ticks int) Constant {
	return Constant{ticks: min(max(ticks, 0), MaxTicks)}
}

func (c Constant) Get(protocol.Message) int {
	return c.ticks
}

// Uniform draws a delay uniformly from [min, max] using the simulation's
// shared random source.
type Uniform struct {
	min, max int
	rng      *rand.Rand
}

// NewUniform returns a uniform delay over [lo, hi]. Bounds are clamped to be
// non-negative and swapped if given in the wrong order.
func NewUniform(lo, hi int, rng *rand.Rand) *Uniform {
	lo, hi = max(lo, 0), max(hi, 0)
	if lo > hi {
		lo, hi = hi, lo
	}
	lo, hi = min(lo, MaxTicks), min(hi, MaxTicks)
	return &Uniform{min: lo, max: hi, rng: rng}
}

func (u *Uniform) Get(protocol.Message) int {
	if u.min == u.max {
		return u.min
	}
	return u.min + u.rng.IntN(u.max-u.min+1)
}

// Linear grows with the transported size: overhead + floor(timePerUnit * size).
type Linear struct {
	timePerUnit float64
	overhead    int
}

// NewLinear returns a size-proportional delay.
func NewLinear(timePerUnit float64, overhead int) Linear {
	if timePerUnit < 0 || math.IsNaN(timePerUnit) || math.IsInf(timePerUnit, 0) {
		timePerUnit = 0
	}
	return Linear{timePerUnit: timePerUnit, overhead: min(max(overhead, 0), MaxTicks)}
}

// Get saturates at MaxTicks.
func (l Linear) Get(msg protocol.Message) int {
	v := math.Floor(l.timePerUnit * float64(max(msg.Size, 0)))
	if v >= float64(MaxTicks-l.overhead) {
		return MaxTicks
	}
	return l.overhead + int(v)
}
