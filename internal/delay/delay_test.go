package delay

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"gossipsim/internal/protocol"
)

func TestConstant(t *testing.T) {
	d := NewConstant(3)
	for _, size := range []int{0, 1, 1000} {
		require.Equal(t, 3, d.Get(protocol.Message{Size: size}))
	}
	require.Equal(t, 0, NewConstant(-4).Get(protocol.Message{}))
}

func TestUniformBounds(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	d := NewUniform(2, 5, rng)
	seen := make(map[int]bool)
	for i := 0; i < 1000; i++ {
		v := d.Get(protocol.Message{})
		require.GreaterOrEqual(t, v, 2)
		require.LessOrEqual(t, v, 5)
		seen[v] = true
	}
	require.Len(t, seen, 4, "every value in [2,5] should appear")
}

func TestUniformSwappedAndDegenerate(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	d := NewUniform(7, 3, rng)
	for i := 0; i < 100; i++ {
		v := d.Get(protocol.Message{})
		require.True(t, v >= 3 && v <= 7)
	}
	require.Equal(t, 4, NewUniform(4, 4, rng).Get(protocol.Message{}))
	require.Equal(t, 0, NewUniform(-3, -1, rng).Get(protocol.Message{}))
}

func TestUniformDeterministic(t *testing.T) {
	a := NewUniform(0, 100, rand.New(rand.NewPCG(9, 9)))
	b := NewUniform(0, 100, rand.New(rand.NewPCG(9, 9)))
	for i := 0; i < 50; i++ {
		require.Equal(t, a.Get(protocol.Message{}), b.Get(protocol.Message{}))
	}
}

func TestLinear(t *testing.T) {
	d := NewLinear(0.5, 1)
	require.Equal(t, 1, d.Get(protocol.Message{Size: 0}))
	require.Equal(t, 1, d.Get(protocol.Message{Size: 1}))
	require.Equal(t, 6, d.Get(protocol.Message{Size: 10}))
	require.Equal(t, 1, d.Get(protocol.Message{Size: -10}))

	require.Equal(t, 0, NewLinear(math.NaN(), -2).Get(protocol.Message{Size: 5}))
	require.Equal(t, 0, NewLinear(-1, 0).Get(protocol.Message{Size: 5}))
}

func TestLinearSaturates(t *testing.T) {
	d := NewLinear(1e300, 3)
	require.Equal(t, MaxTicks, d.Get(protocol.Message{Size: 5}))
	require.Equal(t, 3, d.Get(protocol.Message{Size: 0}))

	d = NewLinear(1, math.MaxInt)
	require.Equal(t, MaxTicks, d.Get(protocol.Message{Size: 1}))
	require.Equal(t, MaxTicks, NewConstant(math.MaxInt).Get(protocol.Message{}))
}
