package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"gossipsim/internal/cache"
	"gossipsim/internal/delay"
	"gossipsim/internal/gossip"
	"gossipsim/internal/logging"
	"gossipsim/internal/model"
	"gossipsim/internal/protocol"
	"gossipsim/internal/topology"
)

var testNamespace = uuid.MustParse("6a1c2e7d-93f4-4b08-a5d2-1f0e9c8b7a63")

// events records every notification as a line of text.
type events struct {
	lines     []string
	sent      int
	failed    int
	evals     []evaluation
	timesteps []int
	ends      int
	onStep    func(t int)
}

type evaluation struct {
	tick    int
	local   bool
	results []model.Metrics
}

func (e *events) OnMessage(failed bool, msg *protocol.Message) {
	if failed {
		e.failed++
	} else {
		e.sent++
	}
	e.lines = append(e.lines, fmt.Sprintf("msg %v %s", failed, msg))
}

func (e *events) OnEvaluation(t int, local bool, results []model.Metrics) {
	e.evals = append(e.evals, evaluation{t, local, results})
	e.lines = append(e.lines, fmt.Sprintf("eval %d %v %v", t, local, results))
}

func (e *events) OnTimestep(t int) {
	e.timesteps = append(e.timesteps, t)
	e.lines = append(e.lines, fmt.Sprintf("tick %d", t))
	if e.onStep != nil {
		e.onStep(t)
	}
}

func (e *events) OnEnd() {
	e.ends++
	e.lines = append(e.lines, "end")
}

// countingNode counts Receive invocations.
type countingNode struct {
	gossip.Node
	receives *int
}

func (c countingNode) Receive(t int, msg protocol.Message) (*protocol.Message, error) {
	*c.receives++
	return c.Node.Receive(t, msg)
}

type evalSource struct {
	set model.Dataset
}

func (evalSource) Local(int) (model.Dataset, model.Dataset) { return model.Dataset{}, model.Dataset{} }
func (s evalSource) HasEvalSet() bool                       { return s.set.Len() > 0 }
func (s evalSource) EvalSet() model.Dataset                 { return s.set }

var lineData = model.Dataset{
	X: [][]float64{{0}, {1}, {2}, {3}},
	Y: []float64{1, 3, 5, 7},
}

type fixture struct {
	sim      *Simulator
	events   *events
	cache    *gossip.PayloadCache
	receives int
}

type setup struct {
	nodes        int
	malicious    float64
	assignment   gossip.Assignment
	delta        int
	sync         bool
	protocol     protocol.Protocol
	dropProb     float64
	onlineProb   float64
	samplingEval float64
	delay        func(rng *rand.Rand) delay.Delay
	withTest     bool
	evalSet      bool
	parallel     bool
	seed         uint64
	topo         func(rng *rand.Rand, n int) topology.Topology
}

func defaultSetup() setup {
	return setup{
		nodes:      4,
		delta:      1,
		sync:       true,
		protocol:   protocol.Push,
		onlineProb: 1,
		withTest:   true,
		seed:       1,
	}
}

func newFixture(t *testing.T, s setup) *fixture {
	t.Helper()
	rng := rand.New(rand.NewPCG(s.seed, s.seed))
	f := &fixture{
		events: &events{},
		cache:  cache.New[model.Params](testNamespace),
	}

	var topo topology.Topology = topology.NewComplete(s.nodes, rng)
	if s.topo != nil {
		topo = s.topo(rng, s.nodes)
	}
	var d delay.Delay = delay.NewConstant(0)
	if s.delay != nil {
		d = s.delay(rng)
	}

	pop := gossip.PopulationConfig{Nodes: s.nodes, MaliciousFraction: s.malicious, Assignment: s.assignment}
	nodes, err := gossip.BuildPopulation(pop, rng, func(id int) gossip.NodeConfig {
		cfg := gossip.NodeConfig{
			RoundLen: gossip.RoundLength(s.delta, s.sync, rng),
			Handler:  model.NewLinear(1, 0.05, 1),
			Train:    lineData,
			Topology: topo,
			Cache:    f.cache,
		}
		if s.withTest {
			cfg.Test = lineData
		}
		return cfg
	})
	require.NoError(t, err)
	for i, n := range nodes {
		nodes[i] = countingNode{Node: n, receives: &f.receives}
	}

	var src evalSource
	if s.evalSet {
		src.set = lineData
	}
	f.sim = New(nodes, src, Options{
		Delta:        s.delta,
		Protocol:     s.protocol,
		DropProb:     s.dropProb,
		OnlineProb:   s.onlineProb,
		SamplingEval: s.samplingEval,
		Delay:        d,
		Rng:          rng,
		ParallelEval: s.parallel,
		Cache:        f.cache,
	})
	f.sim.AddObserver(f.events)
	return f
}

func (f *fixture) run(t *testing.T, rounds int) {
	t.Helper()
	f.sim.Init()
	require.NoError(t, f.sim.Start(context.Background(), rounds))
}

func TestSinglePushRound(t *testing.T) {
	f := newFixture(t, defaultSetup())
	f.run(t, 1)

	require.Equal(t, 4, f.events.sent)
	require.Equal(t, 0, f.events.failed)
	require.Equal(t, 4, f.receives)
	require.Len(t, f.events.evals, 1)
	require.True(t, f.events.evals[0].local)
	require.Equal(t, 0, f.events.evals[0].tick)
	require.Len(t, f.events.evals[0].results, 4)
	require.Equal(t, []int{0}, f.events.timesteps)
	require.Equal(t, 1, f.events.ends)
	require.Equal(t, 0, f.cache.Len())
}

func TestSendAttemptsAtTickZero(t *testing.T) {
	f := newFixture(t, defaultSetup())
	f.run(t, 1)

	for _, line := range f.events.lines {
		if strings.HasPrefix(line, "msg false") {
			require.True(t, strings.HasSuffix(line, "@0"), line)
		}
	}
}

func TestDropEverything(t *testing.T) {
	s := defaultSetup()
	s.nodes = 6
	s.delta = 2
	s.protocol = protocol.PushPull
	s.dropProb = 1
	f := newFixture(t, s)
	f.run(t, 3)

	require.Positive(t, f.events.sent)
	require.Equal(t, f.events.sent, f.events.failed, "every attempt is reported dropped")
	require.Zero(t, f.receives)
	require.Zero(t, f.cache.Len(), "dropped payloads are released")
	require.Empty(t, f.sim.messages)
}

func TestAllOffline(t *testing.T) {
	s := defaultSetup()
	s.nodes = 5
	s.delta = 3
	s.onlineProb = 0
	s.delay = func(*rand.Rand) delay.Delay { return delay.NewConstant(1) }
	f := newFixture(t, s)
	f.run(t, 4)

	require.Zero(t, f.receives)
	require.Positive(t, f.events.failed)
	require.Zero(t, f.cache.Len())
}

func TestPushPullRepliesDelivered(t *testing.T) {
	s := defaultSetup()
	s.protocol = protocol.PushPull
	f := newFixture(t, s)
	f.run(t, 1)

	// Four requests plus four delivered replies.
	require.Equal(t, 8, f.events.sent)
	require.Equal(t, 8, f.receives)
	require.Zero(t, f.cache.Len())
}

func TestPullCarriesNoPayload(t *testing.T) {
	s := defaultSetup()
	s.protocol = protocol.Pull
	s.delta = 2
	f := newFixture(t, s)
	f.run(t, 2)

	require.Equal(t, 16, f.events.sent)
	require.Zero(t, f.cache.Len())
}

func TestStartBeforeInit(t *testing.T) {
	f := newFixture(t, defaultSetup())

	err := f.sim.Start(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotInitialized)
	require.Empty(t, f.events.lines, "no tick and no end notification")
}

func TestStartConsumesInit(t *testing.T) {
	f := newFixture(t, defaultSetup())
	f.run(t, 1)

	require.ErrorIs(t, f.sim.Start(context.Background(), 1), ErrNotInitialized)
	f.run(t, 1)
	require.Equal(t, 2, f.events.ends)
}

func TestUnknownProtocolAborts(t *testing.T) {
	s := defaultSetup()
	s.protocol = protocol.Protocol(99)
	f := newFixture(t, s)
	f.sim.Init()

	err := f.sim.Start(context.Background(), 3)
	require.ErrorIs(t, err, gossip.ErrUnknownProtocol)
	require.Contains(t, err.Error(), "tick 0")
	require.Empty(t, f.events.timesteps)
	require.Equal(t, 1, f.events.ends, "end is still notified")
}

func TestCancellation(t *testing.T) {
	capture := logging.CaptureForTest()
	defer capture.Restore()

	s := defaultSetup()
	s.delta = 2
	f := newFixture(t, s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.events.onStep = func(t int) {
		if t == 2 {
			cancel()
		}
	}

	f.sim.Init()
	require.NoError(t, f.sim.Start(ctx, 10))
	require.Equal(t, []int{0, 1, 2}, f.events.timesteps)
	require.Equal(t, 1, f.events.ends)
	require.Len(t, f.events.evals, 1, "results collected before cancellation are kept")

	rec, ok := capture.Find(slog.LevelWarn, "simulation interrupted")
	require.True(t, ok)
	tick, ok := logging.Attr(rec, "tick")
	require.True(t, ok)
	require.Equal(t, int64(3), tick.Int64())
}

func TestCancelledBeforeFirstTick(t *testing.T) {
	f := newFixture(t, defaultSetup())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f.sim.Init()
	require.NoError(t, f.sim.Start(ctx, 5))
	require.Empty(t, f.events.timesteps)
	require.Equal(t, 1, f.events.ends)
}

func TestEvaluationCadence(t *testing.T) {
	s := defaultSetup()
	s.nodes = 6
	s.delta = 5
	f := newFixture(t, s)
	f.run(t, 4)

	var ticks []int
	for _, ev := range f.events.evals {
		ticks = append(ticks, ev.tick)
	}
	require.Equal(t, []int{4, 9, 14, 19}, ticks)

	// Synchronous nodes send exactly once per round.
	require.Equal(t, 6*4, f.events.sent)
	require.Len(t, f.events.timesteps, 20)
}

func TestAsyncNodesSendAtMostOncePerRoundLen(t *testing.T) {
	s := defaultSetup()
	s.nodes = 8
	s.delta = 20
	s.sync = false
	s.seed = 7
	f := newFixture(t, s)

	last := map[int]int{}
	gaps := map[int]int{}
	f.sim.AddObserver(messageFunc(func(failed bool, msg *protocol.Message) {
		if failed || msg.Kind != protocol.KindPush {
			return
		}
		if prev, ok := last[msg.Sender]; ok {
			gap := msg.Tick - prev
			if g, seen := gaps[msg.Sender]; !seen || gap < g {
				gaps[msg.Sender] = gap
			}
		}
		last[msg.Sender] = msg.Tick
	}))
	f.run(t, 5)

	require.Len(t, gaps, 8)
	for _, n := range f.sim.nodes {
		require.Equal(t, n.RoundLen(), gaps[n.ID()], "node %d", n.ID())
	}
}

type messageFunc func(failed bool, msg *protocol.Message)

func (f messageFunc) OnMessage(failed bool, msg *protocol.Message) { f(failed, msg) }
func (messageFunc) OnEvaluation(int, bool, []model.Metrics)        {}
func (messageFunc) OnTimestep(int)                                 {}
func (messageFunc) OnEnd()                                         {}

func TestSamplingEvalSize(t *testing.T) {
	tests := []struct {
		sampling float64
		want     int
	}{
		{0, 10},
		{0.25, 2},
		{0.01, 1},
		{0.5, 5},
		{1, 10},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.sampling), func(t *testing.T) {
			s := defaultSetup()
			s.nodes = 10
			s.samplingEval = tt.sampling
			s.evalSet = true
			f := newFixture(t, s)
			f.run(t, 3)

			require.Len(t, f.events.evals, 6)
			for _, ev := range f.events.evals {
				require.Len(t, ev.results, tt.want)
			}
		})
	}
}

func TestMaliciousNodesNotEvaluated(t *testing.T) {
	s := defaultSetup()
	s.nodes = 8
	s.malicious = 0.5
	s.protocol = protocol.PushPull
	s.evalSet = true
	f := newFixture(t, s)
	f.run(t, 2)

	require.Len(t, f.events.evals, 4)
	for _, ev := range f.events.evals {
		require.Len(t, ev.results, 4)
	}
}

func TestNoLocalEvaluationWithoutTestData(t *testing.T) {
	s := defaultSetup()
	s.withTest = false
	s.evalSet = true
	f := newFixture(t, s)
	f.run(t, 1)

	require.Len(t, f.events.evals, 1)
	require.False(t, f.events.evals[0].local)
	require.Len(t, f.events.evals[0].results, 4)
}

func TestNoEvaluationWhenNothingToEvaluate(t *testing.T) {
	s := defaultSetup()
	s.malicious = 1
	s.evalSet = true
	f := newFixture(t, s)
	f.run(t, 2)

	require.Empty(t, f.events.evals)
	require.Equal(t, 1, f.events.ends)
}

func TestIsolatedNodeSkipsTurn(t *testing.T) {
	s := defaultSetup()
	s.nodes = 3
	s.topo = func(rng *rand.Rand, n int) topology.Topology {
		g, err := topology.NewGraph([][]int{{1}, {0}, {}}, rng)
		require.NoError(t, err)
		return g
	}
	f := newFixture(t, s)
	f.run(t, 2)

	require.Equal(t, 4, f.events.sent)
	for _, line := range f.events.lines {
		require.NotContains(t, line, "2->")
	}
}

func TestUndeliveredAtTeardown(t *testing.T) {
	capture := logging.CaptureForTest()
	defer capture.Restore()

	s := defaultSetup()
	s.delay = func(*rand.Rand) delay.Delay { return delay.NewConstant(5) }
	f := newFixture(t, s)
	f.run(t, 1)

	require.Zero(t, f.receives)
	require.Zero(t, f.cache.Len(), "payloads of undelivered messages are released")

	rec, ok := capture.Find(slog.LevelDebug, "undelivered messages at teardown")
	require.True(t, ok)
	count, _ := logging.Attr(rec, "count")
	require.Equal(t, int64(4), count.Int64())
}

var errRejected = errors.New("rejected")

// rejectingNode fails every Receive without consuming the payload.
type rejectingNode struct {
	gossip.Node
}

func (rejectingNode) Receive(int, protocol.Message) (*protocol.Message, error) {
	return nil, errRejected
}

func TestReceiveErrorReleasesRemainingPayloads(t *testing.T) {
	f := newFixture(t, defaultSetup())
	for i, n := range f.sim.nodes {
		f.sim.nodes[i] = rejectingNode{Node: n}
	}
	f.sim.Init()

	err := f.sim.Start(context.Background(), 1)
	require.ErrorIs(t, err, errRejected)
	require.Contains(t, err.Error(), "tick 0")
	require.Equal(t, 4, f.events.sent)
	require.Equal(t, 1, f.events.ends)
	require.Zero(t, f.cache.Len(), "payloads due in the failed tick are released")
}

func chaoticSetup(seed uint64) setup {
	return setup{
		nodes:        12,
		malicious:    0.25,
		assignment:   gossip.AssignRandom,
		delta:        4,
		protocol:     protocol.PushPull,
		dropProb:     0.2,
		onlineProb:   0.8,
		samplingEval: 0.5,
		delay:        func(rng *rand.Rand) delay.Delay { return delay.NewUniform(0, 3, rng) },
		withTest:     true,
		evalSet:      true,
		seed:         seed,
	}
}

func TestDeterministicUnderSeed(t *testing.T) {
	a := newFixture(t, chaoticSetup(99))
	a.run(t, 6)
	b := newFixture(t, chaoticSetup(99))
	b.run(t, 6)
	require.Equal(t, a.events.lines, b.events.lines)

	c := newFixture(t, chaoticSetup(100))
	c.run(t, 6)
	require.NotEqual(t, a.events.lines, c.events.lines)
}

func TestParallelEvaluationMatchesSerial(t *testing.T) {
	serial := newFixture(t, chaoticSetup(5))
	serial.run(t, 5)

	s := chaoticSetup(5)
	s.parallel = true
	parallel := newFixture(t, s)
	parallel.run(t, 5)

	require.Equal(t, serial.events.lines, parallel.events.lines)
}

func TestObserversFanOutInOrder(t *testing.T) {
	var order []string
	mk := func(name string) Observer {
		return endFunc(func() { order = append(order, name) })
	}
	obs := Observers{mk("a"), mk("b"), mk("c")}
	obs.OnEnd()
	require.Equal(t, []string{"a", "b", "c"}, order)
}

type endFunc func()

func (endFunc) OnMessage(bool, *protocol.Message)       {}
func (endFunc) OnEvaluation(int, bool, []model.Metrics) {}
func (endFunc) OnTimestep(int)                          {}
func (f endFunc) OnEnd()                                { f() }
