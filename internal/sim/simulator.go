package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"

	"gossipsim/internal/data"
	"gossipsim/internal/delay"
	"gossipsim/internal/gossip"
	"gossipsim/internal/logging"
	"gossipsim/internal/model"
	"gossipsim/internal/protocol"
)

var ErrNotInitialized = errors.New("simulator not initialised")

var logger = logging.For("sim")

// Options configures a Simulator.
type Options struct {
	Delta        int // ticks per round
	Protocol     protocol.Protocol
	DropProb     float64
	OnlineProb   float64
	SamplingEval float64 // 0 evaluates every honest node
	Delay        delay.Delay
	// Rng is the single random source of the run. It must be the same source
	// the topology and delay draw from for a seed to reproduce a run.
	Rng          *rand.Rand
	ParallelEval bool
	// Cache, when set, is where payloads of dropped and undelivered messages
	// are released.
	Cache *gossip.PayloadCache
}

// Simulator runs a population of nodes tick by tick. It is not safe for
// concurrent use.
type Simulator struct {
	nodes     []gossip.Node
	evaluable []gossip.Node
	source    data.Source
	opts      Options
	observers Observers

	order    []int
	online   []bool
	messages map[int][]protocol.Message
	replies  map[int][]protocol.Message

	initialized bool
}

// New creates a simulator over nodes, indexed by id. source may be nil when
// no shared evaluation set exists.
func New(nodes []gossip.Node, source data.Source, opts Options) *Simulator {
	if opts.Delta < 1 {
		opts.Delta = 1
	}
	if opts.Delay == nil {
		opts.Delay = delay.NewConstant(0)
	}
	if opts.Rng == nil {
		opts.Rng = rand.New(rand.NewPCG(0, 0))
	}
	return &Simulator{
		nodes:    nodes,
		source:   source,
		opts:     opts,
		messages: make(map[int][]protocol.Message),
		replies:  make(map[int][]protocol.Message),
	}
}

// AddObserver registers o. Observers are notified in registration order.
func (s *Simulator) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Init resets every node clock and empties the queues. It must be called
// before each Start.
func (s *Simulator) Init() {
	s.order = make([]int, len(s.nodes))
	s.online = make([]bool, len(s.nodes))
	s.evaluable = s.evaluable[:0]
	for i, n := range s.nodes {
		n.Reset()
		s.order[i] = i
		if n.Evaluable() {
			s.evaluable = append(s.evaluable, n)
		}
	}
	clear(s.messages)
	clear(s.replies)
	s.initialized = true

	logger.Debug("simulator initialised", "nodes", len(s.nodes), "evaluable", len(s.evaluable))
}

// Start runs rounds×Delta ticks. Cancelling ctx stops the run at the next tick
// boundary and is not an error. OnEnd is delivered on every exit once the
// simulator was initialised.
func (s *Simulator) Start(ctx context.Context, rounds int) error {
	if !s.initialized {
		return ErrNotInitialized
	}
	s.initialized = false
	defer s.teardown()

	total := rounds * s.opts.Delta
	logger.Info("simulation started",
		"nodes", len(s.nodes),
		"ticks", total,
		"protocol", s.opts.Protocol,
		"drop_prob", s.opts.DropProb,
		"online_prob", s.opts.OnlineProb)

	for t := 0; t < total; t++ {
		if err := ctx.Err(); err != nil {
			logger.Warn("simulation interrupted", "tick", t, "reason", err)
			return nil
		}
		if err := s.step(t); err != nil {
			return fmt.Errorf("tick %d: %w", t, err)
		}
	}

	logger.Info("simulation finished", "ticks", total)
	return nil
}

func (s *Simulator) step(t int) error {
	rng := s.opts.Rng

	if t%s.opts.Delta == 0 {
		rng.Shuffle(len(s.order), func(i, j int) {
			s.order[i], s.order[j] = s.order[j], s.order[i]
		})
	}

	for _, id := range s.order {
		n := s.nodes[id]
		if !n.TimedOut(t) {
			continue
		}
		peer, ok := n.Peer()
		if !ok {
			continue
		}
		msg, err := n.Send(t, peer, s.opts.Protocol)
		if err != nil {
			return fmt.Errorf("node %d send: %w", id, err)
		}
		s.observers.OnMessage(false, msg)
		s.route(s.messages, t, msg)
	}

	for i := range s.online {
		s.online[i] = rng.Float64() < s.opts.OnlineProb
	}

	due := s.messages[t]
	delete(s.messages, t)
	for i, msg := range due {
		if !s.online[msg.Receiver] {
			s.observers.OnMessage(true, &msg)
			s.discard(msg)
			continue
		}
		reply, err := s.nodes[msg.Receiver].Receive(t, msg)
		if err != nil {
			s.release(due[i:])
			return fmt.Errorf("node %d receive %s: %w", msg.Receiver, msg, err)
		}
		if reply != nil {
			s.route(s.replies, t, reply)
		}
	}

	due = s.replies[t]
	delete(s.replies, t)
	for i, reply := range due {
		if !s.online[reply.Receiver] {
			s.observers.OnMessage(true, &reply)
			s.discard(reply)
			continue
		}
		s.observers.OnMessage(false, &reply)
		if _, err := s.nodes[reply.Receiver].Receive(t, reply); err != nil {
			s.release(due[i:])
			return fmt.Errorf("node %d receive %s: %w", reply.Receiver, reply, err)
		}
	}

	if (t+1)%s.opts.Delta == 0 {
		if err := s.evaluate(t); err != nil {
			return err
		}
	}

	s.observers.OnTimestep(t)
	return nil
}

// route drop-samples msg once and, if it survives, queues it for delivery.
func (s *Simulator) route(queue map[int][]protocol.Message, t int, msg *protocol.Message) {
	if s.opts.Rng.Float64() < s.opts.DropProb {
		s.observers.OnMessage(true, msg)
		s.discard(*msg)
		return
	}
	at := t + max(s.opts.Delay.Get(*msg), 0)
	queue[at] = append(queue[at], *msg)
}

func (s *Simulator) discard(msg protocol.Message) {
	if s.opts.Cache == nil || msg.Key.IsZero() {
		return
	}
	if _, err := s.opts.Cache.Pop(msg.Key); err != nil {
		logger.Debug("releasing payload", "msg", msg.String(), "err", err)
	}
}

// release discards the payloads of messages taken off a queue but never
// handed to their receiver. The payload of a message whose Receive failed may
// already be gone, which discard tolerates.
func (s *Simulator) release(msgs []protocol.Message) {
	for _, msg := range msgs {
		s.discard(msg)
	}
}

func (s *Simulator) evaluate(t int) error {
	subset := s.evalSubset()
	if len(subset) == 0 {
		return nil
	}

	var withTest []gossip.Node
	for _, n := range subset {
		if n.HasTest() {
			withTest = append(withTest, n)
		}
	}
	if len(withTest) > 0 {
		results, err := s.evaluateAll(withTest, nil)
		if err != nil {
			return fmt.Errorf("local evaluation: %w", err)
		}
		s.observers.OnEvaluation(t, true, results)
	}

	if s.source != nil && s.source.HasEvalSet() {
		ds := s.source.EvalSet()
		results, err := s.evaluateAll(subset, &ds)
		if err != nil {
			return fmt.Errorf("global evaluation: %w", err)
		}
		s.observers.OnEvaluation(t, false, results)
	}

	logger.Debug("round evaluated", "tick", t, "subset", len(subset), "local", len(withTest))
	return nil
}

// evalSubset returns the evaluable nodes, or a sample of them drawn without
// replacement when SamplingEval is set.
func (s *Simulator) evalSubset() []gossip.Node {
	if s.opts.SamplingEval <= 0 || len(s.evaluable) == 0 {
		return s.evaluable
	}
	k := max(1, int(float64(len(s.evaluable))*s.opts.SamplingEval))
	k = min(k, len(s.evaluable))
	perm := s.opts.Rng.Perm(len(s.evaluable))[:k]
	out := make([]gossip.Node, k)
	for i, j := range perm {
		out[i] = s.evaluable[j]
	}
	return out
}

// evaluateAll keeps results in node order whether or not it runs in parallel.
func (s *Simulator) evaluateAll(nodes []gossip.Node, ext *model.Dataset) ([]model.Metrics, error) {
	results := make([]model.Metrics, len(nodes))
	if !s.opts.ParallelEval {
		for i, n := range nodes {
			results[i] = n.Evaluate(ext)
		}
		return results, nil
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, n := range nodes {
		g.Go(func() error {
			results[i] = n.Evaluate(ext)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Simulator) teardown() {
	pending := 0
	for _, queue := range []map[int][]protocol.Message{s.messages, s.replies} {
		for _, msgs := range queue {
			pending += len(msgs)
			s.release(msgs)
		}
		clear(queue)
	}
	if pending > 0 {
		logger.Debug("undelivered messages at teardown", "count", pending)
	}
	s.observers.OnEnd()
}
