package gossip

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gossipsim/internal/cache"
	"gossipsim/internal/logging"
	"gossipsim/internal/model"
	"gossipsim/internal/protocol"
	"gossipsim/internal/topology"
)

var (
	ErrUnknownProtocol     = errors.New("unknown protocol")
	ErrUnknownKind         = errors.New("unknown message kind")
	ErrSnapshotOutstanding = errors.New("saved snapshot still outstanding")
)

var logger = logging.For("gossip")

// PayloadCache is the cache shared by every node of a simulation.
type PayloadCache = cache.Cache[model.Params]

// Role tells honest and malicious nodes apart without type inspection.
type Role int

const (
	RoleHonest Role = iota
	RoleMalicious
)

func (r Role) String() string {
	switch r {
	case RoleHonest:
		return "honest"
	case RoleMalicious:
		return "malicious"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Node is one simulated peer.
type Node interface {
	ID() int
	Role() Role
	// Evaluable reports whether the node's results count towards evaluation.
	Evaluable() bool
	RoundLen() int
	// TimedOut reports whether RoundLen ticks have passed since the last send.
	TimedOut(t int) bool
	// Reset makes the node due at tick 0.
	Reset()
	Peer() (int, bool)
	HasTest() bool
	Send(t, peer int, p protocol.Protocol) (*protocol.Message, error)
	Receive(t int, msg protocol.Message) (*protocol.Message, error)
	// Evaluate scores the live model on ext, or on the local test set if ext is nil.
	Evaluate(ext *model.Dataset) model.Metrics
}

// NodeConfig carries what a node needs besides its role.
type NodeConfig struct {
	ID       int
	RoundLen int
	Handler  model.Handler
	Train    model.Dataset
	Test     model.Dataset
	Topology topology.Topology
	Cache    *PayloadCache
}

// RoundLength returns a node's gossip period. Synchronous nodes all use delta;
// asynchronous ones draw it once from N(delta, delta/10), never below 1.
func RoundLength(delta int, sync bool, rng *rand.Rand) int {
	if sync {
		return max(delta, 1)
	}
	d := float64(delta)
	return max(int(math.Round(d+rng.NormFloat64()*d/10)), 1)
}

type base struct {
	id       int
	roundLen int
	lastSend int
	handler  model.Handler
	train    model.Dataset
	test     model.Dataset
	topo     topology.Topology
	cache    *PayloadCache
}

func newBase(cfg NodeConfig) base {
	b := base{
		id:       cfg.ID,
		roundLen: max(cfg.RoundLen, 1),
		handler:  cfg.Handler,
		train:    cfg.Train,
		test:     cfg.Test,
		topo:     cfg.Topology,
		cache:    cfg.Cache,
	}
	b.Reset()
	return b
}

func (b *base) ID() int       { return b.id }
func (b *base) RoundLen() int { return b.roundLen }
func (b *base) HasTest() bool { return b.test.Len() > 0 }

func (b *base) TimedOut(t int) bool {
	return t-b.lastSend >= b.roundLen
}

func (b *base) Reset() {
	b.lastSend = -b.roundLen
}

func (b *base) Peer() (int, bool) {
	return b.topo.Peer(b.id)
}

func (b *base) Evaluate(ext *model.Dataset) model.Metrics {
	if ext != nil {
		return b.handler.Evaluate(*ext)
	}
	return b.handler.Evaluate(b.test)
}

func (b *base) message(t, to int, kind protocol.Kind) protocol.Message {
	return protocol.Message{Tick: t, Sender: b.id, Receiver: to, Kind: kind, Size: 1}
}

// attach hands params to the cache and stores the key in msg.
func (b *base) attach(msg *protocol.Message, params model.Params) {
	msg.Key = b.cache.Put(params)
	msg.Size = len(params)
}

func (b *base) reply(t int, to protocol.Message, params model.Params) *protocol.Message {
	msg := b.message(t, to.Sender, protocol.KindReply)
	b.attach(&msg, params)
	return &msg
}

// merge consumes the message payload and folds it into the local model.
func (b *base) merge(msg protocol.Message) error {
	payload, err := b.cache.Pop(msg.Key)
	if err != nil {
		return fmt.Errorf("node %d receiving %s: %w", b.id, msg, err)
	}
	if err := b.handler.Merge(payload, b.train); err != nil {
		return fmt.Errorf("node %d merging %s: %w", b.id, msg, err)
	}
	return nil
}

func kindFor(p protocol.Protocol) (protocol.Kind, error) {
	switch p {
	case protocol.Push:
		return protocol.KindPush, nil
	case protocol.Pull:
		return protocol.KindPull, nil
	case protocol.PushPull:
		return protocol.KindPushPull, nil
	}
	return 0, fmt.Errorf("%w: %v", ErrUnknownProtocol, p)
}

func checkKind(k protocol.Kind) error {
	if k.CarriesPayload() || k.WantsReply() {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrUnknownKind, k)
}
