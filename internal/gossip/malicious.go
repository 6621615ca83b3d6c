package gossip

import (
	"fmt"
	"strings"

	"gossipsim/internal/model"
	"gossipsim/internal/protocol"
)

// RestorePolicy decides when a malicious node puts its true model back after
// neutralising it for transmission.
type RestorePolicy int

const (
	// RestoreOnNextSend restores on payload receipt, and also right before the
	// next corruption if no payload arrived in between.
	RestoreOnNextSend RestorePolicy = iota
	// RestoreOnReceive restores only on payload receipt. Corrupting again while
	// a snapshot is outstanding fails with ErrSnapshotOutstanding. It is a
	// strict diagnostic mode: most runs with malicious nodes abort under it,
	// e.g. a PULL target asked twice in one tick before any reply arrives.
	RestoreOnReceive
	// RestoreImmediately restores as soon as the neutral payload is cached.
	RestoreImmediately
)

func (p RestorePolicy) String() string {
	switch p {
	case RestoreOnNextSend:
		return "on_next_send"
	case RestoreOnReceive:
		return "on_receive"
	case RestoreImmediately:
		return "immediately"
	default:
		return fmt.Sprintf("restore_policy(%d)", int(p))
	}
}

// ParseRestorePolicy parses "on_next_send", "on_receive" or "immediately".
func ParseRestorePolicy(s string) (RestorePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "on_next_send", "":
		return RestoreOnNextSend, nil
	case "on_receive":
		return RestoreOnReceive, nil
	case "immediately":
		return RestoreImmediately, nil
	}
	return 0, fmt.Errorf("unknown restore policy %q", s)
}

// Malicious transmits an all-zero model of the right shape instead of its
// true state. The true state is parked in saved while the live model is
// neutral, and comes back before any legitimate payload is merged.
type Malicious struct {
	base
	policy   RestorePolicy
	saved    model.Params
	hasSaved bool
}

// NewMalicious creates a malicious node.
func NewMalicious(cfg NodeConfig, policy RestorePolicy) *Malicious {
	return &Malicious{base: newBase(cfg), policy: policy}
}

func (m *Malicious) Role() Role      { return RoleMalicious }
func (m *Malicious) Evaluable() bool { return false }

// Policy returns the node's restore policy.
func (m *Malicious) Policy() RestorePolicy { return m.policy }

// Outstanding reports whether the true model is currently parked.
func (m *Malicious) Outstanding() bool { return m.hasSaved }

func (m *Malicious) Send(t, peer int, p protocol.Protocol) (*protocol.Message, error) {
	kind, err := kindFor(p)
	if err != nil {
		return nil, err
	}
	msg := m.message(t, peer, kind)
	if kind.CarriesPayload() {
		neutral, err := m.corrupt()
		if err != nil {
			return nil, err
		}
		m.attach(&msg, neutral)
		m.settle()
	}
	m.lastSend = t
	return &msg, nil
}

func (m *Malicious) Receive(t int, msg protocol.Message) (*protocol.Message, error) {
	if err := checkKind(msg.Kind); err != nil {
		return nil, err
	}
	if msg.Kind.CarriesPayload() {
		m.restore()
		if err := m.merge(msg); err != nil {
			return nil, err
		}
	}
	if !msg.Kind.WantsReply() {
		return nil, nil
	}
	neutral, err := m.corrupt()
	if err != nil {
		return nil, err
	}
	reply := m.reply(t, msg, neutral)
	m.settle()
	return reply, nil
}

// corrupt parks the true model and installs a neutral one of the same shape.
// It returns a copy of the neutral value for the cache.
func (m *Malicious) corrupt() (model.Params, error) {
	if m.hasSaved {
		if m.policy == RestoreOnReceive {
			return nil, fmt.Errorf("node %d: %w", m.id, ErrSnapshotOutstanding)
		}
		m.restore()
	}
	neutral := m.handler.Snapshot().Neutral()
	m.saved = m.handler.Swap(neutral)
	m.hasSaved = true
	logger.Debug("model neutralised", "node", m.id, "policy", m.policy.String())
	return neutral.Clone(), nil
}

func (m *Malicious) restore() {
	if !m.hasSaved {
		return
	}
	m.handler.Swap(m.saved)
	m.saved = nil
	m.hasSaved = false
}

func (m *Malicious) settle() {
	if m.policy == RestoreImmediately {
		m.restore()
	}
}
