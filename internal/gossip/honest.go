package gossip

import (
	"gossipsim/internal/protocol"
)

// Honest transmits its true model state.
type Honest struct {
	base
}

// NewHonest creates an honest node.
func NewHonest(cfg NodeConfig) *Honest {
	return &Honest{base: newBase(cfg)}
}

func (n *Honest) Role() Role      { return RoleHonest }
func (n *Honest) Evaluable() bool { return true }

// Send builds the message for protocol p. PUSH and PUSH_PULL cache a snapshot
// of the model; PULL is a bare request.
func (n *Honest) Send(t, peer int, p protocol.Protocol) (*protocol.Message, error) {
	kind, err := kindFor(p)
	if err != nil {
		return nil, err
	}
	msg := n.message(t, peer, kind)
	if kind.CarriesPayload() {
		n.attach(&msg, n.handler.Snapshot())
	}
	n.lastSend = t
	return &msg, nil
}

// Receive merges any payload and answers PULL and PUSH_PULL with a REPLY
// carrying the node's own snapshot.
func (n *Honest) Receive(t int, msg protocol.Message) (*protocol.Message, error) {
	if err := checkKind(msg.Kind); err != nil {
		return nil, err
	}
	if msg.Kind.CarriesPayload() {
		if err := n.merge(msg); err != nil {
			return nil, err
		}
	}
	if !msg.Kind.WantsReply() {
		return nil, nil
	}
	return n.reply(t, msg, n.handler.Snapshot()), nil
}
