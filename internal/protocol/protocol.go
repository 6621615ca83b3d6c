package protocol

import (
	"fmt"
	"strings"

	"gossipsim/internal/cache"
)

// Protocol selects what a node produces when it gossips.
type Protocol int

const (
	Push Protocol = iota + 1
	Pull
	PushPull
)

func (p Protocol) String() string {
	switch p {
	case Push:
		return "push"
	case Pull:
		return "pull"
	case PushPull:
		return "push_pull"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// Valid reports whether p is one of the known protocols.
func (p Protocol) Valid() bool {
	return p == Push || p == Pull || p == PushPull
}

// ParseProtocol parses "push", "pull" or "push_pull" (case-insensitive).
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "push":
		return Push, nil
	case "pull":
		return Pull, nil
	case "push_pull", "push-pull", "pushpull":
		return PushPull, nil
	}
	return 0, fmt.Errorf("unknown protocol %q", s)
}

// Kind governs what a receiver does with a message.
type Kind int

const (
	KindPush Kind = iota + 1
	KindPull
	KindPushPull
	KindReply
)

func (k Kind) String() string {
	switch k {
	case KindPush:
		return "PUSH"
	case KindPull:
		return "PULL"
	case KindPushPull:
		return "PUSH_PULL"
	case KindReply:
		return "REPLY"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// CarriesPayload reports whether messages of this kind reference a cached payload.
func (k Kind) CarriesPayload() bool {
	return k == KindPush || k == KindPushPull || k == KindReply
}

// WantsReply reports whether the receiver owes the sender its own state.
func (k Kind) WantsReply() bool {
	return k == KindPull || k == KindPushPull
}

// Message is a gossip message. It is a value: once built it is never modified,
// and each message is consumed by exactly one delivery.
type Message struct {
	Tick     int
	Sender   int
	Receiver int
	Kind     Kind
	Key      cache.Key // zero when the message carries no payload
	Size     int       // payload units transported; 1 for a bare request
}

func (m Message) String() string {
	return fmt.Sprintf("%s %d->%d @%d", m.Kind, m.Sender, m.Receiver, m.Tick)
}
