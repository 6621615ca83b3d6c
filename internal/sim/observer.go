package sim

import (
	"gossipsim/internal/model"
	"gossipsim/internal/protocol"
)

// Observer receives the simulator's notifications in the order they happen.
// Implementations are called from the simulation loop and must not block.
type Observer interface {
	// OnMessage reports a send attempt or delivery (failed=false), or a
	// message lost to a drop or an offline receiver (failed=true).
	OnMessage(failed bool, msg *protocol.Message)
	// OnEvaluation publishes one metrics map per evaluated node. local is true
	// for held-out local data and false for the shared evaluation set.
	OnEvaluation(t int, local bool, results []model.Metrics)
	OnTimestep(t int)
	OnEnd()
}

// Observers fans every notification out in registration order.
type Observers []Observer

func (o Observers) OnMessage(failed bool, msg *protocol.Message) {
	for _, ob := range o {
		ob.OnMessage(failed, msg)
	}
}

func (o Observers) OnEvaluation(t int, local bool, results []model.Metrics) {
	for _, ob := range o {
		ob.OnEvaluation(t, local, results)
	}
}

func (o Observers) OnTimestep(t int) {
	for _, ob := range o {
		ob.OnTimestep(t)
	}
}

func (o Observers) OnEnd() {
	for _, ob := range o {
		ob.OnEnd()
	}
}

// NopObserver ignores everything. Embed it to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) OnMessage(bool, *protocol.Message)       {}
func (NopObserver) OnEvaluation(int, bool, []model.Metrics) {}
func (NopObserver) OnTimestep(int)                          {}
func (NopObserver) OnEnd()                                  {}
