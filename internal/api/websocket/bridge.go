package websocket

import (
	"sync"

	"github.com/ferralab/prepcore/internal/telemetry"
	"github.com/ferralab/prepcore/internal/workflow"
)

// Bridge forwards workflow transition events to the hub on its own
// goroutine.
type Bridge struct {
	hub    *Hub
	engine *workflow.Engine

	events chan workflow.Event
	wg     sync.WaitGroup
}

func NewBridge(hub *Hub, engine *workflow.Engine) *Bridge {
	return &Bridge{hub: hub, engine: engine}
}

func (b *Bridge) Start() {
	b.events = b.engine.Subscribe()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range b.events {
			b.hub.Broadcast(NewJobTransitionMessage(event))
			b.hub.Broadcast(NewMachineStateMessage(b.engine.Snapshot()))
		}
	}()
}

func (b *Bridge) Stop() {
	b.engine.Unsubscribe(b.events)
	b.wg.Wait()
}

// TelemetrySink broadcasts process samples to all connected clients. It
// satisfies telemetry.Sink and drops messages rather than blocking.
type TelemetrySink struct {
	Hub *Hub
}

func (s *TelemetrySink) Append(sample telemetry.Sample) {
	s.Hub.Broadcast(NewTelemetryMessage(sample))
}
