package events

import (
	"testing"

	"github.com/scriptreel/api/internal/model"
)

func TestBus_FanOut(t *testing.T) {
	bus := NewBus()

	var first, second []model.StageEvent
	bus.Subscribe(func(ev model.StageEvent) { first = append(first, ev) })
	bus.Subscribe(func(ev model.StageEvent) { second = append(second, ev) })

	bus.Publish(model.StageEvent{Type: model.EventStageStarted, ItemID: "item-1"})
	bus.Publish(model.StageEvent{Type: model.EventStageCompleted, ItemID: "item-1"})

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("fan-out = %d/%d, want 2/2", len(first), len(second))
	}
	if first[0].Type != model.EventStageStarted || first[1].Type != model.EventStageCompleted {
		t.Error("events must arrive in publish order")
	}
}

func TestBus_StampsTimestamp(t *testing.T) {
	bus := NewBus()

	var got model.StageEvent
	bus.Subscribe(func(ev model.StageEvent) { got = ev })
	bus.Publish(model.StageEvent{Type: model.EventStageStarted})

	if got.Timestamp.IsZero() {
		t.Error("publish must stamp a missing timestamp")
	}
}

func TestBus_PanickingSubscriberIsIsolated(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(func(model.StageEvent) { panic("boom") })
	var delivered int
	bus.Subscribe(func(model.StageEvent) { delivered++ })

	bus.Publish(model.StageEvent{Type: model.EventStageStarted})

	if delivered != 1 {
		t.Errorf("delivered = %d, a panicking subscriber must not block the rest", delivered)
	}
}

func TestBus_LateSubscriberMissesEarlierEvents(t *testing.T) {
	bus := NewBus()
	bus.Publish(model.StageEvent{Type: model.EventStageStarted})

	var seen int
	bus.Subscribe(func(model.StageEvent) { seen++ })
	bus.Publish(model.StageEvent{Type: model.EventStageCompleted})

	if seen != 1 {
		t.Errorf("seen = %d, live delivery has no replay", seen)
	}
}
