package event

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus[string](context.Background(), BusOptions{Name: "test"})
	defer bus.Close()

	first, cancelFirst := bus.Subscribe()
	defer cancelFirst()
	second, cancelSecond := bus.SubscribeFiltered(func(value string) bool {
		return value == "b"
	})
	defer cancelSecond()

	bus.Publish("a")
	bus.Publish("b")

	if got := receive(t, first); got != "a" {
		t.Fatalf("expected a, got %q", got)
	}
	if got := receive(t, first); got != "b" {
		t.Fatalf("expected b, got %q", got)
	}
	if got := receive(t, second); got != "b" {
		t.Fatalf("expected filtered subscriber to get b, got %q", got)
	}
}

func TestBusDropsWhenSubscriberIsFull(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{SubscriberBufferSize: 1})
	defer bus.Close()

	_, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(1)
	bus.Publish(2)

	if bus.Published() != 2 {
		t.Fatalf("expected 2 published, got %d", bus.Published())
	}
	if bus.Dropped() != 1 {
		t.Fatalf("expected 1 dropped, got %d", bus.Dropped())
	}
}

func TestBusHistory(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{HistorySize: 2})
	defer bus.Close()

	for i := 1; i <= 3; i++ {
		bus.Publish(i)
	}
	if diff := cmp.Diff([]int{2, 3}, bus.History(0)); diff != "" {
		t.Fatalf("unexpected history (-want +got):\n%s", diff)
	}
}

func TestBusClosesWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	bus := NewBus[int](ctx, BusOptions{})
	output, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	cancel()

	select {
	case _, ok := <-output:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus to close")
	}

	closed, _ := bus.Subscribe()
	if _, ok := <-closed; ok {
		t.Fatal("expected subscribe after close to return a closed channel")
	}
}

func TestBusCancelIsIdempotent(t *testing.T) {
	bus := NewBus[int](context.Background(), BusOptions{})
	defer bus.Close()

	_, cancel := bus.Subscribe()
	cancel()
	cancel()
	if bus.SubscriberCount() != 0 {
		t.Fatalf("expected no subscribers, got %d", bus.SubscriberCount())
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case value := <-ch:
		return value
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}
