package watch_test

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anvilworks/anvil/pkg/domain/resource"
	"github.com/anvilworks/anvil/pkg/domain/watch"
	"github.com/anvilworks/anvil/pkg/domain/watch/mock"
)

func quietLogger() *log.Logger {
	return log.New(discard{}, "", 0)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func deployingCheck() watch.Check {
	return func(_ context.Context, key watch.Key) (resource.Resource, error) {
		return resource.Resource{Id: key.Id, Kind: key.Kind, Status: resource.Deploying}, nil
	}
}

func key() watch.Key {
	return watch.Key{Kind: resource.Application, Id: "res-1"}
}

func newRegistry(check watch.Check) (*watch.Registry, *mock.Scheduler) {
	scheduler := mock.NewScheduler()
	registry := watch.NewRegistry(context.Background(), scheduler, check, quietLogger())
	return registry, scheduler
}

func TestPollSession(t *testing.T) {
	t.Run("it pushes a status snapshot to the subscriber on each tick", func(t *testing.T) {
		registry, scheduler := newRegistry(deployingCheck())
		sub := mock.NewSubscriber()
		registry.Watch(key(), time.Second, time.Minute, sub)

		scheduler.Tick()
		scheduler.Tick()

		events := sub.Events()
		if len(events) != 2 {
			t.Fatalf("got %d events, expected 2", len(events))
		}
		for _, e := range events {
			if e.Name != watch.EventStatus {
				t.Errorf("event name: %s != %s", e.Name, watch.EventStatus)
			}
			if e.Resource.Id != "res-1" {
				t.Errorf("event resource: %+v", e.Resource)
			}
		}
	})

	t.Run("it stops the session when the last subscriber detaches, firing no further checks", func(t *testing.T) {
		var checks atomic.Uint64
		registry, scheduler := newRegistry(func(_ context.Context, k watch.Key) (resource.Resource, error) {
			checks.Add(1)
			return resource.Resource{Id: k.Id, Status: resource.Deploying}, nil
		})

		sub := mock.NewSubscriber()
		subscription := registry.Watch(key(), time.Second, time.Minute, sub)
		scheduler.Tick()

		subscription.Detach()

		if registry.Active(key()) {
			t.Error("session is still registered after last detach")
		}
		before := checks.Load()
		scheduler.Tick()
		scheduler.Tick()
		if checks.Load() != before {
			t.Errorf("checks fired after stop: %d -> %d", before, checks.Load())
		}
		if scheduler.Pending() != 0 {
			t.Errorf("%d scheduled items still pending", scheduler.Pending())
		}
	})

	t.Run("it pushes a terminal timeout event at the absolute deadline", func(t *testing.T) {
		registry, scheduler := newRegistry(deployingCheck())
		sub := mock.NewSubscriber()
		registry.Watch(key(), time.Second, time.Minute, sub)

		scheduler.Tick()
		scheduler.FireDeadline()

		last, ok := sub.LastEvent()
		if !ok || last.Name != watch.EventTimeout {
			t.Errorf("last event: %+v, expected %s", last, watch.EventTimeout)
		}
		if !sub.Closed() {
			t.Error("subscriber is not closed after timeout")
		}
		if registry.Active(key()) {
			t.Error("session survived its deadline")
		}
		if scheduler.Pending() != 0 {
			t.Errorf("%d scheduled items still pending", scheduler.Pending())
		}
	})

	t.Run("it skips a tick while the previous check is still running", func(t *testing.T) {
		var concurrent, peak atomic.Int64
		gate := make(chan struct{})
		registry, scheduler := newRegistry(func(_ context.Context, k watch.Key) (resource.Resource, error) {
			n := concurrent.Add(1)
			if p := peak.Load(); n > p {
				peak.Store(n)
			}
			<-gate
			concurrent.Add(-1)
			return resource.Resource{Id: k.Id, Status: resource.Deploying}, nil
		})

		sub := mock.NewSubscriber()
		registry.Watch(key(), time.Second, time.Minute, sub)

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduler.Tick() // slow check holds the gate
		}()
		for concurrent.Load() == 0 {
			time.Sleep(time.Millisecond)
		}

		scheduler.Tick() // overlapping: must be skipped
		close(gate)
		wg.Wait()

		if peak.Load() != 1 {
			t.Errorf("%d checks ran concurrently, expected at most 1", peak.Load())
		}
	})

	t.Run("it prunes an unreachable subscriber after the first tick", func(t *testing.T) {
		registry, scheduler := newRegistry(deployingCheck())
		sub := mock.NewSubscriber()
		registry.Watch(key(), time.Second, time.Minute, sub)

		// first tick: liveness probe is skipped even for a dead subscriber
		sub.PingErr = errors.New("gone")
		scheduler.Tick()
		if sub.Pings() != 0 {
			t.Errorf("pinged %d times on the first tick, expected 0", sub.Pings())
		}

		// second tick prunes; the session was down to zero and stops
		scheduler.Tick()
		if registry.Active(key()) {
			t.Error("session is still registered after pruning its only subscriber")
		}
	})

	t.Run("it keeps the session while one of two subscribers remains", func(t *testing.T) {
		registry, scheduler := newRegistry(deployingCheck())
		first := mock.NewSubscriber()
		second := mock.NewSubscriber()
		sfirst := registry.Watch(key(), time.Second, time.Minute, first)
		ssecond := registry.Watch(key(), time.Second, time.Minute, second)

		scheduler.Tick()
		if len(first.Events()) != 1 || len(second.Events()) != 1 {
			t.Errorf("events: %d / %d, expected 1 / 1", len(first.Events()), len(second.Events()))
		}

		sfirst.Detach()
		if !registry.Active(key()) {
			t.Fatal("session stopped although a subscriber remains")
		}
		scheduler.Tick()
		if len(second.Events()) != 2 {
			t.Errorf("remaining subscriber got %d events, expected 2", len(second.Events()))
		}

		ssecond.Detach()
		if registry.Active(key()) {
			t.Error("session is still registered after both detached")
		}
		if scheduler.Pending() != 0 {
			t.Errorf("%d scheduled items still pending", scheduler.Pending())
		}
	})

	t.Run("it detaches only the subscriber whose push fails", func(t *testing.T) {
		registry, scheduler := newRegistry(deployingCheck())
		broken := mock.NewSubscriber()
		healthy := mock.NewSubscriber()
		registry.Watch(key(), time.Second, time.Minute, broken)
		registry.Watch(key(), time.Second, time.Minute, healthy)

		broken.PushErr = errors.New("transport broken")
		scheduler.Tick()

		if !broken.Closed() {
			t.Error("broken subscriber is not detached")
		}
		if len(healthy.Events()) != 1 {
			t.Errorf("healthy subscriber got %d events, expected 1", len(healthy.Events()))
		}
		if !registry.Active(key()) {
			t.Error("session stopped although a healthy subscriber remains")
		}
	})

	t.Run("it completes the stream when the resource reaches a terminal status", func(t *testing.T) {
		registry, scheduler := newRegistry(func(_ context.Context, k watch.Key) (resource.Resource, error) {
			return resource.Resource{Id: k.Id, Status: resource.Deployed}, nil
		})
		sub := mock.NewSubscriber()
		registry.Watch(key(), time.Second, time.Minute, sub)

		scheduler.Tick()

		events := sub.Events()
		if len(events) != 2 {
			t.Fatalf("got %d events, expected snapshot + complete", len(events))
		}
		if events[0].Name != watch.EventStatus || events[1].Name != watch.EventComplete {
			t.Errorf("events: %s, %s", events[0].Name, events[1].Name)
		}
		if registry.Active(key()) {
			t.Error("session survived completion")
		}
	})

	t.Run("it pushes a terminal stopped event on explicit stop", func(t *testing.T) {
		registry, scheduler := newRegistry(deployingCheck())
		sub := mock.NewSubscriber()
		registry.Watch(key(), time.Second, time.Minute, sub)
		scheduler.Tick()

		registry.Stop(key())

		last, ok := sub.LastEvent()
		if !ok || last.Name != watch.EventStopped {
			t.Errorf("last event: %+v, expected %s", last, watch.EventStopped)
		}
		if !sub.Closed() {
			t.Error("subscriber is not closed after stop")
		}
	})
}

func TestWatchOnce(t *testing.T) {
	t.Run("it runs the tick body once and then stops unconditionally", func(t *testing.T) {
		var checks atomic.Uint64
		registry, scheduler := newRegistry(func(_ context.Context, k watch.Key) (resource.Resource, error) {
			checks.Add(1)
			return resource.Resource{Id: k.Id, Status: resource.Deploying}, nil
		})

		sub := mock.NewSubscriber()
		registry.WatchOnce(key(), time.Second, time.Minute, sub)

		scheduler.Tick()
		scheduler.Tick()

		if checks.Load() != 1 {
			t.Errorf("check ran %d times, expected once", checks.Load())
		}
		if registry.Active(key()) {
			t.Error("one-shot session is still registered")
		}
		last, ok := sub.LastEvent()
		if !ok || last.Name != watch.EventStopped {
			t.Errorf("last event: %+v, expected %s", last, watch.EventStopped)
		}
	})
}
