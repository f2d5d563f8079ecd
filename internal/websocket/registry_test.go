package websocket

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
)

type fakeChannel struct {
	identity string
	closed   atomic.Bool
	closeErr error
}

func newFake(identity string) *fakeChannel { return &fakeChannel{identity: identity} }

func (f *fakeChannel) Identity() string { return f.identity }

func (f *fakeChannel) WriteJSON(v interface{}) error {
	if f.closed.Load() {
		return ErrConnectionClosed
	}
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed.Store(true)
	return f.closeErr
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	ch := newFake("alice@campus.edu")

	r.Register(ch)

	got, ok := r.Lookup("alice@campus.edu")
	if !ok || got != ch {
		t.Fatalf("Lookup returned %v, %v", got, ok)
	}
	if r.Count() != 1 {
		t.Errorf("Expected 1 connection, got %d", r.Count())
	}

	// Registering the same channel twice is a no-op and does not close it.
	r.Register(ch)
	if ch.closed.Load() {
		t.Error("Re-registering the live channel must not close it")
	}
}

func TestRegistry_LatestConnectionWins(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	old := newFake("alice@campus.edu")
	old.closeErr = errors.New("already gone")
	replacement := newFake("alice@campus.edu")

	r.Register(old)
	r.Register(replacement)

	if !old.closed.Load() {
		t.Error("Superseded channel should be closed")
	}
	got, _ := r.Lookup("alice@campus.edu")
	if got != replacement {
		t.Error("Replacement should be the live channel")
	}
	if n := len(r.Snapshot()); n != 1 {
		t.Errorf("Expected exactly one channel in snapshot, got %d", n)
	}
}

func TestRegistry_StaleUnregisterIsNoop(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	old := newFake("alice@campus.edu")
	replacement := newFake("alice@campus.edu")

	r.Register(old)
	r.Register(replacement)

	if r.Unregister(old) {
		t.Error("Unregister of a superseded channel should report false")
	}
	if got, ok := r.Lookup("alice@campus.edu"); !ok || got != replacement {
		t.Fatal("Stale unregister evicted the live channel")
	}

	if !r.Unregister(replacement) {
		t.Error("Unregister of the live channel should report true")
	}
	if r.Unregister(replacement) {
		t.Error("Second unregister should be a no-op")
	}
	if r.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Count())
	}
}

func TestRegistry_SnapshotIsPointInTime(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	for _, id := range []string{"c@x", "a@x", "b@x"} {
		r.Register(newFake(id))
	}

	snap := r.Snapshot()
	r.Register(newFake("d@x"))

	if len(snap) != 3 {
		t.Errorf("Snapshot should not observe later registrations, got %d", len(snap))
	}

	ids := r.Identities()
	want := []string{"a@x", "b@x", "c@x", "d@x"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("Identities() = %v, want %v", ids, want)
	}
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	a, b := newFake("a@x"), newFake("b@x")
	r.Register(a)
	r.Register(b)

	r.CloseAll()

	if !a.closed.Load() || !b.closed.Load() {
		t.Error("CloseAll should close every channel")
	}
	if r.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", r.Count())
	}
}

// Concurrent registration for the same identity never exposes two channels.
func TestRegistry_ConcurrentAtMostOne(t *testing.T) {
	r := NewRegistry(zerolog.Nop())

	var wg sync.WaitGroup
	stop := make(chan struct{})
	violations := atomic.Int32{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			seen := map[string]int{}
			for _, ch := range r.Snapshot() {
				seen[ch.Identity()]++
			}
			for _, n := range seen {
				if n > 1 {
					violations.Add(1)
				}
			}
		}
	}()

	var writers sync.WaitGroup
	for i := 0; i < 20; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for j := 0; j < 50; j++ {
				ch := newFake("alice@campus.edu")
				r.Register(ch)
				if j%3 == 0 {
					r.Unregister(ch)
				}
			}
		}()
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	if violations.Load() != 0 {
		t.Errorf("Observed %d snapshots with duplicate identities", violations.Load())
	}
	if r.Count() > 1 {
		t.Errorf("Expected at most one channel, got %d", r.Count())
	}
	for _, ch := range r.Snapshot() {
		if ch.(*fakeChannel).closed.Load() {
			t.Error("Live channel must not be closed")
		}
	}
}
