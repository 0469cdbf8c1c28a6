package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yellowcrystalz/masa-meter/testutil"
)

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return Snapshot{}
	}
}

func TestRefresherPollsOnEveryTick(t *testing.T) {
	l := testutil.NewMockLedger()
	l.Seed("alice", 2)

	clock := clockwork.NewFakeClock()
	published := make(chan Snapshot, 4)
	r := New(l, 5*time.Second, WithClock(clock), WithPublisher(func(s Snapshot) { published <- s }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	if s := waitSnapshot(t, published); s.Meter != 2 {
		t.Fatalf("initial meter = %d, want 2", s.Meter)
	}

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatal(err)
	}
	l.Seed("bob", 1)
	clock.Advance(5 * time.Second)

	s := waitSnapshot(t, published)
	if s.Meter != 3 {
		t.Errorf("meter after tick = %d, want 3", s.Meter)
	}
	if !s.UpdatedAt.Equal(clock.Now().UTC()) {
		t.Errorf("UpdatedAt = %v, want %v", s.UpdatedAt, clock.Now())
	}
	if r.Snapshot().Meter != 3 {
		t.Errorf("Snapshot().Meter = %d", r.Snapshot().Meter)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestRefreshKeepsPreviousValueOnError(t *testing.T) {
	l := testutil.NewMockLedger()
	l.Seed("alice", 4)
	r := New(l, 0)

	r.Refresh(context.Background())
	l.Err = errors.New("db down")
	r.Refresh(context.Background())

	s := r.Snapshot()
	if s.Meter != 4 {
		t.Errorf("meter = %d, want previous value 4", s.Meter)
	}
	if s.LastError != "db down" {
		t.Errorf("LastError = %q", s.LastError)
	}
}

func TestNewDefaultsInterval(t *testing.T) {
	r := New(testutil.NewMockLedger(), -1)
	if r.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", r.interval, DefaultInterval)
	}
}
