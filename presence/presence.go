// Package presence keeps a periodically refreshed copy of the meter for status
// surfaces. The ledger stays the only owner of the count; a Refresher only reads it.
package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/yellowcrystalz/masa-meter/telemetry"
)

// DefaultInterval is how often the meter is re-read.
const DefaultInterval = 5 * time.Second

// MeterReader is the ledger read the Refresher polls.
type MeterReader interface {
	Meter(ctx context.Context) (int64, error)
}

// Snapshot is the last successfully read meter.
type Snapshot struct {
	Meter     int64     `json:"meter"`
	UpdatedAt time.Time `json:"updated_at"`
	LastError string    `json:"last_error,omitempty"`
}

// Refresher polls a MeterReader and republishes the value.
type Refresher struct {
	reader   MeterReader
	interval time.Duration
	clock    clockwork.Clock
	publish  func(Snapshot)

	mu   sync.RWMutex
	snap Snapshot
}

// Option configures a Refresher.
type Option func(*Refresher)

// WithClock overrides the ticker clock.
func WithClock(c clockwork.Clock) Option { return func(r *Refresher) { r.clock = c } }

// WithPublisher registers fn to receive every successful snapshot.
func WithPublisher(fn func(Snapshot)) Option { return func(r *Refresher) { r.publish = fn } }

// New returns a Refresher polling every interval (DefaultInterval when <= 0).
func New(reader MeterReader, interval time.Duration, opts ...Option) *Refresher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	r := &Refresher{reader: reader, interval: interval, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Snapshot returns the latest state.
func (r *Refresher) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// Run refreshes once immediately and then on every tick until ctx is canceled.
func (r *Refresher) Run(ctx context.Context) error {
	r.Refresh(ctx)

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()
	slog.Info("presence refresher started", slog.Duration("interval", r.interval), slog.String("component", "presence"))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			r.Refresh(ctx)
		}
	}
}

// Refresh reads the meter once. On failure the previous value is kept and the error recorded.
func (r *Refresher) Refresh(ctx context.Context) {
	n, err := r.reader.Meter(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("presence meter refresh failed", slog.Any("err", err), slog.String("component", "presence"))
		}
		r.mu.Lock()
		r.snap.LastError = err.Error()
		r.mu.Unlock()
		return
	}

	snap := Snapshot{Meter: n, UpdatedAt: r.clock.Now().UTC()}
	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	telemetry.SetMeter(n)
	if r.publish != nil {
		r.publish(snap)
	}
}
