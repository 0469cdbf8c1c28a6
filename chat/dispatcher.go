package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/yellowcrystalz/masa-meter/telemetry"
)

// MessageHandler processes a single chat message.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg Message) error
}

// Dispatcher runs a bounded number of message handlers concurrently.
// Dispatch blocks while every slot is busy, which pushes back on the IRC reader.
type Dispatcher struct {
	handler MessageHandler
	slots   chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher returns a Dispatcher allowing maxInFlight concurrent handlers (minimum 1).
func NewDispatcher(h MessageHandler, maxInFlight int) *Dispatcher {
	if maxInFlight < 1 {
		maxInFlight = 1
	}
	slog.Info("chat concurrency limit initialized", slog.Int("max_in_flight", maxInFlight), slog.String("component", "chat"))
	return &Dispatcher{handler: h, slots: make(chan struct{}, maxInFlight)}
}

// Dispatch hands msg to a handler goroutine. It returns false if ctx was canceled
// before a slot became free; the message is then dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) bool {
	select {
	case d.slots <- struct{}{}:
	case <-ctx.Done():
		return false
	}
	telemetry.SetChatInFlight(d.Active())

	corr := msg.ID
	if corr == "" {
		corr = uuid.NewString()
	}
	hctx := telemetry.WithCorrelation(ctx, corr)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.release()
		if err := d.handler.HandleMessage(hctx, msg); err != nil {
			telemetry.LoggerWithCorr(hctx).Error("chat message handling failed",
				slog.String("component", "chat"),
				slog.String("channel", msg.Channel),
				slog.String("author", msg.Author),
				slog.Any("err", err))
		}
	}()
	return true
}

func (d *Dispatcher) release() {
	select {
	case <-d.slots:
	default:
		// Should not happen unless mismatched acquire/release
		slog.Warn("chat slot release called without corresponding acquire", slog.String("component", "chat"))
	}
	telemetry.SetChatInFlight(d.Active())
}

// Wait blocks until every dispatched handler has returned.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Active returns the number of handlers currently running.
func (d *Dispatcher) Active() int { return len(d.slots) }

// Max returns the configured concurrency limit.
func (d *Dispatcher) Max() int { return cap(d.slots) }
