package server

import (
	"context"

	"github.com/yellowcrystalz/masa-meter/ledger"
)

// Reader is the read side of the mention ledger served over HTTP.
type Reader interface {
	Meter(ctx context.Context) (int64, error)
	History(ctx context.Context) ([]ledger.HistoryEntry, error)
	SpeakerHistory(ctx context.Context, name string) ([]ledger.HistoryEntry, error)
	Leaderboard(ctx context.Context) ([]ledger.LeaderboardEntry, error)
	Achievements(ctx context.Context) (ledger.Achievements, error)
}

// Pinger checks database connectivity. *sql.DB satisfies it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Dependencies are the collaborators the handlers read from.
type Dependencies struct {
	Ledger Reader
	DB     Pinger
	// Status reports runtime state for /admin/status. Optional.
	Status func() map[string]any
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ledger         Reader
	db             Pinger
	status         func() map[string]any
	maxLeaderboard int
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(deps Dependencies, opts Options) *Handlers {
	return &Handlers{
		ledger:         deps.Ledger,
		db:             deps.DB,
		status:         deps.Status,
		maxLeaderboard: opts.MaxLeaderboard,
	}
}
