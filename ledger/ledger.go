// Package ledger records phrase mentions per speaker and answers the aggregate
// queries built on them: the meter, history, leaderboard and achievements.
//
// The ledger is the only writer of the speakers and masa_mentions tables. Every
// write runs in its own transaction; speaker creation is an upsert so concurrent
// first mentions by the same name never race.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/yellowcrystalz/masa-meter/telemetry"
)

// MaxUsernameLength matches the speakers.username column width.
const MaxUsernameLength = 50

const tracerName = "masa-meter/ledger"

// Speaker is a named chat participant.
type Speaker struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Mention is one recorded detection of the phrase.
type Mention struct {
	ID       int64     `json:"id"`
	Date     time.Time `json:"date"`
	Username string    `json:"username"`
}

// HistoryEntry is a mention as exposed to readers.
type HistoryEntry struct {
	Date     time.Time `json:"date"`
	Username string    `json:"username"`
}

// LeaderboardEntry is one ranked speaker.
type LeaderboardEntry struct {
	Username string `json:"username"`
	Count    int64  `json:"count"`
}

// Deletion reports how many rows a delete removed. A zero Deletion means nothing matched.
type Deletion struct {
	Speakers int64 `json:"speakers"`
	Mentions int64 `json:"mentions"`
}

// Empty reports whether nothing was deleted.
func (d Deletion) Empty() bool { return d.Speakers == 0 && d.Mentions == 0 }

// Ledger is safe for concurrent use.
type Ledger struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used for mention timestamps and the anniversary window.
func WithClock(c clockwork.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// New returns a Ledger over db. The schema must already exist.
func New(db *sql.DB, opts ...Option) *Ledger {
	l := &Ledger{db: db, clock: clockwork.NewRealClock()}
	for _, o := range opts {
		o(l)
	}
	return l
}

// instrument starts a span for op and returns a finish func recording latency and failures.
func (l *Ledger) instrument(ctx context.Context, op string) (context.Context, trace.Span, func(error)) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, tracerName, "ledger."+op)
	return ctx, span, func(err error) {
		telemetry.ObserveLedgerOp(op, start, Classify(err).String())
		if err != nil {
			telemetry.RecordError(span, err)
		} else {
			telemetry.SetSpanSuccess(span)
		}
		span.End()
	}
}

func normalizeUsername(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxUsernameLength {
		return "", ErrInvalidSpeaker
	}
	return name, nil
}

// RecordMention attributes one mention to name, creating the speaker on first use.
// A conflicting concurrent write is retried once; a second conflict returns ErrContention.
func (l *Ledger) RecordMention(ctx context.Context, name string) (m Mention, err error) {
	ctx, span, finish := l.instrument(ctx, "record_mention")
	defer func() { finish(err) }()

	name, err = normalizeUsername(name)
	if err != nil {
		return Mention{}, err
	}
	span.SetAttributes(telemetry.SpeakerAttr(name))

	m, err = l.recordOnce(ctx, name)
	if err == nil || !isContention(err) {
		if err == nil {
			telemetry.IncCounter(telemetry.MentionsRecorded)
		}
		return m, err
	}

	telemetry.IncCounter(telemetry.MentionRetries)
	telemetry.LoggerWithCorr(ctx).Debug("retrying mention after contention",
		"component", "ledger", "speaker", name, "error", err)

	m, err = l.recordOnce(ctx, name)
	if err != nil {
		if isContention(err) {
			return Mention{}, fmt.Errorf("%w: %v", ErrContention, err)
		}
		return Mention{}, err
	}
	telemetry.IncCounter(telemetry.MentionsRecorded)
	return m, nil
}

func (l *Ledger) recordOnce(ctx context.Context, name string) (Mention, error) {
	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return Mention{}, fmt.Errorf("begin record mention: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO speakers (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, name); err != nil {
		return Mention{}, fmt.Errorf("upsert speaker: %w", err)
	}

	m := Mention{Username: name}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO masa_mentions (date, speaker_username) VALUES ($1, $2) RETURNING id, date`,
		l.clock.Now().UTC(), name).Scan(&m.ID, &m.Date)
	if err != nil {
		return Mention{}, fmt.Errorf("insert mention: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Mention{}, fmt.Errorf("commit mention: %w", err)
	}
	m.Date = m.Date.UTC()
	return m, nil
}

// Meter returns the total number of mentions.
func (l *Ledger) Meter(ctx context.Context) (n int64, err error) {
	ctx, _, finish := l.instrument(ctx, "meter")
	defer func() { finish(err) }()

	if err = l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM masa_mentions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count mentions: %w", err)
	}
	return n, nil
}

// SpeakerMeter returns the number of mentions attributed to name. Unknown speakers count zero.
func (l *Ledger) SpeakerMeter(ctx context.Context, name string) (n int64, err error) {
	ctx, _, finish := l.instrument(ctx, "speaker_meter")
	defer func() { finish(err) }()

	if name, err = normalizeUsername(name); err != nil {
		return 0, err
	}
	err = l.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM masa_mentions WHERE speaker_username = $1`, name).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count speaker mentions: %w", err)
	}
	return n, nil
}

// History returns every mention in insertion order.
func (l *Ledger) History(ctx context.Context) (out []HistoryEntry, err error) {
	ctx, _, finish := l.instrument(ctx, "history")
	defer func() { finish(err) }()

	return l.queryHistory(ctx,
		`SELECT date, speaker_username FROM masa_mentions ORDER BY id ASC`)
}

// SpeakerHistory returns name's mentions in insertion order.
func (l *Ledger) SpeakerHistory(ctx context.Context, name string) (out []HistoryEntry, err error) {
	ctx, _, finish := l.instrument(ctx, "speaker_history")
	defer func() { finish(err) }()

	if name, err = normalizeUsername(name); err != nil {
		return nil, err
	}
	return l.queryHistory(ctx,
		`SELECT date, speaker_username FROM masa_mentions WHERE speaker_username = $1 ORDER BY id ASC`, name)
}

func (l *Ledger) queryHistory(ctx context.Context, query string, args ...any) ([]HistoryEntry, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	out := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.Date, &e.Username); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Date = e.Date.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return out, nil
}

// Leaderboard ranks every speaker with at least one mention by count descending, then username.
func (l *Ledger) Leaderboard(ctx context.Context) (out []LeaderboardEntry, err error) {
	ctx, _, finish := l.instrument(ctx, "leaderboard")
	defer func() { finish(err) }()

	rows, err := l.db.QueryContext(ctx, `
		SELECT speaker_username, COUNT(*) AS n
		FROM masa_mentions
		GROUP BY speaker_username
		ORDER BY n DESC, speaker_username ASC`)
	if err != nil {
		return nil, fmt.Errorf("query leaderboard: %w", err)
	}
	defer rows.Close()

	out = []LeaderboardEntry{}
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.Username, &e.Count); err != nil {
			return nil, fmt.Errorf("scan leaderboard: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate leaderboard: %w", err)
	}
	return out, nil
}

// Speaker looks up name. The bool is false when no such speaker exists.
func (l *Ledger) Speaker(ctx context.Context, name string) (s Speaker, ok bool, err error) {
	ctx, _, finish := l.instrument(ctx, "speaker")
	defer func() { finish(err) }()

	if name, err = normalizeUsername(name); err != nil {
		return Speaker{}, false, err
	}
	err = l.db.QueryRowContext(ctx,
		`SELECT username, created_at FROM speakers WHERE username = $1`, name).Scan(&s.Username, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Speaker{}, false, nil
	}
	if err != nil {
		return Speaker{}, false, fmt.Errorf("get speaker: %w", err)
	}
	s.CreatedAt = s.CreatedAt.UTC()
	return s, true, nil
}

// DeleteSpeaker removes name and, by cascade, all of its mentions.
// Deleting an unknown speaker returns an empty Deletion and no error.
func (l *Ledger) DeleteSpeaker(ctx context.Context, name string) (d Deletion, err error) {
	ctx, span, finish := l.instrument(ctx, "delete_speaker")
	defer func() { finish(err) }()

	if name, err = normalizeUsername(name); err != nil {
		return Deletion{}, err
	}
	span.SetAttributes(telemetry.SpeakerAttr(name))

	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return Deletion{}, fmt.Errorf("begin delete speaker: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// The row lock blocks concurrent mention inserts (their FK check needs KEY SHARE on the
	// speaker) until commit, so the count below is exactly what the cascade removes.
	var locked int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM speakers WHERE username = $1 FOR UPDATE`, name).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return Deletion{}, nil
	}
	if err != nil {
		return Deletion{}, fmt.Errorf("lock speaker: %w", err)
	}
	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM masa_mentions WHERE speaker_username = $1`, name).Scan(&d.Mentions); err != nil {
		return Deletion{}, fmt.Errorf("count speaker mentions: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM speakers WHERE username = $1`, name)
	if err != nil {
		return Deletion{}, fmt.Errorf("delete speaker: %w", err)
	}
	if d.Speakers, err = res.RowsAffected(); err != nil {
		return Deletion{}, fmt.Errorf("delete speaker rows: %w", err)
	}
	if d.Speakers == 0 {
		d.Mentions = 0
	}
	if err = tx.Commit(); err != nil {
		return Deletion{}, fmt.Errorf("commit delete speaker: %w", err)
	}
	return d, nil
}

// DeleteMention removes a single mention by id. The speaker is kept.
// Deleting an unknown id returns an empty Deletion and no error.
func (l *Ledger) DeleteMention(ctx context.Context, id int64) (d Deletion, err error) {
	ctx, _, finish := l.instrument(ctx, "delete_mention")
	defer func() { finish(err) }()

	res, err := l.db.ExecContext(ctx, `DELETE FROM masa_mentions WHERE id = $1`, id)
	if err != nil {
		return Deletion{}, fmt.Errorf("delete mention: %w", err)
	}
	if d.Mentions, err = res.RowsAffected(); err != nil {
		return Deletion{}, fmt.Errorf("delete mention rows: %w", err)
	}
	return d, nil
}
