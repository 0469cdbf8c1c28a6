package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Achievement is a derived superlative and the speaker currently holding it.
// Username is empty when nobody qualifies.
type Achievement struct {
	Name        string `json:"achievement_name"`
	Description string `json:"description"`
	Emoji       string `json:"emoji"`
	Username    string `json:"username"`
}

// Achievements holds the current holder of each achievement. Empty means unclaimed.
type Achievements struct {
	MasaMaster    string
	SilentSashimi string
	TempuraTitan  string
	NigiriNinja   string
	SpecialSushi  string
}

// List returns the achievements in display order.
func (a Achievements) List() []Achievement {
	return []Achievement{
		{Name: "Masa Master", Description: "Said it the most", Emoji: "🍣", Username: a.MasaMaster},
		{Name: "Silent Sashimi", Description: "Said it the least", Emoji: "🐟", Username: a.SilentSashimi},
		{Name: "Tempura Titan", Description: "Said it the most in one day", Emoji: "🍤", Username: a.TempuraTitan},
		{Name: "Nigiri Ninja", Description: "Only one to say it on a day", Emoji: "🥷", Username: a.NigiriNinja},
		{Name: "Special Sushi", Description: "First to say it this Masa year", Emoji: "🎂", Username: a.SpecialSushi},
	}
}

// The anniversary window opens every 14 September at 05:00 UTC.
const (
	anniversaryMonth = time.September
	anniversaryDay   = 14
	anniversaryHour  = 5
)

// AnniversaryWindow returns [start, end) for the anniversary year containing now.
// start is the most recent anniversary not after now; end is one year later.
func AnniversaryWindow(now time.Time) (start, end time.Time) {
	now = now.UTC()
	start = time.Date(now.Year(), anniversaryMonth, anniversaryDay, anniversaryHour, 0, 0, 0, time.UTC)
	if start.After(now) {
		start = start.AddDate(-1, 0, 0)
	}
	return start, start.AddDate(1, 0, 0)
}

const (
	// mentions are bucketed by UTC calendar day
	utcDay = `(date AT TIME ZONE 'UTC')::date`

	queryMasaMaster = `
		SELECT speaker_username FROM masa_mentions
		GROUP BY speaker_username
		ORDER BY COUNT(*) DESC, speaker_username ASC
		LIMIT 1`
	querySilentSashimi = `
		SELECT speaker_username FROM masa_mentions
		GROUP BY speaker_username
		ORDER BY COUNT(*) ASC, speaker_username ASC
		LIMIT 1`
	queryTempuraTitan = `
		SELECT speaker_username FROM masa_mentions
		GROUP BY speaker_username, ` + utcDay + `
		ORDER BY COUNT(*) DESC, ` + utcDay + ` ASC, speaker_username ASC
		LIMIT 1`
	queryNigiriNinja = `
		SELECT MIN(speaker_username) FROM masa_mentions
		GROUP BY ` + utcDay + `
		HAVING COUNT(*) = 1
		ORDER BY ` + utcDay + ` DESC
		LIMIT 1`
	querySpecialSushi = `
		SELECT speaker_username FROM masa_mentions
		WHERE date >= $1 AND date < $2
		ORDER BY id ASC
		LIMIT 1`
)

// Achievements derives every achievement from one consistent snapshot.
func (l *Ledger) Achievements(ctx context.Context) (a Achievements, err error) {
	ctx, _, finish := l.instrument(ctx, "achievements")
	defer func() { finish(err) }()

	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return Achievements{}, fmt.Errorf("begin achievements: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	start, end := AnniversaryWindow(l.clock.Now())
	for _, q := range []struct {
		name  string
		query string
		args  []any
		dst   *string
	}{
		{"masa master", queryMasaMaster, nil, &a.MasaMaster},
		{"silent sashimi", querySilentSashimi, nil, &a.SilentSashimi},
		{"tempura titan", queryTempuraTitan, nil, &a.TempuraTitan},
		{"nigiri ninja", queryNigiriNinja, nil, &a.NigiriNinja},
		{"special sushi", querySpecialSushi, []any{start, end}, &a.SpecialSushi},
	} {
		var holder sql.NullString
		err = tx.QueryRowContext(ctx, q.query, q.args...).Scan(&holder)
		if errors.Is(err, sql.ErrNoRows) {
			err = nil
			continue
		}
		if err != nil {
			return Achievements{}, fmt.Errorf("query %s: %w", q.name, err)
		}
		*q.dst = holder.String
	}

	if err = tx.Commit(); err != nil {
		return Achievements{}, fmt.Errorf("commit achievements: %w", err)
	}
	return a, nil
}
