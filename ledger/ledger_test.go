package ledger_test

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"

	"github.com/yellowcrystalz/masa-meter/ledger"
	"github.com/yellowcrystalz/masa-meter/testutil"
)

var (
	upsertSpeakerSQL = regexp.QuoteMeta(`INSERT INTO speakers (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`)
	insertMentionSQL = regexp.QuoteMeta(`INSERT INTO masa_mentions (date, speaker_username) VALUES ($1, $2) RETURNING id, date`)
)

func expectAttempt(mock sqlmock.Sqlmock, name string, insertErr error, id int64, at time.Time) {
	mock.ExpectBegin()
	mock.ExpectExec(upsertSpeakerSQL).WithArgs(name).WillReturnResult(sqlmock.NewResult(0, 1))
	q := mock.ExpectQuery(insertMentionSQL).WithArgs(sqlmock.AnyArg(), name)
	if insertErr != nil {
		q.WillReturnError(insertErr)
		mock.ExpectRollback()
		return
	}
	q.WillReturnRows(sqlmock.NewRows([]string{"id", "date"}).AddRow(id, at))
	mock.ExpectCommit()
}

func TestRecordMentionRejectsInvalidNames(t *testing.T) {
	db, _ := testutil.NewMockDB(t)
	l := ledger.New(db)

	for _, name := range []string{"", "   ", "\t\n", strings.Repeat("x", ledger.MaxUsernameLength+1)} {
		_, err := l.RecordMention(context.Background(), name)
		if !errors.Is(err, ledger.ErrInvalidSpeaker) {
			t.Errorf("RecordMention(%q) error = %v, want ErrInvalidSpeaker", name, err)
		}
		if got := ledger.Classify(err); got != ledger.ClassValidation {
			t.Errorf("Classify = %v, want validation", got)
		}
	}
}

func TestRecordMentionTrimsNameAndStampsUTC(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	now := time.Date(2025, time.May, 2, 18, 30, 0, 0, time.UTC)
	l := ledger.New(db, ledger.WithClock(clockwork.NewFakeClockAt(now)))

	mock.ExpectBegin()
	mock.ExpectExec(upsertSpeakerSQL).WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(insertMentionSQL).WithArgs(now, "alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "date"}).AddRow(int64(1), now))
	mock.ExpectCommit()

	m, err := l.RecordMention(context.Background(), "  alice ")
	if err != nil {
		t.Fatalf("RecordMention: %v", err)
	}
	if m.ID != 1 || m.Username != "alice" || !m.Date.Equal(now) || m.Date.Location() != time.UTC {
		t.Errorf("mention = %+v", m)
	}
}

func TestRecordMentionRetriesOnceOnContention(t *testing.T) {
	for _, code := range []string{"23505", "23503", "40001", "40P01"} {
		t.Run(code, func(t *testing.T) {
			db, mock := testutil.NewMockDB(t)
			now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
			l := ledger.New(db, ledger.WithClock(clockwork.NewFakeClockAt(now)))

			expectAttempt(mock, "bob", &pgconn.PgError{Code: code}, 0, time.Time{})
			expectAttempt(mock, "bob", nil, 42, now)

			m, err := l.RecordMention(context.Background(), "bob")
			if err != nil {
				t.Fatalf("RecordMention after retry: %v", err)
			}
			if m.ID != 42 {
				t.Errorf("id = %d, want 42", m.ID)
			}
		})
	}
}

func TestRecordMentionSurfacesSecondContention(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	l := ledger.New(db)

	expectAttempt(mock, "bob", &pgconn.PgError{Code: "23505"}, 0, time.Time{})
	expectAttempt(mock, "bob", &pgconn.PgError{Code: "23505"}, 0, time.Time{})

	_, err := l.RecordMention(context.Background(), "bob")
	if !errors.Is(err, ledger.ErrContention) {
		t.Fatalf("error = %v, want ErrContention", err)
	}
	if got := ledger.Classify(err); got != ledger.ClassContention {
		t.Errorf("Classify = %v, want contention", got)
	}
}

func TestRecordMentionDoesNotRetryOtherErrors(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	l := ledger.New(db)

	boom := errors.New("connection reset")
	expectAttempt(mock, "bob", boom, 0, time.Time{})

	_, err := l.RecordMention(context.Background(), "bob")
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
	if got := ledger.Classify(err); got != ledger.ClassInternal {
		t.Errorf("Classify = %v, want internal", got)
	}
}

func TestMeter(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	l := ledger.New(db)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM masa_mentions`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(9)))

	n, err := l.Meter(context.Background())
	if err != nil || n != 9 {
		t.Fatalf("Meter = %d, %v; want 9, nil", n, err)
	}
}

func TestLeaderboardKeepsQueryOrder(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	l := ledger.New(db)

	mock.ExpectQuery(`SELECT speaker_username, COUNT\(\*\) AS n\s+FROM masa_mentions\s+GROUP BY speaker_username\s+ORDER BY n DESC, speaker_username ASC`).
		WillReturnRows(sqlmock.NewRows([]string{"speaker_username", "n"}).
			AddRow("alice", int64(3)).
			AddRow("bob", int64(1)))

	got, err := l.Leaderboard(context.Background())
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	want := []ledger.LeaderboardEntry{{Username: "alice", Count: 3}, {Username: "bob", Count: 1}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestLeaderboardEmptyIsNotNil(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	l := ledger.New(db)

	mock.ExpectQuery(`SELECT speaker_username`).
		WillReturnRows(sqlmock.NewRows([]string{"speaker_username", "n"}))

	got, err := l.Leaderboard(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Leaderboard = %#v, want empty slice", got)
	}
}

func TestDeleteSpeakerReportsCascade(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	l := ledger.New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT 1 FROM speakers WHERE username = $1 FOR UPDATE`)).
		WithArgs("alice").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM masa_mentions WHERE speaker_username = $1`)).
		WithArgs("alice").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(3)))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM speakers WHERE username = $1`)).
		WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	d, err := l.DeleteSpeaker(context.Background(), "alice")
	if err != nil {
		t.Fatalf("DeleteSpeaker: %v", err)
	}
	if d != (ledger.Deletion{Speakers: 1, Mentions: 3}) {
		t.Errorf("deletion = %+v, want 1 speaker 3 mentions", d)
	}
}

func TestDeleteSpeakerUnknownIsNothingDeleted(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	l := ledger.New(db)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM speakers .* FOR UPDATE`).WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}))
	mock.ExpectRollback()

	d, err := l.DeleteSpeaker(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("DeleteSpeaker: %v", err)
	}
	if !d.Empty() {
		t.Errorf("deletion = %+v, want empty", d)
	}
}

func TestDeleteMention(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	l := ledger.New(db)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM masa_mentions WHERE id = $1`)).
		WithArgs(int64(5)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM masa_mentions WHERE id = $1`)).
		WithArgs(int64(6)).WillReturnResult(sqlmock.NewResult(0, 0))

	d, err := l.DeleteMention(context.Background(), 5)
	if err != nil || d != (ledger.Deletion{Mentions: 1}) {
		t.Errorf("DeleteMention(5) = %+v, %v", d, err)
	}
	d, err = l.DeleteMention(context.Background(), 6)
	if err != nil || !d.Empty() {
		t.Errorf("DeleteMention(6) = %+v, %v; want nothing deleted", d, err)
	}
}

func TestAchievementsUnclaimedOnEmptyLedger(t *testing.T) {
	db, mock := testutil.NewMockDB(t)
	now := time.Date(2025, time.October, 1, 0, 0, 0, 0, time.UTC)
	l := ledger.New(db, ledger.WithClock(clockwork.NewFakeClockAt(now)))
	start, end := ledger.AnniversaryWindow(now)

	mock.ExpectBegin()
	for i := 0; i < 4; i++ {
		mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{"speaker_username"}))
	}
	mock.ExpectQuery(`WHERE date >= \$1 AND date < \$2`).WithArgs(start, end).
		WillReturnRows(sqlmock.NewRows([]string{"speaker_username"}))
	mock.ExpectCommit()

	a, err := l.Achievements(context.Background())
	if err != nil {
		t.Fatalf("Achievements: %v", err)
	}
	if a != (ledger.Achievements{}) {
		t.Errorf("achievements = %+v, want all unclaimed", a)
	}
}

func TestAnniversaryWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		wantStart time.Time
	}{
		{
			name:      "after anniversary",
			now:       time.Date(2025, time.December, 31, 23, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, time.September, 14, 5, 0, 0, 0, time.UTC),
		},
		{
			name:      "before anniversary rolls back a year",
			now:       time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, time.September, 14, 5, 0, 0, 0, time.UTC),
		},
		{
			name:      "same day before opening hour",
			now:       time.Date(2025, time.September, 14, 4, 59, 59, 0, time.UTC),
			wantStart: time.Date(2024, time.September, 14, 5, 0, 0, 0, time.UTC),
		},
		{
			name:      "exact opening instant",
			now:       time.Date(2025, time.September, 14, 5, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, time.September, 14, 5, 0, 0, 0, time.UTC),
		},
		{
			name:      "non-UTC input",
			now:       time.Date(2025, time.September, 14, 1, 0, 0, 0, time.FixedZone("EDT", -4*3600)),
			wantStart: time.Date(2025, time.September, 14, 5, 0, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := ledger.AnniversaryWindow(tt.now)
			if !start.Equal(tt.wantStart) {
				t.Errorf("start = %v, want %v", start, tt.wantStart)
			}
			if !end.Equal(tt.wantStart.AddDate(1, 0, 0)) {
				t.Errorf("end = %v, want one year after start", end)
			}
			if tt.now.Before(start) || !tt.now.Before(end) {
				t.Errorf("now %v not in [%v, %v)", tt.now, start, end)
			}
		})
	}
}

func TestAchievementsListOrder(t *testing.T) {
	a := ledger.Achievements{MasaMaster: "alice", SpecialSushi: "bob"}
	list := a.List()
	names := []string{"Masa Master", "Silent Sashimi", "Tempura Titan", "Nigiri Ninja", "Special Sushi"}
	if len(list) != len(names) {
		t.Fatalf("len = %d", len(list))
	}
	for i, n := range names {
		if list[i].Name != n {
			t.Errorf("list[%d] = %q, want %q", i, list[i].Name, n)
		}
	}
	if list[0].Username != "alice" || list[4].Username != "bob" || list[1].Username != "" {
		t.Errorf("holders = %+v", list)
	}
}

func TestClassifyNil(t *testing.T) {
	if got := ledger.Classify(nil); got != ledger.ClassNone {
		t.Errorf("Classify(nil) = %v", got)
	}
	if ledger.ClassNone.String() != "" || ledger.ClassInternal.String() != "internal" {
		t.Error("unexpected class labels")
	}
}
