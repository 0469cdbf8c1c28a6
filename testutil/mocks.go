package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yellowcrystalz/masa-meter/ledger"
)

// MockLedger is an in-memory stand-in for ledger.Ledger used by chat, presence and server tests.
// Set Err to make every call fail with it.
type MockLedger struct {
	mu       sync.Mutex
	mentions []ledger.Mention
	nextID   int64
	Now      func() time.Time
	Err      error
	Awards   ledger.Achievements
	Recorded []string
}

// NewMockLedger returns an empty MockLedger stamping mentions with a fixed time.
func NewMockLedger() *MockLedger {
	fixed := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	return &MockLedger{Now: func() time.Time { return fixed }}
}

// Seed records count mentions for name.
func (m *MockLedger) Seed(name string, count int) {
	for i := 0; i < count; i++ {
		_, _ = m.RecordMention(context.Background(), name)
	}
	m.mu.Lock()
	m.Recorded = nil
	m.mu.Unlock()
}

func (m *MockLedger) RecordMention(_ context.Context, name string) (ledger.Mention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return ledger.Mention{}, m.Err
	}
	name = strings.TrimSpace(name)
	if name == "" || len([]rune(name)) > ledger.MaxUsernameLength {
		return ledger.Mention{}, ledger.ErrInvalidSpeaker
	}
	m.nextID++
	mention := ledger.Mention{ID: m.nextID, Date: m.Now().UTC(), Username: name}
	m.mentions = append(m.mentions, mention)
	m.Recorded = append(m.Recorded, name)
	return mention, nil
}

func (m *MockLedger) Meter(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	return int64(len(m.mentions)), nil
}

func (m *MockLedger) SpeakerMeter(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return 0, m.Err
	}
	var n int64
	for _, mention := range m.mentions {
		if mention.Username == strings.TrimSpace(name) {
			n++
		}
	}
	return n, nil
}

func (m *MockLedger) History(context.Context) ([]ledger.HistoryEntry, error) {
	return m.history("")
}

func (m *MockLedger) SpeakerHistory(_ context.Context, name string) ([]ledger.HistoryEntry, error) {
	return m.history(strings.TrimSpace(name))
}

func (m *MockLedger) history(name string) ([]ledger.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	out := []ledger.HistoryEntry{}
	for _, mention := range m.mentions {
		if name == "" || mention.Username == name {
			out = append(out, ledger.HistoryEntry{Date: mention.Date, Username: mention.Username})
		}
	}
	return out, nil
}

func (m *MockLedger) Leaderboard(context.Context) ([]ledger.LeaderboardEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	counts := map[string]int64{}
	for _, mention := range m.mentions {
		counts[mention.Username]++
	}
	out := make([]ledger.LeaderboardEntry, 0, len(counts))
	for name, n := range counts {
		out = append(out, ledger.LeaderboardEntry{Username: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Username < out[j].Username
	})
	return out, nil
}

func (m *MockLedger) Achievements(context.Context) (ledger.Achievements, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return ledger.Achievements{}, m.Err
	}
	return m.Awards, nil
}
