package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/yellowcrystalz/masa-meter/ledger"
	"github.com/yellowcrystalz/masa-meter/testutil"
)

type line struct {
	channel, parent, text string
}

// recordingSayer captures everything the handler sends.
type recordingSayer struct {
	mu    sync.Mutex
	lines []line
}

func (r *recordingSayer) Say(channel, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line{channel: channel, text: text})
}

func (r *recordingSayer) Reply(channel, parent, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line{channel: channel, parent: parent, text: text})
}

func (r *recordingSayer) last(t *testing.T) line {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.lines) == 0 {
		t.Fatal("nothing was sent")
	}
	return r.lines[len(r.lines)-1]
}

func (r *recordingSayer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.lines)
}

func newTestHandler() (*Handler, *testutil.MockLedger, *recordingSayer) {
	l := testutil.NewMockLedger()
	out := &recordingSayer{}
	h := NewHandler(l, out, HandlerConfig{BotName: "MasaBot", Prefix: "!", LeaderboardSize: 2})
	return h, l, out
}

func msg(author, text string) Message {
	return Message{Channel: "masa", ID: "m-1", Author: author, Text: text}
}

func TestHandleMessageRecordsMatch(t *testing.T) {
	h, l, out := newTestHandler()

	if err := h.HandleMessage(context.Background(), msg("alice", "lol SUSHI   masa")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(l.Recorded) != 1 || l.Recorded[0] != "alice" {
		t.Errorf("recorded = %v, want [alice]", l.Recorded)
	}
	if got := out.last(t); got.text != ReplyMeterUp || got.channel != "masa" {
		t.Errorf("reply = %+v", got)
	}
}

func TestHandleMessageMultipleOccurrencesCountOnce(t *testing.T) {
	h, l, _ := newTestHandler()
	_ = h.HandleMessage(context.Background(), msg("alice", "sushi masa sushi masa sushi masa"))
	if len(l.Recorded) != 1 {
		t.Errorf("recorded %d mentions, want 1", len(l.Recorded))
	}
}

func TestHandleMessageIgnoresNonMatching(t *testing.T) {
	h, l, out := newTestHandler()
	if err := h.HandleMessage(context.Background(), msg("alice", "good morning chat")); err != nil {
		t.Fatal(err)
	}
	if len(l.Recorded) != 0 || out.count() != 0 {
		t.Errorf("unexpected activity: recorded=%v sent=%d", l.Recorded, out.count())
	}
}

func TestHandleMessageSkipsOwnMessages(t *testing.T) {
	h, l, out := newTestHandler()
	if err := h.HandleMessage(context.Background(), msg("masabot", "sushi masa")); err != nil {
		t.Fatal(err)
	}
	if len(l.Recorded) != 0 || out.count() != 0 {
		t.Errorf("bot reacted to itself: recorded=%v sent=%d", l.Recorded, out.count())
	}
}

func TestMeterCommand(t *testing.T) {
	h, l, out := newTestHandler()
	l.Seed("alice", 3)

	if err := h.HandleMessage(context.Background(), msg("bob", "!meter")); err != nil {
		t.Fatal(err)
	}
	got := out.last(t)
	if got.text != "Masa Meter: 3" || got.parent != "m-1" {
		t.Errorf("reply = %+v", got)
	}
}

func TestLeaderboardCommandShowsTopN(t *testing.T) {
	h, l, out := newTestHandler()
	l.Seed("carol", 1)
	l.Seed("alice", 3)
	l.Seed("bob", 2)

	if err := h.HandleMessage(context.Background(), msg("bob", "!Leaderboard")); err != nil {
		t.Fatal(err)
	}
	got := out.last(t).text
	if !strings.Contains(got, "alice - 3") || !strings.Contains(got, "bob - 2") {
		t.Errorf("leaderboard = %q", got)
	}
	if strings.Contains(got, "carol") {
		t.Errorf("leaderboard should be capped at 2: %q", got)
	}
}

func TestCommandsAreNotScanned(t *testing.T) {
	h, l, _ := newTestHandler()
	_ = h.HandleMessage(context.Background(), msg("alice", "!masa sushi masa"))
	if len(l.Recorded) != 0 {
		t.Errorf("command text was scanned: %v", l.Recorded)
	}
}

func TestUnknownCommandIsScanned(t *testing.T) {
	h, l, _ := newTestHandler()
	_ = h.HandleMessage(context.Background(), msg("alice", "!hype sushi masa"))
	if len(l.Recorded) != 1 {
		t.Errorf("recorded = %v, want one mention", l.Recorded)
	}
}

func TestIncrementRequiresModerator(t *testing.T) {
	h, l, out := newTestHandler()

	_ = h.HandleMessage(context.Background(), msg("alice", "!increment bob"))
	if len(l.Recorded) != 0 {
		t.Fatalf("non-moderator incremented: %v", l.Recorded)
	}
	if got := out.last(t).text; !strings.Contains(got, "Only moderators") {
		t.Errorf("reply = %q", got)
	}

	mod := msg("alice", "!increment @bob")
	mod.Moderator = true
	if err := h.HandleMessage(context.Background(), mod); err != nil {
		t.Fatal(err)
	}
	if len(l.Recorded) != 1 || l.Recorded[0] != "bob" {
		t.Errorf("recorded = %v, want [bob]", l.Recorded)
	}
}

func TestSpeakerMeterCommand(t *testing.T) {
	h, l, out := newTestHandler()
	l.Seed("bob", 1)

	_ = h.HandleMessage(context.Background(), msg("alice", "!masa bob"))
	if got := out.last(t).text; got != "bob has said it 1 time." {
		t.Errorf("reply = %q", got)
	}
	_ = h.HandleMessage(context.Background(), msg("alice", "!masa"))
	if got := out.last(t).text; got != "alice has said it 0 times." {
		t.Errorf("reply = %q", got)
	}
}

func TestLedgerFailureIsAnsweredAndReturned(t *testing.T) {
	h, l, out := newTestHandler()
	l.Err = ledger.ErrContention

	err := h.HandleMessage(context.Background(), msg("alice", "sushi masa"))
	if !errors.Is(err, ledger.ErrContention) {
		t.Fatalf("error = %v, want ErrContention", err)
	}
	if got := out.last(t).text; got != replyFailed {
		t.Errorf("reply = %q", got)
	}
}

func TestValidationFailureReply(t *testing.T) {
	h, _, out := newTestHandler()
	mod := msg("alice", "!increment "+strings.Repeat("x", 60))
	mod.Moderator = true

	err := h.HandleMessage(context.Background(), mod)
	if !errors.Is(err, ledger.ErrInvalidSpeaker) {
		t.Fatalf("error = %v, want ErrInvalidSpeaker", err)
	}
	if got := out.last(t).text; got != replyInvalidName {
		t.Errorf("reply = %q", got)
	}
}

func TestHelpUsesPrefix(t *testing.T) {
	l := testutil.NewMockLedger()
	out := &recordingSayer{}
	h := NewHandler(l, out, HandlerConfig{Prefix: "?"})

	_ = h.HandleMessage(context.Background(), msg("alice", "?help"))
	if got := out.last(t).text; !strings.Contains(got, "?leaderboard") {
		t.Errorf("help = %q", got)
	}
}

func TestFormatLeaderboard(t *testing.T) {
	if got := FormatLeaderboard(nil, 5); got != replyEmptyBoard {
		t.Errorf("empty = %q", got)
	}
	entries := []ledger.LeaderboardEntry{
		{Username: "a", Count: 5}, {Username: "b", Count: 4}, {Username: "c", Count: 3}, {Username: "d", Count: 2},
	}
	want := "Masa Leaderboard: 🥇 a - 5 | 🥈 b - 4 | 🥉 c - 3 | 4. d - 2"
	if got := FormatLeaderboard(entries, 5); got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
}
