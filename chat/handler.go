package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/yellowcrystalz/masa-meter/ledger"
	"github.com/yellowcrystalz/masa-meter/matcher"
	"github.com/yellowcrystalz/masa-meter/telemetry"
)

// Reply texts.
const (
	ReplyMeterUp       = "Masa Meter has gone up!"
	replyInvalidName   = "That name can't be counted."
	replyFailed        = "Something went wrong updating the Masa Meter, try again in a bit."
	replyModsOnly      = "Only moderators can use %sincrement."
	replyEmptyBoard    = "Nobody has said it yet."
	replyInfo          = "I count every time chat says sushi masa. Try %smeter, %sleaderboard or %smasa."
	replyHelp          = "Commands: %shelp, %sinfo, %smeter, %sleaderboard, %smasa [user], %sincrement <user> (mods)"
	replySpeakerMeterF = "%s has said it %d time%s."
)

// Message is one chat line as seen by the handler.
type Message struct {
	Channel   string
	ID        string
	Author    string
	Text      string
	Moderator bool // moderator or broadcaster
}

// Ledger is the subset of the mention ledger the bot needs.
type Ledger interface {
	RecordMention(ctx context.Context, name string) (ledger.Mention, error)
	Meter(ctx context.Context) (int64, error)
	SpeakerMeter(ctx context.Context, name string) (int64, error)
	Leaderboard(ctx context.Context) ([]ledger.LeaderboardEntry, error)
}

// Sayer sends chat lines. *twitch.Client satisfies it.
type Sayer interface {
	Say(channel, text string)
	Reply(channel, parentMsgID, text string)
}

// HandlerConfig tunes the Handler.
type HandlerConfig struct {
	BotName         string
	Prefix          string
	LeaderboardSize int
}

// Handler turns chat messages into ledger calls and replies.
type Handler struct {
	ledger Ledger
	out    Sayer
	cfg    HandlerConfig
}

// NewHandler returns a Handler. Zero config fields fall back to "!" and a top 5 leaderboard.
func NewHandler(l Ledger, out Sayer, cfg HandlerConfig) *Handler {
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	if cfg.LeaderboardSize <= 0 {
		cfg.LeaderboardSize = 5
	}
	return &Handler{ledger: l, out: out, cfg: cfg}
}

// HandleMessage processes one message. Errors are also answered in chat; the
// returned error is for logging.
func (h *Handler) HandleMessage(ctx context.Context, msg Message) error {
	if h.cfg.BotName != "" && strings.EqualFold(msg.Author, h.cfg.BotName) {
		return nil
	}

	if name, args, ok := h.parseCommand(msg.Text); ok {
		if handled, err := h.runCommand(ctx, msg, name, args); handled {
			return err
		}
	}

	telemetry.IncCounter(telemetry.MessagesScanned)
	if !matcher.Matches(msg.Text) {
		return nil
	}
	telemetry.IncCounter(telemetry.PhraseMatches)
	return h.record(ctx, msg, msg.Author)
}

func (h *Handler) parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, h.cfg.Prefix) {
		return "", nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(text, h.cfg.Prefix))
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// runCommand reports handled=false for unknown commands so their text is still scanned.
func (h *Handler) runCommand(ctx context.Context, msg Message, name string, args []string) (handled bool, err error) {
	p := h.cfg.Prefix
	switch name {
	case "help":
		h.out.Reply(msg.Channel, msg.ID, fmt.Sprintf(replyHelp, p, p, p, p, p, p))
	case "info":
		h.out.Reply(msg.Channel, msg.ID, fmt.Sprintf(replyInfo, p, p, p))
	case "meter":
		err = h.meter(ctx, msg)
	case "leaderboard", "lb":
		name = "leaderboard"
		err = h.leaderboard(ctx, msg)
	case "masa":
		err = h.speakerMeter(ctx, msg, args)
	case "increment":
		err = h.increment(ctx, msg, args)
	default:
		return false, nil
	}
	telemetry.IncCommand(name)
	return true, err
}

func (h *Handler) meter(ctx context.Context, msg Message) error {
	n, err := h.ledger.Meter(ctx)
	if err != nil {
		return h.fail(ctx, msg, "meter", err)
	}
	h.out.Reply(msg.Channel, msg.ID, fmt.Sprintf("Masa Meter: %d", n))
	return nil
}

func (h *Handler) leaderboard(ctx context.Context, msg Message) error {
	entries, err := h.ledger.Leaderboard(ctx)
	if err != nil {
		return h.fail(ctx, msg, "leaderboard", err)
	}
	h.out.Say(msg.Channel, FormatLeaderboard(entries, h.cfg.LeaderboardSize))
	return nil
}

func (h *Handler) speakerMeter(ctx context.Context, msg Message, args []string) error {
	target := msg.Author
	if len(args) > 0 {
		target = strings.TrimPrefix(args[0], "@")
	}
	n, err := h.ledger.SpeakerMeter(ctx, target)
	if err != nil {
		return h.fail(ctx, msg, "speaker_meter", err)
	}
	plural := "s"
	if n == 1 {
		plural = ""
	}
	h.out.Reply(msg.Channel, msg.ID, fmt.Sprintf(replySpeakerMeterF, target, n, plural))
	return nil
}

func (h *Handler) increment(ctx context.Context, msg Message, args []string) error {
	if !msg.Moderator {
		h.out.Reply(msg.Channel, msg.ID, fmt.Sprintf(replyModsOnly, h.cfg.Prefix))
		return nil
	}
	target := msg.Author
	if len(args) > 0 {
		target = strings.TrimPrefix(args[0], "@")
	}
	return h.record(ctx, msg, target)
}

func (h *Handler) record(ctx context.Context, msg Message, speaker string) error {
	if _, err := h.ledger.RecordMention(ctx, speaker); err != nil {
		return h.fail(ctx, msg, "record_mention", err)
	}
	h.out.Say(msg.Channel, ReplyMeterUp)
	return nil
}

// fail answers in chat according to the error class and returns the error annotated with op.
func (h *Handler) fail(ctx context.Context, msg Message, op string, err error) error {
	class := ledger.Classify(err)
	if errors.Is(err, ledger.ErrInvalidSpeaker) {
		h.out.Reply(msg.Channel, msg.ID, replyInvalidName)
	} else {
		h.out.Reply(msg.Channel, msg.ID, replyFailed)
	}
	telemetry.LoggerWithCorr(ctx).Warn("chat ledger call failed",
		slog.String("component", "chat"),
		slog.String("op", op),
		slog.String("class", class.String()),
		slog.String("channel", msg.Channel),
		slog.Any("err", err))
	return fmt.Errorf("%s: %w", op, err)
}

var medals = []string{"🥇", "🥈", "🥉"}

// FormatLeaderboard renders the top n entries as one chat line.
func FormatLeaderboard(entries []ledger.LeaderboardEntry, n int) string {
	if len(entries) == 0 {
		return replyEmptyBoard
	}
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	parts := make([]string, 0, len(entries))
	for i, e := range entries {
		rank := fmt.Sprintf("%d.", i+1)
		if i < len(medals) {
			rank = medals[i]
		}
		parts = append(parts, fmt.Sprintf("%s %s - %d", rank, e.Username, e.Count))
	}
	return "Masa Leaderboard: " + strings.Join(parts, " | ")
}
