package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// BotConfig holds the IRC identity and channels to join.
type BotConfig struct {
	Username        string
	OAuthToken      string
	Channels        []string
	Prefix          string
	LeaderboardSize int
	MaxInFlight     int
}

// Ready reports whether the bot has enough configuration to connect.
func (c BotConfig) Ready() bool {
	return c.Username != "" && c.OAuthToken != "" && len(c.Channels) > 0
}

// Bot connects to Twitch IRC and feeds every chat line through a Dispatcher.
type Bot struct {
	cfg        BotConfig
	client     *twitch.Client
	dispatcher *Dispatcher
}

// NewBot builds a Bot writing to l. The Twitch client doubles as the handler's Sayer.
func NewBot(cfg BotConfig, l Ledger) *Bot {
	client := twitch.NewClient(cfg.Username, ircToken(cfg.OAuthToken))
	handler := NewHandler(l, client, HandlerConfig{
		BotName:         cfg.Username,
		Prefix:          cfg.Prefix,
		LeaderboardSize: cfg.LeaderboardSize,
	})
	return &Bot{
		cfg:        cfg,
		client:     client,
		dispatcher: NewDispatcher(handler, cfg.MaxInFlight),
	}
}

func ircToken(token string) string {
	if strings.HasPrefix(token, "oauth:") {
		return token
	}
	return "oauth:" + token
}

// SetToken replaces the IRC password used on the next (re)connect.
func (b *Bot) SetToken(token string) {
	b.client.SetIRCToken(ircToken(token))
}

// InFlight returns the number of messages currently being handled.
func (b *Bot) InFlight() int { return b.dispatcher.Active() }

// ToMessage converts an IRC private message.
func ToMessage(msg twitch.PrivateMessage) Message {
	_, mod := msg.User.Badges["moderator"]
	_, owner := msg.User.Badges["broadcaster"]
	return Message{
		Channel:   msg.Channel,
		ID:        msg.ID,
		Author:    msg.User.Name,
		Text:      msg.Message,
		Moderator: mod || owner,
	}
}

// Run joins the configured channels and blocks until ctx is canceled or the connection fails.
// In-flight handlers are drained before Run returns.
func (b *Bot) Run(ctx context.Context) error {
	b.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		b.dispatcher.Dispatch(ctx, ToMessage(msg))
	})
	b.client.OnConnect(func() {
		slog.Info("twitch chat connected", slog.Any("channels", b.cfg.Channels), slog.String("component", "chat"))
	})

	// Handle context cancellation by closing the client
	go func() {
		<-ctx.Done()
		_ = b.client.Disconnect()
	}()

	b.client.Join(b.cfg.Channels...)
	err := b.client.Connect()
	b.dispatcher.Wait()
	if err == nil || errors.Is(err, twitch.ErrClientDisconnected) {
		return nil
	}
	return err
}
