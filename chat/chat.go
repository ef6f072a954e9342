package chat

import (
	"context"
	"log/slog"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Message is one inbound chat line, decoupled from the IRC library types.
type Message struct {
	Username string
	UserID   string
	Text     string
}

// Bot wraps the Twitch IRC client for one channel.
type Bot struct {
	client  *twitch.Client
	channel string
}

// NewBot creates a bot for channel authenticated as username with an
// oauth:-prefixed token.
func NewBot(username, oauthToken, channel string) *Bot {
	return &Bot{client: twitch.NewClient(username, oauthToken), channel: channel}
}

// OnMessage registers the handler for inbound chat messages.
func (b *Bot) OnMessage(fn func(Message)) {
	b.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		fn(Message{
			Username: msg.User.Name,
			UserID:   msg.User.ID,
			Text:     msg.Message,
		})
	})
}

// SendMessage sends text to a channel. Implements gpt.Sender.
func (b *Bot) SendMessage(channel, text string) error {
	if channel == "" {
		channel = b.channel
	}
	b.client.Say(channel, text)
	return nil
}

// Run joins the channel and blocks on the IRC connection until ctx ends.
func (b *Bot) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		if err := b.client.Disconnect(); err != nil {
			slog.Debug("twitch chat disconnect", slog.Any("err", err))
		}
		close(done)
	}()

	b.client.Join(b.channel)
	err := b.client.Connect()
	if ctx.Err() != nil {
		<-done
		return nil
	}
	if err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	return err
}
