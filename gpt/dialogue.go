package gpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/chat-copilot/backend/telemetry"
)

// Sender delivers outbound chat text. Implemented by the IRC transport.
type Sender interface {
	SendMessage(channel, text string) error
}

// QueuedMessage is one addressed chat message waiting for a direct reply.
type QueuedMessage struct {
	Text     string
	Username string
	UserID   string
	Role     *Role
}

const (
	suspendPollInterval = 200 * time.Millisecond
	queuePollInterval   = 50 * time.Millisecond

	unavailableBackoff = 2500 * time.Millisecond
	genericBackoff     = 500 * time.Millisecond
)

// DialogueProcessor drains a FIFO queue of addressed messages, one provider
// call per item, and emits a reply at-mentioning the sender. Failed items are
// re-enqueued at the tail (at-least-once), so a persistently failing item
// never starves the queue.
type DialogueProcessor struct {
	client    *Client
	sender    Sender
	channel   string
	suspended *atomic.Bool

	// infos supplies the currently-known stream context blocks for a call.
	infos func() []*StreamInfo

	mu         sync.Mutex
	queue      []QueuedMessage
	delayUntil time.Time
}

// NewDialogueProcessor wires a processor to its pool, transport, and the
// externally shared suspend flag.
func NewDialogueProcessor(client *Client, sender Sender, channel string, suspended *atomic.Bool) *DialogueProcessor {
	if suspended == nil {
		suspended = new(atomic.Bool)
	}
	return &DialogueProcessor{
		client:    client,
		sender:    sender,
		channel:   channel,
		suspended: suspended,
		infos:     func() []*StreamInfo { return nil },
	}
}

// SetInfoSource installs the provider of stream context blocks.
func (p *DialogueProcessor) SetInfoSource(fn func() []*StreamInfo) {
	if fn != nil {
		p.infos = fn
	}
}

// Client exposes the processor's provider pool.
func (p *DialogueProcessor) Client() *Client { return p.client }

// Enqueue appends a message at the queue tail.
func (p *DialogueProcessor) Enqueue(m QueuedMessage) {
	p.mu.Lock()
	p.queue = append(p.queue, m)
	depth := len(p.queue)
	p.mu.Unlock()
	telemetry.SetDialogueQueueDepth(depth)
}

func (p *DialogueProcessor) dequeue() (QueuedMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return QueuedMessage{}, false
	}
	m := p.queue[0]
	p.queue = p.queue[1:]
	telemetry.SetDialogueQueueDepth(len(p.queue))
	return m, true
}

// QueueDepth reports the number of pending items.
func (p *DialogueProcessor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

func (p *DialogueProcessor) delay(d time.Duration) {
	p.mu.Lock()
	p.delayUntil = time.Now().Add(d)
	p.mu.Unlock()
}

func (p *DialogueProcessor) delayed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.delayUntil)
}

// Run drives the consumer loop until ctx is canceled. Every iteration checks
// the suspend flag and the backoff deadline before dequeuing; the only yield
// point is a timed sleep.
func (p *DialogueProcessor) Run(ctx context.Context) {
	slog.Info("dialogue: processor started", slog.String("channel", p.channel))
	for ctx.Err() == nil {
		if p.suspended.Load() || p.delayed() {
			sleepCtx(ctx, suspendPollInterval)
			continue
		}
		m, ok := p.dequeue()
		if !ok {
			sleepCtx(ctx, queuePollInterval)
			continue
		}
		p.process(ctx, m)
	}
	slog.Info("dialogue: processor stopped", slog.String("channel", p.channel))
}

func (p *DialogueProcessor) process(ctx context.Context, m QueuedMessage) {
	if m.Role != nil {
		p.client.SetRole(m.Role)
	}
	question := fmt.Sprintf("Reply to this chat message:\n[%s]: %s", m.Username, m.Text)

	activeHash := p.client.ProviderHash()
	answer, err := p.client.Ask(ctx, question, p.infos()...)
	switch {
	case err == nil:
		p.reply(m, answer)
	case errors.Is(err, ErrTooManyRequests):
		slog.Warn("dialogue: rate limited, rotating provider",
			slog.String("provider", fmt.Sprintf("%08x", activeHash)))
		p.client.Rotate(activeHash)
		p.Enqueue(m)
	case errors.Is(err, ErrUnavailable):
		slog.Warn("dialogue: provider unavailable, backing off", slog.Any("err", err))
		p.delay(unavailableBackoff)
		p.Enqueue(m)
	case errors.Is(err, ErrSafety):
		slog.Error("dialogue: safety block, dropping item",
			slog.String("user", m.Username), slog.String("text", m.Text), slog.Any("err", err))
	case isUnknownProvider(err):
		slog.Error("dialogue: unknown provider error, dropping item",
			slog.String("user", m.Username), slog.String("text", m.Text), slog.Any("err", err))
	default:
		slog.Error("dialogue: unclassified error, backing off",
			slog.String("text", m.Text), slog.Any("err", err))
		p.delay(genericBackoff)
		p.Enqueue(m)
	}
}

func isUnknownProvider(err error) bool {
	var ue *UnknownProviderError
	return errors.As(err, &ue)
}

func (p *DialogueProcessor) reply(m QueuedMessage, answer string) {
	text := Mention(m.Username, answer)
	if err := p.sender.SendMessage(p.channel, text); err != nil {
		slog.Error("dialogue: send failed", slog.Any("err", err), slog.String("text", text))
		return
	}
	telemetry.RepliesSent.Inc()
}

// Mention prefixes text with an at-mention of username unless it already
// contains one, case-insensitively.
func Mention(username, text string) string {
	if !strings.Contains(strings.ToLower(text), "@"+strings.ToLower(username)) {
		return "@" + username + " " + text
	}
	return text
}

// Reset clears the pending queue and backoff window and wipes the pool's
// conversation history. Administrative "forget everything".
func (p *DialogueProcessor) Reset() {
	p.mu.Lock()
	p.queue = nil
	p.delayUntil = time.Time{}
	p.mu.Unlock()
	telemetry.SetDialogueQueueDepth(0)
	p.client.ResetSession()
}

// sleepCtx sleeps for d or until ctx is canceled, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
