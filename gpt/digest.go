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
	"unicode"

	"github.com/onnwee/chat-copilot/backend/telemetry"
)

// ChatLine is one ambient (non-addressed) chat message buffered for the next
// digest batch.
type ChatLine struct {
	Username string
	Text     string
}

const (
	digestBatchSize  = 10
	digestMinLineLen = 10
	digestMaxBuffer  = 500

	// A digest conversation is capped, not grown indefinitely: once history
	// passes this many entries it is reset before the next request.
	digestHistoryCeiling = 100
)

// DigestProcessor buffers ambient chat lines in a bounded LIFO stack and, on
// a timer, batches the most recent ones into a single summarization request.
// The model answers with weighted candidate lines; the best one is replied to
// chat. Digest batches are lossy: a failed batch is never re-enqueued.
type DigestProcessor struct {
	client    *Client
	sender    Sender
	channel   string
	suspended *atomic.Bool

	mu         sync.Mutex
	stack      []ChatLine
	period     time.Duration
	delayUntil time.Time

	infos func() []*StreamInfo
}

// NewDigestProcessor wires a processor to its pool and transport. A period of
// zero or below leaves the loop idle until an admin enables it.
func NewDigestProcessor(client *Client, sender Sender, channel string, period time.Duration, suspended *atomic.Bool) *DigestProcessor {
	if suspended == nil {
		suspended = new(atomic.Bool)
	}
	return &DigestProcessor{
		client:    client,
		sender:    sender,
		channel:   channel,
		period:    period,
		suspended: suspended,
		infos:     func() []*StreamInfo { return nil },
	}
}

// SetInfoSource installs the provider of stream context blocks.
func (p *DigestProcessor) SetInfoSource(fn func() []*StreamInfo) {
	if fn != nil {
		p.infos = fn
	}
}

// Client exposes the processor's provider pool.
func (p *DigestProcessor) Client() *Client { return p.client }

// Push adds a chat line to the buffer; when full, the oldest line is evicted.
func (p *DigestProcessor) Push(line ChatLine) {
	p.mu.Lock()
	p.stack = append(p.stack, line)
	if len(p.stack) > digestMaxBuffer {
		p.stack = p.stack[len(p.stack)-digestMaxBuffer:]
	}
	depth := len(p.stack)
	p.mu.Unlock()
	telemetry.SetDigestBufferDepth(depth)
}

// BufferDepth reports the number of buffered lines.
func (p *DigestProcessor) BufferDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.stack)
}

// Period returns the digest interval; zero or below means disabled.
func (p *DigestProcessor) Period() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.period
}

// SetPeriod changes the digest interval.
func (p *DigestProcessor) SetPeriod(d time.Duration) {
	p.mu.Lock()
	p.period = d
	p.mu.Unlock()
}

// popBatch pops up to digestBatchSize lines (LIFO), discarding lines shorter
// than the minimum length at pop time.
func (p *DigestProcessor) popBatch() []ChatLine {
	p.mu.Lock()
	defer p.mu.Unlock()
	var batch []ChatLine
	for len(batch) < digestBatchSize && len(p.stack) > 0 {
		line := p.stack[len(p.stack)-1]
		p.stack = p.stack[:len(p.stack)-1]
		if len(line.Text) < digestMinLineLen {
			continue
		}
		batch = append(batch, line)
	}
	telemetry.SetDigestBufferDepth(len(p.stack))
	return batch
}

func (p *DigestProcessor) delay(d time.Duration) {
	p.mu.Lock()
	p.delayUntil = time.Now().Add(d)
	p.mu.Unlock()
}

func (p *DigestProcessor) delayed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Now().Before(p.delayUntil)
}

// Run drives the digest loop until ctx is canceled.
func (p *DigestProcessor) Run(ctx context.Context) {
	slog.Info("digest: processor started", slog.String("channel", p.channel))
	for ctx.Err() == nil {
		if p.suspended.Load() || p.Period() <= 0 || p.delayed() {
			sleepCtx(ctx, suspendPollInterval)
			continue
		}

		batch := p.popBatch()
		if len(batch) == 0 {
			p.delay(p.Period())
			continue
		}
		p.process(ctx, batch)
	}
	slog.Info("digest: processor stopped", slog.String("channel", p.channel))
}

func (p *DigestProcessor) process(ctx context.Context, batch []ChatLine) {
	// The stack pops newest-first; restore chronological order for the prompt.
	for i, j := 0, len(batch)-1; i < j; i, j = i+1, j-1 {
		batch[i], batch[j] = batch[j], batch[i]
	}
	var b strings.Builder
	b.WriteString("Analyze this chat log:\n")
	for _, line := range batch {
		fmt.Fprintf(&b, "[%s]: %s\n", line.Username, line.Text)
	}
	transcript := b.String()

	if p.client.History().Count()*2 > digestHistoryCeiling {
		slog.Info("digest: history ceiling reached, resetting")
		p.client.ResetSession()
	}

	telemetry.DigestCycles.Inc()
	activeHash := p.client.ProviderHash()
	answer, err := p.client.Ask(ctx, transcript, p.infos()...)
	switch {
	case err == nil:
		p.respond(answer)
		p.delay(p.Period())
	case errors.Is(err, ErrTooManyRequests):
		slog.Warn("digest: rate limited, rotating provider",
			slog.String("provider", fmt.Sprintf("%08x", activeHash)))
		p.client.Rotate(activeHash)
	case errors.Is(err, ErrUnavailable):
		slog.Warn("digest: provider unavailable, backing off", slog.Any("err", err))
		p.delay(unavailableBackoff)
	case errors.Is(err, ErrSafety), isUnknownProvider(err):
		// Lossy by design: the underlying lines are ephemeral chatter.
		slog.Error("digest: batch dropped", slog.Any("err", err), slog.String("batch", transcript))
	default:
		slog.Error("digest: unclassified error", slog.Any("err", err), slog.String("batch", transcript))
		p.delay(p.Period())
	}
}

func (p *DigestProcessor) respond(answer string) {
	selected, ok := SelectWeighted(answer)
	if !ok {
		return
	}
	text := lowerFirst(selected.Text)
	text = Mention(selected.UserName, text)
	if err := p.sender.SendMessage(p.channel, text); err != nil {
		slog.Error("digest: send failed", slog.Any("err", err), slog.String("text", text))
		return
	}
	telemetry.RepliesSent.Inc()
}

func lowerFirst(s string) string {
	r := []rune(s)
	if len(r) == 0 {
		return s
	}
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// Reset clears the buffer, disarms backoff, and wipes the pool's history.
func (p *DigestProcessor) Reset() {
	p.mu.Lock()
	p.stack = nil
	p.delayUntil = time.Time{}
	p.mu.Unlock()
	telemetry.SetDigestBufferDepth(0)
	p.client.ResetSession()
}
