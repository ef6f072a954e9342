package gpt

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/chat-copilot/backend/telemetry"
)

// ModelBuilder constructs the generation model for one provider handle.
// The default builder dials Gemini through langchaingo; tests swap it out.
type ModelBuilder func(ctx context.Context, apiKey string, role *Role, modelName string) (llms.Model, error)

type providerHandle struct {
	hash  uint32
	key   string
	model llms.Model // lazily built
}

// Client owns an ordered pool of interchangeable provider handles, one per
// API key, and issues generation requests against the currently selected one.
// The digest pool is shared between its consumer loop and the watcher's
// status injections, so the handle index, the active role, and lazy model
// builds sit behind one mutex. The History carries its own lock.
type Client struct {
	mu        sync.Mutex
	handles   []*providerHandle
	idx       int
	role      *Role
	hist      *History
	modelName string
	build     ModelBuilder
}

// ClientOption tweaks Client construction.
type ClientOption func(*Client)

// WithModelName overrides the default generation model.
func WithModelName(name string) ClientOption {
	return func(c *Client) { c.modelName = name }
}

// WithModelBuilder replaces the Gemini dialer, for tests.
func WithModelBuilder(b ModelBuilder) ClientOption {
	return func(c *Client) { c.build = b }
}

// NewClient builds a pool with one handle per API key. Keys are identified by
// a stable FNV-32a hash; handles are immutable after construction except for
// lazy model materialization.
func NewClient(keys []string, role *Role, hist *History, opts ...ClientOption) (*Client, error) {
	if len(keys) == 0 {
		return nil, errors.New("provider key pool is empty")
	}
	if role == nil {
		return nil, errors.New("role is required")
	}
	if hist == nil {
		hist = NewHistory()
	}
	c := &Client{
		role:      role,
		hist:      hist,
		modelName: "gemini-2.0-flash",
		build:     buildGeminiModel,
	}
	for _, k := range keys {
		c.handles = append(c.handles, &providerHandle{hash: keyHash(k), key: k})
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func keyHash(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32()
}

func buildGeminiModel(ctx context.Context, apiKey string, role *Role, modelName string) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(modelName),
	}
	if th, ok := harmThreshold(role.SafetySettings); ok {
		opts = append(opts, googleai.WithHarmThreshold(th))
	}
	return googleai.New(ctx, opts...)
}

// harmThreshold maps the role's stored safety setting onto the provider knob.
func harmThreshold(settings map[string]string) (googleai.HarmBlockThreshold, bool) {
	switch settings["harm_threshold"] {
	case "none":
		return googleai.HarmBlockNone, true
	case "only_high":
		return googleai.HarmBlockOnlyHigh, true
	case "low_and_above":
		return googleai.HarmBlockLowAndAbove, true
	case "medium_and_above":
		return googleai.HarmBlockMediumAndAbove, true
	}
	return googleai.HarmBlockUnspecified, false
}

// Role returns the role the client prepends to every request.
func (c *Client) Role() *Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// SetRole swaps the active role.
func (c *Client) SetRole(r *Role) {
	if r == nil {
		return
	}
	c.mu.Lock()
	c.role = r
	c.mu.Unlock()
}

// History returns the shared conversation history.
func (c *Client) History() *History { return c.hist }

// ProviderHash returns the stable hash of the currently selected handle.
func (c *Client) ProviderHash() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles[c.idx].hash
}

// Rotate advances the pool circularly. When excludeHash is non-zero and the
// advance lands on it, Rotate advances once more, so with two or more handles
// it never settles on a just-failed one. No-op on a single-handle pool.
func (c *Client) Rotate(excludeHash uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handles) < 2 {
		return
	}
	c.idx = (c.idx + 1) % len(c.handles)
	if excludeHash != 0 && c.handles[c.idx].hash == excludeHash {
		c.idx = (c.idx + 1) % len(c.handles)
	}
	telemetry.ProviderRotations.Inc()
}

func (c *Client) model(ctx context.Context) (llms.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.handles[c.idx]
	if h.model == nil {
		m, err := c.build(ctx, h.key, c.role, c.modelName)
		if err != nil {
			return nil, fmt.Errorf("build model for provider %08x: %w", h.hash, err)
		}
		h.model = m
	}
	return h.model, nil
}

// Ask issues one generation request: the role instructions and any stream
// context blocks are prepended to a snapshot of the history, the question is
// appended, and on success exactly the (question, answer) pair is added to
// history. Failures come back classified (see errors.go).
func (c *Client) Ask(ctx context.Context, question string, infos ...*StreamInfo) (string, error) {
	return c.ask(ctx, question, "", infos)
}

// AskTagged is Ask with the resulting (question, answer) pair tagged in
// history, enabling tag-scoped pruning of informational injections.
func (c *Client) AskTagged(ctx context.Context, question, tag string, infos ...*StreamInfo) (string, error) {
	return c.ask(ctx, question, tag, infos)
}

func (c *Client) ask(ctx context.Context, question, tag string, infos []*StreamInfo) (string, error) {
	model, err := c.model(ctx)
	if err != nil {
		return "", err
	}

	role := c.Role()
	snapshot := c.hist.CopyEntries()
	msgs := make([]llms.MessageContent, 0, len(snapshot)+len(infos)+2)
	if instr := role.instructionText(); instr != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, instr))
	}
	for _, info := range infos {
		if info == nil {
			continue
		}
		parts := []llms.ContentPart{llms.TextContent{Text: info.BuildMessage()}}
		for _, s := range info.Snapshots {
			parts = append(parts, llms.BinaryContent{MIMEType: s.MimeType, Data: s.Data})
		}
		msgs = append(msgs, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts})
	}
	for _, e := range snapshot {
		msgs = append(msgs, entryToMessage(e))
	}
	msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, question))

	ctx, span := telemetry.StartSpan(ctx, "gpt", "generate",
		attribute.String("model", c.modelName),
		attribute.Int("history_entries", len(msgs)),
	)
	defer span.End()

	start := time.Now()
	resp, err := model.GenerateContent(ctx, msgs)
	telemetry.ObserveRequest(time.Since(start))
	if err != nil {
		cerr := classifyProviderError(err)
		telemetry.RecordError(span, cerr)
		telemetry.CountRequestError(errorKind(cerr))
		slog.Warn("gpt: request failed",
			slog.Duration("took", time.Since(start)),
			slog.Any("err", cerr))
		return "", cerr
	}
	telemetry.SetSpanSuccess(span)

	answer := ""
	if len(resp.Choices) > 0 {
		answer = resp.Choices[0].Content
	}
	if strings.TrimSpace(answer) == "" {
		uerr := &UnknownProviderError{Msg: "empty response"}
		telemetry.CountRequestError(errorKind(uerr))
		return "", uerr
	}
	slog.Debug("gpt: request ok", slog.Duration("took", time.Since(start)))

	c.hist.AddEntries([]*Entry{
		{Role: RoleUser, Text: question},
		{Role: RoleAssistant, Text: answer},
	}, tag)
	return answer, nil
}

func entryToMessage(e *Entry) llms.MessageContent {
	role := llms.ChatMessageTypeHuman
	switch e.Role {
	case RoleAssistant:
		role = llms.ChatMessageTypeAI
	case RoleSystem:
		role = llms.ChatMessageTypeSystem
	}
	parts := []llms.ContentPart{llms.TextContent{Text: e.Text}}
	for _, a := range e.Attachments {
		parts = append(parts, llms.BinaryContent{MIMEType: a.MimeType, Data: a.Data})
	}
	return llms.MessageContent{Role: role, Parts: parts}
}

// ResetSession drops every lazily built model and clears the shared history.
func (c *Client) ResetSession() {
	c.mu.Lock()
	for _, h := range c.handles {
		h.model = nil
	}
	c.mu.Unlock()
	c.hist.Reset()
}
