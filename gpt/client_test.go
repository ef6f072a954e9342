package gpt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/tmc/langchaingo/llms"
)

// fakeModel is a scripted llms.Model. Each call pops the next step; when the
// script runs out the last step repeats.
type fakeModel struct {
	mu    sync.Mutex
	steps []fakeStep
	calls [][]llms.MessageContent
}

type fakeStep struct {
	answer string
	err    error
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, messages)
	step := fakeStep{answer: "ok"}
	if len(m.steps) > 0 {
		step = m.steps[0]
		if len(m.steps) > 1 {
			m.steps = m.steps[1:]
		}
	}
	if step.err != nil {
		return nil, step.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: step.answer}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not used")
}

func (m *fakeModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *fakeModel) lastCall() []llms.MessageContent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}

// builderFor hands each key its own model so rotation is observable.
func builderFor(models map[string]*fakeModel) ModelBuilder {
	return func(ctx context.Context, apiKey string, role *Role, modelName string) (llms.Model, error) {
		m, ok := models[apiKey]
		if !ok {
			return nil, fmt.Errorf("no fake for key %q", apiKey)
		}
		return m, nil
	}
}

func textOf(mc llms.MessageContent) string {
	var b strings.Builder
	for _, p := range mc.Parts {
		if t, ok := p.(llms.TextContent); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

func chatRole() *Role {
	return &Role{Name: "assistant", Scopes: []string{"chat"}, Instructions: []string{"Be brief."}}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(nil, chatRole(), NewHistory()); err == nil {
		t.Error("expected error for empty key pool")
	}
	if _, err := NewClient([]string{"k"}, nil, NewHistory()); err == nil {
		t.Error("expected error for nil role")
	}
}

func TestRotateCircular(t *testing.T) {
	c, err := NewClient([]string{"a", "b", "c"}, chatRole(), NewHistory())
	if err != nil {
		t.Fatal(err)
	}
	first := c.ProviderHash()
	seen := map[uint32]bool{first: true}
	c.Rotate(0)
	seen[c.ProviderHash()] = true
	c.Rotate(0)
	seen[c.ProviderHash()] = true
	if len(seen) != 3 {
		t.Errorf("expected 3 distinct handles, saw %d", len(seen))
	}
	c.Rotate(0)
	if c.ProviderHash() != first {
		t.Error("rotation did not wrap around")
	}
}

func TestRotateSkipsExcluded(t *testing.T) {
	c, err := NewClient([]string{"a", "b"}, chatRole(), NewHistory())
	if err != nil {
		t.Fatal(err)
	}
	start := c.ProviderHash()
	c.Rotate(0)
	failed := c.ProviderHash()
	// Advancing from the good handle while excluding it should not land back
	// on the failed one.
	c.Rotate(0) // back to start
	c.Rotate(failed)
	if c.ProviderHash() == failed {
		t.Error("rotation landed on the excluded handle")
	}
	if c.ProviderHash() != start {
		t.Errorf("expected to settle on %08x, got %08x", start, c.ProviderHash())
	}
}

func TestRotateSingleHandleNoop(t *testing.T) {
	c, err := NewClient([]string{"only"}, chatRole(), NewHistory())
	if err != nil {
		t.Fatal(err)
	}
	h := c.ProviderHash()
	c.Rotate(0)
	if c.ProviderHash() != h {
		t.Error("single-handle pool must not rotate")
	}
}

func TestAskAppendsHistoryPair(t *testing.T) {
	model := &fakeModel{steps: []fakeStep{{answer: "the answer"}}}
	hist := NewHistory()
	c, err := NewClient([]string{"k"}, chatRole(), hist, WithModelBuilder(builderFor(map[string]*fakeModel{"k": model})))
	if err != nil {
		t.Fatal(err)
	}

	answer, err := c.Ask(context.Background(), "what is up")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer != "the answer" {
		t.Errorf("answer = %q", answer)
	}
	if hist.Count() != 1 {
		t.Fatalf("history count = %d, want 1", hist.Count())
	}
	entries := hist.CopyEntries()
	if entries[0].Role != RoleUser || entries[0].Text != "what is up" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Role != RoleAssistant || entries[1].Text != "the answer" {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestAskPrependsInstructionsAndContext(t *testing.T) {
	model := &fakeModel{}
	c, err := NewClient([]string{"k"}, chatRole(), NewHistory(), WithModelBuilder(builderFor(map[string]*fakeModel{"k": model})))
	if err != nil {
		t.Fatal(err)
	}

	info := &StreamInfo{Online: true, Channel: "somechannel", Title: "demo", Viewers: 12}
	if _, err := c.Ask(context.Background(), "question", info); err != nil {
		t.Fatalf("ask: %v", err)
	}

	msgs := model.lastCall()
	if len(msgs) != 3 {
		t.Fatalf("message count = %d, want 3", len(msgs))
	}
	if !strings.Contains(textOf(msgs[0]), "Be brief.") {
		t.Errorf("first message is not the instructions: %q", textOf(msgs[0]))
	}
	if !strings.Contains(textOf(msgs[1]), "somechannel") {
		t.Errorf("second message is not the stream context: %q", textOf(msgs[1]))
	}
	if textOf(msgs[2]) != "question" {
		t.Errorf("last message = %q", textOf(msgs[2]))
	}
}

func TestAskTaggedMarksPair(t *testing.T) {
	model := &fakeModel{}
	hist := NewHistory()
	c, err := NewClient([]string{"k"}, chatRole(), hist, WithModelBuilder(builderFor(map[string]*fakeModel{"k": model})))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.AskTagged(context.Background(), "status", "stream_info"); err != nil {
		t.Fatalf("ask tagged: %v", err)
	}
	if got := hist.CountByTag("stream_info"); got != 2 {
		t.Errorf("tagged entries = %d, want 2", got)
	}
}

func TestAskRateLimited(t *testing.T) {
	model := &fakeModel{steps: []fakeStep{{err: errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")}}}
	hist := NewHistory()
	c, err := NewClient([]string{"k"}, chatRole(), hist, WithModelBuilder(builderFor(map[string]*fakeModel{"k": model})))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Ask(context.Background(), "q")
	if !errors.Is(err, ErrTooManyRequests) {
		t.Errorf("err = %v, want ErrTooManyRequests", err)
	}
	if hist.Count() != 0 {
		t.Error("failed request must not touch history")
	}
}

func TestAskEmptyResponse(t *testing.T) {
	model := &fakeModel{steps: []fakeStep{{answer: "   "}}}
	c, err := NewClient([]string{"k"}, chatRole(), NewHistory(), WithModelBuilder(builderFor(map[string]*fakeModel{"k": model})))
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Ask(context.Background(), "q")
	if !isUnknownProvider(err) {
		t.Errorf("err = %v, want UnknownProviderError", err)
	}
}

func TestResetSessionRebuildsModels(t *testing.T) {
	built := 0
	builder := func(ctx context.Context, apiKey string, role *Role, modelName string) (llms.Model, error) {
		built++
		return &fakeModel{}, nil
	}
	c, err := NewClient([]string{"k"}, chatRole(), NewHistory(), WithModelBuilder(builder))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := c.Ask(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Ask(ctx, "two"); err != nil {
		t.Fatal(err)
	}
	if built != 1 {
		t.Fatalf("model built %d times before reset, want 1", built)
	}

	c.ResetSession()
	if c.History().Count() != 0 {
		t.Error("reset must clear history")
	}
	if _, err := c.Ask(ctx, "three"); err != nil {
		t.Fatal(err)
	}
	if built != 2 {
		t.Errorf("model built %d times after reset, want 2", built)
	}
}

func TestSetRoleIgnoresNil(t *testing.T) {
	role := chatRole()
	c, err := NewClient([]string{"k"}, role, NewHistory())
	if err != nil {
		t.Fatal(err)
	}
	c.SetRole(nil)
	if c.Role() != role {
		t.Error("nil role must not replace the active one")
	}
	other := &Role{Name: "other"}
	c.SetRole(other)
	if c.Role() != other {
		t.Error("role swap failed")
	}
}

func TestClientConcurrentUse(t *testing.T) {
	models := map[string]*fakeModel{
		"a": {steps: []fakeStep{{answer: "ok"}}},
		"b": {steps: []fakeStep{{answer: "ok"}}},
	}
	c, err := NewClient([]string{"a", "b"}, chatRole(), NewHistory(), WithModelBuilder(builderFor(models)))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	// The digest client is driven by its consumer loop while the watcher
	// injects status updates and swaps roles from other goroutines.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				switch i {
				case 0:
					if _, err := c.Ask(ctx, fmt.Sprintf("q%d", j)); err != nil {
						t.Errorf("ask: %v", err)
					}
				case 1:
					if _, err := c.AskTagged(ctx, "status", StreamInfoTag); err != nil {
						t.Errorf("ask tagged: %v", err)
					}
				case 2:
					c.Rotate(0)
					c.ProviderHash()
				case 3:
					c.SetRole(&Role{Name: fmt.Sprintf("r%d", j), Scopes: []string{"chat"}})
					c.Role()
				}
			}
		}()
	}
	wg.Wait()

	if got := models["a"].callCount() + models["b"].callCount(); got != 50 {
		t.Errorf("model calls = %d, want 50", got)
	}
}
