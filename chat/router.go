package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/chat-copilot/backend/config"
	"github.com/onnwee/chat-copilot/backend/gpt"
	"github.com/onnwee/chat-copilot/backend/telemetry"
)

// Resolver looks up a Twitch user id for a login name.
type Resolver interface {
	GetUserID(ctx context.Context, login string) (string, error)
}

// IgnoreStore persists the set of usernames the bot never listens to.
type IgnoreStore interface {
	IgnoredUsers(ctx context.Context) (map[string]bool, error)
	IgnoreUser(ctx context.Context, username string) error
	UnignoreUser(ctx context.Context, username string) error
}

// commandPrefix marks chat commands; command messages never reach the digest.
const commandPrefix = "!"

// RouterConfig carries the routing knobs.
type RouterConfig struct {
	BotName        string
	Channel        string
	DialogueWindow time.Duration
	IsAdmin        func(login string) bool
}

// Deps are the components a Router drives.
type Deps struct {
	Dialogue  *gpt.DialogueProcessor
	Digest    *gpt.DigestProcessor
	Watcher   *gpt.Watcher
	Roles     *gpt.Roles
	Sender    gpt.Sender
	Resolver  Resolver
	Ignores   IgnoreStore
	Suspended *atomic.Bool
}

// Router classifies every inbound message: admin command, addressed message
// (opens a per-user dialogue window), continuation inside an open window, or
// ambient chatter for the digest buffer.
type Router struct {
	cfg       RouterConfig
	deps      Deps
	suspended *atomic.Bool
	watching  atomic.Bool

	mu      sync.Mutex
	ignored map[string]bool
	windows map[string]time.Time
	now     func() time.Time
}

// NewRouter builds a router. The ignore list is loaded lazily on first use
// and refreshed by the reload command.
func NewRouter(cfg RouterConfig, deps Deps) *Router {
	if cfg.DialogueWindow <= 0 {
		cfg.DialogueWindow = 15 * time.Second
	}
	if cfg.IsAdmin == nil {
		cfg.IsAdmin = func(string) bool { return false }
	}
	if deps.Suspended == nil {
		deps.Suspended = new(atomic.Bool)
	}
	r := &Router{
		cfg:       cfg,
		deps:      deps,
		suspended: deps.Suspended,
		ignored:   make(map[string]bool),
		windows:   make(map[string]time.Time),
		now:       time.Now,
	}
	r.watching.Store(true)
	return r
}

// ReloadIgnores replaces the in-memory ignore set from the store.
func (r *Router) ReloadIgnores(ctx context.Context) error {
	if r.deps.Ignores == nil {
		return nil
	}
	users, err := r.deps.Ignores.IgnoredUsers(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.ignored = users
	r.mu.Unlock()
	return nil
}

// Watching reports whether ambient messages feed the digest buffer.
func (r *Router) Watching() bool { return r.watching.Load() }

// Handle routes one inbound message.
func (r *Router) Handle(ctx context.Context, msg Message) {
	login := strings.ToLower(msg.Username)
	if login == "" || login == strings.ToLower(r.cfg.BotName) {
		return
	}
	if r.isIgnored(login) {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if strings.HasPrefix(text, commandPrefix) {
		r.handleCommand(ctx, msg, strings.TrimPrefix(text, commandPrefix))
		return
	}

	if rest, ok := r.addressedText(text); ok {
		r.openWindow(login)
		r.enqueueQuestion(msg, rest)
		return
	}

	if r.windowOpen(login) {
		// Each continuation keeps the window alive.
		r.openWindow(login)
		r.enqueueQuestion(msg, text)
		return
	}

	if r.watching.Load() {
		r.deps.Digest.Push(gpt.ChatLine{Username: msg.Username, Text: text})
	}
}

// enqueueQuestion hands a question to the dialogue processor with the role
// active right now, so a later role switch does not rewrite items already
// waiting in the queue.
func (r *Router) enqueueQuestion(msg Message, text string) {
	r.deps.Dialogue.Enqueue(gpt.QueuedMessage{
		Text:     text,
		Username: msg.Username,
		UserID:   msg.UserID,
		Role:     r.deps.Dialogue.Client().Role(),
	})
}

// addressedText strips a leading @botname mention and reports whether the
// message was addressed to the bot.
func (r *Router) addressedText(text string) (string, bool) {
	mention := "@" + strings.ToLower(r.cfg.BotName)
	if !strings.HasPrefix(strings.ToLower(text), mention) {
		return "", false
	}
	rest := strings.TrimSpace(text[len(mention):])
	rest = strings.TrimSpace(strings.TrimLeft(rest, ",:"))
	return rest, true
}

func (r *Router) isIgnored(login string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ignored[login]
}

func (r *Router) openWindow(login string) {
	r.mu.Lock()
	r.windows[login] = r.now().Add(r.cfg.DialogueWindow)
	r.mu.Unlock()
}

func (r *Router) windowOpen(login string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.windows[login]
	if !ok {
		return false
	}
	if r.now().After(until) {
		delete(r.windows, login)
		return false
	}
	return true
}

func (r *Router) say(text string) {
	if r.deps.Sender == nil || text == "" {
		return
	}
	if err := r.deps.Sender.SendMessage(r.cfg.Channel, text); err != nil {
		slog.Warn("router: send failed", slog.Any("err", err))
	}
}

func (r *Router) setSuspended(v bool) {
	r.suspended.Store(v)
	telemetry.UpdateSuspendedGauge(v)
	if v {
		r.say("taking a break.")
	} else {
		r.say("back in business.")
	}
}

func (r *Router) handleCommand(ctx context.Context, msg Message, line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	login := strings.ToLower(msg.Username)
	if !r.cfg.IsAdmin(login) {
		return
	}
	cmd := strings.ToLower(fields[0])
	args := fields[1:]
	slog.Debug("router: admin command", slog.String("cmd", cmd), slog.String("user", login))

	switch cmd {
	case "suspend":
		r.setSuspended(!r.suspended.Load())
	case "stop":
		r.setSuspended(true)
	case "start":
		r.setSuspended(false)
	case "say":
		if len(args) > 0 {
			r.say(strings.Join(args, " "))
		}
	case "ask", "gpt":
		if len(args) > 0 {
			r.enqueueQuestion(msg, strings.Join(args, " "))
		}
	case "reset":
		r.deps.Dialogue.Reset()
		r.deps.Digest.Reset()
		if r.deps.Watcher != nil {
			r.deps.Watcher.Reset()
		}
		r.say("fresh start, memory wiped.")
	case "role":
		r.handleRole(ctx, args)
	case "reload":
		if r.deps.Roles != nil {
			if err := r.deps.Roles.Reload(ctx); err != nil {
				slog.Warn("router: role reload failed", slog.Any("err", err))
				r.say("role reload failed.")
				return
			}
		}
		if err := r.ReloadIgnores(ctx); err != nil {
			slog.Warn("router: ignore reload failed", slog.Any("err", err))
			r.say("ignore list reload failed.")
			return
		}
		r.say("reloaded.")
	case "resolve":
		if len(args) == 0 || r.deps.Resolver == nil {
			return
		}
		id, err := r.deps.Resolver.GetUserID(ctx, strings.ToLower(args[0]))
		if err != nil {
			r.say(fmt.Sprintf("could not resolve %s.", args[0]))
			return
		}
		r.say(fmt.Sprintf("%s has id %s.", args[0], id))
	case "togglewatch":
		v := !r.watching.Load()
		r.watching.Store(v)
		if v {
			r.say("watching chat again.")
		} else {
			r.say("no longer watching chat.")
		}
	case "watchperiod":
		r.handleWatchPeriod(args)
	case "ignore":
		if len(args) == 0 || r.deps.Ignores == nil {
			return
		}
		target := strings.ToLower(args[0])
		if err := r.deps.Ignores.IgnoreUser(ctx, target); err != nil {
			slog.Warn("router: ignore failed", slog.Any("err", err))
			return
		}
		r.mu.Lock()
		r.ignored[target] = true
		r.mu.Unlock()
		r.say(fmt.Sprintf("ignoring %s.", target))
	case "unignore":
		if len(args) == 0 || r.deps.Ignores == nil {
			return
		}
		target := strings.ToLower(args[0])
		if err := r.deps.Ignores.UnignoreUser(ctx, target); err != nil {
			slog.Warn("router: unignore failed", slog.Any("err", err))
			return
		}
		r.mu.Lock()
		delete(r.ignored, target)
		r.mu.Unlock()
		r.say(fmt.Sprintf("listening to %s again.", target))
	}
}

func (r *Router) handleRole(ctx context.Context, args []string) {
	client := r.deps.Dialogue.Client()
	if len(args) == 0 {
		if role := client.Role(); role != nil {
			r.say(fmt.Sprintf("current role: %s.", role.Name))
		}
		return
	}
	if r.deps.Roles == nil {
		return
	}
	name := strings.ToLower(args[0])
	role, err := r.deps.Roles.Get(ctx, name)
	if err != nil {
		slog.Warn("router: role load failed", slog.String("role", name), slog.Any("err", err))
		r.say("role lookup failed.")
		return
	}
	if role == nil {
		r.say(fmt.Sprintf("no role named %s.", name))
		return
	}
	// Only roles meant for chat duty can be activated here.
	if !role.HasScope("chat") {
		r.say(fmt.Sprintf("role %s is not available in chat.", name))
		return
	}
	client.SetRole(role)
	r.deps.Digest.Client().SetRole(role)
	r.say(fmt.Sprintf("switched to role %s.", name))
}

// handleWatchPeriod parses a duration (or bare seconds) and applies it to the
// digest cycle. Zero disables the digest; anything else is clamped to the
// configured floor.
func (r *Router) handleWatchPeriod(args []string) {
	if len(args) == 0 {
		r.say(fmt.Sprintf("digest period is %s.", r.deps.Digest.Period()))
		return
	}
	d, err := time.ParseDuration(args[0])
	if err != nil {
		if secs, convErr := strconv.Atoi(args[0]); convErr == nil {
			d = time.Duration(secs) * time.Second
			err = nil
		}
	}
	if err != nil || d < 0 {
		r.say("usage: watchperiod <duration>")
		return
	}
	if d > 0 && d < config.MinWatchPeriod {
		d = config.MinWatchPeriod
	}
	r.deps.Digest.SetPeriod(d)
	if d == 0 {
		r.say("digest disabled.")
	} else {
		r.say(fmt.Sprintf("digest period set to %s.", d))
	}
}
