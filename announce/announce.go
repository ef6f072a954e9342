// Package announce rotates stored announcements into chat on a period kept in
// the database. Announcements cycle FIFO; entries marked live-only are skipped
// while the stream is offline and stay in the rotation.
package announce

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/onnwee/chat-copilot/backend/db"
	"github.com/onnwee/chat-copilot/backend/gpt"
)

// Announcement is one rotating message.
type Announcement struct {
	ID       int
	Message  string
	LiveOnly bool
}

// Store supplies the rotation content and its period.
type Store interface {
	List(ctx context.Context) ([]Announcement, error)
	Period(ctx context.Context) (time.Duration, error)
}

// PeriodKey is the kv key holding the announce period as a Go duration.
const PeriodKey = "announce_period"

// idleRecheck is how often a disabled announcer looks for a new period.
const idleRecheck = 30 * time.Second

// DBStore reads announcements and the period from Postgres.
type DBStore struct {
	DB *sql.DB
}

func (s *DBStore) List(ctx context.Context) ([]Announcement, error) {
	rows, err := db.ListAnnouncements(ctx, s.DB)
	if err != nil {
		return nil, err
	}
	out := make([]Announcement, 0, len(rows))
	for _, r := range rows {
		out = append(out, Announcement{ID: r.ID, Message: r.Message, LiveOnly: r.LiveOnly})
	}
	return out, nil
}

// Period returns the configured period; zero (disabled) when unset or invalid.
func (s *DBStore) Period(ctx context.Context) (time.Duration, error) {
	v, err := db.GetKV(ctx, s.DB, PeriodKey)
	if err != nil {
		return 0, err
	}
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, nil
	}
	return d, nil
}

// Announcer owns the rotation loop.
type Announcer struct {
	store     Store
	sender    gpt.Sender
	channel   string
	suspended *atomic.Bool

	// live reports whether the stream is currently online; nil means unknown,
	// which keeps live-only announcements out of the rotation.
	live func() bool

	mu    sync.Mutex
	queue []Announcement
}

// New builds an announcer. live may be nil when no stream watcher runs.
func New(store Store, sender gpt.Sender, channel string, suspended *atomic.Bool, live func() bool) *Announcer {
	if suspended == nil {
		suspended = new(atomic.Bool)
	}
	return &Announcer{
		store:     store,
		sender:    sender,
		channel:   channel,
		suspended: suspended,
		live:      live,
	}
}

// Refresh drops the in-memory rotation so the next cycle reloads from the store.
func (a *Announcer) Refresh() {
	a.mu.Lock()
	a.queue = nil
	a.mu.Unlock()
}

// Run cycles announcements until ctx ends. A period of zero keeps the loop
// idle; it re-checks the store so enabling takes effect without a restart.
func (a *Announcer) Run(ctx context.Context) {
	for ctx.Err() == nil {
		period, err := a.store.Period(ctx)
		if err != nil {
			slog.Warn("announce: period lookup failed", slog.Any("err", err))
			period = 0
		}
		if period <= 0 {
			sleepCtx(ctx, idleRecheck)
			continue
		}
		sleepCtx(ctx, period)
		if ctx.Err() != nil {
			return
		}
		if a.suspended.Load() {
			continue
		}
		a.announceOne(ctx)
	}
}

// announceOne says the next eligible announcement and requeues it at the back.
func (a *Announcer) announceOne(ctx context.Context) {
	a.mu.Lock()
	if len(a.queue) == 0 {
		list, err := a.store.List(ctx)
		if err != nil {
			a.mu.Unlock()
			slog.Warn("announce: load failed", slog.Any("err", err))
			return
		}
		a.queue = list
	}
	isLive := a.live != nil && a.live()
	for i := 0; i < len(a.queue); i++ {
		head := a.queue[0]
		a.queue = append(a.queue[1:], head)
		if head.LiveOnly && !isLive {
			continue
		}
		a.mu.Unlock()
		if err := a.sender.SendMessage(a.channel, head.Message); err != nil {
			slog.Warn("announce: send failed", slog.Any("err", err))
		}
		return
	}
	a.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
