package gpt

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// StreamInfoTag marks stream status injections in history so they can be
// pruned independently of dialogue retention.
const StreamInfoTag = "stream_info"

// LiveStream is the channel's live status as reported by the platform API.
type LiveStream struct {
	Title     string
	Game      string
	Tags      []string
	Viewers   int
	StartedAt time.Time
}

// StreamChecker reports the channel's live stream, or nil when offline.
type StreamChecker interface {
	LiveStream(ctx context.Context, channel string) (*LiveStream, error)
}

// SnapshotGrabber captures a current video frame of the live stream.
type SnapshotGrabber interface {
	Grab(ctx context.Context, channel string) (Attachment, error)
}

// WatcherConfig carries the watcher knobs; zero values get defaults.
type WatcherConfig struct {
	Channel            string
	PollInterval       time.Duration // default 25s
	MaxStreamInfoPairs int           // default 3
	SnapshotRingSize   int           // default 3
}

// Watcher owns the two consumer loops plus the stream status poller. The
// poller renders live status to text, attaches recent snapshots, and injects
// the result into the digest conversation under StreamInfoTag, pruning old
// injections beyond the configured cap.
type Watcher struct {
	Dialogue *DialogueProcessor
	Digest   *DigestProcessor

	checker   StreamChecker
	grabber   SnapshotGrabber
	ring      *SnapshotRing
	suspended *atomic.Bool
	cfg       WatcherConfig

	mu         sync.Mutex
	current    *StreamInfo
	lastOnline *bool
}

// NewWatcher assembles the watcher. checker and grabber may be nil, which
// disables status polling and snapshot capture respectively.
func NewWatcher(dialogue *DialogueProcessor, digest *DigestProcessor, checker StreamChecker, grabber SnapshotGrabber, suspended *atomic.Bool, cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 25 * time.Second
	}
	if cfg.MaxStreamInfoPairs <= 0 {
		cfg.MaxStreamInfoPairs = 3
	}
	if cfg.SnapshotRingSize <= 0 {
		cfg.SnapshotRingSize = 3
	}
	if suspended == nil {
		suspended = new(atomic.Bool)
	}
	w := &Watcher{
		Dialogue:  dialogue,
		Digest:    digest,
		checker:   checker,
		grabber:   grabber,
		ring:      NewSnapshotRing(cfg.SnapshotRingSize),
		suspended: suspended,
		cfg:       cfg,
	}
	dialogue.SetInfoSource(w.CurrentInfos)
	digest.SetInfoSource(w.CurrentInfos)
	return w
}

// CurrentInfos returns the latest stream context block, if any.
func (w *Watcher) CurrentInfos() []*StreamInfo {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	return []*StreamInfo{w.current}
}

// Online reports whether the last poll saw the stream live. The current info
// block is kept for offline polls too, so this checks the flag rather than
// mere presence.
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current != nil && w.current.Online
}

// Run starts both processors and the status poller, and blocks until ctx is
// canceled.
func (w *Watcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); w.Dialogue.Run(ctx) }()
	go func() { defer wg.Done(); w.Digest.Run(ctx) }()

	if w.checker != nil {
		wg.Add(1)
		go func() { defer wg.Done(); w.pollStream(ctx) }()
	}
	wg.Wait()
}

func (w *Watcher) pollStream(ctx context.Context) {
	slog.Info("watcher: stream poller started",
		slog.String("channel", w.cfg.Channel),
		slog.Duration("interval", w.cfg.PollInterval))
	for ctx.Err() == nil {
		if w.suspended.Load() {
			sleepCtx(ctx, suspendPollInterval)
			continue
		}
		w.checkOnce(ctx)
		sleepCtx(ctx, w.cfg.PollInterval)
	}
	slog.Info("watcher: stream poller stopped", slog.String("channel", w.cfg.Channel))
}

func (w *Watcher) checkOnce(ctx context.Context) {
	stream, err := w.checker.LiveStream(ctx, w.cfg.Channel)
	if err != nil {
		slog.Warn("watcher: stream status check failed", slog.Any("err", err))
		return
	}

	online := stream != nil
	w.mu.Lock()
	repeatOffline := w.lastOnline != nil && !*w.lastOnline && !online
	w.lastOnline = &online
	w.mu.Unlock()
	// One offline notice per transition; stay quiet while offline persists.
	if repeatOffline {
		return
	}

	info := &StreamInfo{Online: online, Channel: w.cfg.Channel}
	if online {
		info.Title = stream.Title
		info.Game = stream.Game
		info.Tags = stream.Tags
		info.Viewers = stream.Viewers
		info.StartedAt = stream.StartedAt
		if w.grabber != nil {
			if snap, err := w.grabber.Grab(ctx, w.cfg.Channel); err != nil {
				slog.Warn("watcher: snapshot capture failed", slog.Any("err", err))
			} else {
				w.ring.Add(snap)
			}
		}
		info.Snapshots = w.ring.All()
	}

	w.mu.Lock()
	w.current = info
	w.mu.Unlock()

	w.inject(ctx, info)
}

// inject feeds the rendered status into the digest conversation, keeping at
// most MaxStreamInfoPairs tagged pairs. Injection failures are logged only.
func (w *Watcher) inject(ctx context.Context, info *StreamInfo) {
	hist := w.Digest.Client().History()
	for hist.CountByTag(StreamInfoTag) > w.cfg.MaxStreamInfoPairs*2 {
		hist.RemoveEntriesWithTag(StreamInfoTag, 1)
	}
	if _, err := w.Digest.Client().AskTagged(ctx, info.BuildMessage(), StreamInfoTag); err != nil {
		slog.Error("watcher: stream info injection failed", slog.Any("err", err))
	}
}

// Reset resets both processors.
func (w *Watcher) Reset() {
	w.Dialogue.Reset()
	w.Digest.Reset()
}
