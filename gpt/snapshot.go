package gpt

import "sync"

// SnapshotRing holds the newest N stream snapshots for one source, evicting
// the oldest on overflow.
type SnapshotRing struct {
	mu   sync.Mutex
	size int
	buf  []Attachment
}

// NewSnapshotRing returns a ring keeping at most size snapshots. A size below
// one is clamped to one.
func NewSnapshotRing(size int) *SnapshotRing {
	if size < 1 {
		size = 1
	}
	return &SnapshotRing{size: size}
}

// Add appends a snapshot, evicting the oldest when the ring is full.
func (r *SnapshotRing) Add(s Attachment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = append(r.buf, s)
	if len(r.buf) > r.size {
		r.buf = r.buf[len(r.buf)-r.size:]
	}
}

// Latest returns the newest snapshot, if any.
func (r *SnapshotRing) Latest() (Attachment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) == 0 {
		return Attachment{}, false
	}
	return r.buf[len(r.buf)-1], true
}

// All returns the held snapshots in chronological order.
func (r *SnapshotRing) All() []Attachment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Attachment, len(r.buf))
	copy(out, r.buf)
	return out
}

// Len reports the number of held snapshots.
func (r *SnapshotRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}
