package gpt

import (
	"sync"
	"time"
)

// EntryRole identifies who produced a history entry.
type EntryRole string

const (
	RoleSystem    EntryRole = "system"
	RoleUser      EntryRole = "user"
	RoleAssistant EntryRole = "assistant"
)

// Attachment is an inline binary blob (stream snapshot) carried by an entry.
type Attachment struct {
	MimeType   string
	Data       []byte
	CapturedAt time.Time
}

// Entry is one turn half: a question or an answer, with optional attachments.
type Entry struct {
	Role        EntryRole
	Text        string
	Attachments []Attachment
}

// History is the ordered turn log fed to the model as context. Entries are
// always appended in whole (question, answer) pairs. A side index keeps the
// tag of informational injections (stream status updates) so they can be
// pruned independently of normal dialogue retention.
//
// Every operation holds the single mutex for its full duration; CopyEntries
// hands out a defensive copy so request building never races with appends.
type History struct {
	mu      sync.Mutex
	entries []*Entry
	tags    map[*Entry]string
}

// NewHistory returns an empty history.
func NewHistory() *History {
	return &History{tags: make(map[*Entry]string)}
}

// AddEntries appends entries in order. A non-empty tag marks every appended
// entry in the side index.
func (h *History) AddEntries(entries []*Entry, tag string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range entries {
		h.entries = append(h.entries, e)
		if tag != "" {
			h.tags[e] = tag
		}
	}
}

// CopyEntries returns a shallow copy of the entry sequence.
func (h *History) CopyEntries() []*Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Count reports the number of whole turns (entry pairs).
func (h *History) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries) / 2
}

// CountByTag reports how many entries carry the given tag.
func (h *History) CountByTag(tag string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.entries {
		if h.tags[e] == tag {
			n++
		}
	}
	return n
}

// RemoveEntriesWithTag removes up to count (question, answer) pairs carrying
// the tag, oldest first. Relative order of the remaining entries is preserved.
func (h *History) RemoveEntriesWithTag(tag string, count int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if count <= 0 {
		return
	}
	budget := count * 2
	kept := h.entries[:0]
	for _, e := range h.entries {
		if budget > 0 && h.tags[e] == tag {
			delete(h.tags, e)
			budget--
			continue
		}
		kept = append(kept, e)
	}
	h.entries = kept
}

// Reset drops every entry and tag.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.tags = make(map[*Entry]string)
}

// ConsumerKind scopes a shared history to one consumer loop.
type ConsumerKind string

const (
	KindDialogue ConsumerKind = "dialogue"
	KindDigest   ConsumerKind = "digest"
)

var (
	historiesMu sync.Mutex
	histories   = make(map[ConsumerKind]*History)
)

// HistoryFor returns the history owned by the given consumer kind, creating
// it on first use. The dialogue and digest loops get independent histories.
func HistoryFor(kind ConsumerKind) *History {
	historiesMu.Lock()
	defer historiesMu.Unlock()
	h, ok := histories[kind]
	if !ok {
		h = NewHistory()
		histories[kind] = h
	}
	return h
}
