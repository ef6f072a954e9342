package gpt

import "testing"

func pair(q, a string) []*Entry {
	return []*Entry{
		{Role: RoleUser, Text: q},
		{Role: RoleAssistant, Text: a},
	}
}

func TestHistoryCount(t *testing.T) {
	h := NewHistory()
	if h.Count() != 0 {
		t.Errorf("empty count = %d", h.Count())
	}
	h.AddEntries(pair("q1", "a1"), "")
	h.AddEntries(pair("q2", "a2"), "")
	if h.Count() != 2 {
		t.Errorf("count = %d, want 2", h.Count())
	}
}

func TestHistoryCopyIsDefensive(t *testing.T) {
	h := NewHistory()
	h.AddEntries(pair("q", "a"), "")
	snap := h.CopyEntries()
	snap[0] = &Entry{Role: RoleUser, Text: "mutated"}
	if h.CopyEntries()[0].Text != "q" {
		t.Error("mutating the copy leaked into the history")
	}
}

func TestHistoryTagIndex(t *testing.T) {
	h := NewHistory()
	h.AddEntries(pair("q1", "a1"), "")
	h.AddEntries(pair("s1", "r1"), "stream_info")
	h.AddEntries(pair("q2", "a2"), "")
	h.AddEntries(pair("s2", "r2"), "stream_info")

	if got := h.CountByTag("stream_info"); got != 4 {
		t.Errorf("tagged count = %d, want 4", got)
	}
	if got := h.CountByTag("other"); got != 0 {
		t.Errorf("unknown tag count = %d, want 0", got)
	}
}

func TestRemoveEntriesWithTagOldestFirst(t *testing.T) {
	h := NewHistory()
	h.AddEntries(pair("s1", "r1"), "stream_info")
	h.AddEntries(pair("q1", "a1"), "")
	h.AddEntries(pair("s2", "r2"), "stream_info")

	h.RemoveEntriesWithTag("stream_info", 1)

	entries := h.CopyEntries()
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	if entries[0].Text != "q1" || entries[2].Text != "s2" {
		t.Errorf("wrong entries survived: %q, %q", entries[0].Text, entries[2].Text)
	}
	if got := h.CountByTag("stream_info"); got != 2 {
		t.Errorf("tagged count after prune = %d, want 2", got)
	}
}

func TestRemoveEntriesWithTagZeroCount(t *testing.T) {
	h := NewHistory()
	h.AddEntries(pair("s1", "r1"), "stream_info")
	h.RemoveEntriesWithTag("stream_info", 0)
	if h.Count() != 1 {
		t.Error("zero count must be a no-op")
	}
}

func TestHistoryReset(t *testing.T) {
	h := NewHistory()
	h.AddEntries(pair("s", "r"), "stream_info")
	h.Reset()
	if h.Count() != 0 || h.CountByTag("stream_info") != 0 {
		t.Error("reset left entries or tags behind")
	}
}

func TestHistoryFor(t *testing.T) {
	if HistoryFor(KindDialogue) != HistoryFor(KindDialogue) {
		t.Error("same kind must share one history")
	}
	if HistoryFor(KindDialogue) == HistoryFor(KindDigest) {
		t.Error("dialogue and digest must not share a history")
	}
}
