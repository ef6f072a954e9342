package gpt

import (
	"fmt"
	"strings"
	"time"
)

// StreamInfo is a rendered view of the channel's live status, injected into
// the digest conversation so the model can talk about what is on screen.
type StreamInfo struct {
	Online    bool
	Channel   string
	Title     string
	Game      string
	Tags      []string
	Viewers   int
	StartedAt time.Time

	// Snapshots are attached inline with the rendered text.
	Snapshots []Attachment
}

// BuildMessage renders the status to the context block given to the model.
func (si *StreamInfo) BuildMessage() string {
	var b strings.Builder
	if !si.Online {
		fmt.Fprintf(&b, "The stream on channel '%s' is offline right now. You cannot report on it or describe what is on screen.\n", si.Channel)
		return b.String()
	}
	fmt.Fprintf(&b, "The stream is live right now, you can report on it and on what is happening on screen.\n")
	fmt.Fprintf(&b, "Streamer channel: '%s'\n", si.Channel)
	fmt.Fprintf(&b, "Stream title: '%s'\n", si.Title)
	if si.Game != "" {
		fmt.Fprintf(&b, "Category (game): %s\n", si.Game)
	}
	if len(si.Tags) > 0 {
		fmt.Fprintf(&b, "Stream tags: %s\n", strings.Join(si.Tags, ", "))
	}
	fmt.Fprintf(&b, "Current viewers: %d\n", si.Viewers)
	if !si.StartedAt.IsZero() {
		fmt.Fprintf(&b, "Stream started at: %s\n", si.StartedAt.Local().Format(time.RFC1123))
	}
	fmt.Fprintf(&b, "Current time: %s\n", time.Now().Local().Format(time.RFC1123))
	if len(si.Snapshots) > 0 {
		b.WriteString("A current frame of the stream is attached; you can use it to tell what is happening on screen.\n")
	}
	return b.String()
}
