// Package snapshot captures single video frames from a live Twitch stream by
// piping streamlink into ffmpeg. Both binaries are optional at runtime; a
// missing binary disables capture instead of failing the watcher.
package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/onnwee/chat-copilot/backend/gpt"
)

const defaultTimeout = 20 * time.Second

// ExecGrabber shells out to streamlink and ffmpeg to grab one JPEG frame.
// Zero values pick the binaries from PATH and a low stream quality so the
// capture stays cheap.
type ExecGrabber struct {
	StreamlinkBin string        // default "streamlink"
	FFmpegBin     string        // default "ffmpeg"
	Quality       string        // default "worst"
	Timeout       time.Duration // default 20s
}

// NewExecGrabber reads SNAPSHOT_QUALITY and SNAPSHOT_TIMEOUT overrides from
// the environment. It returns nil when either binary is missing, which the
// watcher treats as snapshots disabled.
func NewExecGrabber() *ExecGrabber {
	g := &ExecGrabber{}
	if _, err := exec.LookPath(g.streamlink()); err != nil {
		slog.Info("streamlink not found, snapshots disabled", slog.String("component", "snapshot"))
		return nil
	}
	if _, err := exec.LookPath(g.ffmpeg()); err != nil {
		slog.Info("ffmpeg not found, snapshots disabled", slog.String("component", "snapshot"))
		return nil
	}
	if v := os.Getenv("SNAPSHOT_QUALITY"); v != "" {
		g.Quality = v
	}
	if v := os.Getenv("SNAPSHOT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			g.Timeout = d
		}
	}
	return g
}

func (g *ExecGrabber) streamlink() string {
	if g.StreamlinkBin != "" {
		return g.StreamlinkBin
	}
	return "streamlink"
}

func (g *ExecGrabber) ffmpeg() string {
	if g.FFmpegBin != "" {
		return g.FFmpegBin
	}
	return "ffmpeg"
}

func (g *ExecGrabber) quality() string {
	if g.Quality != "" {
		return g.Quality
	}
	return "worst"
}

func (g *ExecGrabber) timeout() time.Duration {
	if g.Timeout > 0 {
		return g.Timeout
	}
	return defaultTimeout
}

// streamlinkArgs streams the channel to stdout.
func streamlinkArgs(channel, quality string) []string {
	return []string{"--stdout", "--twitch-disable-ads", "twitch.tv/" + channel, quality}
}

// ffmpegArgs reads the transport stream from stdin and emits one JPEG frame
// on stdout.
func ffmpegArgs() []string {
	return []string{"-hide_banner", "-loglevel", "error", "-i", "pipe:0", "-frames:v", "1", "-f", "image2", "-c:v", "mjpeg", "pipe:1"}
}

// Grab captures a single frame of the channel's live stream.
func (g *ExecGrabber) Grab(ctx context.Context, channel string) (gpt.Attachment, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout())
	defer cancel()

	sl := exec.CommandContext(ctx, g.streamlink(), streamlinkArgs(channel, g.quality())...)
	ff := exec.CommandContext(ctx, g.ffmpeg(), ffmpegArgs()...)

	pipe, err := sl.StdoutPipe()
	if err != nil {
		return gpt.Attachment{}, fmt.Errorf("streamlink pipe: %w", err)
	}
	ff.Stdin = pipe

	var frame bytes.Buffer
	ff.Stdout = &frame

	if err := sl.Start(); err != nil {
		return gpt.Attachment{}, fmt.Errorf("start streamlink: %w", err)
	}
	if err := ff.Run(); err != nil {
		_ = sl.Process.Kill()
		_ = sl.Wait()
		return gpt.Attachment{}, fmt.Errorf("ffmpeg frame grab: %w", err)
	}
	// streamlink keeps writing until its pipe closes; ffmpeg exiting after one
	// frame closes it, so kill and reap.
	_ = sl.Process.Kill()
	_ = sl.Wait()

	if frame.Len() == 0 {
		return gpt.Attachment{}, fmt.Errorf("empty frame for %s", channel)
	}
	return gpt.Attachment{MimeType: "image/jpeg", Data: frame.Bytes(), CapturedAt: time.Now()}, nil
}
