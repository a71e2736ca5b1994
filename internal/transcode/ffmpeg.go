package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
)

const (
	PlaylistName = "index.m3u8"
	segmentName  = "segment_%03d.ts"
)

type FfmpegBackend struct {
	// Binary defaults to "ffmpeg" on PATH.
	Binary string
}

func (b *FfmpegBackend) binary() string {
	if b.Binary == "" {
		return "ffmpeg"
	}
	return b.Binary
}

func (b *FfmpegBackend) SetupLogOutput(cmd *exec.Cmd, buffer *bytes.Buffer) {
	cmd.Stderr = buffer
}

func (b *FfmpegBackend) IsAvailable() bool {
	if _, err := exec.LookPath(b.binary()); err != nil {
		return false
	}
	return true
}

func (b *FfmpegBackend) BuildCmd(ctx context.Context, step Step) (*exec.Cmd, error) {
	if step.Source == "" || step.Dir == "" {
		return nil, fmt.Errorf("ffmpeg step needs a source and an output directory")
	}
	return exec.CommandContext(ctx, b.binary(), ffmpegArgs(step)...), nil
}

func ffmpegArgs(step Step) []string {
	r := step.Rendition
	return []string{
		"-y",
		"-hide_banner",
		"-i", step.Source,
		"-vf", fmt.Sprintf("scale=-2:%d", r.Height),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-b:v", r.VideoBitrate,
		"-c:a", "aac",
		"-b:a", r.AudioBitrate,
		"-ac", "2",
		"-f", "hls",
		"-hls_time", strconv.Itoa(step.SegmentSeconds),
		"-hls_list_size", "0",
		"-start_number", "0",
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(step.Dir, segmentName),
		filepath.Join(step.Dir, PlaylistName),
	}
}
