package astrortsp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os/exec"
	"strings"
)

// KeyframeDecoder turns one Annex-B access unit into pixels. codec is an
// ffmpeg demuxer name ("h264" or "hevc").
type KeyframeDecoder func(ctx context.Context, codec string, annexb []byte) (image.Image, error)

// FFmpegKeyframeDecoder decodes keyframes by piping them through ffmpeg.
func FFmpegKeyframeDecoder(bin string) KeyframeDecoder {
	return func(ctx context.Context, codec string, annexb []byte) (image.Image, error) {
		var stdout, stderr bytes.Buffer

		cmd := exec.CommandContext(ctx, bin,
			"-hide_banner",
			"-loglevel", "error",
			"-f", codec,
			"-i", "pipe:0",
			"-frames:v", "1",
			"-f", "image2pipe",
			"-c:v", "png",
			"pipe:1",
		)
		cmd.Stdin = bytes.NewReader(annexb)
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("ffmpeg error: %w | %s", err, strings.TrimSpace(stderr.String()))
		}
		if stdout.Len() == 0 {
			return nil, errors.New("ffmpeg produced no picture")
		}
		return png.Decode(&stdout)
	}
}
