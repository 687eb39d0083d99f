package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Minute

// FFmpeg invokes the external transcoding tool. The argument set is fixed:
// horizontal mirror, branding overlay scaled to the video plane, H.264 at a
// fixed quality preset, yuv420p for broad playback support, and a container
// laid out for progressive streaming.
type FFmpeg struct {
	binary      string
	overlayPath string // empty disables the overlay composite
	timeout     time.Duration
	logger      *zap.Logger
}

// NewFFmpeg creates an ffmpeg wrapper. timeout bounds every invocation; on
// expiry the subprocess is killed and the job falls back.
func NewFFmpeg(overlayPath string, timeout time.Duration, logger *zap.Logger) *FFmpeg {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{binary: "ffmpeg", overlayPath: overlayPath, timeout: timeout, logger: logger}
}

// Transform mirrors and brands inputPath into outputPath. The call blocks
// the calling goroutine until the subprocess exits or the deadline fires;
// the rest of the process keeps serving.
func (f *FFmpeg) Transform(ctx context.Context, inputPath, outputPath string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	args := buildTransformArgs(inputPath, f.overlayPath, outputPath)
	cmd := exec.CommandContext(ctx, f.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			f.logger.Error("ffmpeg killed on deadline",
				zap.String("input", inputPath),
				zap.Duration("timeout", f.timeout),
			)
			return fmt.Errorf("%w: deadline exceeded after %s", ErrTransform, f.timeout)
		}
		f.logger.Error("ffmpeg failed",
			zap.String("input", inputPath),
			zap.Error(err),
			zap.String("stderr", tail(stderr.String(), 512)),
		)
		return fmt.Errorf("%w: %v", ErrTransform, err)
	}
	f.logger.Debug("ffmpeg finished",
		zap.String("output", outputPath),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// ExtractFrame writes a single frame from videoPath to framePath.
func (f *FFmpeg) ExtractFrame(ctx context.Context, videoPath, framePath string) error {
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	cmd := exec.CommandContext(ctx, f.binary,
		"-y",
		"-ss", "00:00:01",
		"-i", videoPath,
		"-frames:v", "1",
		"-q:v", "2",
		framePath,
	)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extract frame: %w", err)
	}
	return nil
}

func buildTransformArgs(input, overlay, output string) []string {
	args := []string{"-y", "-i", input}
	if overlay != "" {
		args = append(args,
			"-i", overlay,
			"-filter_complex",
			"[0:v]hflip[mirror];[1:v][mirror]scale2ref=iw:ih[brand][mirror];[mirror][brand]overlay=0:0[out]",
			"-map", "[out]",
			"-map", "0:a?",
		)
	} else {
		args = append(args, "-vf", "hflip")
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-movflags", "+faststart",
		output,
	)
	return args
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
