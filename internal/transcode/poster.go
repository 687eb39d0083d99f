package transcode

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const defaultPosterWidth = 640

// Poster renders a resized poster frame for a finished clip, used by the
// delivery landing page as the player placeholder.
type Poster struct {
	ffmpeg *FFmpeg
	width  int
	logger *zap.Logger
}

// NewPoster creates a poster renderer. width is the output width in pixels;
// height follows the aspect ratio.
func NewPoster(ffmpeg *FFmpeg, width int, logger *zap.Logger) *Poster {
	if width <= 0 {
		width = defaultPosterWidth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poster{ffmpeg: ffmpeg, width: width, logger: logger}
}

// Render extracts a frame from videoPath into dir and returns the path of
// the resized JPEG. The caller owns dir and removes it with the job.
func (p *Poster) Render(ctx context.Context, videoPath, dir string) (string, error) {
	framePath := filepath.Join(dir, "frame.png")
	if err := p.ffmpeg.ExtractFrame(ctx, videoPath, framePath); err != nil {
		return "", err
	}

	img, err := imaging.Open(framePath)
	if err != nil {
		return "", fmt.Errorf("open frame: %w", err)
	}
	resized := imaging.Resize(img, p.width, 0, imaging.Lanczos)

	posterPath := filepath.Join(dir, "poster.jpg")
	if err := imaging.Save(resized, posterPath, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("save poster: %w", err)
	}
	return posterPath, nil
}
