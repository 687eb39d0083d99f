// Package transcode turns a raw capture in object storage into the delivered
// artifact: download, mirror + brand via ffmpeg, upload, notify. Every job
// ends in a delivery; when any stage fails the moderator gets the raw
// capture's link instead of an error.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorbooth/backend/pkg/storage"
)

// State is the linear job state. Jobs never retry or backtrack.
type State string

const (
	StateDownloading       State = "downloading"
	StateTransforming      State = "transforming"
	StateUploading         State = "uploading"
	StateDelivered         State = "delivered"
	StateFallbackDelivered State = "fallback-delivered"
)

// ErrTransform reports an external-tool failure (non-zero exit, abnormal
// termination, or deadline expiry). It always routes to fallback delivery,
// never to the moderator.
var ErrTransform = errors.New("transform failed")

// Signed URLs used inside the pipeline only need to outlive the immediate
// transfer, not a moderator's browsing session.
const transferTTL = 5 * time.Minute

// Gateway is the slice of the storage gateway the pipeline uses.
type Gateway interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration, opts ...storage.GetOption) (string, error)
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) error
}

// Transformer runs the external transcoding tool on a local file.
type Transformer interface {
	Transform(ctx context.Context, inputPath, outputPath string) error
}

// PosterRenderer produces a poster frame image for a finished clip.
type PosterRenderer interface {
	Render(ctx context.Context, videoPath, dir string) (posterPath string, err error)
}

// Notifier delivers the video-ready event to the moderator's side.
type Notifier interface {
	VideoReady(ctx context.Context, key, landingURL string) error
}

// StatusStore records per-stage job state for observability. Best-effort;
// the pipeline never fails because a status write did.
type StatusStore interface {
	Set(ctx context.Context, sourceKey string, state State, destKey, errMsg string)
}

// Config wires a Pipeline.
type Config struct {
	Gateway       Gateway
	Transformer   Transformer
	Poster        PosterRenderer // optional
	Notifier      Notifier
	Status        StatusStore // optional
	TempDir       string      // empty = os.TempDir()
	PublicBaseURL string
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// Pipeline executes transcode jobs. One Run per upload-done signal; the job
// owns its temp files exclusively and removes them on every exit path.
type Pipeline struct {
	gateway    Gateway
	transform  Transformer
	poster     PosterRenderer
	notifier   Notifier
	status     StatusStore
	tempDir    string
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewPipeline creates a pipeline from cfg.
func NewPipeline(cfg Config) *Pipeline {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		gateway:    cfg.Gateway,
		transform:  cfg.Transformer,
		poster:     cfg.Poster,
		notifier:   cfg.Notifier,
		status:     cfg.Status,
		tempDir:    cfg.TempDir,
		baseURL:    cfg.PublicBaseURL,
		httpClient: client,
		logger:     logger,
	}
}

// Run executes one job to a terminal state. The moderator side receives
// exactly one video-ready notification: the derived key on success, the
// source key on fallback. The recorder's identity is never re-checked once
// the job has started.
func (p *Pipeline) Run(ctx context.Context, sourceKey string) State {
	dir, err := os.MkdirTemp(p.tempDir, "transcode-")
	if err != nil {
		return p.fallback(ctx, sourceKey, fmt.Errorf("temp dir: %w", err))
	}
	defer func() {
		// Best-effort: a failed removal never fails the job retroactively.
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			p.logger.Warn("temp cleanup failed", zap.String("dir", dir), zap.Error(rmErr))
		}
	}()

	destKey, err := p.process(ctx, sourceKey, dir)
	if err != nil {
		return p.fallback(ctx, sourceKey, err)
	}

	p.setStatus(ctx, sourceKey, StateDelivered, destKey, "")
	p.notify(ctx, destKey)
	p.logger.Info("transcode delivered",
		zap.String("source_key", sourceKey),
		zap.String("dest_key", destKey),
	)
	return StateDelivered
}

func (p *Pipeline) process(ctx context.Context, sourceKey, dir string) (string, error) {
	p.setStatus(ctx, sourceKey, StateDownloading, "", "")
	rawPath := filepath.Join(dir, "source"+rawSuffix(sourceKey))
	if err := p.download(ctx, sourceKey, rawPath); err != nil {
		return "", err
	}

	p.setStatus(ctx, sourceKey, StateTransforming, "", "")
	outPath := filepath.Join(dir, "output"+storage.OutputExtension)
	if err := p.transform.Transform(ctx, rawPath, outPath); err != nil {
		return "", err
	}

	p.setStatus(ctx, sourceKey, StateUploading, "", "")
	destKey := storage.DeriveOutputKey(sourceKey)
	if err := p.upload(ctx, destKey, outPath); err != nil {
		return "", err
	}

	p.renderPoster(ctx, destKey, outPath, dir)
	return destKey, nil
}

func (p *Pipeline) download(ctx context.Context, key, dest string) error {
	getURL, err := p.gateway.PresignGet(ctx, key, transferTTL)
	if err != nil {
		return fmt.Errorf("presign source: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, getURL, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: status %d", key, resp.StatusCode)
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	return nil
}

func (p *Pipeline) upload(ctx context.Context, key, src string) error {
	putURL, err := p.gateway.PresignPut(ctx, key, transferTTL)
	if err != nil {
		return fmt.Errorf("presign destination: %w", err)
	}
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open transformed file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat transformed file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, putURL, f)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", "video/mp4")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upload %s: status %d", key, resp.StatusCode)
	}
	return nil
}

// renderPoster is best-effort: a missing poster never degrades delivery.
func (p *Pipeline) renderPoster(ctx context.Context, destKey, videoPath, dir string) {
	if p.poster == nil {
		return
	}
	posterPath, err := p.poster.Render(ctx, videoPath, dir)
	if err != nil {
		p.logger.Warn("poster render failed", zap.String("dest_key", destKey), zap.Error(err))
		return
	}
	f, err := os.Open(posterPath)
	if err != nil {
		p.logger.Warn("poster open failed", zap.Error(err))
		return
	}
	defer f.Close()
	info, _ := f.Stat()
	var size int64
	if info != nil {
		size = info.Size()
	}
	posterKey := storage.DerivePosterKey(destKey)
	if err := p.gateway.Upload(ctx, posterKey, "image/jpeg", f, size); err != nil {
		p.logger.Warn("poster upload failed", zap.String("poster_key", posterKey), zap.Error(err))
	}
}

func (p *Pipeline) fallback(ctx context.Context, sourceKey string, cause error) State {
	p.logger.Error("transcode failed, delivering raw capture",
		zap.String("source_key", sourceKey),
		zap.Error(cause),
	)
	p.setStatus(ctx, sourceKey, StateFallbackDelivered, "", cause.Error())
	p.notify(ctx, sourceKey)
	return StateFallbackDelivered
}

func (p *Pipeline) notify(ctx context.Context, key string) {
	landing := fmt.Sprintf("%s/dl?key=%s", p.baseURL, url.QueryEscape(key))
	if err := p.notifier.VideoReady(ctx, key, landing); err != nil {
		p.logger.Error("video-ready notification failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *Pipeline) setStatus(ctx context.Context, sourceKey string, state State, destKey, errMsg string) {
	if p.status == nil {
		return
	}
	p.status.Set(ctx, sourceKey, state, destKey, errMsg)
}

func rawSuffix(key string) string {
	if ext := path.Ext(key); ext != "" {
		return ext
	}
	return "." + storage.DefaultRawExtension
}
