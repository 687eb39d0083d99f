// Package api exposes the HTTP surface: presign endpoints for device
// uploads and playback, a server-side upload fallback, the transcode
// status probe, the shareable landing page and a health check.
package api

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirrorbooth/backend/internal/transcode"
	"github.com/mirrorbooth/backend/pkg/response"
	"github.com/mirrorbooth/backend/pkg/storage"
)

// Store is the slice of the storage gateway the handlers use.
type Store interface {
	PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error)
	PresignGet(ctx context.Context, key string, ttl time.Duration, opts ...storage.GetOption) (string, error)
	Upload(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	Exists(ctx context.Context, key string) bool
}

// StatusReader looks up the last recorded state of a transcode job.
type StatusReader interface {
	Get(ctx context.Context, sourceKey string) (*transcode.JobStatus, error)
}

// Handler carries the dependencies shared by all HTTP endpoints.
type Handler struct {
	store  Store
	status StatusReader
	logger *zap.Logger
}

// NewHandler wires the HTTP endpoints to the storage gateway.
func NewHandler(store Store, status StatusReader, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{store: store, status: status, logger: logger}
}

// Register attaches all routes to the engine.
func (h *Handler) Register(r *gin.Engine) {
	api := r.Group("/api")
	{
		api.POST("/presign/put", h.PresignPut)
		api.GET("/presign/get", h.PresignGet)
		api.POST("/upload", h.Upload)
		api.GET("/transcodes/status", h.TranscodeStatus)
	}
	r.GET("/dl", h.Landing)
	r.GET("/health", h.Health)
}

// PresignPut mints a fresh capture key and a time-bounded upload URL for it.
// Devices never choose their own keys.
func (h *Handler) PresignPut(c *gin.Context) {
	eventID := c.Query("eventId")
	ext := c.Query("ext")

	key := storage.NewCaptureKey(eventID, ext)
	putURL, err := h.store.PresignPut(c.Request.Context(), key, storage.UploadTTL)
	if err != nil {
		h.logger.Error("presign put failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "presign put failed")
		return
	}
	response.OK(c, gin.H{"key": key, "putUrl": putURL})
}

// PresignGet issues a time-bounded download URL for an existing key.
func (h *Handler) PresignGet(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		response.BadRequest(c, "key required")
		return
	}
	getURL, err := h.store.PresignGet(c.Request.Context(), key, storage.DownloadTTL)
	if err != nil {
		h.logger.Error("presign get failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "presign get failed")
		return
	}
	response.OK(c, gin.H{"getUrl": getURL})
}

// Upload streams the request body straight into the bucket under a fresh
// capture key. Fallback path for devices that cannot PUT to the store
// directly (strict captive networks in some venues).
func (h *Handler) Upload(c *gin.Context) {
	eventID := c.Query("eventId")
	ext := c.Query("ext")
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		response.BadRequest(c, "empty body")
		return
	}

	contentType := c.ContentType()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := storage.NewCaptureKey(eventID, ext)
	if err := h.store.Upload(c.Request.Context(), key, contentType, c.Request.Body, c.Request.ContentLength); err != nil {
		h.logger.Error("server-side upload failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "upload failed")
		return
	}
	h.logger.Info("capture uploaded server-side",
		zap.String("key", key),
		zap.Int64("bytes", c.Request.ContentLength),
	)
	response.OK(c, gin.H{"key": key})
}

// TranscodeStatus reports the last recorded pipeline state for a capture.
func (h *Handler) TranscodeStatus(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		response.BadRequest(c, "key required")
		return
	}
	if h.status == nil {
		response.NotFound(c, "status tracking disabled")
		return
	}
	st, err := h.status.Get(c.Request.Context(), key)
	if err != nil {
		h.logger.Error("status lookup failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "status lookup failed")
		return
	}
	if st == nil {
		response.NotFound(c, "unknown key")
		return
	}
	response.OK(c, st)
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	response.OK(c, gin.H{"status": "ok"})
}
