package api

import (
	"html/template"
	"path"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mirrorbooth/backend/pkg/response"
	"github.com/mirrorbooth/backend/pkg/storage"
)

var landingTmpl = template.Must(template.New("landing").Parse(`<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Your mirror video</title>
<style>
  body { margin: 0; background: #111; color: #eee; font-family: system-ui, sans-serif; text-align: center; }
  video { max-width: 100%; max-height: 70vh; margin-top: 2rem; }
  a.download { display: inline-block; margin: 1.5rem; padding: .75rem 2rem; background: #e91e63; color: #fff; border-radius: 999px; text-decoration: none; font-weight: 600; }
</style>
</head>
<body>
<video controls playsinline {{if .PosterURL}}poster="{{.PosterURL}}"{{end}} src="{{.ViewURL}}"></video>
<br>
<a class="download" href="{{.DownloadURL}}" download>Download your video</a>
</body>
</html>
`))

type landingData struct {
	ViewURL     string
	DownloadURL string
	PosterURL   string
}

// Landing renders the shareable page for a finished capture: an inline
// player plus a download link, both backed by short presigned URLs minted
// per visit.
func (h *Handler) Landing(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		response.BadRequest(c, "key required")
		return
	}
	ctx := c.Request.Context()

	viewURL, err := h.store.PresignGet(ctx, key, storage.DownloadTTL, storage.AsInline())
	if err != nil {
		h.logger.Error("landing presign failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "video unavailable")
		return
	}
	downloadURL, err := h.store.PresignGet(ctx, key, storage.DownloadTTL, storage.AsAttachment(path.Base(key)))
	if err != nil {
		h.logger.Error("landing presign failed", zap.String("key", key), zap.Error(err))
		response.Internal(c, "video unavailable")
		return
	}

	data := landingData{ViewURL: viewURL, DownloadURL: downloadURL}
	posterKey := storage.DerivePosterKey(key)
	if h.store.Exists(ctx, posterKey) {
		if posterURL, err := h.store.PresignGet(ctx, posterKey, storage.DownloadTTL, storage.AsInline()); err == nil {
			data.PosterURL = posterURL
		}
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(200)
	if err := landingTmpl.Execute(c.Writer, data); err != nil {
		h.logger.Error("landing render failed", zap.String("key", key), zap.Error(err))
	}
}
