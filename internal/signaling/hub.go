// Package signaling relays real-time events between the capture device and
// the review device over WebSocket, backed by the session registry.
package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mirrorbooth/backend/internal/session"
)

// Inbound events.
const (
	EventRegister       = "register"
	EventModeratorStart = "moderator-start"
	EventUploadDone     = "upload-done"
)

// Outbound events.
const (
	EventRecorderStatus = "recorder-status"
	EventRecordStart    = "record-start"
	EventVideoReady     = "video-ready"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RecorderStatusPayload tells the moderator whether a recorder is paired.
type RecorderStatusPayload struct {
	Ready bool `json:"ready"`
}

// VideoReadyPayload carries the delivered artifact to the moderator.
type VideoReadyPayload struct {
	Key        string `json:"key"`
	LandingURL string `json:"landingUrl"`
}

// JobEnqueuer hands an uploaded capture to the transcode workers.
type JobEnqueuer interface {
	EnqueueTranscode(ctx context.Context, sourceKey string) error
}

const enqueueTimeout = 5 * time.Second

// Hub tracks connected clients and applies the relay rules. Each inbound
// event produces zero or more outbound events synchronously; nothing is
// queued for redelivery when the counterpart is missing.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	registry *session.Registry
	jobs     JobEnqueuer
	logger   *zap.Logger
}

// NewHub creates a hub over the given registry and job queue.
func NewHub(registry *session.Registry, jobs JobEnqueuer, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clients:  make(map[string]*Client),
		registry: registry,
		jobs:     jobs,
		logger:   logger,
	}
}

// Register adds a connection to the hub. The connection has no role until a
// register event arrives.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Debug("client connected", zap.String("conn_id", c.ID))
}

// HandleRegister assigns a role to the connection. A recorder joining while
// a moderator is paired flips the moderator's status light; a moderator
// joining is told immediately whether a recorder is ready.
func (h *Hub) HandleRegister(c *Client, role session.Role) {
	if !role.Valid() {
		h.logger.Warn("register with unknown role ignored",
			zap.String("conn_id", c.ID),
			zap.String("role", string(role)),
		)
		return
	}
	replaced := h.registry.Register(role, c.ID)
	if replaced != "" {
		h.logger.Info("role taken over",
			zap.String("role", string(role)),
			zap.String("old_conn", replaced),
			zap.String("new_conn", c.ID),
		)
	}

	switch role {
	case session.RoleRecorder:
		h.logger.Info("recorder connected", zap.String("conn_id", c.ID))
		if moderator, ok := h.registry.Moderator(); ok {
			h.sendTo(moderator, EventRecorderStatus, RecorderStatusPayload{Ready: true})
		}
	case session.RoleModerator:
		h.logger.Info("moderator connected", zap.String("conn_id", c.ID))
		h.sendTo(c.ID, EventRecorderStatus, RecorderStatusPayload{Ready: h.registry.RecorderReady()})
	}
}

// HandleModeratorStart forwards the start payload verbatim to the current
// recorder. With no recorder paired the event is dropped without error.
func (h *Hub) HandleModeratorStart(c *Client, payload json.RawMessage) {
	recorder, ok := h.registry.Recorder()
	if !ok {
		h.logger.Debug("moderator-start with no recorder, dropped", zap.String("conn_id", c.ID))
		return
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	h.sendRaw(recorder, EventRecordStart, payload)
}

// HandleUploadDone enqueues a transcode job for the uploaded capture. The
// pipeline notifies whichever connection is the moderator at completion time.
func (h *Hub) HandleUploadDone(c *Client, key string) {
	if key == "" {
		h.logger.Warn("upload-done without key ignored", zap.String("conn_id", c.ID))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	if err := h.jobs.EnqueueTranscode(ctx, key); err != nil {
		h.logger.Error("enqueue transcode failed", zap.String("source_key", key), zap.Error(err))
		return
	}
	h.logger.Info("upload received", zap.String("source_key", key))
}

// Disconnect removes the connection and clears any role it held. Losing the
// recorder flips the moderator's status light; losing the moderator needs no
// notification, there is no counterpart left to inform.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()

	wasRecorder, wasModerator := h.registry.Unregister(c.ID)
	if wasRecorder {
		h.logger.Info("recorder disconnected", zap.String("conn_id", c.ID))
		if moderator, ok := h.registry.Moderator(); ok {
			h.sendTo(moderator, EventRecorderStatus, RecorderStatusPayload{Ready: false})
		}
	}
	if wasModerator {
		h.logger.Info("moderator disconnected", zap.String("conn_id", c.ID))
	}
}

// NotifyVideoReady delivers the finished (or fallback) artifact link to the
// current moderator. With no moderator paired the event is dropped.
func (h *Hub) NotifyVideoReady(key, landingURL string) {
	moderator, ok := h.registry.Moderator()
	if !ok {
		h.logger.Warn("video ready but no moderator paired, dropped", zap.String("key", key))
		return
	}
	h.sendTo(moderator, EventVideoReady, VideoReadyPayload{Key: key, LandingURL: landingURL})
}

func (h *Hub) sendTo(connID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.sendRaw(connID, event, data)
}

func (h *Hub) sendRaw(connID, event string, data json.RawMessage) {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		h.logger.Debug("send to unknown conn dropped",
			zap.String("conn_id", connID),
			zap.String("event", event),
		)
		return
	}
	select {
	case c.send <- WSMessage{Event: event, Data: data}:
	default:
		// buffer full, skip
		h.logger.Warn("send buffer full, event dropped",
			zap.String("conn_id", connID),
			zap.String("event", event),
		)
	}
}
