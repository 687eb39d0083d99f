package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	eventsChannel  = "booth:events"
	publishTimeout = 5 * time.Second
)

// bridgeEnvelope is the message published to Redis between processes.
type bridgeEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	At    int64           `json:"at"`
}

// Bridge carries pipeline completion events over Redis pub/sub, so transcode
// workers (in-process or the standalone worker binary) reach whichever
// process holds the moderator's socket.
type Bridge struct {
	client *redis.Client
	logger *zap.Logger
}

// NewBridge creates a Redis pub/sub bridge for booth events.
func NewBridge(client *redis.Client, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{client: client, logger: logger}
}

// VideoReady publishes a video-ready event. The subscribing server forwards
// it to the current moderator; with no subscriber the event evaporates,
// matching the "no moderator, no delivery" rule.
func (b *Bridge) VideoReady(ctx context.Context, key, landingURL string) error {
	body, err := encodeVideoReady(key, landingURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, eventsChannel, body).Err(); err != nil {
		return fmt.Errorf("publish video-ready: %w", err)
	}
	return nil
}

// Subscribe listens on the booth events channel and calls handler for each
// message. The returned cancel stops the subscription.
func (b *Bridge) Subscribe(handler func(event string, data []byte)) (cancel func(), err error) {
	ctx, cancelCtx := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, eventsChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancelCtx()
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	ch := pubsub.Channel()
	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				b.dispatch(msg.Payload, handler)
			}
		}
	}()
	return func() { cancelCtx() }, nil
}

// dispatch decodes one published message and hands it to handler. Malformed
// envelopes are dropped.
func (b *Bridge) dispatch(payload string, handler func(event string, data []byte)) {
	var env bridgeEnvelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		b.logger.Warn("malformed bridge message dropped", zap.Error(err))
		return
	}
	handler(env.Event, env.Data)
}

func encodeVideoReady(key, landingURL string) ([]byte, error) {
	data, err := json.Marshal(VideoReadyPayload{Key: key, LandingURL: landingURL})
	if err != nil {
		return nil, err
	}
	return json.Marshal(bridgeEnvelope{Event: EventVideoReady, Data: data, At: time.Now().Unix()})
}

// ForwardTo wires the bridge subscription into a hub: video-ready events
// published by any worker are relayed to the current moderator.
func (b *Bridge) ForwardTo(hub *Hub) (cancel func(), err error) {
	return b.Subscribe(b.forwardHandler(hub))
}

func (b *Bridge) forwardHandler(hub *Hub) func(event string, data []byte) {
	return func(event string, data []byte) {
		if event != EventVideoReady {
			return
		}
		var p VideoReadyPayload
		if err := json.Unmarshal(data, &p); err != nil {
			b.logger.Warn("malformed video-ready payload dropped", zap.Error(err))
			return
		}
		hub.NotifyVideoReady(p.Key, p.LandingURL)
	}
}
