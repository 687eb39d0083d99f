package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultEventID namespaces captures when the moderator did not pick an event.
	DefaultEventID = "default-event"
	// DefaultRawExtension is the container the capture devices record into.
	DefaultRawExtension = "webm"
	// OutputExtension is the delivery container for transcoded clips.
	OutputExtension = ".mp4"

	outputMarker = "-mirrored"
	posterMarker = "-poster.jpg"
)

// rawExtensions are the capture containers we know how to strip from a key.
var rawExtensions = map[string]struct{}{
	".webm": {},
	".mp4":  {},
	".mov":  {},
	".mkv":  {},
}

// NewCaptureKey returns the object key for a fresh capture:
// {eventId}/{unixMillis}-{6 hex}.{ext}. The millisecond timestamp plus the
// random suffix keeps keys unique across concurrent callers without any
// shared counter.
func NewCaptureKey(eventID, ext string) string {
	if eventID == "" {
		eventID = DefaultEventID
	}
	if ext == "" {
		ext = DefaultRawExtension
	}
	ext = strings.TrimPrefix(ext, ".")

	buf := make([]byte, 3)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("%s/%d-%s.%s", eventID, time.Now().UnixMilli(), hex.EncodeToString(buf), ext)
}

// DeriveOutputKey maps a capture key to the key its transcoded counterpart is
// stored under: one trailing known extension is stripped (case-insensitive)
// and "-mirrored.mp4" is appended. Deterministic so the pipeline and any
// link-building code always agree on the destination.
func DeriveOutputKey(sourceKey string) string {
	return stripRawExtension(sourceKey) + outputMarker + OutputExtension
}

// DerivePosterKey maps a delivery key to the key of its poster frame.
func DerivePosterKey(deliveryKey string) string {
	return stripRawExtension(deliveryKey) + posterMarker
}

func stripRawExtension(key string) string {
	if i := strings.LastIndex(key, "."); i > 0 {
		ext := strings.ToLower(key[i:])
		if _, ok := rawExtensions[ext]; ok {
			return key[:i]
		}
	}
	return key
}
