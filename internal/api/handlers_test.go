package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mirrorbooth/backend/internal/transcode"
	"github.com/mirrorbooth/backend/pkg/storage"
)

type fakeStore struct {
	putErr     error
	getErr     error
	uploadErr  error
	existing   map[string]bool
	putKeys    []string
	getKeys    []string
	uploaded   map[string][]byte
	uploadType string
}

func newFakeStore() *fakeStore {
	return &fakeStore{existing: map[string]bool{}, uploaded: map[string][]byte{}}
}

func (f *fakeStore) PresignPut(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.putErr != nil {
		return "", f.putErr
	}
	f.putKeys = append(f.putKeys, key)
	return "https://store.test/put/" + key, nil
}

func (f *fakeStore) PresignGet(_ context.Context, key string, _ time.Duration, _ ...storage.GetOption) (string, error) {
	if f.getErr != nil {
		return "", f.getErr
	}
	f.getKeys = append(f.getKeys, key)
	return "https://store.test/get/" + key, nil
}

func (f *fakeStore) Upload(_ context.Context, key, contentType string, body io.Reader, _ int64) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.uploaded[key] = data
	f.uploadType = contentType
	return nil
}

func (f *fakeStore) Exists(_ context.Context, key string) bool { return f.existing[key] }

type fakeStatus struct {
	jobs map[string]*transcode.JobStatus
	err  error
}

func (f *fakeStatus) Get(_ context.Context, sourceKey string) (*transcode.JobStatus, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.jobs[sourceKey], nil
}

func newRouter(store Store, status StatusReader) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(store, status, nil).Register(r)
	return r
}

func do(t *testing.T, r *gin.Engine, method, target string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

var captureKeyRe = regexp.MustCompile(`^e1/\d{13}-[0-9a-f]{6}\.webm$`)

func TestPresignPutMintsKey(t *testing.T) {
	store := newFakeStore()
	r := newRouter(store, nil)

	w := do(t, r, http.MethodPost, "/api/presign/put?eventId=e1&ext=webm", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if !captureKeyRe.MatchString(body["key"]) {
		t.Errorf("key %q has unexpected shape", body["key"])
	}
	if body["putUrl"] != "https://store.test/put/"+body["key"] {
		t.Errorf("putUrl %q does not match key", body["putUrl"])
	}
}

func TestPresignPutStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.putErr = errors.New("boom")
	r := newRouter(store, nil)

	w := do(t, r, http.MethodPost, "/api/presign/put?eventId=e1&ext=webm", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", w.Code)
	}
	if decode(t, w)["error"] == "" {
		t.Error("error body missing")
	}
}

func TestPresignGet(t *testing.T) {
	store := newFakeStore()
	r := newRouter(store, nil)

	w := do(t, r, http.MethodGet, "/api/presign/get?key=e1%2Fv.mp4", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["getUrl"]; got != "https://store.test/get/e1/v.mp4" {
		t.Errorf("getUrl = %q", got)
	}
}

func TestPresignGetRequiresKey(t *testing.T) {
	r := newRouter(newFakeStore(), nil)
	w := do(t, r, http.MethodGet, "/api/presign/get", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestUploadStreamsBody(t *testing.T) {
	store := newFakeStore()
	r := newRouter(store, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/upload?eventId=e1&ext=webm", bytes.NewReader([]byte("clip-bytes")))
	req.Header.Set("Content-Type", "video/webm")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	key := decode(t, w)["key"]
	if !captureKeyRe.MatchString(key) {
		t.Errorf("key %q has unexpected shape", key)
	}
	if string(store.uploaded[key]) != "clip-bytes" {
		t.Errorf("uploaded body = %q", store.uploaded[key])
	}
	if store.uploadType != "video/webm" {
		t.Errorf("content type = %q", store.uploadType)
	}
}

func TestUploadRejectsEmptyBody(t *testing.T) {
	r := newRouter(newFakeStore(), nil)
	w := do(t, r, http.MethodPost, "/api/upload?eventId=e1&ext=webm", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestTranscodeStatus(t *testing.T) {
	status := &fakeStatus{jobs: map[string]*transcode.JobStatus{
		"e1/v.webm": {SourceKey: "e1/v.webm", State: transcode.StateDelivered, DestKey: "e1/v-mirrored.mp4"},
	}}
	r := newRouter(newFakeStore(), status)

	w := do(t, r, http.MethodGet, "/api/transcodes/status?key=e1%2Fv.webm", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	var st transcode.JobStatus
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.DestKey != "e1/v-mirrored.mp4" || st.State != transcode.StateDelivered {
		t.Errorf("status = %+v", st)
	}
}

func TestTranscodeStatusUnknownKey(t *testing.T) {
	r := newRouter(newFakeStore(), &fakeStatus{jobs: map[string]*transcode.JobStatus{}})
	w := do(t, r, http.MethodGet, "/api/transcodes/status?key=nope", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", w.Code)
	}
}

func TestLandingPage(t *testing.T) {
	store := newFakeStore()
	store.existing["e1/v-mirrored-poster.jpg"] = true
	r := newRouter(store, nil)

	w := do(t, r, http.MethodGet, "/dl?key=e1%2Fv-mirrored.mp4", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d: %s", w.Code, w.Body.String())
	}
	html := w.Body.String()
	if !strings.Contains(html, "https://store.test/get/e1/v-mirrored.mp4") {
		t.Error("view url missing from page")
	}
	if !strings.Contains(html, `poster="https://store.test/get/e1/v-mirrored-poster.jpg"`) {
		t.Error("poster url missing from page")
	}
	if !strings.Contains(html, "Download your video") {
		t.Error("download link missing from page")
	}
}

func TestLandingPageWithoutPoster(t *testing.T) {
	r := newRouter(newFakeStore(), nil)
	w := do(t, r, http.MethodGet, "/dl?key=e1%2Fv-mirrored.mp4", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "poster=") {
		t.Error("poster attribute rendered without a poster object")
	}
}

func TestLandingRequiresKey(t *testing.T) {
	r := newRouter(newFakeStore(), nil)
	w := do(t, r, http.MethodGet, "/dl", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", w.Code)
	}
}

func TestHealth(t *testing.T) {
	r := newRouter(newFakeStore(), nil)
	w := do(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if decode(t, w)["status"] != "ok" {
		t.Errorf("body = %s", w.Body.String())
	}
}
