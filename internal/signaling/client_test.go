package signaling

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestServeWsNilLoggerRejectsPlainRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHub(t)
	r := gin.New()
	r.GET("/ws", ServeWs(h, nil))

	// A plain GET fails the upgrade, which is logged; a nil logger must not
	// panic the handler.
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
