package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(keys map[string]string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(keys))
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, ProducerID(c))
	})
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := newRouter(map[string]string{"key-1": "line-a"})

	tests := []struct {
		name     string
		key      string
		wantCode int
		wantBody string
	}{
		{"known key", "key-1", http.StatusOK, "line-a"},
		{"padded key", "  key-1 ", http.StatusOK, "line-a"},
		{"unknown key", "key-2", http.StatusUnauthorized, ""},
		{"missing key", "", http.StatusUnauthorized, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.key != "" {
				req.Header.Set("X-API-Key", tc.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("status %d, want %d", w.Code, tc.wantCode)
			}
			if tc.wantCode == http.StatusOK && w.Body.String() != tc.wantBody {
				t.Errorf("producer = %q, want %q", w.Body.String(), tc.wantBody)
			}
		})
	}
}

func TestProducerID_WithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if got := ProducerID(c); got != "" {
		t.Errorf("ProducerID = %q, want empty", got)
	}
}
