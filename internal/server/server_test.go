package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAPIKeyMiddleware(t *testing.T) {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		serverKey  string
		requestKey string
		want       int
	}{
		{name: "no key configured allows all", serverKey: "", requestKey: "", want: http.StatusOK},
		{name: "matching key allowed", serverKey: "secret", requestKey: "secret", want: http.StatusOK},
		{name: "missing key rejected", serverKey: "secret", requestKey: "", want: http.StatusUnauthorized},
		{name: "wrong key rejected", serverKey: "secret", requestKey: "other", want: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := apiKeyMiddleware(tt.serverKey)(okHandler)

			req := httptest.NewRequest(http.MethodGet, "/v1/updates", nil)
			if tt.requestKey != "" {
				req.Header.Set("X-API-Key", tt.requestKey)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("Expected status %d, got: %d", tt.want, rec.Code)
			}
		})
	}
}
