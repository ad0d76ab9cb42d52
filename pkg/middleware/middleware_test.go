package middleware

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type staticTokens map[string]string

func (s staticTokens) ValidateToken(token string) (string, error) {
	if p, ok := s[token]; ok {
		return p, nil
	}
	return "", errors.New("invalid token")
}

func protected(t *testing.T) http.Handler {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := Principal(r.Context())
		assert.True(t, ok)
		_, _ = w.Write([]byte(p))
	})
	return TracerMiddleware("test")(RequestLogger(log)(AuthMiddleware(staticTokens{"t1": "alice"})(h)))
}

func TestAuthMiddlewareAcceptsHeaderAndQuery(t *testing.T) {
	h := protected(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	req.Header.Set("Authorization", "Bearer t1")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token=t1", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddlewareRejects(t *testing.T) {
	h := protected(t)
	cases := map[string]func(r *http.Request){
		"missing":   func(r *http.Request) {},
		"malformed": func(r *http.Request) { r.Header.Set("Authorization", "Token t1") },
		"unknown":   func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") },
	}
	for name, prepare := range cases {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
			prepare(req)
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}
