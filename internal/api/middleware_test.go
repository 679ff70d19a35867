package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_PerClientBucket(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	assert.True(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.2", now), "other clients have their own bucket")

	assert.True(t, l.allow("10.0.0.1", now.Add(time.Second)))
}

func TestRateLimiter_SweepsIdleClients(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	l.allow("a", now)
	l.allow("b", now)

	l.allow("b", now.Add(limiterIdle+time.Minute))
	assert.Len(t, l.clients, 1)
}

func TestRateLimiter_Middleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(NewRateLimiter(0.001, 1).Middleware())
	r.GET("/r", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/r", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/r", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}
