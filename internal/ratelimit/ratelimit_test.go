package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	return Config{RequestsPerSecond: 1, BurstSize: 3, IdleTTL: time.Minute, CleanupInterval: time.Hour}
}

func TestLimiterAllowBurst(t *testing.T) {
	l := New(testConfig())
	defer l.Stop()

	now := time.Now()
	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowAt("1.2.3.4", now), "request %d within burst", i+1)
	}
	assert.False(t, l.AllowAt("1.2.3.4", now), "burst exhausted")
}

func TestLimiterMultipleClients(t *testing.T) {
	l := New(testConfig())
	defer l.Stop()

	now := time.Now()
	for i := 0; i < 3; i++ {
		l.AllowAt("a", now)
	}
	assert.False(t, l.AllowAt("a", now))
	assert.True(t, l.AllowAt("b", now), "clients have independent buckets")
	assert.Equal(t, 2, l.Len())
}

func TestLimiterTokenReplenishment(t *testing.T) {
	l := New(testConfig())
	defer l.Stop()

	now := time.Now()
	for i := 0; i < 3; i++ {
		l.AllowAt("a", now)
	}
	assert.False(t, l.AllowAt("a", now))
	assert.True(t, l.AllowAt("a", now.Add(1100*time.Millisecond)))
}

func TestLimiterPrune(t *testing.T) {
	l := New(testConfig())
	defer l.Stop()

	now := time.Now()
	l.AllowAt("old", now.Add(-2*time.Minute))
	l.AllowAt("fresh", now)
	l.prune(now)

	assert.Equal(t, 1, l.Len())
}

func TestStopIsIdempotent(t *testing.T) {
	l := New(testConfig())
	l.Stop()
	l.Stop()
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(Config{RequestsPerSecond: 0.5, BurstSize: 1, CleanupInterval: time.Hour})
	defer l.Stop()

	r := gin.New()
	r.Use(l.Middleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/x", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, float64(100), cfg.RequestsPerSecond)
	assert.Equal(t, 200, cfg.BurstSize)
}
