package handler

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presence-service/internal/job"
)

func TestHealth(t *testing.T) {
	h := NewHealthHandler(nil, nil, nil)
	router := newTestEngine()
	router.GET("/health", h.Health)

	w := serve(router, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","service":"presence-service"}`, w.Body.String())
}

func TestReady(t *testing.T) {
	poller := new(MockPollerControl)
	poller.On("State").Return(job.PollerStateHalted)
	poller.On("NeedsReauthorization").Return(true)

	t.Run("store reachable", func(t *testing.T) {
		router := newTestEngine()
		router.GET("/ready", NewHealthHandler(setupTestDB(t), nil, poller).Ready)

		w := serve(router, http.MethodGet, "/ready")
		require.Equal(t, http.StatusOK, w.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ready", body["status"])
		assert.Equal(t, "halted", body["poller"].(map[string]any)["state"])
	})

	t.Run("no store", func(t *testing.T) {
		router := newTestEngine()
		router.GET("/ready", NewHealthHandler(nil, nil, poller).Ready)

		assert.Equal(t, http.StatusServiceUnavailable, serve(router, http.MethodGet, "/ready").Code)
	})

	t.Run("redis unreachable", func(t *testing.T) {
		client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		t.Cleanup(func() { _ = client.Close() })

		router := newTestEngine()
		router.GET("/ready", NewHealthHandler(setupTestDB(t), client, poller).Ready)

		w := serve(router, http.MethodGet, "/ready")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "redis not reachable")
	})
}
