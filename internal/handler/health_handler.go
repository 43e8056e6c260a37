package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"presence-service/internal/database"
	"presence-service/internal/job"
)

// PollerStatus is the part of the poller readiness cares about
type PollerStatus interface {
	State() job.PollerState
	NeedsReauthorization() bool
}

type HealthHandler struct {
	db     *gorm.DB
	redis  *redis.Client
	poller PollerStatus
}

func NewHealthHandler(db *gorm.DB, redis *redis.Client, poller PollerStatus) *HealthHandler {
	return &HealthHandler{
		db:     db,
		redis:  redis,
		poller: poller,
	}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "presence-service",
	})
}

// Ready fails when the store or a configured Redis is unreachable.
// A halted poller is reported but does not fail readiness; analytics still serve.
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if !database.IsConnected(ctx, h.db) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"error":  "database not reachable",
		})
		return
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "redis not reachable",
			})
			return
		}
	}

	body := gin.H{"status": "ready"}
	if h.poller != nil {
		body["poller"] = gin.H{
			"state":                string(h.poller.State()),
			"needsReauthorization": h.poller.NeedsReauthorization(),
		}
	}
	c.JSON(http.StatusOK, body)
}
