package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"presence-service/internal/domain"
	"presence-service/internal/job"
	"presence-service/internal/response"
	"presence-service/internal/service"
)

// EventRecorder applies pushed observations to the interval store
type EventRecorder interface {
	RecordObservation(ctx context.Context, entityID string, state domain.PresenceState, observedAt int64) (*service.RecordResult, error)
	Now() int64
}

// IntervalHistory reads the stored intervals of one entity
type IntervalHistory interface {
	FindByEntity(ctx context.Context, entityID string) ([]*domain.Interval, error)
}

// PollerControl exposes poller status and the re-authorization resume
type PollerControl interface {
	State() job.PollerState
	Running() bool
	NeedsReauthorization() bool
	Resume(ctx context.Context) error
	Cache() *service.PresenceCache
}

type PresenceHandler struct {
	recorder EventRecorder
	history  IntervalHistory
	poller   PollerControl
	logger   *zap.Logger
}

func NewPresenceHandler(recorder EventRecorder, history IntervalHistory, poller PollerControl, logger *zap.Logger) *PresenceHandler {
	return &PresenceHandler{
		recorder: recorder,
		history:  history,
		poller:   poller,
		logger:   logger,
	}
}

// RecordEvent godoc
// POST /presence/events
func (h *PresenceHandler) RecordEvent(c *gin.Context) {
	var req RecordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "Invalid request body")
		return
	}

	entityID := strings.TrimSpace(req.EntityID)
	state, known := domain.ParsePresenceState(req.State)
	if !known {
		h.logger.Debug("Unrecognised presence label pushed, recording as unknown",
			zap.String("entity_id", entityID),
			zap.String("label", req.State),
		)
	}

	observedAt := h.recorder.Now()
	if req.ObservedAt != nil {
		observedAt = *req.ObservedAt
	}

	// the push caller may hang up; the transition must still commit as a unit
	res, err := h.recorder.RecordObservation(context.WithoutCancel(c.Request.Context()), entityID, state, observedAt)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}

	status := http.StatusOK
	if res.Outcome != service.OutcomeUnchanged {
		status = http.StatusCreated
	}
	response.SendSuccess(c, status, RecordEventResponse{
		Outcome:  string(res.Outcome),
		Interval: toIntervalResponse(res.Interval),
		Closed:   toIntervalResponse(res.Closed),
	})
}

// GetIntervals godoc
// GET /presence/:entityId/intervals
func (h *PresenceHandler) GetIntervals(c *gin.Context) {
	entityID := strings.TrimSpace(c.Param("entityId"))
	if entityID == "" {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "entityId is required")
		return
	}

	intervals, err := h.history.FindByEntity(c.Request.Context(), entityID)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	if len(intervals) == 0 {
		response.SendError(c, http.StatusNotFound, response.ErrCodeNotFound, "No intervals recorded for entity")
		return
	}

	out := make([]*IntervalResponse, 0, len(intervals))
	for _, i := range intervals {
		out = append(out, toIntervalResponse(i))
	}
	response.SendSuccess(c, http.StatusOK, out)
}

// GetPollerStatus godoc
// GET /presence/poller
func (h *PresenceHandler) GetPollerStatus(c *gin.Context) {
	response.SendSuccess(c, http.StatusOK, h.pollerStatus())
}

// ResumePoller godoc
// POST /presence/poller/resume
func (h *PresenceHandler) ResumePoller(c *gin.Context) {
	// the loop outlives this request
	if err := h.poller.Resume(context.WithoutCancel(c.Request.Context())); err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	h.logger.Info("Presence poller resumed via API")
	response.SendSuccess(c, http.StatusOK, h.pollerStatus())
}

func (h *PresenceHandler) pollerStatus() PollerStatusResponse {
	return PollerStatusResponse{
		State:                string(h.poller.State()),
		Running:              h.poller.Running(),
		NeedsReauthorization: h.poller.NeedsReauthorization(),
		CachedEntities:       h.poller.Cache().Len(),
	}
}
