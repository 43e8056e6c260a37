package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"presence-service/internal/response"
	"presence-service/internal/service"
)

// Aggregator answers time-range questions over recorded intervals
type Aggregator interface {
	Aggregate(ctx context.Context, req service.AggregateRequest) (*service.AggregateResult, error)
	Heatmap(ctx context.Context, req service.HeatmapRequest) (*service.HeatmapResult, error)
	Overview(ctx context.Context, req service.OverviewRequest) (*service.OverviewResult, error)
	HourlyPattern(ctx context.Context, req service.HourlyPatternRequest) (*service.HourlyPatternResult, error)
}

var (
	errMissingTimestamp = errors.New("is required")
	errBadTimestamp     = errors.New("must be unix seconds or RFC3339")
)

type AnalyticsHandler struct {
	aggregator   Aggregator
	defaultLimit int
	logger       *zap.Logger
}

func NewAnalyticsHandler(aggregator Aggregator, defaultLimit int, logger *zap.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		aggregator:   aggregator,
		defaultLimit: defaultLimit,
		logger:       logger,
	}
}

// Aggregate godoc
// GET /analytics/aggregate?start&end&entityId&state&groupBy=entity&limit
func (h *AnalyticsHandler) Aggregate(c *gin.Context) {
	start, end, ok := parseRange(c)
	if !ok {
		return
	}

	req := service.AggregateRequest{
		Start:         start,
		End:           end,
		EntityID:      optionalQuery(c, "entityId"),
		State:         c.Query("state"),
		GroupByEntity: c.Query("groupBy") == "entity",
	}
	if req.GroupByEntity {
		limit, ok := parseLimit(c, h.defaultLimit)
		if !ok {
			return
		}
		req.Limit = limit
	}

	res, err := h.aggregator.Aggregate(c.Request.Context(), req)
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, toAggregateResponse(res))
}

// Heatmap godoc
// GET /analytics/heatmap?start&end&entityId&state
func (h *AnalyticsHandler) Heatmap(c *gin.Context) {
	start, end, ok := parseRange(c)
	if !ok {
		return
	}

	res, err := h.aggregator.Heatmap(c.Request.Context(), service.HeatmapRequest{
		Start:    start,
		End:      end,
		EntityID: optionalQuery(c, "entityId"),
		State:    c.Query("state"),
	})
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, toHeatmapResponse(res))
}

// Overview godoc
// GET /analytics/overview?start&end&state
func (h *AnalyticsHandler) Overview(c *gin.Context) {
	start, end, ok := parseRange(c)
	if !ok {
		return
	}

	res, err := h.aggregator.Overview(c.Request.Context(), service.OverviewRequest{
		Start: start,
		End:   end,
		State: c.Query("state"),
	})
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, toOverviewResponse(res))
}

// HourlyPattern godoc
// GET /analytics/entities/:entityId/hourly?start&end&state
func (h *AnalyticsHandler) HourlyPattern(c *gin.Context) {
	entityID := strings.TrimSpace(c.Param("entityId"))
	if entityID == "" {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "entityId is required")
		return
	}
	start, end, ok := parseRange(c)
	if !ok {
		return
	}

	res, err := h.aggregator.HourlyPattern(c.Request.Context(), service.HourlyPatternRequest{
		EntityID: entityID,
		Start:    start,
		End:      end,
		State:    c.Query("state"),
	})
	if err != nil {
		handleServiceError(c, h.logger, err)
		return
	}
	response.SendSuccess(c, http.StatusOK, toHourlyPatternResponse(res))
}

// parseRange reads the required start and end query parameters.
// It writes the 400 response itself and returns ok=false on failure.
func parseRange(c *gin.Context) (int64, int64, bool) {
	start, err := parseTimestamp(c.Query("start"))
	if err != nil {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "start: "+err.Error())
		return 0, 0, false
	}
	end, err := parseTimestamp(c.Query("end"))
	if err != nil {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "end: "+err.Error())
		return 0, 0, false
	}
	return start, end, true
}

// parseTimestamp accepts unix seconds or RFC3339
func parseTimestamp(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errMissingTimestamp
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return secs, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return 0, errBadTimestamp
	}
	return t.Unix(), nil
}

func parseLimit(c *gin.Context, fallback int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return fallback, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		response.SendError(c, http.StatusBadRequest, response.ErrCodeValidation, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func optionalQuery(c *gin.Context, key string) *string {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return nil
	}
	return &v
}
