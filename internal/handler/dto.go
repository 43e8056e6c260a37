package handler

import (
	"math"

	"presence-service/internal/domain"
	"presence-service/internal/service"
)

// roundHours converts seconds to hours rounded to two decimals for display
func roundHours(seconds int64) float64 {
	return math.Round(float64(seconds)/3600*100) / 100
}

// BucketResponse is one aggregation bucket
type BucketResponse struct {
	Timestamp    int64   `json:"timestamp"`
	TotalSeconds int64   `json:"totalSeconds"`
	TotalHours   float64 `json:"totalHours"`
	RecordCount  int     `json:"recordCount"`
}

// EntityTotalResponse is one row of the per-entity breakdown
type EntityTotalResponse struct {
	EntityID     string  `json:"entityId"`
	TotalSeconds int64   `json:"totalSeconds"`
	TotalHours   float64 `json:"totalHours"`
	RecordCount  int     `json:"recordCount"`
}

// AggregateResponse is the body of GET /analytics/aggregate
type AggregateResponse struct {
	Start        int64                       `json:"start"`
	End          int64                       `json:"end"`
	TotalSeconds int64                       `json:"totalSeconds"`
	TotalHours   float64                     `json:"totalHours"`
	RecordCount  int                         `json:"recordCount"`
	Buckets      map[string][]BucketResponse `json:"buckets"`
	PerEntity    []EntityTotalResponse       `json:"perEntity,omitempty"`
}

// HeatmapCellResponse is one day/hour cell
type HeatmapCellResponse struct {
	Day          int     `json:"day"`
	Hour         int     `json:"hour"`
	TotalSeconds int64   `json:"totalSeconds"`
	TotalHours   float64 `json:"totalHours"`
	RecordCount  int     `json:"recordCount"`
}

// HeatmapResponse is the body of GET /analytics/heatmap
type HeatmapResponse struct {
	Start        int64                 `json:"start"`
	End          int64                 `json:"end"`
	TotalSeconds int64                 `json:"totalSeconds"`
	TotalHours   float64               `json:"totalHours"`
	RecordCount  int                   `json:"recordCount"`
	Cells        []HeatmapCellResponse `json:"cells"`
}

// OverviewResponse is the body of GET /analytics/overview
type OverviewResponse struct {
	Start           int64           `json:"start"`
	End             int64           `json:"end"`
	ActiveEntities  int             `json:"activeEntities"`
	CurrentlyOnline int64           `json:"currentlyOnline"`
	TotalSeconds    int64           `json:"totalSeconds"`
	TotalHours      float64         `json:"totalHours"`
	RecordCount     int             `json:"recordCount"`
	PeakHour        *BucketResponse `json:"peakHour"`
}

// HourCellResponse is one hour-of-day cell
type HourCellResponse struct {
	Hour         int     `json:"hour"`
	TotalSeconds int64   `json:"totalSeconds"`
	TotalHours   float64 `json:"totalHours"`
	RecordCount  int     `json:"recordCount"`
}

// HourlyPatternResponse is the body of GET /analytics/entities/:entityId/hourly
type HourlyPatternResponse struct {
	EntityID     string             `json:"entityId"`
	Start        int64              `json:"start"`
	End          int64              `json:"end"`
	TotalSeconds int64              `json:"totalSeconds"`
	TotalHours   float64            `json:"totalHours"`
	RecordCount  int                `json:"recordCount"`
	Hours        []HourCellResponse `json:"hours"`
	Daily        []BucketResponse   `json:"daily"`
}

// IntervalResponse is one stored interval
type IntervalResponse struct {
	ID        string               `json:"id"`
	EntityID  string               `json:"entityId"`
	State     domain.PresenceState `json:"state"`
	StartTime int64                `json:"startTime"`
	EndTime   *int64               `json:"endTime"`
	Duration  *int64               `json:"duration"`
	Open      bool                 `json:"open"`
}

// RecordEventRequest is the body of POST /presence/events
type RecordEventRequest struct {
	EntityID   string `json:"entityId" binding:"required"`
	State      string `json:"state" binding:"required"`
	ObservedAt *int64 `json:"observedAt"`
}

// RecordEventResponse reports what a pushed observation did to the store
type RecordEventResponse struct {
	Outcome  string            `json:"outcome"`
	Interval *IntervalResponse `json:"interval"`
	Closed   *IntervalResponse `json:"closed,omitempty"`
}

// PollerStatusResponse is the body of GET /presence/poller
type PollerStatusResponse struct {
	State                string `json:"state"`
	Running              bool   `json:"running"`
	NeedsReauthorization bool   `json:"needsReauthorization"`
	CachedEntities       int    `json:"cachedEntities"`
}

func toBucketResponse(b service.Bucket) BucketResponse {
	return BucketResponse{
		Timestamp:    b.Timestamp,
		TotalSeconds: b.TotalSeconds,
		TotalHours:   roundHours(b.TotalSeconds),
		RecordCount:  b.RecordCount,
	}
}

func toBucketResponses(buckets []service.Bucket) []BucketResponse {
	out := make([]BucketResponse, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, toBucketResponse(b))
	}
	return out
}

func toAggregateResponse(res *service.AggregateResult) AggregateResponse {
	buckets := make(map[string][]BucketResponse, len(res.Buckets))
	for g, list := range res.Buckets {
		buckets[string(g)] = toBucketResponses(list)
	}

	var perEntity []EntityTotalResponse
	if res.PerEntity != nil {
		perEntity = make([]EntityTotalResponse, 0, len(res.PerEntity))
		for _, e := range res.PerEntity {
			perEntity = append(perEntity, EntityTotalResponse{
				EntityID:     e.EntityID,
				TotalSeconds: e.TotalSeconds,
				TotalHours:   roundHours(e.TotalSeconds),
				RecordCount:  e.RecordCount,
			})
		}
	}

	return AggregateResponse{
		Start:        res.Start,
		End:          res.End,
		TotalSeconds: res.TotalSeconds,
		TotalHours:   roundHours(res.TotalSeconds),
		RecordCount:  res.RecordCount,
		Buckets:      buckets,
		PerEntity:    perEntity,
	}
}

func toHeatmapResponse(res *service.HeatmapResult) HeatmapResponse {
	cells := make([]HeatmapCellResponse, 0, len(res.Cells))
	for _, c := range res.Cells {
		cells = append(cells, HeatmapCellResponse{
			Day:          c.Day,
			Hour:         c.Hour,
			TotalSeconds: c.TotalSeconds,
			TotalHours:   roundHours(c.TotalSeconds),
			RecordCount:  c.RecordCount,
		})
	}
	return HeatmapResponse{
		Start:        res.Start,
		End:          res.End,
		TotalSeconds: res.TotalSeconds,
		TotalHours:   roundHours(res.TotalSeconds),
		RecordCount:  res.RecordCount,
		Cells:        cells,
	}
}

func toOverviewResponse(res *service.OverviewResult) OverviewResponse {
	var peak *BucketResponse
	if res.PeakHour != nil {
		b := toBucketResponse(*res.PeakHour)
		peak = &b
	}
	return OverviewResponse{
		Start:           res.Start,
		End:             res.End,
		ActiveEntities:  res.ActiveEntities,
		CurrentlyOnline: res.CurrentlyOnline,
		TotalSeconds:    res.TotalSeconds,
		TotalHours:      roundHours(res.TotalSeconds),
		RecordCount:     res.RecordCount,
		PeakHour:        peak,
	}
}

func toHourlyPatternResponse(res *service.HourlyPatternResult) HourlyPatternResponse {
	hours := make([]HourCellResponse, 0, len(res.Hours))
	for _, h := range res.Hours {
		hours = append(hours, HourCellResponse{
			Hour:         h.Hour,
			TotalSeconds: h.TotalSeconds,
			TotalHours:   roundHours(h.TotalSeconds),
			RecordCount:  h.RecordCount,
		})
	}
	return HourlyPatternResponse{
		EntityID:     res.EntityID,
		Start:        res.Start,
		End:          res.End,
		TotalSeconds: res.TotalSeconds,
		TotalHours:   roundHours(res.TotalSeconds),
		RecordCount:  res.RecordCount,
		Hours:        hours,
		Daily:        toBucketResponses(res.Daily),
	}
}

func toIntervalResponse(i *domain.Interval) *IntervalResponse {
	if i == nil {
		return nil
	}
	return &IntervalResponse{
		ID:        i.ID.String(),
		EntityID:  i.EntityID,
		State:     i.State,
		StartTime: i.StartTime,
		EndTime:   i.EndTime,
		Duration:  i.Duration,
		Open:      i.IsOpen(),
	}
}
