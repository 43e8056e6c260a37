package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"presence-service/internal/domain"
	"presence-service/internal/metrics"
	"presence-service/internal/repository"
)

// Granularity names a bucket width
type Granularity string

const (
	Granularity15m Granularity = "15m"
	Granularity30m Granularity = "30m"
	Granularity1h  Granularity = "1h"
	Granularity4h  Granularity = "4h"
	Granularity1d  Granularity = "1d"
)

// Granularities lists every granularity in ascending width
var Granularities = []Granularity{Granularity15m, Granularity30m, Granularity1h, Granularity4h, Granularity1d}

var fixedWidths = map[Granularity]int64{
	Granularity15m: 15 * 60,
	Granularity30m: 30 * 60,
	Granularity1h:  60 * 60,
	Granularity4h:  4 * 60 * 60,
}

const (
	daysPerWeek  = 7
	hoursPerDay  = 24
	heatmapCells = daysPerWeek * hoursPerDay
)

// Bucket is one time slot of a histogram
type Bucket struct {
	Timestamp    int64
	TotalSeconds int64
	RecordCount  int
}

// EntityTotal is one entity's share of an aggregate
type EntityTotal struct {
	EntityID     string
	TotalSeconds int64
	RecordCount  int
}

// AggregateRequest selects intervals overlapping [Start, End).
// State is a raw label; a label outside the taxonomy matches nothing.
type AggregateRequest struct {
	Start         int64
	End           int64
	EntityID      *string
	State         string
	GroupByEntity bool
	Limit         int
}

type AggregateResult struct {
	Start        int64
	End          int64
	TotalSeconds int64
	RecordCount  int
	Buckets      map[Granularity][]Bucket
	PerEntity    []EntityTotal
}

// HeatmapRequest selects the intervals folded into a weekly grid
type HeatmapRequest struct {
	Start    int64
	End      int64
	EntityID *string
	State    string
}

// HeatmapCell is one (weekday, hour) slot. Day 0 is Sunday.
type HeatmapCell struct {
	Day          int
	Hour         int
	TotalSeconds int64
	RecordCount  int
}

type HeatmapResult struct {
	Start        int64
	End          int64
	TotalSeconds int64
	RecordCount  int
	Cells        []HeatmapCell
}

type OverviewRequest struct {
	Start int64
	End   int64
	State string
}

type OverviewResult struct {
	Start           int64
	End             int64
	ActiveEntities  int
	CurrentlyOnline int64
	TotalSeconds    int64
	RecordCount     int
	// PeakHour is the 1h bucket with the most records, nil when the range is empty.
	PeakHour *Bucket
}

type HourlyPatternRequest struct {
	EntityID string
	Start    int64
	End      int64
	State    string
}

// HourCell is one hour of the day in the configured location
type HourCell struct {
	Hour         int
	TotalSeconds int64
	RecordCount  int
}

type HourlyPatternResult struct {
	EntityID     string
	Start        int64
	End          int64
	TotalSeconds int64
	RecordCount  int
	Hours        []HourCell
	Daily        []Bucket
}

// AggregationService answers range queries over the interval store
type AggregationService struct {
	repo     repository.IntervalRepository
	location *time.Location
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewAggregationService creates a new AggregationService. Day buckets, the
// heatmap and hourly patterns use loc; nil means UTC.
func NewAggregationService(repo repository.IntervalRepository, loc *time.Location, m *metrics.Metrics, logger *zap.Logger) *AggregationService {
	if loc == nil {
		loc = time.UTC
	}
	return &AggregationService{
		repo:     repo,
		location: loc,
		metrics:  m,
		logger:   logger,
	}
}

// clipped is the part of an interval inside the query window
type clipped struct {
	entityID string
	start    int64
	duration int64
}

func validateRange(start, end int64) error {
	if start > end {
		return domain.NewValidationError("start", fmt.Sprintf("range start %d is after end %d", start, end))
	}
	return nil
}

// fetchClipped loads and clips the intervals overlapping [start, end). An empty
// range or an unmatchable state filter returns nothing without touching the store.
func (s *AggregationService) fetchClipped(ctx context.Context, start, end int64, entityID *string, stateLabel string) ([]clipped, error) {
	if start == end {
		return nil, nil
	}

	query := repository.IntervalQuery{Start: start, End: end, EntityID: entityID}
	if strings.TrimSpace(stateLabel) != "" {
		state, ok := domain.ParseStateFilter(stateLabel)
		if !ok {
			s.logger.Debug("State filter matches nothing", zap.String("state", stateLabel))
			return nil, nil
		}
		query.State = &state
	}

	intervals, err := s.repo.FindOverlapping(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query intervals: %w", err)
	}

	spans := make([]clipped, 0, len(intervals))
	for _, interval := range intervals {
		clippedStart := max(interval.StartTime, start)
		clippedEnd := min(interval.EffectiveEnd(end), end)
		spans = append(spans, clipped{
			entityID: interval.EntityID,
			start:    clippedStart,
			duration: max(0, clippedEnd-clippedStart),
		})
	}
	return spans, nil
}

// Aggregate totals the clipped durations in [Start, End) and buckets them per granularity.
// Each clipped span is attributed whole to the bucket containing its start.
func (s *AggregationService) Aggregate(ctx context.Context, req AggregateRequest) (res *AggregateResult, err error) {
	started := time.Now()
	defer func() { s.metrics.RecordAggregateQuery("aggregate", time.Since(started), err) }()

	if err := validateRange(req.Start, req.End); err != nil {
		return nil, err
	}
	if req.Limit < 0 {
		return nil, domain.NewValidationError("limit", "must not be negative")
	}

	spans, err := s.fetchClipped(ctx, req.Start, req.End, req.EntityID, req.State)
	if err != nil {
		return nil, err
	}

	res = &AggregateResult{
		Start:   req.Start,
		End:     req.End,
		Buckets: make(map[Granularity][]Bucket, len(Granularities)),
	}

	accumulators := make(map[Granularity]map[int64]*Bucket, len(Granularities))
	for _, g := range Granularities {
		accumulators[g] = make(map[int64]*Bucket)
	}
	perEntity := make(map[string]*EntityTotal)

	for _, span := range spans {
		res.TotalSeconds += span.duration
		res.RecordCount++

		for _, g := range Granularities {
			key := s.bucketKey(g, span.start)
			bucket, ok := accumulators[g][key]
			if !ok {
				bucket = &Bucket{Timestamp: key}
				accumulators[g][key] = bucket
			}
			bucket.TotalSeconds += span.duration
			bucket.RecordCount++
		}

		if req.GroupByEntity {
			total, ok := perEntity[span.entityID]
			if !ok {
				total = &EntityTotal{EntityID: span.entityID}
				perEntity[span.entityID] = total
			}
			total.TotalSeconds += span.duration
			total.RecordCount++
		}
	}

	for _, g := range Granularities {
		res.Buckets[g] = sortedBuckets(accumulators[g])
	}
	if req.GroupByEntity {
		res.PerEntity = rankEntities(perEntity, req.Limit)
	}

	return res, nil
}

// Heatmap folds clipped spans into a full 7x24 grid keyed by weekday and hour of clippedStart
func (s *AggregationService) Heatmap(ctx context.Context, req HeatmapRequest) (res *HeatmapResult, err error) {
	started := time.Now()
	defer func() { s.metrics.RecordAggregateQuery("heatmap", time.Since(started), err) }()

	if err := validateRange(req.Start, req.End); err != nil {
		return nil, err
	}

	spans, err := s.fetchClipped(ctx, req.Start, req.End, req.EntityID, req.State)
	if err != nil {
		return nil, err
	}

	cells := make([]HeatmapCell, heatmapCells)
	for day := 0; day < daysPerWeek; day++ {
		for hour := 0; hour < hoursPerDay; hour++ {
			cells[day*hoursPerDay+hour] = HeatmapCell{Day: day, Hour: hour}
		}
	}

	res = &HeatmapResult{Start: req.Start, End: req.End}
	for _, span := range spans {
		local := time.Unix(span.start, 0).In(s.location)
		cell := &cells[int(local.Weekday())*hoursPerDay+local.Hour()]
		cell.TotalSeconds += span.duration
		cell.RecordCount++
		res.TotalSeconds += span.duration
		res.RecordCount++
	}
	res.Cells = cells

	return res, nil
}

// Overview summarises a range: how many entities were seen, how many are online now, and the busiest hour
func (s *AggregationService) Overview(ctx context.Context, req OverviewRequest) (res *OverviewResult, err error) {
	started := time.Now()
	defer func() { s.metrics.RecordAggregateQuery("overview", time.Since(started), err) }()

	if err := validateRange(req.Start, req.End); err != nil {
		return nil, err
	}

	spans, err := s.fetchClipped(ctx, req.Start, req.End, nil, req.State)
	if err != nil {
		return nil, err
	}

	openByState, err := s.repo.CountOpenByState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count open intervals: %w", err)
	}

	res = &OverviewResult{Start: req.Start, End: req.End}
	for state, count := range openByState {
		if state.IsOnline() {
			res.CurrentlyOnline += count
		}
	}

	entities := make(map[string]struct{})
	hours := make(map[int64]*Bucket)
	for _, span := range spans {
		entities[span.entityID] = struct{}{}
		res.TotalSeconds += span.duration
		res.RecordCount++

		key := s.bucketKey(Granularity1h, span.start)
		bucket, ok := hours[key]
		if !ok {
			bucket = &Bucket{Timestamp: key}
			hours[key] = bucket
		}
		bucket.TotalSeconds += span.duration
		bucket.RecordCount++
	}
	res.ActiveEntities = len(entities)

	for _, bucket := range sortedBuckets(hours) {
		if res.PeakHour == nil || bucket.RecordCount > res.PeakHour.RecordCount {
			peak := bucket
			res.PeakHour = &peak
		}
	}

	return res, nil
}

// HourlyPattern reports one entity's activity by hour of day plus its daily buckets
func (s *AggregationService) HourlyPattern(ctx context.Context, req HourlyPatternRequest) (res *HourlyPatternResult, err error) {
	started := time.Now()
	defer func() { s.metrics.RecordAggregateQuery("hourly_pattern", time.Since(started), err) }()

	entityID := strings.TrimSpace(req.EntityID)
	if entityID == "" {
		return nil, domain.NewValidationError("entityId", "must not be empty")
	}
	if err := validateRange(req.Start, req.End); err != nil {
		return nil, err
	}

	spans, err := s.fetchClipped(ctx, req.Start, req.End, &entityID, req.State)
	if err != nil {
		return nil, err
	}

	res = &HourlyPatternResult{
		EntityID: entityID,
		Start:    req.Start,
		End:      req.End,
		Hours:    make([]HourCell, hoursPerDay),
	}
	for hour := range res.Hours {
		res.Hours[hour].Hour = hour
	}

	daily := make(map[int64]*Bucket)
	for _, span := range spans {
		res.TotalSeconds += span.duration
		res.RecordCount++

		cell := &res.Hours[time.Unix(span.start, 0).In(s.location).Hour()]
		cell.TotalSeconds += span.duration
		cell.RecordCount++

		key := s.bucketKey(Granularity1d, span.start)
		bucket, ok := daily[key]
		if !ok {
			bucket = &Bucket{Timestamp: key}
			daily[key] = bucket
		}
		bucket.TotalSeconds += span.duration
		bucket.RecordCount++
	}
	res.Daily = sortedBuckets(daily)

	return res, nil
}

// bucketKey returns the start of the bucket containing ts. Fixed widths align
// to the epoch; day buckets align to local midnight.
func (s *AggregationService) bucketKey(g Granularity, ts int64) int64 {
	if width, ok := fixedWidths[g]; ok {
		return floorDiv(ts, width) * width
	}
	local := time.Unix(ts, 0).In(s.location)
	year, month, day := local.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, s.location).Unix()
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func sortedBuckets(acc map[int64]*Bucket) []Bucket {
	buckets := make([]Bucket, 0, len(acc))
	for _, bucket := range acc {
		buckets = append(buckets, *bucket)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Timestamp < buckets[j].Timestamp
	})
	return buckets
}

// rankEntities sorts by descending total, breaking ties by entity id, and applies limit when positive
func rankEntities(acc map[string]*EntityTotal, limit int) []EntityTotal {
	totals := make([]EntityTotal, 0, len(acc))
	for _, total := range acc {
		totals = append(totals, *total)
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].TotalSeconds != totals[j].TotalSeconds {
			return totals[i].TotalSeconds > totals[j].TotalSeconds
		}
		return totals[i].EntityID < totals[j].EntityID
	})
	if limit > 0 && len(totals) > limit {
		totals = totals[:limit]
	}
	return totals
}
