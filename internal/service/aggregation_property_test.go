package service

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
)

// For a fully known history, aggregating over a covering range returns the sum
// of all interval durations, with the open interval clipped to the query end,
// and every granularity's buckets add up to the same total
func TestProperty_AggregateRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("total equals summed durations", prop.ForAll(
		func(stateIdx []int, gaps []int64, tail int64) bool {
			f := newRecorderFixture(t)
			ctx := context.Background()

			ts := int64(1_700_000_000)
			first := ts
			for i := 0; i < len(stateIdx) && i < len(gaps); i++ {
				ts += gaps[i]
				if _, err := f.recorder.RecordObservation(ctx, "U1", propertyStates[stateIdx[i]], ts); err != nil {
					return false
				}
			}

			history, err := f.repo.FindByEntity(ctx, "U1")
			if err != nil {
				return false
			}
			queryEnd := ts + tail + 1
			var want int64
			for _, interval := range history {
				want += interval.EffectiveEnd(queryEnd) - interval.StartTime
			}

			res, err := NewAggregationService(f.repo, time.UTC, f.metrics, zap.NewNop()).
				Aggregate(ctx, AggregateRequest{Start: first - 1, End: queryEnd})
			if err != nil || res.TotalSeconds != want || res.RecordCount != len(history) {
				return false
			}
			for _, g := range Granularities {
				var sum int64
				for _, bucket := range res.Buckets[g] {
					sum += bucket.TotalSeconds
				}
				if sum != want {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(propertyStates)-1)),
		gen.SliceOf(gen.Int64Range(0, 7200)),
		gen.Int64Range(0, 86400),
	))

	properties.TestingRun(t)
}
