package metrics

import (
	"github.com/welldanyogia/event-bridge/backend/internal/events"
)

// StoreStatsSource reports pending-store counts.
type StoreStatsSource interface {
	Stats() events.Stats
}

// StoreStatsCollector copies pending counts into the EventsPending gauge.
// The scheduler calls Collect periodically.
type StoreStatsCollector struct {
	source StoreStatsSource
}

// NewStoreStatsCollector creates a collector reading from source.
func NewStoreStatsCollector(source StoreStatsSource) *StoreStatsCollector {
	return &StoreStatsCollector{source: source}
}

// Collect refreshes the pending gauges once.
func (c *StoreStatsCollector) Collect() {
	if c.source == nil {
		return
	}
	stats := c.source.Stats()

	fg, bg := 0, 0
	for _, n := range stats.Foreground {
		fg += n
	}
	for _, n := range stats.Background {
		bg += n
	}

	EventsPending.WithLabelValues(events.ForegroundBucket.String()).Set(float64(fg))
	EventsPending.WithLabelValues(events.BackgroundBucket.String()).Set(float64(bg))
}
