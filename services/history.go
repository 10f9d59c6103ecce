package services

import (
	"context"
	"fmt"
	"time"

	"github.com/coder/quartz"
	"github.com/irisdrone/parkwatch/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultHistoryDays is the hourly-average window when none is given
const DefaultHistoryDays = 7

// HourlyOccupancy is the average occupancy rate of one hour-of-day bucket
type HourlyOccupancy struct {
	Hour         int     `json:"hour"`
	AvgOccupancy float64 `json:"avgOccupancy"`
	Count        int     `json:"count"`
}

// PeriodStatistics summarises the snapshots of a time range
type PeriodStatistics struct {
	AvgOccupancy   float64 `json:"avgOccupancy"`
	MaxOccupancy   float64 `json:"maxOccupancy"`
	MinOccupancy   float64 `json:"minOccupancy"`
	PeakHour       int     `json:"peakHour"`
	TotalSnapshots int     `json:"totalSnapshots"`
}

// HistoryAggregator answers occupancy reports over stored snapshots
type HistoryAggregator struct {
	db    *gorm.DB
	clock quartz.Clock
	loc   *time.Location
	log   *zap.Logger
}

// NewHistoryAggregator creates an aggregator. loc is used for snapshots that
// carry no hour-of-day metadata.
func NewHistoryAggregator(db *gorm.DB, clock quartz.Clock, loc *time.Location, log *zap.Logger) *HistoryAggregator {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HistoryAggregator{
		db:    db,
		clock: clock,
		loc:   loc,
		log:   log.With(zap.String("component", "history_aggregator")),
	}
}

// OccupancyHistory returns snapshots with start <= timestamp <= end, oldest
// first. A nil cameraID selects global snapshots only.
func (h *HistoryAggregator) OccupancyHistory(ctx context.Context, cameraID *string, start, end time.Time) ([]models.ParkingSnapshot, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end %s is before start %s", ErrInvalidInput, end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	q := h.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp <= ?", start.UTC(), end.UTC())
	if cameraID == nil {
		q = q.Where("camera_id IS NULL")
	} else {
		q = q.Where("camera_id = ?", *cameraID)
	}

	var snapshots []models.ParkingSnapshot
	if err := q.Order("timestamp ASC").Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("failed to query snapshot history: %w", err)
	}
	return snapshots, nil
}

// AverageOccupancyByHour buckets the last `days` days of snapshots by hour of
// day. The result always has 24 entries, hour 0 first.
func (h *HistoryAggregator) AverageOccupancyByHour(ctx context.Context, cameraID *string, days int) ([]HourlyOccupancy, error) {
	if days <= 0 {
		days = DefaultHistoryDays
	}
	end := h.clock.Now()
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	snapshots, err := h.OccupancyHistory(ctx, cameraID, start, end)
	if err != nil {
		return nil, err
	}

	var sums [24]float64
	var counts [24]int
	for _, s := range snapshots {
		hour := h.hourOf(s)
		sums[hour] += s.OccupancyRate
		counts[hour]++
	}

	hourly := make([]HourlyOccupancy, 24)
	for hour := 0; hour < 24; hour++ {
		hourly[hour] = HourlyOccupancy{Hour: hour, Count: counts[hour]}
		if counts[hour] > 0 {
			hourly[hour].AvgOccupancy = round2(sums[hour] / float64(counts[hour]))
		}
	}
	return hourly, nil
}

// PeriodStatistics computes avg/min/max occupancy and the peak hour over a range.
// The peak hour is the first hour, scanning 0..23, whose average strictly
// exceeds every earlier one; an empty range yields all zeros.
func (h *HistoryAggregator) PeriodStatistics(ctx context.Context, cameraID *string, start, end time.Time) (*PeriodStatistics, error) {
	snapshots, err := h.OccupancyHistory(ctx, cameraID, start, end)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return &PeriodStatistics{}, nil
	}

	sum := 0.0
	minRate, maxRate := snapshots[0].OccupancyRate, snapshots[0].OccupancyRate
	var hourSums [24]float64
	var hourCounts [24]int
	for _, s := range snapshots {
		rate := s.OccupancyRate
		sum += rate
		if rate > maxRate {
			maxRate = rate
		}
		if rate < minRate {
			minRate = rate
		}
		hour := h.hourOf(s)
		hourSums[hour] += rate
		hourCounts[hour]++
	}

	peakHour, peakAvg := 0, 0.0
	for hour := 0; hour < 24; hour++ {
		if hourCounts[hour] == 0 {
			continue
		}
		avg := hourSums[hour] / float64(hourCounts[hour])
		if avg > peakAvg {
			peakAvg = avg
			peakHour = hour
		}
	}

	return &PeriodStatistics{
		AvgOccupancy:   round2(sum / float64(len(snapshots))),
		MaxOccupancy:   round2(maxRate),
		MinOccupancy:   round2(minRate),
		PeakHour:       peakHour,
		TotalSnapshots: len(snapshots),
	}, nil
}

// hourOf prefers the stored tag and derives the hour from the timestamp otherwise
func (h *HistoryAggregator) hourOf(s models.ParkingSnapshot) int {
	if s.Metadata != nil && s.Metadata.HourOfDay >= 0 && s.Metadata.HourOfDay < 24 {
		return s.Metadata.HourOfDay
	}
	return s.Timestamp.In(h.loc).Hour()
}
