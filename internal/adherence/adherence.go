// Package adherence derives dose adherence statistics from medication logs.
package adherence

import (
	"context"
	"math"
	"time"

	"github.com/pathakanu/carely/internal/apperr"
	"github.com/pathakanu/carely/internal/model"
)

// LogSource is the slice of the entity store the calculator reads.
type LogSource interface {
	EnsureUser(ctx context.Context, id uint) error
	LogsForUser(ctx context.Context, userID uint, from, to time.Time) ([]model.MedicationLog, error)
}

// Stats summarizes the dose logs of one window. Rate is a percentage in [0, 100] rounded to
// two decimals.
type Stats struct {
	UserID     uint    `json:"user_id"`
	WindowDays int     `json:"window_days"`
	Total      int     `json:"total"`
	Taken      int     `json:"taken"`
	Missed     int     `json:"missed"`
	Skipped    int     `json:"skipped"`
	Pending    int     `json:"pending"`
	Rate       float64 `json:"rate"`
}

// HasData reports whether the window contained any dose. A zero Rate without data means
// "unknown", not 0% adherence.
func (s Stats) HasData() bool {
	return s.Total > 0
}

// Calculator computes adherence over trailing windows.
type Calculator struct {
	logs LogSource
	now  func() time.Time
}

// NewCalculator returns a Calculator reading from logs.
func NewCalculator(logs LogSource) *Calculator {
	return &Calculator{logs: logs, now: time.Now}
}

// WithClock overrides the time source.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// Compute returns the statistics of logs scheduled within [now - windowDays, now].
func (c *Calculator) Compute(ctx context.Context, userID uint, windowDays int) (Stats, error) {
	if windowDays < 0 {
		return Stats{}, apperr.Validation("window_days must be >= 0, got %d", windowDays)
	}
	if err := c.logs.EnsureUser(ctx, userID); err != nil {
		return Stats{}, err
	}

	stats := Stats{UserID: userID, WindowDays: windowDays}
	if windowDays == 0 {
		return stats, nil
	}

	now := c.now().UTC()
	logs, err := c.logs.LogsForUser(ctx, userID, now.AddDate(0, 0, -windowDays), now)
	if err != nil {
		return Stats{}, err
	}
	return Tally(stats, logs), nil
}

// Tally counts logs into stats and derives the rate.
func Tally(stats Stats, logs []model.MedicationLog) Stats {
	for _, log := range logs {
		stats.Total++
		switch log.Status {
		case model.LogTaken:
			stats.Taken++
		case model.LogMissed:
			stats.Missed++
		case model.LogSkipped:
			stats.Skipped++
		case model.LogPending:
			stats.Pending++
		}
	}
	if stats.Total > 0 {
		stats.Rate = math.Round(float64(stats.Taken*100)/float64(stats.Total)*100) / 100
	}
	return stats
}
