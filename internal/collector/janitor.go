package collector

import (
	"context"
	"time"

	"github.com/optiinfra/optiinfra/internal/config"
	"github.com/optiinfra/optiinfra/internal/logger"
	"github.com/optiinfra/optiinfra/internal/storage/timeseries"
)

// Janitor trims metric rows past the retention horizon and refreshes the
// hourly aggregates the dashboard reads.
type Janitor struct {
	cfg config.SchedulerConfig
	ts  *timeseries.Store
	log logger.Logger
}

// NewJanitor builds the retention janitor. A RetentionDays of zero
// disables trimming; the aggregate refresh still runs.
func NewJanitor(cfg config.SchedulerConfig, ts *timeseries.Store) *Janitor {
	return &Janitor{cfg: cfg, ts: ts, log: logger.New("janitor")}
}

// Run sweeps on the configured interval until ctx ends.
func (j *Janitor) Run(ctx context.Context) {
	interval := j.cfg.JanitorInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one retention pass.
func (j *Janitor) Sweep(ctx context.Context) {
	if j.cfg.RetentionDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -j.cfg.RetentionDays)
		var total int64
		for _, dataType := range timeseries.DataTypes {
			deleted, err := j.ts.DeleteOlderThan(ctx, dataType, cutoff)
			if err != nil {
				j.log.Error("retention delete failed",
					logger.String("data_type", dataType), logger.Error(err))
				continue
			}
			total += deleted
		}
		if total > 0 {
			j.log.Info("trimmed expired metric rows",
				logger.Int64("rows", total),
				logger.Time("cutoff", cutoff))
		}
	}

	if err := j.ts.RefreshHourlyAggregates(ctx); err != nil {
		j.log.Error("aggregate refresh failed", logger.Error(err))
	}
}
