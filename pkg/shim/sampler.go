package shim

import (
	"context"
	"time"

	"github.com/prometheus/procfs"

	"github.com/cuemby/boxlite/pkg/log"
	"github.com/cuemby/boxlite/pkg/metrics"
)

// Sampler periodically records a shim process's CPU% and RSS to the
// per-box gauges (spec.md §4.5). It is Linux-only in practice — procfs is
// unavailable on macOS, so Run returns immediately there.
type Sampler struct {
	boxID    string
	pid      int
	interval time.Duration
}

func NewSampler(boxID string, pid int, interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Sampler{boxID: boxID, pid: pid, interval: interval}
}

// Run samples until ctx is done, clearing the box's gauges on exit so a
// removed box doesn't leave stale series behind.
func (s *Sampler) Run(ctx context.Context) {
	logger := log.WithBoxID(s.boxID)
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		logger.Debug().Err(err).Msg("procfs unavailable, resource sampling disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	defer func() {
		metrics.ShimCPUPercent.DeleteLabelValues(s.boxID)
		metrics.ShimRSSBytes.DeleteLabelValues(s.boxID)
	}()

	var lastCPU float64
	var lastAt time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		proc, err := fs.Proc(s.pid)
		if err != nil {
			return // process is gone
		}
		stat, err := proc.Stat()
		if err != nil {
			return
		}

		now := time.Now()
		cpuTotal := stat.CPUTime()
		if !lastAt.IsZero() {
			elapsed := now.Sub(lastAt).Seconds()
			if elapsed > 0 {
				pct := (cpuTotal - lastCPU) / elapsed * 100
				metrics.ShimCPUPercent.WithLabelValues(s.boxID).Set(pct)
			}
		}
		lastCPU = cpuTotal
		lastAt = now

		metrics.ShimRSSBytes.WithLabelValues(s.boxID).Set(float64(stat.ResidentMemory()))
	}
}
