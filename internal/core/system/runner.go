package system

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Runner executes registered systems in phase order, each on its own interval.
type Runner struct {
	systems []*entry
	sorted  bool
	log     *zap.Logger
}

type entry struct {
	sys     System
	lastRun time.Time
}

func NewRunner(log *zap.Logger) *Runner {
	return &Runner{
		systems: make([]*entry, 0, 8),
		log:     log,
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, &entry{sys: s})
	r.sorted = false
}

// Tick runs every system whose interval has elapsed since its last run.
// A system that has never run is due immediately.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	r.ensureSorted()
	for _, e := range r.systems {
		if !e.lastRun.IsZero() && now.Sub(e.lastRun) < e.sys.Interval() {
			continue
		}
		e.lastRun = now
		start := time.Now()
		e.sys.Update(ctx)
		r.log.Debug("system updated",
			zap.String("system", e.sys.Name()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// Run ticks at the given resolution until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, resolution time.Duration) error {
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()

	r.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.Tick(ctx, now)
		}
	}
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].sys.Phase() < r.systems[j].sys.Phase()
		})
		r.sorted = true
	}
}
