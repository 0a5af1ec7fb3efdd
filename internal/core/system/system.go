package system

import (
	"context"
	"time"
)

// Phase defines execution ordering when several systems are due in the same tick.
type Phase int

const (
	PhaseUpdate  Phase = iota // 0: recompute shared state (lobby populations)
	PhasePersist              // 1: write recomputed state to storage
	PhaseReport               // 2: publish metrics snapshots
)

// System is a periodic background job.
type System interface {
	Name() string
	Phase() Phase
	// Interval is the minimum time between two Update calls.
	Interval() time.Duration
	Update(ctx context.Context)
}
