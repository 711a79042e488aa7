package admission

import (
	"fmt"
	"sync/atomic"
	"time"

	"adaptsched/internal/logging"

	"github.com/sirupsen/logrus"
)

// DefaultCeiling leaves 30% headroom for non-real-time work per core.
const DefaultCeiling = 0.7

// utilization is tracked in micro-units (1e6 == a full core) so the
// reserve/release bookkeeping can use plain atomic integers.
const utilScale = 1_000_000

// Decision is the outcome of an admission request. Rejection is an expected
// outcome: the caller falls back to Batch class or retries on another core.
type Decision struct {
	Accepted bool
	Reason   string
}

// Controller gates real-time tasks by committed utilization per core.
type Controller struct {
	ceiling   float64
	committed []atomic.Int64
	logger    *logrus.Logger
}

// New builds a controller for the given core count. A non-positive ceiling
// falls back to DefaultCeiling.
func New(cores int, ceiling float64) *Controller {
	if ceiling <= 0 || ceiling > 1 {
		ceiling = DefaultCeiling
	}
	return &Controller{
		ceiling:   ceiling,
		committed: make([]atomic.Int64, cores),
		logger:    logging.GetSchedulerLogger(),
	}
}

// Admit reserves budget/period utilization on the target core if the total
// stays at or below the ceiling. Reservation and check are one atomic
// compare-and-swap, so concurrent admissions cannot jointly overshoot.
func (c *Controller) Admit(core int, budget, period time.Duration) Decision {
	if core < 0 || core >= len(c.committed) {
		return Decision{Reason: fmt.Sprintf("no such core %d", core)}
	}
	if budget <= 0 || period <= 0 {
		return Decision{Reason: "budget and period must be positive"}
	}
	if budget > period {
		return Decision{Reason: "budget exceeds period"}
	}

	req := int64(float64(utilScale) * budget.Seconds() / period.Seconds())
	limit := int64(float64(utilScale) * c.ceiling)

	for {
		cur := c.committed[core].Load()
		if cur+req > limit {
			return Decision{Reason: fmt.Sprintf(
				"utilization ceiling: committed %.3f + requested %.3f > %.3f on core %d",
				float64(cur)/utilScale, float64(req)/utilScale, c.ceiling, core)}
		}
		if c.committed[core].CompareAndSwap(cur, cur+req) {
			c.logger.WithFields(logrus.Fields{
				"core":      core,
				"requested": float64(req) / utilScale,
				"committed": float64(cur+req) / utilScale,
			}).Debug("Real-time admission accepted")
			return Decision{Accepted: true}
		}
	}
}

// Release returns a reservation, e.g. when an admitted task exits or is
// demoted after a deadline miss.
func (c *Controller) Release(core int, budget, period time.Duration) {
	if core < 0 || core >= len(c.committed) || budget <= 0 || period <= 0 {
		return
	}
	req := int64(float64(utilScale) * budget.Seconds() / period.Seconds())
	if after := c.committed[core].Add(-req); after < 0 {
		// Clamp; a double release must not poison future admissions.
		c.committed[core].Store(0)
		c.logger.WithField("core", core).Warn("Utilization reservation released below zero, clamped")
	}
}

// Committed reports the currently reserved utilization on a core.
func (c *Controller) Committed(core int) float64 {
	if core < 0 || core >= len(c.committed) {
		return 0
	}
	return float64(c.committed[core].Load()) / utilScale
}

// Ceiling is the configured per-core utilization ceiling.
func (c *Controller) Ceiling() float64 { return c.ceiling }
