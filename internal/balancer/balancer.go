package balancer

import (
	"context"
	"time"

	"adaptsched/internal/logging"
	"adaptsched/internal/runqueue"
	"adaptsched/internal/stats"

	"github.com/sirupsen/logrus"
)

// Config tunes the balancing pass.
type Config struct {
	// Interval between periodic rebalance passes.
	Interval time.Duration
	// Hysteresis is the minimum net benefit (load improvement minus
	// migration cost) a move must clear. Prevents migration thrashing.
	Hysteresis float64
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 50 * time.Millisecond
	}
	if c.Hysteresis <= 0 {
		c.Hysteresis = 0.25
	}
	return c
}

// Balancer evaluates cross-core imbalance and migrates tasks when the
// predicted benefit beats the cost estimate plus hysteresis.
type Balancer struct {
	cfg      Config
	queues   []*runqueue.Queue
	matrix   *CostMatrix
	recorder *stats.Recorder
	logger   *logrus.Logger
}

func New(cfg Config, queues []*runqueue.Queue, matrix *CostMatrix, recorder *stats.Recorder) *Balancer {
	return &Balancer{
		cfg:      cfg.withDefaults(),
		queues:   queues,
		matrix:   matrix,
		recorder: recorder,
		logger:   logging.GetSchedulerLogger(),
	}
}

// Start runs periodic rebalance passes until ctx is cancelled.
func (b *Balancer) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(b.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Rebalance()
			}
		}
	}()
}

// Rebalance performs one pass: for the most and least loaded core pair,
// move the best candidate if its net benefit clears the hysteresis
// threshold. Returns how many tasks moved.
func (b *Balancer) Rebalance() int {
	if len(b.queues) < 2 {
		return 0
	}

	loads := make([]float64, len(b.queues))
	for i, q := range b.queues {
		loads[i] = q.Load()
	}

	moved := 0
	// One move per pass keeps the pass bounded; the next tick re-evaluates
	// against fresh loads.
	src, dst := extremes(loads)
	if src == dst {
		return 0
	}
	if b.migrateBest(src, dst, loads[src]-loads[dst]) {
		moved++
	}
	return moved
}

// PullFor runs opportunistically when core's queue went idle on a task
// wake: steal the best candidate from the most loaded core.
func (b *Balancer) PullFor(core int) bool {
	if core < 0 || core >= len(b.queues) {
		return false
	}
	busiest := -1
	busiestLoad := 0.0
	for i, q := range b.queues {
		if i == core {
			continue
		}
		if l := q.Load(); l > busiestLoad {
			busiest = i
			busiestLoad = l
		}
	}
	if busiest < 0 || busiestLoad == 0 {
		return false
	}
	return b.migrateBest(busiest, core, busiestLoad-b.queues[core].Load())
}

// migrateBest picks the candidate on src minimizing cost relative to its
// load contribution and migrates it if the net benefit clears hysteresis.
func (b *Balancer) migrateBest(src, dst int, gap float64) bool {
	if gap <= 0 {
		return false
	}
	base := b.matrix.Cost(src, dst)

	cands := b.queues[src].Candidates()
	bestScore := 0.0
	bestIdx := -1
	for i, c := range cands {
		// Moving weight w shrinks the gap by 2w; past the balance point the
		// move starts widening the gap the other way.
		improvement := 2 * c.Weight
		if improvement > gap {
			improvement = 2*gap - improvement
		}
		score := improvement - (base + c.Penalty)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	if bestIdx < 0 || bestScore < b.cfg.Hysteresis {
		return false
	}

	cand := cands[bestIdx]
	res, err := runqueue.Migrate(b.queues[src], b.queues[dst], cand.ID)
	if err != nil {
		b.logger.WithError(err).WithFields(logrus.Fields{
			"task": cand.ID,
			"src":  src,
			"dst":  dst,
		}).Error("Migration failed")
		return false
	}
	switch res {
	case runqueue.MigrateMoved:
		b.recorder.RecordMigration()
		b.logger.WithFields(logrus.Fields{
			"task":    cand.ID,
			"src":     src,
			"dst":     dst,
			"benefit": bestScore,
		}).Debug("Migrated task")
		return true
	default:
		// The candidate ran, exited or the destination filled up since the
		// snapshot; the task is untouched.
		b.recorder.RecordMigrationAbort()
		return false
	}
}

func extremes(loads []float64) (max, min int) {
	for i, l := range loads {
		if l > loads[max] {
			max = i
		}
		if l < loads[min] {
			min = i
		}
	}
	return max, min
}
