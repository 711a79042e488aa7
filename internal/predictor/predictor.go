package predictor

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"adaptsched/internal/features"
	"adaptsched/internal/logging"
	"adaptsched/internal/task"

	"github.com/sirupsen/logrus"
)

// Config tunes the online model. Zero values are replaced by defaults.
type Config struct {
	// ConfidenceThreshold is the floor below which callers must fall back
	// to class defaults instead of trusting a prediction.
	ConfidenceThreshold float64
	// LearningRate scales each gradient step.
	LearningRate float64
	// MaxStep clips a single weight update, so one bad sample cannot
	// destabilize the model.
	MaxStep float64
	// MinObservations is how many outcome samples the model needs before
	// confidence can reach 1.
	MinObservations int
	// FlushInterval bounds how long a batch of pending updates may wait
	// before a new snapshot is published.
	FlushInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.5
	}
	if c.LearningRate <= 0 {
		c.LearningRate = 0.05
	}
	if c.MaxStep <= 0 {
		c.MaxStep = 0.5
	}
	if c.MinObservations <= 0 {
		c.MinObservations = 16
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 100 * time.Millisecond
	}
	return c
}

// Sample is one completed prediction/outcome pair fed back by the
// statistics loop.
type Sample struct {
	Features  features.Vector
	Predicted time.Duration
	Observed  time.Duration
	Migrated  bool
	// MigrationSlowdown is the observed relative slowdown after a
	// migration, used to train the migration-penalty estimate.
	MigrationSlowdown float64
}

// snapshot is an immutable model version. All cores read the current
// snapshot through an atomic pointer; the single writer never mutates a
// published snapshot.
type snapshot struct {
	weights       features.Vector
	bias          float64
	penaltyScale  float64
	observations  int64
	residualEWMA  float64 // mean absolute runtime error, seconds
	generation    uint64
}

// Predictor maps feature vectors to runtime/intensity/migration estimates
// and retrains incrementally from observed outcomes. Reads are lock-free;
// updates are applied by a single background goroutine via snapshot swap.
type Predictor struct {
	cfg    Config
	snap   atomic.Pointer[snapshot]
	logger *logrus.Logger

	feedback chan Sample
	dropped  atomic.Int64
}

// New builds a predictor with neutral priors.
func New(cfg Config) *Predictor {
	p := &Predictor{
		cfg:      cfg.withDefaults(),
		logger:   logging.GetSchedulerLogger(),
		feedback: make(chan Sample, 1024),
	}
	p.snap.Store(&snapshot{
		bias:         0.005, // 5ms neutral prior
		penaltyScale: 1,
	})
	return p
}

// Start runs the background aggregation loop until ctx is cancelled.
func (p *Predictor) Start(ctx context.Context) {
	go p.loop(ctx)
}

// Predict annotates a feature vector. Never blocks; reads one consistent
// snapshot.
func (p *Predictor) Predict(v features.Vector) task.Prediction {
	s := p.snap.Load()

	expected := s.bias
	for i := range v {
		expected += s.weights[i] * v[i]
	}
	if expected < 0 {
		expected = 0
	}

	return task.Prediction{
		ExpectedRuntime:  time.Duration(expected * float64(time.Second)),
		Intensity:        classifyIntensity(v),
		MigrationPenalty: p.migrationPenalty(s, v),
		Confidence:       p.confidence(s, expected),
	}
}

// Usable reports whether a prediction clears the configured confidence
// threshold. Callers with an unusable prediction must use Defaults.
func (p *Predictor) Usable(pred task.Prediction) bool {
	return pred.Confidence >= p.cfg.ConfidenceThreshold
}

// Defaults are the per-class fallback annotations used when confidence is
// below threshold.
func Defaults(c task.Class) task.Prediction {
	switch c {
	case task.ClassRealTime:
		return task.Prediction{ExpectedRuntime: 2 * time.Millisecond, Intensity: task.IntensityCPUBound, MigrationPenalty: 1}
	case task.ClassInteractive:
		return task.Prediction{ExpectedRuntime: 5 * time.Millisecond, Intensity: task.IntensityIOBound, MigrationPenalty: 0.2}
	case task.ClassBatch:
		return task.Prediction{ExpectedRuntime: 50 * time.Millisecond, Intensity: task.IntensityCPUBound, MigrationPenalty: 0.5}
	default:
		return task.Prediction{ExpectedRuntime: 10 * time.Millisecond, Intensity: task.IntensityMixed, MigrationPenalty: 0.5}
	}
}

// Observe feeds a completed prediction/outcome pair back to the model.
// Never blocks: if the feedback channel is full the sample is dropped and
// the previous snapshot stays authoritative.
func (p *Predictor) Observe(s Sample) {
	select {
	case p.feedback <- s:
	default:
		if p.dropped.Add(1)%1024 == 1 {
			p.logger.WithField("dropped", p.dropped.Load()).Warn("Predictor feedback channel full, dropping samples")
		}
	}
}

// Generation exposes the current snapshot generation, mainly for tests and
// the statistics snapshot.
func (p *Predictor) Generation() uint64 {
	return p.snap.Load().generation
}

// Observations is the number of samples absorbed into the current snapshot.
func (p *Predictor) Observations() int64 {
	return p.snap.Load().observations
}

func (p *Predictor) loop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []Sample
	for {
		select {
		case <-ctx.Done():
			return
		case s := <-p.feedback:
			batch = append(batch, s)
			if len(batch) >= 256 {
				p.apply(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.apply(batch)
				batch = batch[:0]
			}
		}
	}
}

// apply folds a batch of samples into a copy of the current snapshot and
// publishes it with one pointer swap.
func (p *Predictor) apply(batch []Sample) {
	cur := p.snap.Load()
	next := *cur // copy; published snapshots are never mutated

	for _, s := range batch {
		pred := s.Predicted.Seconds()
		obs := s.Observed.Seconds()
		err := pred - obs

		// Clipped gradient step on squared runtime error.
		for i, x := range s.Features {
			next.weights[i] -= clip(p.cfg.LearningRate*err*x, p.cfg.MaxStep)
		}
		next.bias -= clip(p.cfg.LearningRate*err, p.cfg.MaxStep)

		if s.Migrated && s.MigrationSlowdown > 0 {
			next.penaltyScale += clip(p.cfg.LearningRate*(s.MigrationSlowdown-next.penaltyScale), p.cfg.MaxStep)
			if next.penaltyScale < 0.1 {
				next.penaltyScale = 0.1
			}
		}

		next.observations++
		ae := math.Abs(err)
		if next.residualEWMA == 0 {
			next.residualEWMA = ae
		} else {
			next.residualEWMA = 0.9*next.residualEWMA + 0.1*ae
		}
	}

	next.generation = cur.generation + 1
	p.snap.Store(&next)
}

func (p *Predictor) confidence(s *snapshot, expected float64) float64 {
	if s.observations == 0 {
		return 0
	}
	coverage := float64(s.observations) / float64(p.cfg.MinObservations)
	if coverage > 1 {
		coverage = 1
	}
	// Penalize confidence when the residual is large relative to the
	// predicted magnitude.
	scale := expected
	if scale < 0.001 {
		scale = 0.001
	}
	accuracy := 1 - s.residualEWMA/(s.residualEWMA+scale)
	return coverage * accuracy
}

func (p *Predictor) migrationPenalty(s *snapshot, v features.Vector) float64 {
	// CPU-heavy tasks with long bursts have more cache state to lose.
	burst := v[features.FeatMeanBurst]
	cpuShare := 1 - v[features.FeatIOWaitRatio]
	pen := s.penaltyScale * burst * cpuShare * 10
	if pen > 10 {
		pen = 10
	}
	return pen
}

func classifyIntensity(v features.Vector) task.IntensityClass {
	switch io := v[features.FeatIOWaitRatio]; {
	case io >= 0.6:
		return task.IntensityIOBound
	case io <= 0.2:
		return task.IntensityCPUBound
	default:
		return task.IntensityMixed
	}
}

func clip(x, bound float64) float64 {
	if x > bound {
		return bound
	}
	if x < -bound {
		return -bound
	}
	return x
}
