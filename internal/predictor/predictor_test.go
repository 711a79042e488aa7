package predictor

import (
	"sync"
	"testing"
	"time"

	"adaptsched/internal/features"
	"adaptsched/internal/task"
)

func cpuVector(burst float64) features.Vector {
	var v features.Vector
	v[features.FeatMeanBurst] = burst
	v[features.FeatIOWaitRatio] = 0.05
	return v
}

func TestZeroObservationsFallsBackToDefaults(t *testing.T) {
	p := New(Config{})

	pred := p.Predict(cpuVector(0.01))
	if pred.Confidence != 0 {
		t.Fatalf("confidence before any observation = %v, want 0", pred.Confidence)
	}
	if p.Usable(pred) {
		t.Fatalf("zero-confidence prediction reported usable")
	}

	def := Defaults(task.ClassInteractive)
	if def.ExpectedRuntime <= 0 {
		t.Fatalf("class default has no runtime estimate")
	}
}

func TestConfidenceGrowsWithObservations(t *testing.T) {
	p := New(Config{MinObservations: 8})
	v := cpuVector(0.01)

	batch := make([]Sample, 8)
	for i := range batch {
		batch[i] = Sample{Features: v, Predicted: 10 * time.Millisecond, Observed: 10 * time.Millisecond}
	}
	p.apply(batch)

	pred := p.Predict(v)
	if pred.Confidence < 0.5 {
		t.Fatalf("confidence after %d accurate samples = %v, want >= 0.5", len(batch), pred.Confidence)
	}
	if !p.Usable(pred) {
		t.Fatalf("accurate well-observed prediction not usable")
	}
}

func TestLearningReducesError(t *testing.T) {
	p := New(Config{MinObservations: 4})
	v := cpuVector(0.02)
	target := 40 * time.Millisecond

	for round := 0; round < 200; round++ {
		pred := p.Predict(v)
		p.apply([]Sample{{Features: v, Predicted: pred.ExpectedRuntime, Observed: target}})
	}

	got := p.Predict(v).ExpectedRuntime
	diff := got - target
	if diff < 0 {
		diff = -diff
	}
	if diff > 10*time.Millisecond {
		t.Fatalf("after training, prediction %v is not near observed %v", got, target)
	}
}

func TestSingleOutlierCannotDestabilize(t *testing.T) {
	p := New(Config{MaxStep: 0.01})
	v := cpuVector(0.01)
	before := p.Predict(v).ExpectedRuntime

	// A wildly wrong sample: predicted 1ms, observed one hour.
	p.apply([]Sample{{Features: v, Predicted: time.Millisecond, Observed: time.Hour}})

	after := p.Predict(v).ExpectedRuntime
	// Each of bias and the active weights can move at most MaxStep seconds,
	// scaled by the feature values, so the shift stays bounded.
	if after-before > 100*time.Millisecond {
		t.Fatalf("one outlier moved the estimate from %v to %v", before, after)
	}
}

func TestGenerationAdvancesPerBatch(t *testing.T) {
	p := New(Config{})
	if g := p.Generation(); g != 0 {
		t.Fatalf("fresh predictor generation = %d, want 0", g)
	}

	v := cpuVector(0.01)
	p.apply([]Sample{{Features: v, Predicted: time.Millisecond, Observed: time.Millisecond}})
	p.apply([]Sample{{Features: v, Predicted: time.Millisecond, Observed: time.Millisecond}})

	if g := p.Generation(); g != 2 {
		t.Fatalf("generation after two batches = %d, want 2", g)
	}
	if n := p.Observations(); n != 2 {
		t.Fatalf("observations = %d, want 2", n)
	}
}

func TestIntensityClassification(t *testing.T) {
	p := New(Config{})

	var io features.Vector
	io[features.FeatIOWaitRatio] = 0.8
	if got := p.Predict(io).Intensity; got != task.IntensityIOBound {
		t.Fatalf("io-wait 0.8 classified as %v", got)
	}

	var cpu features.Vector
	cpu[features.FeatIOWaitRatio] = 0.1
	if got := p.Predict(cpu).Intensity; got != task.IntensityCPUBound {
		t.Fatalf("io-wait 0.1 classified as %v", got)
	}

	var mixed features.Vector
	mixed[features.FeatIOWaitRatio] = 0.4
	if got := p.Predict(mixed).Intensity; got != task.IntensityMixed {
		t.Fatalf("io-wait 0.4 classified as %v", got)
	}
}

func TestMigrationPenaltyTracksSlowdown(t *testing.T) {
	p := New(Config{LearningRate: 0.5, MaxStep: 2})
	v := cpuVector(0.05)
	before := p.Predict(v).MigrationPenalty

	batch := make([]Sample, 50)
	for i := range batch {
		batch[i] = Sample{
			Features:          v,
			Predicted:         time.Millisecond,
			Observed:          time.Millisecond,
			Migrated:          true,
			MigrationSlowdown: 3,
		}
	}
	p.apply(batch)

	after := p.Predict(v).MigrationPenalty
	if after <= before {
		t.Fatalf("repeated migration slowdowns did not raise the penalty: %v -> %v", before, after)
	}
}

func TestConcurrentPredictDuringApply(t *testing.T) {
	p := New(Config{})
	v := cpuVector(0.01)

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				pred := p.Predict(v)
				if pred.ExpectedRuntime < 0 || pred.Confidence < 0 || pred.Confidence > 1 {
					t.Errorf("inconsistent prediction: %+v", pred)
					return
				}
			}
		}()
	}

	for i := 0; i < 500; i++ {
		p.apply([]Sample{{Features: v, Predicted: time.Millisecond, Observed: 2 * time.Millisecond}})
	}
	close(stop)
	readers.Wait()
}

func TestObserveNeverBlocksWhenFull(t *testing.T) {
	p := New(Config{})
	s := Sample{Features: cpuVector(0.01), Predicted: time.Millisecond, Observed: time.Millisecond}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ { // far beyond channel capacity, loop not running
			p.Observe(s)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Observe blocked with a full feedback channel")
	}
	if p.dropped.Load() == 0 {
		t.Fatalf("expected dropped samples once the channel filled")
	}
}
