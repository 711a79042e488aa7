package admission

import (
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestAdmitScenarioSingleCore(t *testing.T) {
	c := New(1, 0.7)

	// One realtime task: 2ms budget over a 10ms period is 0.2 utilization.
	d := c.Admit(0, 2*time.Millisecond, 10*time.Millisecond)
	if !d.Accepted {
		t.Fatalf("expected first admission accepted: %s", d.Reason)
	}
	if got := c.Committed(0); got < 0.199 || got > 0.201 {
		t.Fatalf("expected committed 0.2, got %f", got)
	}

	// Identical tasks keep arriving. 0.4 and 0.6 fit under the 0.7
	// ceiling; everything beyond is rejected.
	accepted := 1
	for i := 0; i < 4; i++ {
		if c.Admit(0, 2*time.Millisecond, 10*time.Millisecond).Accepted {
			accepted++
		}
	}
	if accepted != 3 {
		t.Fatalf("expected 3 total admissions under ceiling 0.7, got %d", accepted)
	}
	if got := c.Committed(0); got > 0.7 {
		t.Fatalf("committed utilization %f exceeds ceiling", got)
	}
}

func TestAdmitRejectionIsNotAnError(t *testing.T) {
	c := New(1, 0.5)
	d := c.Admit(0, 8*time.Millisecond, 10*time.Millisecond)
	if d.Accepted {
		t.Fatalf("0.8 utilization must not fit under a 0.5 ceiling")
	}
	if d.Reason == "" {
		t.Fatalf("rejection must carry a reason")
	}
	if got := c.Committed(0); got != 0 {
		t.Fatalf("rejected admission must not reserve, got %f", got)
	}
}

func TestReleaseReturnsReservation(t *testing.T) {
	c := New(2, 0.7)
	if !c.Admit(1, 5*time.Millisecond, 10*time.Millisecond).Accepted {
		t.Fatalf("admission failed")
	}
	c.Release(1, 5*time.Millisecond, 10*time.Millisecond)
	if got := c.Committed(1); got != 0 {
		t.Fatalf("expected zero after release, got %f", got)
	}
	// A second admission of the same size fits again.
	if !c.Admit(1, 5*time.Millisecond, 10*time.Millisecond).Accepted {
		t.Fatalf("re-admission after release failed")
	}
}

func TestCeilingInvariantUnderFuzzedRequests(t *testing.T) {
	c := New(4, 0.7)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 5000; i++ {
		core := rng.Intn(4)
		period := time.Duration(1+rng.Intn(100)) * time.Millisecond
		budget := time.Duration(1+rng.Int63n(int64(period)))
		d := c.Admit(core, budget, period)
		if d.Accepted && c.Committed(core) > 0.7+1e-6 {
			t.Fatalf("ceiling invariant broken after accepted admission: %f", c.Committed(core))
		}
		// Occasionally release to keep the fuzz exploring.
		if d.Accepted && rng.Intn(3) == 0 {
			c.Release(core, budget, period)
		}
	}
}

func TestConcurrentAdmissionsNeverOvershoot(t *testing.T) {
	c := New(1, 0.7)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Admit(0, 1*time.Millisecond, 10*time.Millisecond)
			}
		}()
	}
	wg.Wait()
	if got := c.Committed(0); got > 0.7+1e-6 {
		t.Fatalf("concurrent admissions overshot ceiling: %f", got)
	}
}
