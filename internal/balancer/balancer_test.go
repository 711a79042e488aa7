package balancer

import (
	"testing"
	"time"

	"adaptsched/internal/predictor"
	"adaptsched/internal/runqueue"
	"adaptsched/internal/stats"
	"adaptsched/internal/task"
)

func newTask(id task.ID, class task.Class, weight float64) *task.Task {
	t := task.New(id, "", class, task.UnrestrictedProfile(10))
	t.Weight = weight
	if class == task.ClassRealTime {
		t.Deadline = time.Now().Add(100 * time.Millisecond)
	}
	return t
}

func newRecorder() *stats.Recorder {
	return stats.NewRecorder(predictor.New(predictor.Config{}))
}

func TestCostMatrixTopology(t *testing.T) {
	m := NewCostMatrix(4, 2)

	if c := m.Cost(1, 1); c != 0 {
		t.Fatalf("same-core cost = %v, want 0", c)
	}
	if c := m.Cost(0, 1); c != defaultSameSocketCost {
		t.Fatalf("same-socket cost = %v, want %v", c, defaultSameSocketCost)
	}
	if c := m.Cost(0, 3); c != defaultCrossSocketCost {
		t.Fatalf("cross-socket cost = %v, want %v", c, defaultCrossSocketCost)
	}
	if c := m.Cost(0, 9); c != defaultCrossSocketCost {
		t.Fatalf("out-of-range cost = %v, want cross-socket default", c)
	}

	m.Recompute(2)
	if c := m.Cost(0, 1); c != 2*defaultSameSocketCost {
		t.Fatalf("rescaled same-socket cost = %v, want %v", c, 2*defaultSameSocketCost)
	}
	if s := m.Scale(); s != 2 {
		t.Fatalf("Scale() = %v, want 2", s)
	}
}

func TestRebalanceMovesFromBusyToIdle(t *testing.T) {
	q0 := runqueue.New(0, 16)
	q1 := runqueue.New(1, 16)
	for id := task.ID(1); id <= 4; id++ {
		if err := q0.Enqueue(newTask(id, task.ClassBatch, 1)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	b := New(Config{}, []*runqueue.Queue{q0, q1}, NewCostMatrix(2, 2), newRecorder())
	if moved := b.Rebalance(); moved != 1 {
		t.Fatalf("Rebalance moved %d tasks, want 1", moved)
	}
	if q1.Size() != 1 {
		t.Fatalf("idle queue holds %d tasks after rebalance, want 1", q1.Size())
	}
	if q0.Size() != 3 {
		t.Fatalf("busy queue holds %d tasks after rebalance, want 3", q0.Size())
	}
}

func TestHysteresisPreventsThrashing(t *testing.T) {
	q0 := runqueue.New(0, 16)
	q1 := runqueue.New(1, 16)
	q0.Enqueue(newTask(1, task.ClassBatch, 1))
	q0.Enqueue(newTask(2, task.ClassBatch, 1))
	q1.Enqueue(newTask(3, task.ClassBatch, 1))

	// Gap is one weight unit; moving a unit task just flips the imbalance,
	// so no move should clear the hysteresis threshold, this pass or any
	// later one.
	b := New(Config{}, []*runqueue.Queue{q0, q1}, NewCostMatrix(2, 2), newRecorder())
	for pass := 0; pass < 10; pass++ {
		if moved := b.Rebalance(); moved != 0 {
			t.Fatalf("pass %d migrated despite marginal benefit", pass)
		}
	}
}

func TestCrossSocketCostBlocksMarginalMove(t *testing.T) {
	mk := func(coresPerSocket int) *Balancer {
		q0 := runqueue.New(0, 16)
		q1 := runqueue.New(1, 16)
		for id := task.ID(1); id <= 4; id++ {
			q0.Enqueue(newTask(id, task.ClassBatch, 1))
		}
		return New(Config{Hysteresis: 1.5}, []*runqueue.Queue{q0, q1}, NewCostMatrix(2, coresPerSocket), newRecorder())
	}

	if moved := mk(2).Rebalance(); moved != 1 {
		t.Fatalf("same-socket move blocked, want allowed")
	}
	if moved := mk(1).Rebalance(); moved != 0 {
		t.Fatalf("cross-socket move allowed, want blocked by higher cost")
	}
}

func TestPullForStealsFromBusiest(t *testing.T) {
	q0 := runqueue.New(0, 16)
	q1 := runqueue.New(1, 16)
	for id := task.ID(1); id <= 4; id++ {
		q0.Enqueue(newTask(id, task.ClassBatch, 1))
	}

	b := New(Config{}, []*runqueue.Queue{q0, q1}, NewCostMatrix(2, 2), newRecorder())
	if !b.PullFor(1) {
		t.Fatalf("idle core failed to steal from a loaded core")
	}
	if q1.Size() != 1 {
		t.Fatalf("stealing core holds %d tasks, want 1", q1.Size())
	}
	if b.PullFor(7) {
		t.Fatalf("PullFor accepted an out-of-range core")
	}
}

func TestRealTimeTasksAreNeverMigrated(t *testing.T) {
	q0 := runqueue.New(0, 16)
	q1 := runqueue.New(1, 16)
	for id := task.ID(1); id <= 4; id++ {
		q0.Enqueue(newTask(id, task.ClassRealTime, 1))
	}

	b := New(Config{}, []*runqueue.Queue{q0, q1}, NewCostMatrix(2, 2), newRecorder())
	if moved := b.Rebalance(); moved != 0 {
		t.Fatalf("a real-time task was migrated")
	}
	if q0.Size() != 4 {
		t.Fatalf("real-time queue disturbed, size %d", q0.Size())
	}
}

func TestHighPenaltyCandidateStaysPut(t *testing.T) {
	q0 := runqueue.New(0, 16)
	q1 := runqueue.New(1, 16)
	for id := task.ID(1); id <= 4; id++ {
		tk := newTask(id, task.ClassBatch, 1)
		tk.Prediction.MigrationPenalty = 5
		q0.Enqueue(tk)
	}

	b := New(Config{}, []*runqueue.Queue{q0, q1}, NewCostMatrix(2, 2), newRecorder())
	if moved := b.Rebalance(); moved != 0 {
		t.Fatalf("migrated a task whose penalty outweighs the benefit")
	}
}
