package workload

import (
	"context"
	"testing"
	"time"

	"adaptsched/internal/config"
	"adaptsched/internal/scheduler"
	"adaptsched/internal/task"
)

func fastModel() *Model {
	m := NewModel()
	m.Sleep = func(time.Duration) {}
	return m
}

func TestRunConsumesBurstAcrossQuanta(t *testing.T) {
	m := fastModel()
	m.Add(1, config.TaskConfig{BurstMS: 12, BlockMS: 8})
	tk := task.New(1, "", task.ClassBatch, task.UnrestrictedProfile(10))
	ctx := context.Background()
	quantum := 5 * time.Millisecond

	// 12ms burst over 5ms quanta: two full quanta, then a 2ms tail that
	// ends in a block.
	out := m.Run(ctx, tk, quantum)
	if out.Kind != scheduler.OutcomeYield || out.Ran != quantum {
		t.Fatalf("first quantum: %+v", out)
	}
	out = m.Run(ctx, tk, quantum)
	if out.Kind != scheduler.OutcomeYield || out.Ran != quantum {
		t.Fatalf("second quantum: %+v", out)
	}
	out = m.Run(ctx, tk, quantum)
	if out.Kind != scheduler.OutcomeBlock {
		t.Fatalf("burst end: %+v", out)
	}
	if out.Ran != 2*time.Millisecond {
		t.Fatalf("tail ran %v, want 2ms", out.Ran)
	}
	if out.BlockFor != 8*time.Millisecond {
		t.Fatalf("block interval %v, want 8ms", out.BlockFor)
	}
}

func TestRunWithoutBlockIntervalYields(t *testing.T) {
	m := fastModel()
	m.Add(1, config.TaskConfig{BurstMS: 3, SyscallsPerBurst: 7})
	tk := task.New(1, "", task.ClassBatch, task.UnrestrictedProfile(10))

	out := m.Run(context.Background(), tk, 5*time.Millisecond)
	if out.Kind != scheduler.OutcomeYield {
		t.Fatalf("blockless profile produced %+v", out)
	}
	if out.Syscalls != 7 {
		t.Fatalf("syscalls on burst completion = %d, want 7", out.Syscalls)
	}
}

func TestUnknownTaskExits(t *testing.T) {
	m := fastModel()
	tk := task.New(9, "", task.ClassBatch, task.UnrestrictedProfile(10))
	out := m.Run(context.Background(), tk, 5*time.Millisecond)
	if out.Kind != scheduler.OutcomeExit {
		t.Fatalf("unregistered task produced %+v", out)
	}
}

func TestPopulateExpandsCounts(t *testing.T) {
	cfg := &config.Config{
		Scheduler: config.SchedulerInfo{
			Name: "test", LogLevel: "error", Cores: 2, QuantumMS: 5,
			QueueCapacity: 64, MaxT: 1, UtilizationCeiling: 0.7, TrustFloor: 0.4,
		},
		Tasks: map[string]config.TaskConfig{
			"crunch": {Class: "batch", Count: 3, BurstMS: 10},
		},
	}
	s, err := scheduler.New(cfg, scheduler.Options{})
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	m := fastModel()
	ids, err := m.Populate(s, cfg)
	if err != nil {
		t.Fatalf("Populate: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("populated %d tasks, want 3", len(ids))
	}
	if s.LiveTasks() != 3 {
		t.Fatalf("scheduler registered %d tasks, want 3", s.LiveTasks())
	}
}
