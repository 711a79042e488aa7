package workload

import (
	"context"
	"sync"
	"time"

	"adaptsched/internal/config"
	"adaptsched/internal/scheduler"
	"adaptsched/internal/task"
)

// profile is the synthetic behavior of one task: run bursts of a fixed
// length separated by block intervals.
type profile struct {
	burst    time.Duration
	block    time.Duration
	syscalls int

	remaining time.Duration
}

// Model is a synthetic execution model for the simulation driver: it
// consumes scheduler quanta according to per-task burst/block profiles.
// Sleep can be replaced in tests to run simulated time at full speed.
type Model struct {
	mu    sync.Mutex
	tasks map[task.ID]*profile

	// Sleep burns one quantum of simulated execution. Defaults to
	// time.Sleep.
	Sleep func(time.Duration)
}

func NewModel() *Model {
	return &Model{
		tasks: make(map[task.ID]*profile),
		Sleep: time.Sleep,
	}
}

// Add registers a task's synthetic profile.
func (m *Model) Add(id task.ID, tc config.TaskConfig) {
	burst := time.Duration(tc.BurstMS) * time.Millisecond
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id] = &profile{
		burst:     burst,
		block:     time.Duration(tc.BlockMS) * time.Millisecond,
		syscalls:  tc.SyscallsPerBurst,
		remaining: burst,
	}
}

// Run consumes up to one quantum of the task's current burst. When the
// burst completes the task blocks (if the profile has a block interval) or
// yields, and the next burst is armed.
func (m *Model) Run(ctx context.Context, t *task.Task, quantum time.Duration) scheduler.Outcome {
	m.mu.Lock()
	p, ok := m.tasks[t.ID]
	m.mu.Unlock()
	if !ok {
		return scheduler.Outcome{Kind: scheduler.OutcomeExit}
	}

	ran := quantum
	if p.remaining < ran {
		ran = p.remaining
	}
	if m.Sleep != nil && ran > 0 {
		m.Sleep(ran)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	p.remaining -= ran
	syscalls := 0
	if p.remaining <= 0 {
		p.remaining = p.burst
		syscalls = p.syscalls
		if p.block > 0 {
			return scheduler.Outcome{
				Kind:     scheduler.OutcomeBlock,
				Ran:      ran,
				Syscalls: syscalls,
				BlockFor: p.block,
			}
		}
	}
	return scheduler.Outcome{Kind: scheduler.OutcomeYield, Ran: ran, Syscalls: syscalls}
}

// Populate expands the config's task entries (honoring count) into live
// tasks on the scheduler and registers their profiles with the model.
func (m *Model) Populate(s *scheduler.Scheduler, cfg *config.Config) ([]task.ID, error) {
	var ids []task.ID
	next := task.ID(1)
	for _, tc := range cfg.Tasks {
		cls, _ := tc.ParsedClass()
		count := tc.Count
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			id := next
			next++
			m.Add(id, tc)
			err := s.TaskCreated(id, scheduler.CreateSpec{
				Group:    tc.Group,
				Class:    cls,
				Weight:   tc.Weight,
				Deadline: time.Duration(tc.DeadlineMS) * time.Millisecond,
				Budget:   time.Duration(tc.BudgetMS) * time.Millisecond,
				Period:   time.Duration(tc.PeriodMS) * time.Millisecond,
			})
			if err != nil {
				return ids, err
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
