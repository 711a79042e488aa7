package scheduler

import (
	"adaptsched/internal/stats"
	"adaptsched/internal/task"
)

// StatsSnapshot assembles the pull-based statistics export: recorder
// counters plus the per-core and per-class figures owned here.
func (s *Scheduler) StatsSnapshot() *stats.Snapshot {
	snap := &stats.Snapshot{}
	s.rec.Fill(snap)
	snap.ThrottleEvents = s.bw.ThrottleEvents()

	snap.PerCoreLoad = make([]float64, s.cores)
	counts := make(map[string]int, int(task.NumClasses))
	for c := task.Class(0); c < task.NumClasses; c++ {
		counts[c.String()] = 0
	}
	for i, q := range s.queues {
		snap.PerCoreLoad[i] = q.Load()
		cc := q.ClassCounts()
		for c := task.Class(0); c < task.NumClasses; c++ {
			counts[c.String()] += cc[c]
		}
	}
	snap.PerClassCounts = counts
	return snap
}

// LiveTasks reports the number of tasks in the registry.
func (s *Scheduler) LiveTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// TaskClass reports a live task's current class, for external inspection.
func (s *Scheduler) TaskClass(id task.ID) (task.Class, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return 0, false
	}
	return rec.t.Class, true
}

// CommittedUtilization reports the admission reservation on a core.
func (s *Scheduler) CommittedUtilization(core int) float64 {
	return s.adm.Committed(core)
}
