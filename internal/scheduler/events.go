package scheduler

import (
	"fmt"
	"time"

	"adaptsched/internal/features"
	"adaptsched/internal/runqueue"
	"adaptsched/internal/task"

	"github.com/sirupsen/logrus"
)

// CreateSpec carries the task-creation parameters from the process
// management layer. Deadline is relative to creation time; Budget and
// Period only matter for the real-time class.
type CreateSpec struct {
	Group    string
	Class    task.Class
	Weight   float64
	Priority int

	Deadline time.Duration
	Budget   time.Duration
	Period   time.Duration

	Affinity []int
}

// TaskCreated registers a new task and places it on a core. A real-time
// task that no core can admit is not an error: it falls back to Batch and
// the rejection is recorded.
func (s *Scheduler) TaskCreated(id task.ID, spec CreateSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.tasks[id]; dup {
		return fmt.Errorf("task %d already exists", id)
	}

	profile := task.UnrestrictedProfile(10)
	if spec.Group != "" {
		g, ok := s.groups[spec.Group]
		if !ok {
			return fmt.Errorf("task %d: unknown group %q", id, spec.Group)
		}
		profile = g.Profile
	}

	class := spec.Class
	if !profile.AllowsClass(class) {
		// Lower-trust groups cannot place tasks above their profile.
		class = task.ClassRestricted
	}

	t := task.New(id, spec.Group, class, profile)
	if spec.Weight > 0 {
		t.Weight = spec.Weight
	}
	t.Priority = spec.Priority
	t.Affinity = append([]int(nil), spec.Affinity...)

	core := s.placeLocked(t)

	if class == task.ClassRealTime {
		t.Budget = spec.Budget
		t.Period = spec.Period
		t.Deadline = time.Now().Add(spec.Deadline)
		core = s.admitLocked(t, core)
	}

	if min, ok := s.queues[core].MinVruntime(); ok {
		t.Vruntime = min
	}

	if err := s.queues[core].Enqueue(t); err != nil {
		if t.Admitted {
			s.adm.Release(core, t.Budget, t.Period)
			t.Admitted = false
		}
		return err
	}
	t.LastCore = core
	s.tasks[id] = &taskRecord{t: t, core: core}

	s.logger.WithFields(logrus.Fields{
		"task":  id,
		"group": spec.Group,
		"class": class.String(),
		"core":  core,
	}).Debug("Task created")
	return nil
}

// placeLocked picks the least-loaded core, honoring affinity hints.
func (s *Scheduler) placeLocked(t *task.Task) int {
	cores := t.Affinity
	if len(cores) == 0 {
		cores = make([]int, s.cores)
		for i := range cores {
			cores[i] = (s.place + i) % s.cores
		}
		s.place = (s.place + 1) % s.cores
	}
	best := cores[0]
	bestSize := int(^uint(0) >> 1)
	for _, c := range cores {
		if c < 0 || c >= s.cores {
			continue
		}
		if n := s.queues[c].Size(); n < bestSize {
			best = c
			bestSize = n
		}
	}
	return best
}

// admitLocked tries to admit a real-time task on its placement core, then
// on every other core. When all cores reject, the task runs as Batch.
func (s *Scheduler) admitLocked(t *task.Task, preferred int) int {
	for i := 0; i < s.cores; i++ {
		core := (preferred + i) % s.cores
		d := s.adm.Admit(core, t.Budget, t.Period)
		if d.Accepted {
			t.Admitted = true
			return core
		}
	}
	s.rec.RecordAdmissionReject()
	s.logger.WithFields(logrus.Fields{
		"task":   t.ID,
		"budget": t.Budget,
		"period": t.Period,
	}).Info("Real-time admission rejected on all cores, falling back to batch")
	t.Class = task.ClassBatch
	return preferred
}

// TaskBlocked removes a queued or throttle-parked task from its queue. A
// currently running task is untouched: blocking never cancels an in-flight
// quantum, the execution outcome reports it instead. Pulling a throttled
// task out here keeps the group unpark at period rollover from resurrecting
// a task that is still blocked.
func (s *Scheduler) TaskBlocked(id task.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.tasks[id]
	if !ok {
		return
	}
	switch rec.t.State {
	case task.StateRunnable, task.StateThrottled:
	default:
		return
	}
	if q := s.ownerLocked(rec); q != nil {
		if _, removed := q.Remove(id); removed {
			rec.t.State = task.StateBlocked
			rec.blockedAt = time.Now()
		}
	}
}

// TaskWoken returns a blocked task to its core's queue. The block interval
// enters the task history, and vruntime is re-seeded against the queue
// minimum so a long sleep does not turn into a fairness windfall.
func (s *Scheduler) TaskWoken(id task.ID) {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok || rec.t.State != task.StateBlocked {
		s.mu.Unlock()
		return
	}
	t := rec.t
	if !rec.blockedAt.IsZero() {
		features.Record(t, task.HistoryEvent{
			Kind:     task.EventBlock,
			Duration: time.Since(rec.blockedAt),
		})
		rec.blockedAt = time.Time{}
	}
	core := rec.core
	if core < 0 || core >= s.cores {
		core = s.placeLocked(t)
		rec.core = core
	}
	q := s.queues[core]
	if min, ok := q.MinVruntime(); ok && min > t.Vruntime {
		t.Vruntime = min
	}
	t.State = task.StateRunnable
	if s.bw.Throttled(t.Group, time.Now()) {
		// The group is still over quota; the task re-enters parked and
		// returns to eligibility at the next period rollover.
		t.State = task.StateThrottled
	}
	err := q.Enqueue(t)
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).WithField("task", id).Error("Failed to requeue woken task")
	}
}

// TaskExited handles an externally reported exit for a task that is not
// currently running (queued or blocked). Running tasks exit through their
// execution outcome.
func (s *Scheduler) TaskExited(id task.ID, final task.FinalStats) {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	t := rec.t
	if t.State == task.StateRunning {
		s.mu.Unlock()
		return
	}
	if q := s.ownerLocked(rec); q != nil {
		q.Remove(id)
	}
	delete(s.tasks, id)
	s.mu.Unlock()

	if t.Admitted {
		s.adm.Release(rec.core, t.Budget, t.Period)
		t.Admitted = false
	}
	t.State = task.StateExited
	s.rec.RecordExit()
	s.logger.WithFields(logrus.Fields{
		"task":    id,
		"runtime": final.CumRuntime,
	}).Debug("Task exited externally")
}

// ownerLocked locates the queue currently owning the task. The recorded
// core is a hint; migration may have moved the task since.
func (s *Scheduler) ownerLocked(rec *taskRecord) *runqueue.Queue {
	if rec.core >= 0 && rec.core < s.cores && s.queues[rec.core].Contains(rec.t.ID) {
		return s.queues[rec.core]
	}
	for i, q := range s.queues {
		if q.Contains(rec.t.ID) {
			rec.core = i
			return q
		}
	}
	return nil
}
