package runqueue

import (
	"fmt"

	"adaptsched/internal/task"
)

// MigrateResult reports the outcome of a migration attempt. An abort is an
// expected outcome, not an error: the task stays on its source queue
// unchanged.
type MigrateResult int

const (
	MigrateMoved MigrateResult = iota
	MigrateAbortGone
	MigrateAbortDestFull
)

func (r MigrateResult) String() string {
	switch r {
	case MigrateMoved:
		return "moved"
	case MigrateAbortGone:
		return "abort_gone"
	case MigrateAbortDestFull:
		return "abort_dest_full"
	}
	return "unknown"
}

// Migrate transfers ownership of a queued task from src to dst. Both queue
// locks are taken in global core-id order to avoid deadlock, and the whole
// handoff happens under both locks: no concurrent pick on either core can
// observe the task in zero or two queues.
//
// Running, parked and already-departed tasks abort the migration. If the
// destination is full the task is reinserted into src under the same locks,
// so the abort is invisible from outside.
func Migrate(src, dst *Queue, id task.ID) (MigrateResult, error) {
	if src == dst {
		return MigrateAbortGone, fmt.Errorf("migration of task %d onto its own core %d", id, src.core)
	}

	lo, hi := src, dst
	if dst.core < src.core {
		lo, hi = dst, src
	}
	lo.mu.Lock()
	defer lo.mu.Unlock()
	hi.mu.Lock()
	defer hi.mu.Unlock()

	c, ok := src.member[id]
	if !ok {
		// Running, parked, exited or already migrated away.
		return MigrateAbortGone, nil
	}
	t := src.findInTreeLocked(c, id)
	if t == nil {
		return MigrateAbortGone, fmt.Errorf("%w: task %d tracked in %s partition but absent from tree", ErrInvariant, id, c)
	}

	if dst.capacity > 0 && dst.sizeLocked() >= dst.capacity {
		return MigrateAbortDestFull, nil
	}

	// Handoff. The Migrating state is only ever visible to the queue
	// internals; both locks are held across it.
	src.classes[c].Remove(keyFor(t))
	delete(src.member, id)
	t.State = task.StateMigrating

	t.State = task.StateRunnable
	dst.classes[t.Class].Put(keyFor(t), t)
	dst.member[id] = t.Class
	return MigrateMoved, nil
}
