package runqueue

import (
	"errors"
	"fmt"
	"sync"

	"adaptsched/internal/task"

	"github.com/emirpasic/gods/trees/redblacktree"
)

// ErrInvariant marks a corrupted queue state. It is fatal for the affected
// core's scheduling loop; continuing would silently break fairness.
var ErrInvariant = errors.New("run queue invariant violation")

// fairKey orders the Interactive/Batch/Restricted partitions: lowest
// vruntime first, task id as the deterministic tie-break.
type fairKey struct {
	vruntime float64
	id       task.ID
}

func fairCmp(a, b interface{}) int {
	ka := a.(fairKey)
	kb := b.(fairKey)
	switch {
	case ka.vruntime < kb.vruntime:
		return -1
	case ka.vruntime > kb.vruntime:
		return 1
	case ka.id < kb.id:
		return -1
	case ka.id > kb.id:
		return 1
	}
	return 0
}

// rtKey orders the RealTime partition: earliest deadline first, task id as
// the tie-break.
type rtKey struct {
	deadline int64 // unix nanos
	id       task.ID
}

func rtCmp(a, b interface{}) int {
	ka := a.(rtKey)
	kb := b.(rtKey)
	switch {
	case ka.deadline < kb.deadline:
		return -1
	case ka.deadline > kb.deadline:
		return 1
	case ka.id < kb.id:
		return -1
	case ka.id > kb.id:
		return 1
	}
	return 0
}

// Candidate is a value snapshot of a runnable task, safe to inspect without
// holding the queue lock. Used by the load balancer to plan migrations.
type Candidate struct {
	ID      task.ID
	Class   task.Class
	Weight  float64
	Penalty float64 // predictor migration-penalty estimate
}

// Queue is one core's run queue: a tree per scheduling class plus a parking
// area for throttled and restricted-pending tasks. A live task belongs to
// exactly one Queue; the trees, the parked map and the running slot are the
// only places it can be.
type Queue struct {
	core     int
	capacity int

	mu      sync.Mutex
	classes [task.NumClasses]*redblacktree.Tree
	member  map[task.ID]task.Class // tasks currently inside a class tree
	parked  map[task.ID]*task.Task
	running *task.Task
}

// New builds an empty queue for the given core. capacity bounds the total
// number of owned tasks; zero means unbounded.
func New(core, capacity int) *Queue {
	q := &Queue{
		core:     core,
		capacity: capacity,
		member:   make(map[task.ID]task.Class),
		parked:   make(map[task.ID]*task.Task),
	}
	for c := task.Class(0); c < task.NumClasses; c++ {
		if c == task.ClassRealTime {
			q.classes[c] = redblacktree.NewWith(rtCmp)
		} else {
			q.classes[c] = redblacktree.NewWith(fairCmp)
		}
	}
	return q
}

func (q *Queue) Core() int { return q.core }

func keyFor(t *task.Task) interface{} {
	if t.Class == task.ClassRealTime {
		return rtKey{deadline: t.Deadline.UnixNano(), id: t.ID}
	}
	return fairKey{vruntime: t.Vruntime, id: t.ID}
}

// Enqueue takes ownership of a runnable task. Throttled and
// restricted-pending tasks are accepted but parked outside pick
// eligibility. Enqueueing a task the queue already owns is an invariant
// violation.
func (q *Queue) Enqueue(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(t)
}

func (q *Queue) enqueueLocked(t *task.Task) error {
	if q.ownsLocked(t.ID) {
		return fmt.Errorf("%w: task %d enqueued twice on core %d", ErrInvariant, t.ID, q.core)
	}
	if t.Vruntime < 0 {
		return fmt.Errorf("%w: task %d has negative vruntime %f", ErrInvariant, t.ID, t.Vruntime)
	}
	if q.capacity > 0 && q.sizeLocked() >= q.capacity {
		return fmt.Errorf("queue on core %d is full (%d tasks)", q.core, q.capacity)
	}
	switch t.State {
	case task.StateThrottled, task.StateRestrictedPending:
		q.parked[t.ID] = t
	default:
		t.State = task.StateRunnable
		q.classes[t.Class].Put(keyFor(t), t)
		q.member[t.ID] = t.Class
	}
	return nil
}

func (q *Queue) ownsLocked(id task.ID) bool {
	if _, ok := q.member[id]; ok {
		return true
	}
	if _, ok := q.parked[id]; ok {
		return true
	}
	return q.running != nil && q.running.ID == id
}

func (q *Queue) sizeLocked() int {
	n := len(q.member) + len(q.parked)
	if q.running != nil {
		n++
	}
	return n
}

// Contains reports whether this queue currently owns the task.
func (q *Queue) Contains(id task.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ownsLocked(id)
}

// Size is the total number of owned tasks, including parked and running.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.sizeLocked()
}

// ClassCounts returns the number of pick-eligible tasks per class.
func (q *Queue) ClassCounts() [task.NumClasses]int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out [task.NumClasses]int
	for c := task.Class(0); c < task.NumClasses; c++ {
		out[c] = q.classes[c].Size()
	}
	return out
}

// Pick selects the next task to run: the highest-priority non-empty class
// in fixed order, then earliest deadline (RealTime) or lowest vruntime.
// The picked task leaves its tree and occupies the running slot. An empty
// queue returns (nil, nil): idle is an explicit result, not an error.
func (q *Queue) Pick() (*task.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.running != nil {
		return nil, fmt.Errorf("%w: pick on core %d while task %d is running", ErrInvariant, q.core, q.running.ID)
	}

	for c := task.Class(0); c < task.NumClasses; c++ {
		tree := q.classes[c]
		node := tree.Left()
		if node == nil {
			continue
		}
		t, ok := node.Value.(*task.Task)
		if !ok || t == nil {
			return nil, fmt.Errorf("%w: corrupted %s partition on core %d", ErrInvariant, c, q.core)
		}
		if t.Class != c {
			return nil, fmt.Errorf("%w: task %d filed under %s but has class %s", ErrInvariant, t.ID, c, t.Class)
		}
		tree.Remove(node.Key)
		delete(q.member, t.ID)
		t.State = task.StateRunning
		q.running = t
		return t, nil
	}
	return nil, nil
}

// Requeue returns the running task to its class partition, re-sorted under
// its advanced vruntime. The caller charges the task before requeueing.
func (q *Queue) Requeue(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running == nil || q.running.ID != t.ID {
		return fmt.Errorf("%w: requeue of task %d which is not running on core %d", ErrInvariant, t.ID, q.core)
	}
	q.running = nil
	t.State = task.StateRunnable
	q.classes[t.Class].Put(keyFor(t), t)
	q.member[t.ID] = t.Class
	return nil
}

// ReleaseRunning detaches the running task without requeueing it (block or
// exit). The caller takes ownership.
func (q *Queue) ReleaseRunning(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running == nil || q.running.ID != t.ID {
		return fmt.Errorf("%w: release of task %d which is not running on core %d", ErrInvariant, t.ID, q.core)
	}
	q.running = nil
	return nil
}

// Remove detaches a non-running task from the queue entirely (task exit
// while queued, or demotion re-filing by the owning core).
func (q *Queue) Remove(id task.ID) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.removeLocked(id)
}

func (q *Queue) removeLocked(id task.ID) (*task.Task, bool) {
	if c, ok := q.member[id]; ok {
		if t := q.findInTreeLocked(c, id); t != nil {
			q.classes[c].Remove(keyFor(t))
			delete(q.member, id)
			return t, true
		}
	}
	if t, ok := q.parked[id]; ok {
		delete(q.parked, id)
		return t, true
	}
	return nil, false
}

func (q *Queue) findInTreeLocked(c task.Class, id task.ID) *task.Task {
	it := q.classes[c].Iterator()
	for it.Next() {
		t := it.Value().(*task.Task)
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Refile moves a queued task into a different class partition (deadline
// demotion, granted class changes). Running or parked tasks are refiled by
// the caller on their next transition.
func (q *Queue) Refile(id task.ID, newClass task.Class) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.member[id]
	if !ok {
		if t, parked := q.parked[id]; parked {
			t.Class = newClass
			return nil
		}
		if q.running != nil && q.running.ID == id {
			q.running.Class = newClass
			return nil
		}
		return fmt.Errorf("task %d not owned by core %d", id, q.core)
	}
	t := q.findInTreeLocked(c, id)
	if t == nil {
		return fmt.Errorf("%w: task %d tracked in %s partition but absent from tree", ErrInvariant, id, c)
	}
	q.classes[c].Remove(keyFor(t))
	t.Class = newClass
	q.classes[newClass].Put(keyFor(t), t)
	q.member[id] = newClass
	return nil
}

// Park moves a queued task out of pick eligibility into the given
// side-state (Throttled or RestrictedPending). Parking a running task only
// takes effect on its next requeue; this call parks queued tasks.
func (q *Queue) Park(id task.ID, state task.State) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.member[id]
	if !ok {
		return false
	}
	t := q.findInTreeLocked(c, id)
	if t == nil {
		return false
	}
	q.classes[c].Remove(keyFor(t))
	delete(q.member, id)
	t.State = state
	q.parked[id] = t
	return true
}

// Unpark returns a parked task to its class partition.
func (q *Queue) Unpark(id task.ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.parked[id]
	if !ok {
		return false
	}
	delete(q.parked, id)
	t.State = task.StateRunnable
	q.classes[t.Class].Put(keyFor(t), t)
	q.member[t.ID] = t.Class
	return true
}

// ParkGroup parks every queued task of the given group and returns how many
// were parked. Used by the bandwidth controller on quota exhaustion.
func (q *Queue) ParkGroup(group string, state task.State) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	var ids []task.ID
	for id, c := range q.member {
		if t := q.findInTreeLocked(c, id); t != nil && t.Group == group {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		c := q.member[id]
		t := q.findInTreeLocked(c, id)
		if t == nil {
			continue
		}
		q.classes[c].Remove(keyFor(t))
		delete(q.member, id)
		t.State = state
		q.parked[id] = t
	}
	return len(ids)
}

// UnparkGroup returns every parked task of the group to pick eligibility.
func (q *Queue) UnparkGroup(group string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, t := range q.parked {
		if t.Group != group || t.State != task.StateThrottled {
			continue
		}
		delete(q.parked, id)
		t.State = task.StateRunnable
		q.classes[t.Class].Put(keyFor(t), t)
		q.member[id] = t.Class
		n++
	}
	return n
}

// MinVruntime is the smallest vruntime among queued fairness-class tasks,
// used to seed newly woken tasks so they neither starve nor dominate.
func (q *Queue) MinVruntime() (float64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	found := false
	min := 0.0
	for _, c := range []task.Class{task.ClassInteractive, task.ClassBatch, task.ClassRestricted} {
		if node := q.classes[c].Left(); node != nil {
			v := node.Key.(fairKey).vruntime
			if !found || v < min {
				min = v
				found = true
			}
		}
	}
	return min, found
}

// Load is the weighted, intensity-adjusted load of the pick-eligible tasks.
// CPU-bound tasks count fully, mixed at 0.75, I/O-bound at half.
func (q *Queue) Load() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	load := 0.0
	for c := task.Class(0); c < task.NumClasses; c++ {
		it := q.classes[c].Iterator()
		for it.Next() {
			load += loadOf(it.Value().(*task.Task))
		}
	}
	if q.running != nil {
		load += loadOf(q.running)
	}
	return load
}

func loadOf(t *task.Task) float64 {
	w := t.Weight
	switch t.Prediction.Intensity {
	case task.IntensityIOBound:
		w *= 0.5
	case task.IntensityMixed:
		w *= 0.75
	}
	return w
}

// Candidates snapshots the queued (not running, not parked, not real-time)
// tasks as plain values for migration planning. Real-time tasks are pinned
// by their admission reservation and never offered.
func (q *Queue) Candidates() []Candidate {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Candidate
	for _, c := range []task.Class{task.ClassInteractive, task.ClassBatch, task.ClassRestricted} {
		it := q.classes[c].Iterator()
		for it.Next() {
			t := it.Value().(*task.Task)
			out = append(out, Candidate{
				ID:      t.ID,
				Class:   t.Class,
				Weight:  loadOf(t),
				Penalty: t.Prediction.MigrationPenalty,
			})
		}
	}
	return out
}
