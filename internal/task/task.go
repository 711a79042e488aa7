package task

import (
	"time"
)

// ID identifies a task for its whole lifetime. IDs are assigned by the
// process-management layer and are never reused while the task is live.
type ID int64

// Class determines a task's scheduling treatment. The numeric order is the
// fixed pick order of the core loop: a lower value is always drained first.
type Class int

const (
	ClassRealTime Class = iota
	ClassInteractive
	ClassBatch
	ClassRestricted
	NumClasses
)

func (c Class) String() string {
	switch c {
	case ClassRealTime:
		return "realtime"
	case ClassInteractive:
		return "interactive"
	case ClassBatch:
		return "batch"
	case ClassRestricted:
		return "restricted"
	}
	return "unknown"
}

// ParseClass maps a configuration string to a Class.
func ParseClass(s string) (Class, bool) {
	switch s {
	case "realtime":
		return ClassRealTime, true
	case "interactive":
		return ClassInteractive, true
	case "batch":
		return ClassBatch, true
	case "restricted":
		return ClassRestricted, true
	}
	return 0, false
}

// State is the main lifecycle state of a task. Throttled and
// RestrictedPending are side-states: the task is still alive and owned by a
// run queue, but parked outside pick eligibility.
type State int

const (
	StateRunnable State = iota
	StateRunning
	StateBlocked
	StateExited
	StateThrottled
	StateRestrictedPending
	StateMigrating
)

func (s State) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateExited:
		return "exited"
	case StateThrottled:
		return "throttled"
	case StateRestrictedPending:
		return "restricted_pending"
	case StateMigrating:
		return "migrating"
	}
	return "unknown"
}

// IntensityClass is the predictor's coarse workload classification.
type IntensityClass int

const (
	IntensityCPUBound IntensityClass = iota
	IntensityIOBound
	IntensityMixed
)

func (i IntensityClass) String() string {
	switch i {
	case IntensityCPUBound:
		return "cpu_bound"
	case IntensityIOBound:
		return "io_bound"
	case IntensityMixed:
		return "mixed"
	}
	return "unknown"
}

// Prediction is the predictor's annotation for a task. When Confidence is
// below the configured threshold the caller must ignore the values and fall
// back to class defaults.
type Prediction struct {
	ExpectedRuntime  time.Duration
	Intensity        IntensityClass
	MigrationPenalty float64
	Confidence       float64
}

// Task is the schedulable unit. A task is owned by exactly one run queue at
// any time; ownership transfers atomically during migration. All fields are
// guarded by the owning queue's lock except where noted.
type Task struct {
	ID    ID
	Group string
	Class Class

	// Weight scales vruntime accounting for the fairness classes.
	Weight   float64
	Vruntime float64
	Priority int

	// Deadline and Budget are meaningful for the real-time class only.
	// Admitted records whether an admission reservation is currently held.
	Deadline time.Time
	Budget   time.Duration
	Period   time.Duration
	Admitted bool

	State      State
	Profile    *RestrictionProfile
	Prediction Prediction

	// TrustScore decays on anomaly reports; below the configured floor the
	// effective profile tightens. Range [0, 1].
	TrustScore float64

	Affinity   []int
	LastCore   int
	CumRuntime time.Duration

	History *History

	CreatedAt time.Time
}

// New builds a task with neutral accounting state. Weight defaults to 1 and
// trust to full.
func New(id ID, group string, class Class, profile *RestrictionProfile) *Task {
	return &Task{
		ID:         id,
		Group:      group,
		Class:      class,
		Weight:     1,
		Priority:   0,
		State:      StateRunnable,
		Profile:    profile,
		TrustScore: 1,
		LastCore:   -1,
		History:    NewHistory(DefaultHistoryDepth),
		CreatedAt:  time.Now(),
	}
}

// Charge advances the fairness accounting after the task ran for actual
// wall time. Weight is always positive for a live task.
func (t *Task) Charge(actual time.Duration) {
	t.CumRuntime += actual
	t.Vruntime += actual.Seconds() / t.Weight
}

// Utilization is the fraction of a core this real-time task reserves.
func (t *Task) Utilization() float64 {
	if t.Period <= 0 {
		return 0
	}
	return t.Budget.Seconds() / t.Period.Seconds()
}

// FinalStats is emitted to the statistics loop when a task exits.
type FinalStats struct {
	CumRuntime    time.Duration
	DeadlineMiss  bool
	ExitedAt      time.Time
	ObservedClass Class
}
