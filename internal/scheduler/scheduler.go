package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"adaptsched/internal/admission"
	"adaptsched/internal/balancer"
	"adaptsched/internal/bandwidth"
	"adaptsched/internal/config"
	"adaptsched/internal/features"
	"adaptsched/internal/logging"
	"adaptsched/internal/policy"
	"adaptsched/internal/predictor"
	"adaptsched/internal/runqueue"
	"adaptsched/internal/stats"
	"adaptsched/internal/task"

	"github.com/sirupsen/logrus"
)

const Version = "0.3.0"

// OutcomeKind is how a quantum ended.
type OutcomeKind int

const (
	OutcomeYield OutcomeKind = iota
	OutcomeBlock
	OutcomeExit
)

// Outcome reports what the task did during its quantum.
type Outcome struct {
	Kind     OutcomeKind
	Ran      time.Duration
	Syscalls int
	MemDelta int64

	// BlockFor, when positive on a Block outcome, asks the scheduler to
	// deliver the wake event itself after that long. External process
	// management leaves it zero and calls TaskWoken directly.
	BlockFor time.Duration
}

// ExecutionModel runs a picked task for up to one quantum. The scheduler
// core is a decision engine; actual execution belongs to the surrounding
// system (or a synthetic model in simulation and tests).
type ExecutionModel interface {
	Run(ctx context.Context, t *task.Task, quantum time.Duration) Outcome
}

// taskRecord is the scheduler-wide registry entry for a live task.
type taskRecord struct {
	t         *task.Task
	core      int // queue the task was last placed on
	blockedAt time.Time
}

// Scheduler is the explicit context object tying the components together.
// There is no ambient global state: multiple independent instances can run
// side by side, which is how the tests drive it.
type Scheduler struct {
	name    string
	quantum time.Duration
	cores   int

	logger   *logrus.Logger
	queues   []*runqueue.Queue
	pred     *predictor.Predictor
	adm      *admission.Controller
	bw       *bandwidth.Controller
	enforcer policy.Enforcer
	matrix   *balancer.CostMatrix
	bal      *balancer.Balancer
	rec      *stats.Recorder
	exec     ExecutionModel

	trustFloor float64

	mu     sync.Mutex
	tasks  map[task.ID]*taskRecord
	groups map[string]*task.Group
	place  int // round-robin cursor for initial placement

	coreErrMu sync.Mutex
	coreErr   []error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options overrides individual components, mainly for tests.
type Options struct {
	Enforcer policy.Enforcer
	Exec     ExecutionModel
}

// New assembles a scheduler from configuration. Groups named in the config
// are registered with the bandwidth controller immediately.
func New(cfg *config.Config, opts Options) (*Scheduler, error) {
	si := &cfg.Scheduler
	cores := si.Cores
	if cores <= 0 {
		return nil, fmt.Errorf("scheduler requires at least one core")
	}

	pred := predictor.New(predictor.Config{
		ConfidenceThreshold: si.Predictor.ConfidenceThreshold,
		LearningRate:        si.Predictor.LearningRate,
		MaxStep:             si.Predictor.MaxStep,
		MinObservations:     si.Predictor.MinObservations,
	})
	rec := stats.NewRecorder(pred)

	queues := make([]*runqueue.Queue, cores)
	for i := range queues {
		queues[i] = runqueue.New(i, si.QueueCapacity)
	}

	matrix := balancer.NewCostMatrix(cores, si.CoresPerSocket)
	bal := balancer.New(balancer.Config{
		Interval:   time.Duration(si.Balancer.IntervalMS) * time.Millisecond,
		Hysteresis: si.Balancer.Hysteresis,
	}, queues, matrix, rec)

	enforcer := opts.Enforcer
	if enforcer == nil {
		enforcer = policy.NewProfileEnforcer(si.TrustFloor)
	}
	exec := opts.Exec
	if exec == nil {
		exec = idleExec{}
	}

	s := &Scheduler{
		name:       si.Name,
		quantum:    si.Quantum(),
		cores:      cores,
		logger:     logging.GetSchedulerLogger(),
		queues:     queues,
		pred:       pred,
		adm:        admission.New(cores, si.UtilizationCeiling),
		bw:         bandwidth.New(),
		enforcer:   enforcer,
		matrix:     matrix,
		bal:        bal,
		rec:        rec,
		exec:       exec,
		trustFloor: si.TrustFloor,
		tasks:      make(map[task.ID]*taskRecord),
		groups:     make(map[string]*task.Group),
		coreErr:    make([]error, cores),
	}

	now := time.Now()
	for name, gc := range cfg.Groups {
		g := gc.BuildGroup(name)
		if err := s.bw.AddGroup(g, now); err != nil {
			return nil, err
		}
		s.groups[name] = g
	}

	if si.LogLevel != "" {
		if err := logging.SetSchedulerLogLevel(si.LogLevel); err != nil {
			return nil, err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"name":    s.name,
		"cores":   cores,
		"quantum": s.quantum,
		"ceiling": s.adm.Ceiling(),
		"groups":  len(s.groups),
	}).Info("Scheduler initialized")

	return s, nil
}

// Start launches one loop per core, the balancer and the predictor updater.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.pred.Start(ctx)
	s.bal.Start(ctx)
	for core := 0; core < s.cores; core++ {
		s.wg.Add(1)
		go func(core int) {
			defer s.wg.Done()
			s.coreLoop(ctx, core)
		}(core)
	}
}

// Shutdown stops all loops and waits for them to drain.
func (s *Scheduler) Shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.WithField("name", s.name).Info("Scheduler stopped")
}

// CoreErr reports the fatal error that halted a core loop, if any.
func (s *Scheduler) CoreErr(core int) error {
	s.coreErrMu.Lock()
	defer s.coreErrMu.Unlock()
	if core < 0 || core >= len(s.coreErr) {
		return nil
	}
	return s.coreErr[core]
}

func (s *Scheduler) haltCore(core int, err error) {
	s.coreErrMu.Lock()
	s.coreErr[core] = err
	s.coreErrMu.Unlock()
	s.logger.WithError(err).WithField("core", core).Error("Core scheduling loop halted on invariant violation")
}

// coreLoop is the per-core scheduling loop: a bounded, non-blocking
// decision procedure around Pick, with execution delegated to the model.
func (s *Scheduler) coreLoop(ctx context.Context, core int) {
	q := s.queues[core]
	for ctx.Err() == nil {
		if !s.runOnce(ctx, core, q) {
			return
		}
	}
}

// runOnce performs one pick/run/account cycle. Returns false when the core
// must halt on an invariant violation.
func (s *Scheduler) runOnce(ctx context.Context, core int, q *runqueue.Queue) bool {
	now := time.Now()

	// Un-throttle groups whose period rolled over. The controller reports
	// each rollover once, so the observing core unparks the group on every
	// queue, not just its own.
	for _, g := range s.bw.Expired(now) {
		for _, oq := range s.queues {
			oq.UnparkGroup(g)
		}
	}

	t, err := q.Pick()
	if err != nil {
		if errors.Is(err, runqueue.ErrInvariant) {
			s.haltCore(core, err)
			return false
		}
		s.logger.WithError(err).WithField("core", core).Error("Pick failed")
		return true
	}
	if t == nil {
		s.rec.RecordPick(true)
		if !s.bal.PullFor(core) {
			sleepCtx(ctx, s.quantum/4)
		}
		return true
	}
	s.rec.RecordPick(false)

	// Deadline miss: record, release the reservation and demote to Batch.
	// The task is not dropped; it competes fairly until re-admitted.
	if t.Class == task.ClassRealTime && now.After(t.Deadline) {
		s.demoteDeadlineMiss(q, t)
		return true
	}

	// Bandwidth gate: a task whose group went over quota on another core
	// is parked instead of run.
	if s.bw.Throttled(t.Group, now) {
		if err := q.Requeue(t); err != nil {
			s.haltCore(core, err)
			return false
		}
		q.Park(t.ID, task.StateThrottled)
		return true
	}

	migrated := t.LastCore >= 0 && t.LastCore != core
	prevMean := t.History.MeanBurst()
	t.LastCore = core

	// Annotate. Below-threshold confidence means class defaults, not a
	// degraded prediction.
	v := features.Extract(t)
	pred := s.pred.Predict(v)
	if !s.pred.Usable(pred) {
		s.rec.RecordFallback()
		pred = predictor.Defaults(t.Class)
	}
	t.Prediction = pred

	out := s.exec.Run(ctx, t, s.quantum)
	if out.Ran < 0 {
		out.Ran = 0
	}
	t.Charge(out.Ran)
	features.Record(t, task.HistoryEvent{
		Kind:     task.EventRun,
		Duration: out.Ran,
		Syscalls: out.Syscalls,
		MemDelta: out.MemDelta,
	})

	slowdown := 0.0
	if migrated && prevMean > 0 && out.Ran > prevMean {
		slowdown = out.Ran.Seconds() / prevMean.Seconds()
	}
	s.rec.RecordOutcome(v, pred, out.Ran, migrated, slowdown)

	throttledNow := s.bw.Charge(t.Group, out.Ran, time.Now())

	switch out.Kind {
	case OutcomeYield:
		if t.Class == task.ClassRealTime {
			s.advanceDeadline(t)
		}
		if err := q.Requeue(t); err != nil {
			s.haltCore(core, err)
			return false
		}
	case OutcomeBlock:
		if err := q.ReleaseRunning(t); err != nil {
			s.haltCore(core, err)
			return false
		}
		s.mu.Lock()
		if rec, ok := s.tasks[t.ID]; ok {
			t.State = task.StateBlocked
			rec.core = core
			rec.blockedAt = time.Now()
		}
		s.mu.Unlock()
		if out.BlockFor > 0 {
			id := t.ID
			time.AfterFunc(out.BlockFor, func() { s.TaskWoken(id) })
		}
	case OutcomeExit:
		if err := q.ReleaseRunning(t); err != nil {
			s.haltCore(core, err)
			return false
		}
		s.finishTask(t)
	}

	if throttledNow {
		q.ParkGroup(t.Group, task.StateThrottled)
	}
	return true
}

// advanceDeadline moves a periodic real-time task to its next release.
func (s *Scheduler) advanceDeadline(t *task.Task) {
	if t.Period <= 0 {
		return
	}
	t.Deadline = t.Deadline.Add(t.Period)
	if now := time.Now(); t.Deadline.Before(now) {
		t.Deadline = now.Add(t.Period)
	}
}

func (s *Scheduler) demoteDeadlineMiss(q *runqueue.Queue, t *task.Task) {
	s.rec.RecordDeadlineMiss()
	if t.Admitted {
		s.adm.Release(t.LastCore, t.Budget, t.Period)
		t.Admitted = false
	}
	s.logger.WithFields(logrus.Fields{
		"task":     t.ID,
		"deadline": t.Deadline,
	}).Warn("Deadline missed, demoting to batch")
	t.Class = task.ClassBatch
	if err := q.Requeue(t); err != nil {
		s.haltCore(q.Core(), err)
	}
}

// finishTask emits final stats and removes the task from the registry.
func (s *Scheduler) finishTask(t *task.Task) {
	if t.Admitted {
		s.adm.Release(t.LastCore, t.Budget, t.Period)
		t.Admitted = false
	}
	t.State = task.StateExited
	s.rec.RecordExit()

	s.mu.Lock()
	delete(s.tasks, t.ID)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"task":    t.ID,
		"runtime": t.CumRuntime,
		"class":   t.Class.String(),
	}).Debug("Task exited")
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// idleExec is the no-op execution model used when none is injected: every
// quantum reports a full run and a yield. Useful for pure decision tests.
type idleExec struct{}

func (idleExec) Run(ctx context.Context, t *task.Task, quantum time.Duration) Outcome {
	return Outcome{Kind: OutcomeYield, Ran: quantum}
}
