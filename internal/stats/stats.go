package stats

import (
	"sync/atomic"
	"time"

	"adaptsched/internal/features"
	"adaptsched/internal/predictor"
	"adaptsched/internal/task"
)

// Recorder accumulates scheduling decisions and outcomes and closes the
// feedback loop into the predictor. All counters are atomic; recording
// never blocks a core loop.
type Recorder struct {
	pred *predictor.Predictor

	picks            atomic.Int64
	idlePicks        atomic.Int64
	deadlineMisses   atomic.Int64
	migrations       atomic.Int64
	migrationAborts  atomic.Int64
	admissionRejects atomic.Int64
	policyDenials    atomic.Int64
	exits            atomic.Int64
	fallbacks        atomic.Int64
}

func NewRecorder(pred *predictor.Predictor) *Recorder {
	return &Recorder{pred: pred}
}

func (r *Recorder) RecordPick(idle bool) {
	if idle {
		r.idlePicks.Add(1)
	} else {
		r.picks.Add(1)
	}
}

func (r *Recorder) RecordDeadlineMiss()    { r.deadlineMisses.Add(1) }
func (r *Recorder) RecordMigration()       { r.migrations.Add(1) }
func (r *Recorder) RecordMigrationAbort()  { r.migrationAborts.Add(1) }
func (r *Recorder) RecordAdmissionReject() { r.admissionRejects.Add(1) }
func (r *Recorder) RecordPolicyDenial()    { r.policyDenials.Add(1) }
func (r *Recorder) RecordExit()            { r.exits.Add(1) }
func (r *Recorder) RecordFallback()        { r.fallbacks.Add(1) }

// RecordOutcome feeds one completed prediction/outcome pair back into the
// predictor. migratedSlowdown is zero unless the quantum followed a
// migration.
func (r *Recorder) RecordOutcome(v features.Vector, predicted task.Prediction, observed time.Duration, migrated bool, migratedSlowdown float64) {
	if r.pred == nil {
		return
	}
	r.pred.Observe(predictor.Sample{
		Features:          v,
		Predicted:         predicted.ExpectedRuntime,
		Observed:          observed,
		Migrated:          migrated,
		MigrationSlowdown: migratedSlowdown,
	})
}

// Snapshot is the pull-based statistics export consumed by external
// monitoring.
type Snapshot struct {
	TakenAt time.Time `json:"taken_at"`

	PerCoreLoad    []float64      `json:"per_core_load"`
	PerClassCounts map[string]int `json:"per_class_counts"`

	Picks              int64 `json:"picks"`
	IdlePicks          int64 `json:"idle_picks"`
	DeadlineMisses     int64 `json:"deadline_miss_count"`
	ThrottleEvents     int64 `json:"throttle_events"`
	Migrations         int64 `json:"migration_count"`
	MigrationAborts    int64 `json:"migration_aborts"`
	AdmissionRejects   int64 `json:"admission_rejects"`
	PolicyDenials      int64 `json:"policy_denials"`
	Exits              int64 `json:"exits"`
	PredictorFallbacks int64 `json:"predictor_fallbacks"`

	PredictorGeneration   uint64 `json:"predictor_generation"`
	PredictorObservations int64  `json:"predictor_observations"`
}

// Fill copies the recorder's counters into a snapshot. The caller adds the
// per-core and per-group figures it owns.
func (r *Recorder) Fill(s *Snapshot) {
	s.TakenAt = time.Now()
	s.Picks = r.picks.Load()
	s.IdlePicks = r.idlePicks.Load()
	s.DeadlineMisses = r.deadlineMisses.Load()
	s.Migrations = r.migrations.Load()
	s.MigrationAborts = r.migrationAborts.Load()
	s.AdmissionRejects = r.admissionRejects.Load()
	s.PolicyDenials = r.policyDenials.Load()
	s.Exits = r.exits.Load()
	s.PredictorFallbacks = r.fallbacks.Load()
	if r.pred != nil {
		s.PredictorGeneration = r.pred.Generation()
		s.PredictorObservations = r.pred.Observations()
	}
}

// DeadlineMisses exposes the counter for demotion bookkeeping in tests.
func (r *Recorder) DeadlineMisses() int64 { return r.deadlineMisses.Load() }

// Migrations exposes the migration counter.
func (r *Recorder) Migrations() int64 { return r.migrations.Load() }
