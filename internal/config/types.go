package config

import (
	"time"

	"adaptsched/internal/task"
)

type Config struct {
	Scheduler SchedulerInfo          `yaml:"scheduler"`
	Groups    map[string]GroupConfig `yaml:"groups"`
	Tasks     map[string]TaskConfig  `yaml:"tasks"`
}

type SchedulerInfo struct {
	Name           string          `yaml:"name"`
	LogLevel       string          `yaml:"log_level"`
	Cores          int             `yaml:"cores"`
	CoresPerSocket int             `yaml:"cores_per_socket"`
	QuantumMS      int             `yaml:"quantum_ms"`
	QueueCapacity  int             `yaml:"queue_capacity"`
	MaxT           int             `yaml:"max_t"`

	UtilizationCeiling float64 `yaml:"utilization_ceiling"`
	TrustFloor         float64 `yaml:"trust_floor"`

	Predictor PredictorConfig `yaml:"predictor"`
	Balancer  BalancerConfig  `yaml:"balancer"`
	Data      DataConfig      `yaml:"data"`
}

type PredictorConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	LearningRate        float64 `yaml:"learning_rate"`
	MaxStep             float64 `yaml:"max_step"`
	MinObservations     int     `yaml:"min_observations"`
}

type BalancerConfig struct {
	IntervalMS int     `yaml:"interval_ms"`
	Hysteresis float64 `yaml:"hysteresis"`
}

type DataConfig struct {
	DB DatabaseConfig `yaml:"db"`
}

type DatabaseConfig struct {
	Host   string `yaml:"host"`
	Bucket string `yaml:"bucket"`
	Org    string `yaml:"org"`
	Token  string `yaml:"token"`
}

type GroupConfig struct {
	QuotaMS      int     `yaml:"quota_ms"`
	PeriodMS     int     `yaml:"period_ms"`
	Restricted   bool    `yaml:"restricted"`
	QuotaCeiling float64 `yaml:"quota_ceiling"`
	RTExempt     bool    `yaml:"rt_exempt"`
}

// TaskConfig describes one synthetic workload entry for the simulation
// driver. Count expands it into that many identical tasks.
type TaskConfig struct {
	KeyName string `yaml:"-"`

	Group  string  `yaml:"group"`
	Class  string  `yaml:"class"`
	Weight float64 `yaml:"weight"`
	Count  int     `yaml:"count"`

	BurstMS          int `yaml:"burst_ms"`
	BlockMS          int `yaml:"block_ms"`
	SyscallsPerBurst int `yaml:"syscalls_per_burst"`

	// Real-time parameters.
	DeadlineMS int `yaml:"deadline_ms"`
	BudgetMS   int `yaml:"budget_ms"`
	PeriodMS   int `yaml:"period_ms"`
}

func (s *SchedulerInfo) Quantum() time.Duration {
	if s.QuantumMS <= 0 {
		return 5 * time.Millisecond
	}
	return time.Duration(s.QuantumMS) * time.Millisecond
}

func (s *SchedulerInfo) MaxDuration() time.Duration {
	return time.Duration(s.MaxT) * time.Second
}

func (g *GroupConfig) Quota() time.Duration {
	return time.Duration(g.QuotaMS) * time.Millisecond
}

func (g *GroupConfig) Period() time.Duration {
	return time.Duration(g.PeriodMS) * time.Millisecond
}

// BuildGroup converts a group entry to the scheduler's group model.
func (g *GroupConfig) BuildGroup(name string) *task.Group {
	var profile *task.RestrictionProfile
	if g.Restricted {
		profile = task.RestrictedDefaultProfile(g.QuotaCeiling)
	} else {
		profile = task.UnrestrictedProfile(10)
		if g.QuotaCeiling > 0 {
			profile = profile.WithQuotaCeiling(g.QuotaCeiling)
		}
	}
	return &task.Group{
		Name:     name,
		Quota:    g.Quota(),
		Period:   g.Period(),
		Profile:  profile,
		RTExempt: g.RTExempt,
	}
}

func (t *TaskConfig) ParsedClass() (task.Class, bool) {
	if t.Class == "" {
		return task.ClassBatch, true
	}
	return task.ParseClass(t.Class)
}
