package policy

import (
	"fmt"
	"time"

	"adaptsched/internal/logging"
	"adaptsched/internal/task"

	"github.com/sirupsen/logrus"
)

// TransitionKind enumerates the privileged transitions that must be
// authorized before taking effect.
type TransitionKind int

const (
	TransitionClassChange TransitionKind = iota
	TransitionPriorityElevation
	TransitionQuotaIncrease
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionClassChange:
		return "class_change"
	case TransitionPriorityElevation:
		return "priority_elevation"
	case TransitionQuotaIncrease:
		return "quota_increase"
	}
	return "unknown"
}

// Transition is a requested change to a task's execution envelope.
type Transition struct {
	Kind        TransitionKind
	TargetClass task.Class
	Priority    int
	Quota       time.Duration
	Period      time.Duration
}

// Decision is terminal for the requested transition; denial is non-fatal
// for the task, whose current profile stays untouched.
type Decision struct {
	Granted bool
	Reason  string
}

// Enforcer vets privileged transitions. It is the sole path by which a
// restricted task can change its execution envelope.
type Enforcer interface {
	Authorize(t *task.Task, req Transition) Decision
}

// ProfileEnforcer grants transitions that stay inside the task's
// restriction profile and trust standing.
type ProfileEnforcer struct {
	trustFloor float64
	logger     *logrus.Logger
}

// NewProfileEnforcer builds the default enforcer. Tasks whose trust score
// fell below trustFloor are denied every escalation.
func NewProfileEnforcer(trustFloor float64) *ProfileEnforcer {
	return &ProfileEnforcer{
		trustFloor: trustFloor,
		logger:     logging.GetSchedulerLogger(),
	}
}

func (e *ProfileEnforcer) Authorize(t *task.Task, req Transition) Decision {
	d := e.decide(t, req)
	if !d.Granted {
		e.logger.WithFields(logrus.Fields{
			"task":       t.ID,
			"transition": req.Kind.String(),
			"reason":     d.Reason,
		}).Info("Policy transition denied")
	}
	return d
}

func (e *ProfileEnforcer) decide(t *task.Task, req Transition) Decision {
	if t.Profile == nil {
		return Decision{Reason: "task has no restriction profile"}
	}
	if t.TrustScore < e.trustFloor {
		return Decision{Reason: fmt.Sprintf("trust score %.2f below floor %.2f", t.TrustScore, e.trustFloor)}
	}

	switch req.Kind {
	case TransitionClassChange:
		if req.TargetClass < 0 || req.TargetClass >= task.NumClasses {
			return Decision{Reason: "invalid target class"}
		}
		if req.TargetClass == t.Class {
			return Decision{Granted: true}
		}
		if !t.Profile.AllowsClass(req.TargetClass) {
			return Decision{Reason: fmt.Sprintf("profile forbids class %s", req.TargetClass)}
		}
		return Decision{Granted: true}

	case TransitionPriorityElevation:
		if req.Priority <= t.Priority {
			return Decision{Granted: true}
		}
		if req.Priority > t.Profile.MaxPriority() {
			return Decision{Reason: fmt.Sprintf("priority %d exceeds profile maximum %d", req.Priority, t.Profile.MaxPriority())}
		}
		return Decision{Granted: true}

	case TransitionQuotaIncrease:
		if req.Period <= 0 {
			return Decision{Reason: "quota increase without period"}
		}
		ceiling := t.Profile.QuotaCeiling()
		if ceiling > 0 && req.Quota.Seconds()/req.Period.Seconds() > ceiling {
			return Decision{Reason: fmt.Sprintf("requested quota exceeds profile ceiling %.2f", ceiling)}
		}
		return Decision{Granted: true}
	}
	return Decision{Reason: "unknown transition kind"}
}

// DenyAll denies every transition. Used to hard-freeze restricted tasks and
// as a test stub.
type DenyAll struct{}

func (DenyAll) Authorize(t *task.Task, req Transition) Decision {
	return Decision{Reason: "all transitions denied"}
}
