package scheduler

import (
	"time"

	"adaptsched/internal/policy"
	"adaptsched/internal/task"

	"github.com/sirupsen/logrus"
)

// RequestClassChange is the syscall-intercept entry point for scheduling
// class changes. Every request goes through the policy enforcer; a denial
// leaves the task untouched. A granted move into the real-time class still
// has to pass admission control.
func (s *Scheduler) RequestClassChange(id task.ID, target task.Class) policy.Decision {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return policy.Decision{Reason: "no such task"}
	}
	t := rec.t

	d := s.enforcer.Authorize(t, policy.Transition{
		Kind:        policy.TransitionClassChange,
		TargetClass: target,
	})
	if !d.Granted {
		s.rec.RecordPolicyDenial()
		return d
	}
	if target == t.Class {
		return d
	}

	if target == task.ClassRealTime {
		if t.Budget <= 0 || t.Period <= 0 {
			return policy.Decision{Reason: "real-time class requires budget and period"}
		}
		ad := s.adm.Admit(rec.core, t.Budget, t.Period)
		if !ad.Accepted {
			s.rec.RecordAdmissionReject()
			return policy.Decision{Reason: ad.Reason}
		}
		t.Admitted = true
		t.Deadline = time.Now().Add(t.Period)
	}
	if t.Class == task.ClassRealTime && t.Admitted {
		s.adm.Release(rec.core, t.Budget, t.Period)
		t.Admitted = false
	}

	if q := s.ownerLocked(rec); q != nil {
		if err := q.Refile(id, target); err != nil {
			s.logger.WithError(err).WithField("task", id).Error("Class refile failed")
			return policy.Decision{Reason: "refile failed"}
		}
	} else {
		// Blocked task; it re-enters under the new class on wake.
		t.Class = target
	}

	s.logger.WithFields(logrus.Fields{
		"task":  id,
		"class": target.String(),
	}).Info("Class change granted")
	return d
}

// RequestPriority is the syscall-intercept entry point for priority
// elevation. Granted elevations reweight future vruntime accounting only;
// the current queue position is untouched. Level 0 is the lowest supported
// level: the derived weight must stay positive or vruntime accounting
// breaks down.
func (s *Scheduler) RequestPriority(id task.ID, level int) policy.Decision {
	if level < 0 {
		return policy.Decision{Reason: "priority level must not be negative"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return policy.Decision{Reason: "no such task"}
	}
	t := rec.t

	d := s.enforcer.Authorize(t, policy.Transition{
		Kind:     policy.TransitionPriorityElevation,
		Priority: level,
	})
	if !d.Granted {
		s.rec.RecordPolicyDenial()
		return d
	}
	t.Priority = level
	t.Weight = float64(level + 1)
	return d
}

// RequestQuotaIncrease routes a group quota change through the enforcer,
// using the group profile's ceiling. Tightening never needs approval and
// goes straight to the bandwidth controller.
func (s *Scheduler) RequestQuotaIncrease(id task.ID, quota, period time.Duration) policy.Decision {
	s.mu.Lock()
	rec, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return policy.Decision{Reason: "no such task"}
	}
	t := rec.t
	if t.Group == "" {
		return policy.Decision{Reason: "task has no group"}
	}

	d := s.enforcer.Authorize(t, policy.Transition{
		Kind:   policy.TransitionQuotaIncrease,
		Quota:  quota,
		Period: period,
	})
	if !d.Granted {
		s.rec.RecordPolicyDenial()
		return d
	}
	if err := s.bw.SetQuota(t.Group, quota); err != nil {
		return policy.Decision{Reason: err.Error()}
	}
	return d
}

// ReportAnomaly is the opaque input from the syscall layer's anomaly
// heuristics. It lowers the task's trust score; below the configured floor
// the effective restriction profile tightens. The detection logic itself
// lives outside the scheduler.
func (s *Scheduler) ReportAnomaly(id task.ID, severity float64) {
	if severity <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tasks[id]
	if !ok {
		return
	}
	t := rec.t

	t.TrustScore -= severity
	if t.TrustScore < 0 {
		t.TrustScore = 0
	}
	if t.TrustScore >= s.trustFloor {
		return
	}

	t.Profile = t.Profile.Tightened()
	s.logger.WithFields(logrus.Fields{
		"task":  id,
		"trust": t.TrustScore,
	}).Warn("Trust below floor, restriction profile tightened")

	if !t.Profile.AllowsClass(t.Class) {
		if t.Class == task.ClassRealTime && t.Admitted {
			s.adm.Release(rec.core, t.Budget, t.Period)
			t.Admitted = false
		}
		if q := s.ownerLocked(rec); q != nil {
			if err := q.Refile(id, task.ClassRestricted); err != nil {
				s.logger.WithError(err).WithField("task", id).Error("Restriction refile failed")
				return
			}
		} else {
			t.Class = task.ClassRestricted
		}
	}
}
