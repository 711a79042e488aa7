package bandwidth

import (
	"fmt"
	"sync"
	"time"

	"adaptsched/internal/logging"
	"adaptsched/internal/task"

	"github.com/sirupsen/logrus"
)

// groupState tracks one group's consumption within the current period.
// Consumed time is written by the owning core's loop only; the mutex guards
// the map and the throttle flag read by other components.
type groupState struct {
	group       *task.Group
	periodStart time.Time
	consumed    time.Duration
	throttled   bool
}

// Controller enforces per-group CPU-time quotas over rolling periods.
// When a group exhausts its quota its tasks leave pick eligibility until
// the period rolls over; they are never deleted.
type Controller struct {
	mu     sync.Mutex
	groups map[string]*groupState
	logger *logrus.Logger

	throttleEvents int64
}

func New() *Controller {
	return &Controller{
		groups: make(map[string]*groupState),
		logger: logging.GetSchedulerLogger(),
	}
}

// AddGroup registers a group. A group without a quota is never throttled.
func (c *Controller) AddGroup(g *task.Group, now time.Time) error {
	if g.Quota > 0 && g.Period <= 0 {
		return fmt.Errorf("group %s: quota without period", g.Name)
	}
	if g.Quota > g.Period && g.Period > 0 {
		return fmt.Errorf("group %s: quota %v exceeds period %v", g.Name, g.Quota, g.Period)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.groups[g.Name]; ok {
		return fmt.Errorf("group %s already registered", g.Name)
	}
	c.groups[g.Name] = &groupState{group: g, periodStart: now}
	return nil
}

// Charge accounts actual run time against the group and reports whether the
// group just crossed its quota. The caller (the owning core) parks the
// group's tasks when it returns true.
func (c *Controller) Charge(group string, actual time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	gs, ok := c.groups[group]
	if !ok || gs.group.Quota <= 0 {
		return false
	}
	c.rolloverLocked(gs, now)
	gs.consumed += actual
	if !gs.throttled && gs.consumed >= gs.group.Quota {
		gs.throttled = true
		c.throttleEvents++
		c.logger.WithFields(logrus.Fields{
			"group":    group,
			"consumed": gs.consumed,
			"quota":    gs.group.Quota,
		}).Info("Group throttled")
		return true
	}
	return false
}

// Expired returns the groups whose period has rolled over since they were
// throttled. The caller unparks their tasks; the two steps happen on the
// owning core's loop so tasks atomically return to eligibility there.
func (c *Controller) Expired(now time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for name, gs := range c.groups {
		if !gs.throttled {
			continue
		}
		c.rolloverLocked(gs, now)
		if !gs.throttled {
			out = append(out, name)
		}
	}
	return out
}

// rolloverLocked resets consumption exactly at period boundaries. Multiple
// elapsed periods collapse to the most recent boundary.
func (c *Controller) rolloverLocked(gs *groupState, now time.Time) {
	period := gs.group.Period
	if period <= 0 {
		return
	}
	elapsed := now.Sub(gs.periodStart)
	if elapsed < period {
		return
	}
	periods := elapsed / period
	gs.periodStart = gs.periodStart.Add(periods * period)
	gs.consumed = 0
	if gs.throttled {
		gs.throttled = false
		c.logger.WithField("group", gs.group.Name).Info("Group unthrottled at period rollover")
	}
}

// Throttled reports whether the group is currently over quota.
func (c *Controller) Throttled(group string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	gs, ok := c.groups[group]
	if !ok {
		return false
	}
	c.rolloverLocked(gs, now)
	return gs.throttled
}

// Consumed reports the group's consumption within the current period.
func (c *Controller) Consumed(group string, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	gs, ok := c.groups[group]
	if !ok {
		return 0
	}
	c.rolloverLocked(gs, now)
	return gs.consumed
}

// ThrottleEvents is the cumulative number of throttle transitions.
func (c *Controller) ThrottleEvents() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.throttleEvents
}

// TightenQuota lowers a group's quota. Loosening requires policy
// re-approval and goes through the scheduler's policy path instead.
func (c *Controller) TightenQuota(group string, quota time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	gs, ok := c.groups[group]
	if !ok {
		return fmt.Errorf("no such group %s", group)
	}
	if gs.group.Quota > 0 && quota > gs.group.Quota {
		return fmt.Errorf("group %s: quota can only be tightened without policy approval", group)
	}
	gs.group.Quota = quota
	return nil
}

// SetQuota applies a policy-approved quota change of either direction.
func (c *Controller) SetQuota(group string, quota time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	gs, ok := c.groups[group]
	if !ok {
		return fmt.Errorf("no such group %s", group)
	}
	gs.group.Quota = quota
	return nil
}
