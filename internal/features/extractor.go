package features

import (
	"adaptsched/internal/task"
)

// VectorSize is the fixed width of a workload feature vector.
const VectorSize = 6

// Feature indices within a Vector.
const (
	FeatMeanBurst = iota
	FeatBurstVariance
	FeatIOWaitRatio
	FeatSyscallRate
	FeatMemDelta
	FeatWakeFrequency
)

// Vector is a fixed-size workload feature vector.
type Vector [VectorSize]float64

// Record appends a completed run burst or block interval to the task's
// history ring. The ring maintains rolling sums, so this is O(1) and the
// subsequent Extract never scans.
func Record(t *task.Task, ev task.HistoryEvent) {
	t.History.Push(ev)
}

// Extract derives the feature vector from the task's stored history. It has
// no side effects and never blocks.
func Extract(t *task.Task) Vector {
	h := t.History
	var v Vector
	if h == nil || h.Len() == 0 {
		return v
	}
	v[FeatMeanBurst] = h.MeanBurst().Seconds()
	v[FeatBurstVariance] = h.BurstVariance()
	v[FeatIOWaitRatio] = h.IOWaitRatio()
	v[FeatSyscallRate] = h.SyscallRate()
	v[FeatMemDelta] = float64(h.MemDelta()) / (1 << 20) // MiB
	v[FeatWakeFrequency] = h.WakeFrequency()
	return v
}

// SampleCount reports how many run bursts back the vector. Callers use this
// to judge whether the vector carries any signal at all.
func SampleCount(t *task.Task) int {
	if t.History == nil {
		return 0
	}
	return t.History.RunCount()
}
