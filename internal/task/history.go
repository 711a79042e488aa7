package task

import "time"

// DefaultHistoryDepth bounds the per-task event ring. Old entries are
// overwritten, never scanned out.
const DefaultHistoryDepth = 32

// EventKind distinguishes run bursts from block intervals in the history.
type EventKind int

const (
	EventRun EventKind = iota
	EventBlock
)

// HistoryEvent is one completed run burst or block interval.
type HistoryEvent struct {
	Kind     EventKind
	Duration time.Duration
	Syscalls int
	MemDelta int64
}

// History is a fixed-size ring of the most recent lifecycle events plus
// rolling sums maintained on insert, so feature extraction stays O(1).
type History struct {
	ring []HistoryEvent
	head int
	n    int

	runSum     time.Duration
	runSqSum   float64 // seconds^2
	blockSum   time.Duration
	runCount   int
	blockCount int
	syscallSum int
	memSum     int64
}

func NewHistory(depth int) *History {
	if depth <= 0 {
		depth = DefaultHistoryDepth
	}
	return &History{ring: make([]HistoryEvent, depth)}
}

// Push records an event, evicting the oldest entry once the ring is full.
// Rolling sums are adjusted for both the inserted and the evicted entry.
func (h *History) Push(ev HistoryEvent) {
	if h.n == len(h.ring) {
		h.retire(h.ring[h.head])
	} else {
		h.n++
	}
	h.ring[h.head] = ev
	h.head = (h.head + 1) % len(h.ring)
	h.admit(ev)
}

func (h *History) admit(ev HistoryEvent) {
	s := ev.Duration.Seconds()
	switch ev.Kind {
	case EventRun:
		h.runSum += ev.Duration
		h.runSqSum += s * s
		h.runCount++
	case EventBlock:
		h.blockSum += ev.Duration
		h.blockCount++
	}
	h.syscallSum += ev.Syscalls
	h.memSum += ev.MemDelta
}

func (h *History) retire(ev HistoryEvent) {
	s := ev.Duration.Seconds()
	switch ev.Kind {
	case EventRun:
		h.runSum -= ev.Duration
		h.runSqSum -= s * s
		h.runCount--
	case EventBlock:
		h.blockSum -= ev.Duration
		h.blockCount--
	}
	h.syscallSum -= ev.Syscalls
	h.memSum -= ev.MemDelta
}

// Len is the number of live entries in the ring.
func (h *History) Len() int { return h.n }

// RunCount is the number of run bursts currently in the ring.
func (h *History) RunCount() int { return h.runCount }

// MeanBurst is the mean run-burst length over the ring.
func (h *History) MeanBurst() time.Duration {
	if h.runCount == 0 {
		return 0
	}
	return h.runSum / time.Duration(h.runCount)
}

// BurstVariance is the run-burst variance in seconds squared.
func (h *History) BurstVariance() float64 {
	if h.runCount == 0 {
		return 0
	}
	mean := h.runSum.Seconds() / float64(h.runCount)
	v := h.runSqSum/float64(h.runCount) - mean*mean
	if v < 0 {
		v = 0
	}
	return v
}

// IOWaitRatio is blocked time over total accounted time.
func (h *History) IOWaitRatio() float64 {
	total := h.runSum + h.blockSum
	if total <= 0 {
		return 0
	}
	return h.blockSum.Seconds() / total.Seconds()
}

// SyscallRate is syscalls per second of run time.
func (h *History) SyscallRate() float64 {
	if h.runSum <= 0 {
		return 0
	}
	return float64(h.syscallSum) / h.runSum.Seconds()
}

// MemDelta is the net memory-footprint change over the ring, in bytes.
func (h *History) MemDelta() int64 { return h.memSum }

// WakeFrequency is block intervals per second of accounted time.
func (h *History) WakeFrequency() float64 {
	total := h.runSum + h.blockSum
	if total <= 0 {
		return 0
	}
	return float64(h.blockCount) / total.Seconds()
}
