package task

import (
	"testing"
	"time"
)

func TestHistoryRollingSums(t *testing.T) {
	h := NewHistory(4)

	h.Push(HistoryEvent{Kind: EventRun, Duration: 10 * time.Millisecond, Syscalls: 2})
	h.Push(HistoryEvent{Kind: EventRun, Duration: 30 * time.Millisecond, Syscalls: 4})
	h.Push(HistoryEvent{Kind: EventBlock, Duration: 40 * time.Millisecond})

	if got := h.MeanBurst(); got != 20*time.Millisecond {
		t.Fatalf("expected mean burst 20ms, got %v", got)
	}
	if got := h.IOWaitRatio(); got != 0.5 {
		t.Fatalf("expected io wait ratio 0.5, got %v", got)
	}
	if got := h.SyscallRate(); got != 150 {
		t.Fatalf("expected syscall rate 150/s, got %v", got)
	}
}

func TestHistoryEviction(t *testing.T) {
	h := NewHistory(2)

	h.Push(HistoryEvent{Kind: EventRun, Duration: 100 * time.Millisecond})
	h.Push(HistoryEvent{Kind: EventRun, Duration: 10 * time.Millisecond})
	h.Push(HistoryEvent{Kind: EventRun, Duration: 10 * time.Millisecond})

	if h.Len() != 2 {
		t.Fatalf("expected 2 live entries, got %d", h.Len())
	}
	// The 100ms burst was evicted; sums must reflect only the survivors.
	if got := h.MeanBurst(); got != 10*time.Millisecond {
		t.Fatalf("expected mean burst 10ms after eviction, got %v", got)
	}
	if v := h.BurstVariance(); v > 1e-9 {
		t.Fatalf("expected near-zero variance, got %v", v)
	}
}

func TestHistoryEmpty(t *testing.T) {
	h := NewHistory(8)
	if h.MeanBurst() != 0 || h.IOWaitRatio() != 0 || h.SyscallRate() != 0 {
		t.Fatalf("empty history must report zero aggregates")
	}
}
