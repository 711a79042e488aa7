package balancer

import (
	"sync"
)

// Default topology costs in abstract load units. Cross-socket moves lose
// more cache state than same-socket moves.
const (
	defaultSameSocketCost  = 0.25
	defaultCrossSocketCost = 1.0
)

// CostMatrix holds per-core-pair migration cost estimates: topology
// distance scaled by the observed migration disruption. Recomputed
// periodically by the balancer, read during candidate selection; run queues
// never touch it.
type CostMatrix struct {
	mu             sync.RWMutex
	cores          int
	coresPerSocket int
	scale          float64
	cost           [][]float64
}

// NewCostMatrix builds the matrix for a flat topology of cores grouped into
// sockets. coresPerSocket <= 0 treats all cores as one socket.
func NewCostMatrix(cores, coresPerSocket int) *CostMatrix {
	if coresPerSocket <= 0 {
		coresPerSocket = cores
	}
	m := &CostMatrix{
		cores:          cores,
		coresPerSocket: coresPerSocket,
		scale:          1,
	}
	m.cost = m.compute(1)
	return m
}

func (m *CostMatrix) compute(scale float64) [][]float64 {
	cost := make([][]float64, m.cores)
	for a := 0; a < m.cores; a++ {
		cost[a] = make([]float64, m.cores)
		for b := 0; b < m.cores; b++ {
			switch {
			case a == b:
				cost[a][b] = 0
			case a/m.coresPerSocket == b/m.coresPerSocket:
				cost[a][b] = defaultSameSocketCost * scale
			default:
				cost[a][b] = defaultCrossSocketCost * scale
			}
		}
	}
	return cost
}

// Recompute rescales the matrix by the observed average migration slowdown.
// A scale of 1 is the neutral topology estimate.
func (m *CostMatrix) Recompute(scale float64) {
	if scale <= 0 {
		scale = 1
	}
	cost := m.compute(scale)
	m.mu.Lock()
	m.scale = scale
	m.cost = cost
	m.mu.Unlock()
}

// Cost is the estimated load-unit cost of moving a task from core a to b.
func (m *CostMatrix) Cost(a, b int) float64 {
	if a < 0 || b < 0 || a >= m.cores || b >= m.cores {
		return defaultCrossSocketCost
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cost[a][b]
}

// Scale is the current disruption scale, mainly for the statistics export.
func (m *CostMatrix) Scale() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scale
}
