package smp

import "rvkernel/kernel/board"

// NumaNode records which harts the device tree groups under one NUMA
// domain. The scheduler never consults node membership when placing
// work -- every board this core targets today has exactly one node, so
// `leastLoadedHart`'s flat hart-count balance is already node-correct
// and cross-node placement cost has nothing to measure yet.
type NumaNode struct {
	ID    int
	Harts []uint64
}

var nodes []NumaNode

// DiscoverTopology places every hart the board description lists into a
// single NumaNode with ID 0. No NUMA affinity property of the device tree
// is read, so every hart always lands in node 0.
func DiscoverTopology() []NumaNode {
	info := board.Get()
	nodes = []NumaNode{{ID: 0}}
	for _, h := range info.Harts {
		nodes[0].Harts = append(nodes[0].Harts, h.ID)
	}
	return nodes
}

// NodeFor returns the NUMA node ID hart belongs to, or -1 if topology
// hasn't been discovered yet or hart is unknown.
func NodeFor(hart uint64) int {
	for _, n := range nodes {
		for _, h := range n.Harts {
			if h == hart {
				return n.ID
			}
		}
	}
	return -1
}
