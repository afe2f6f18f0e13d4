// Package relaxed encodes relaxed-ordering sequences: command sections that enforce a dependency by
// polling its counter with conditional branches instead of a blocking semaphore wait, so a buffer can
// be handed to the hardware before its dependencies resolve. Program order is never changed, only the
// primitive that enforces it.
package relaxed

import "github.com/vkngwrapper/dispatch/memutils"

// Inputs are everything the relaxed-ordering decision for one append depends on
type Inputs struct {
	// BackendActive is whether the submission backend has relaxed ordering switched on
	BackendActive bool
	// Stalling marks appends that wait for all prior work by nature, such as barriers
	Stalling bool
	// FirstInOrder marks the first append that establishes ordering on its list
	FirstInOrder bool
	// Dependencies is the number of outstanding dependencies the append must wait for
	Dependencies int
	// Threshold is the minimum number of dependencies that makes relaxed ordering worthwhile.
	// Values below one mean one.
	Threshold int

	// HeuristicEnabled requires HeuristicSatisfied as well
	HeuristicEnabled   bool
	HeuristicSatisfied bool
}

// Decide returns true if the append should enforce its dependencies with a relaxed-ordering section
func Decide(in Inputs) bool {
	if !in.BackendActive || in.Dependencies < 1 {
		return false
	}
	if in.Stalling && !in.FirstInOrder {
		return false
	}
	if in.Dependencies < memutils.Max(in.Threshold, 1) {
		return false
	}
	return !in.HeuristicEnabled || in.HeuristicSatisfied
}

// Heuristic counts consecutive submissions that carried dependencies. Relaxed ordering pays off once
// enough dependent work is queued to keep the hardware queue full.
type Heuristic struct {
	queueDepth  int
	consecutive int
}

func NewHeuristic(queueDepth int) *Heuristic {
	return &Heuristic{queueDepth: memutils.Max(queueDepth, 1)}
}

// Record accounts for one submission
func (h *Heuristic) Record(hasDependencies bool) {
	if !hasDependencies {
		h.consecutive = 0
		return
	}
	h.consecutive++
}

// Satisfied returns true once the configured queue depth of dependent submissions was reached
func (h *Heuristic) Satisfied() bool {
	return h.consecutive >= h.queueDepth
}

func (h *Heuristic) Reset() {
	h.consecutive = 0
}
