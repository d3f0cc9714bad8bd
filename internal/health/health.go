// SPDX-License-Identifier: MIT

// Package health implements the per-resource health state machine. It is
// pure: state is only changed through Update, status is always derived
// from the counters, and transitions are detected by comparing snapshots.
package health

import "time"

// Status is the derived health of one resource.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Hysteresis thresholds. Entering unhealthy takes FailureThreshold
// consecutive failures; fully recovering takes RecoveryThreshold
// consecutive successes. The asymmetry is intentional: one failure
// degrades immediately, one success after failures is not yet trusted.
const (
	FailureThreshold  = 3
	RecoveryThreshold = 2
)

// State tracks consecutive outcome counters for one resource. Failures
// and Successes are mutually exclusive: any outcome resets the opposite
// counter.
type State struct {
	Failures  int       `json:"failures"`
	Successes int       `json:"successes"`
	LastCheck time.Time `json:"last_check,omitzero"`
	Status    Status    `json:"status"`
}

// Initial is the state of a never-checked resource.
func Initial() State {
	return State{Status: StatusHealthy}
}

// Update applies one check outcome and returns the new state. Status is
// recomputed from the counters, never set directly.
func Update(state State, success bool, now time.Time) State {
	if success {
		state.Failures = 0
		state.Successes++
	} else {
		state.Successes = 0
		state.Failures++
	}
	state.Status = Derive(state.Failures, state.Successes)
	state.LastCheck = now
	return state
}

// Derive computes the status for a counter pair.
func Derive(failures, successes int) Status {
	switch {
	case failures >= FailureThreshold:
		return StatusUnhealthy
	case failures > 0:
		return StatusDegraded
	case successes >= RecoveryThreshold:
		return StatusHealthy
	default:
		return StatusDegraded
	}
}

// Transition names a noteworthy status change.
type Transition string

const (
	// TransitionNone means nothing actionable happened.
	TransitionNone Transition = ""

	// TransitionUnhealthy means the resource crossed into unhealthy and
	// must be deactivated. A resource whose very first checks drive it
	// unhealthy also takes this transition: with no prior status to
	// compare against, going unhealthy always routes to deactivation.
	TransitionUnhealthy Transition = "unhealthy"

	// TransitionRecovered means an unhealthy resource is healthy again.
	// Recovery is log-only; it never reactivates a deactivated resource.
	TransitionRecovered Transition = "recovered"

	// TransitionDegraded means a healthy resource started failing.
	TransitionDegraded Transition = "degraded"
)

// DetectTransition compares two snapshots of one resource's state.
func DetectTransition(old, next State) Transition {
	switch {
	case old.LastCheck.IsZero() && next.Status == StatusUnhealthy:
		return TransitionUnhealthy
	case old.Status != StatusUnhealthy && next.Status == StatusUnhealthy:
		return TransitionUnhealthy
	case old.Status == StatusUnhealthy && next.Status == StatusHealthy:
		return TransitionRecovered
	case old.Status == StatusHealthy && next.Status == StatusDegraded && next.Failures > 0:
		// Successes below the recovery threshold also derive degraded;
		// only an actual failure is a degradation event.
		return TransitionDegraded
	default:
		return TransitionNone
	}
}
