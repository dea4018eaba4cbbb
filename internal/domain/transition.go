package domain

// Reasons are shown to end users verbatim.
const (
	ReasonFinalized      = "dispatch already finalized"
	ReasonSameStatus     = "already in this status"
	ReasonFullyStaffed   = "job is fully staffed"
	ReasonWorkerConflict = "worker already holds an active dispatch on another job"
	ReasonAcceptFrom     = "dispatch must be pending or notified before it can be accepted"
	ReasonNotifyFrom     = "dispatch must be requested or pending before it can be notified"
	ReasonPendingFrom    = "pending can only be set from requested or as a revert from notified"
	ReasonRequestedFrom  = "requested can only be set as a revert from notified"
	ReasonRevertDisabled = "reverting a notification is disabled"
	ReasonUnsupported    = "unsupported status"
)

// StatusOption is one row of the allowed-status table.
type StatusOption struct {
	Status   DispatchStatus `json:"status"`
	Possible bool           `json:"possible"`
	Reason   string         `json:"reason,omitempty"`
}

// TransitionFacts are the mutable external facts a transition depends on.
// They must be gathered fresh for every evaluation.
type TransitionFacts struct {
	WorkerCount       int
	AcceptedCount     int
	WorkerHasConflict bool
}

func (f TransitionFacts) hasOpenCapacity() bool {
	return f.AcceptedCount < f.WorkerCount
}

// TransitionPolicy holds the configurable parts of the transition graph.
type TransitionPolicy struct {
	// AllowRevert permits notified -> pending/requested ("withdraw offer").
	AllowRevert bool
}

func DefaultTransitionPolicy() TransitionPolicy {
	return TransitionPolicy{AllowRevert: true}
}

// EvaluateTransitions returns, for every status in enumeration order, whether
// the dispatch may move there given facts and policy.
func EvaluateTransitions(current DispatchStatus, facts TransitionFacts, policy TransitionPolicy) []StatusOption {
	options := make([]StatusOption, 0, len(allStatuses))
	for _, target := range allStatuses {
		options = append(options, evaluate(current, target, facts, policy))
	}
	return options
}

// EvaluateTransition evaluates a single target.
func EvaluateTransition(current, target DispatchStatus, facts TransitionFacts, policy TransitionPolicy) StatusOption {
	return evaluate(current, target, facts, policy)
}

// FindOption looks up target in an evaluated table.
func FindOption(options []StatusOption, target DispatchStatus) (StatusOption, bool) {
	for _, o := range options {
		if o.Status == target {
			return o, true
		}
	}
	return StatusOption{}, false
}

func evaluate(current, target DispatchStatus, facts TransitionFacts, policy TransitionPolicy) StatusOption {
	if !target.IsValid() {
		return blocked(target, ReasonUnsupported)
	}

	if current.IsTerminal() {
		if target == current {
			return allowed(target)
		}
		return blocked(target, ReasonFinalized)
	}

	if target == current {
		return blocked(target, ReasonSameStatus)
	}

	switch target {
	case StatusNotified:
		if current != StatusRequested && current != StatusPending {
			return blocked(target, ReasonNotifyFrom)
		}
		if !facts.hasOpenCapacity() {
			return blocked(target, ReasonFullyStaffed)
		}
		if facts.WorkerHasConflict {
			return blocked(target, ReasonWorkerConflict)
		}
		return allowed(target)

	case StatusAccepted:
		if current != StatusNotified && current != StatusPending {
			return blocked(target, ReasonAcceptFrom)
		}
		if !facts.hasOpenCapacity() {
			return blocked(target, ReasonFullyStaffed)
		}
		return allowed(target)

	case StatusDeclined, StatusLayoff, StatusResigned:
		return allowed(target)

	case StatusPending:
		if current == StatusRequested {
			return allowed(target)
		}
		if current == StatusNotified {
			return revert(target, policy)
		}
		return blocked(target, ReasonPendingFrom)

	case StatusRequested:
		if current == StatusNotified {
			return revert(target, policy)
		}
		return blocked(target, ReasonRequestedFrom)
	}

	return blocked(target, ReasonUnsupported)
}

func revert(target DispatchStatus, policy TransitionPolicy) StatusOption {
	if !policy.AllowRevert {
		return blocked(target, ReasonRevertDisabled)
	}
	return allowed(target)
}

func allowed(s DispatchStatus) StatusOption {
	return StatusOption{Status: s, Possible: true}
}

func blocked(s DispatchStatus, reason string) StatusOption {
	return StatusOption{Status: s, Possible: false, Reason: reason}
}
