package haul

// Status is the lifecycle status of a transfer job.
//
// NOTE: These values are persisted in the jobs table and are part of the
// stable on-disk contract.
type Status string

const (
	// Fetch phase.
	StatusQueued     Status = "queued"
	StatusFetching   Status = "fetching"
	StatusFetchRetry Status = "fetch_retry"

	// Stage phase.
	StatusStaging    Status = "staging"
	StatusStageRetry Status = "stage_retry"

	// Push phase.
	StatusPendingPush Status = "pending_push"
	StatusPushing     Status = "pushing"
	StatusPushRetry   Status = "push_retry"

	// Terminal.
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusFetchFailed Status = "fetch_failed"
	StatusPushFailed  Status = "push_failed"
	StatusFailed      Status = "failed"
)

// Phase is a contiguous group of statuses representing one stage of work.
type Phase string

const (
	PhaseFetch    Phase = "fetch"
	PhaseStage    Phase = "stage"
	PhasePush     Phase = "push"
	PhaseTerminal Phase = "terminal"
)

// phases is the single source of truth for status classification. Every
// predicate below derives from this map so adding a status cannot leave a
// predicate behind.
var phases = map[Status]Phase{
	StatusQueued:      PhaseFetch,
	StatusFetching:    PhaseFetch,
	StatusFetchRetry:  PhaseFetch,
	StatusStaging:     PhaseStage,
	StatusStageRetry:  PhaseStage,
	StatusPendingPush: PhasePush,
	StatusPushing:     PhasePush,
	StatusPushRetry:   PhasePush,
	StatusCompleted:   PhaseTerminal,
	StatusCancelled:   PhaseTerminal,
	StatusFetchFailed: PhaseTerminal,
	StatusPushFailed:  PhaseTerminal,
	StatusFailed:      PhaseTerminal,
}

// PhaseOf classifies a status into its phase. The second return is false for
// a status outside the closed set.
func PhaseOf(s Status) (Phase, bool) {
	p, ok := phases[s]
	return p, ok
}

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	_, ok := phases[s]
	return ok
}

// Terminal reports whether s has no further transitions.
func (s Status) Terminal() bool {
	return phases[s] == PhaseTerminal
}

// FailedTerminal reports whether s is a terminal failure status.
func (s Status) FailedTerminal() bool {
	switch s {
	case StatusFetchFailed, StatusPushFailed, StatusFailed:
		return true
	}
	return false
}

// Retrying reports whether s is a retry-entry status awaiting re-execution.
func (s Status) Retrying() bool {
	switch s {
	case StatusFetchRetry, StatusStageRetry, StatusPushRetry:
		return true
	}
	return false
}

// Active reports whether s is non-terminal, i.e. work is queued or running.
func (s Status) Active() bool {
	p, ok := phases[s]
	return ok && p != PhaseTerminal
}

// RetryStatusFor returns the retry-entry status for a non-terminal phase.
// A retry always re-enters its phase through this status.
func RetryStatusFor(p Phase) Status {
	switch p {
	case PhaseStage:
		return StatusStageRetry
	case PhasePush:
		return StatusPushRetry
	default:
		return StatusFetchRetry
	}
}

// TerminalStatuses returns the terminal subset of the closed status set.
func TerminalStatuses() []Status {
	out := make([]Status, 0, 5)
	for s, p := range phases {
		if p == PhaseTerminal {
			out = append(out, s)
		}
	}
	return out
}
