package engine

// Outcome is the discriminant of a FindPartner result.
type Outcome int

const (
	// OutcomeMatched: a partner was found and the pairing is live.
	OutcomeMatched Outcome = iota

	// OutcomeQueued: no partner available, the requester is now waiting.
	OutcomeQueued

	// OutcomeRejected: the request was refused without touching the queue;
	// Reason says why.
	OutcomeRejected
)

// RejectReason explains an OutcomeRejected result.
type RejectReason string

const (
	// ReasonAlreadyActive: the requester is already queued or chatting.
	// Informational, not a failure.
	ReasonAlreadyActive RejectReason = "already_active"

	// ReasonToxic: the requester's rating record excludes them from matching.
	ReasonToxic RejectReason = "toxic"

	// ReasonBlocked: the requester carries a moderation ban or freeze.
	ReasonBlocked RejectReason = "blocked"

	// ReasonQueueFull: the waiting queue is at capacity. Retryable.
	ReasonQueueFull RejectReason = "queue_full"
)

// Result is the outcome of a FindPartner call. Store failures are returned
// as errors alongside a zero Result; everything else — including "no partner
// yet" — is a valid Result, never an error.
type Result struct {
	Outcome Outcome
	Partner int64        // set when Outcome == OutcomeMatched
	Reason  RejectReason // set when Outcome == OutcomeRejected
}

// Matched builds a successful match result.
func Matched(partner int64) Result {
	return Result{Outcome: OutcomeMatched, Partner: partner}
}

// Queued builds a waiting result.
func Queued() Result {
	return Result{Outcome: OutcomeQueued}
}

// Rejected builds a refusal result.
func Rejected(reason RejectReason) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason}
}

// UserMessage returns the participant-facing explanation for a rejection.
// Internal store errors never reach participants verbatim; these strings are
// the only refusal text they see.
func (r Result) UserMessage() string {
	switch r.Reason {
	case ReasonAlreadyActive:
		return "You are already looking for a partner or in a conversation."
	case ReasonToxic:
		return "Matching is limited for your account due to repeated negative feedback."
	case ReasonBlocked:
		return "Your account is temporarily blocked from matching."
	case ReasonQueueFull:
		return "Too many people are waiting right now. Please try again in a moment."
	}
	return ""
}
