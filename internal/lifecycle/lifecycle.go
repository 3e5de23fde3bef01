// Package lifecycle defines the order state machine. The transition table
// here is the single source of truth; every guarded write in the store names
// its allowed source set from this package instead of re-deriving status
// logic.
package lifecycle

// Status is an order's position in the pipeline.
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusPaid               Status = "PAID"
	StatusProcessing         Status = "PROCESSING"
	StatusAwaitingValidation Status = "AWAITING_VALIDATION"
	StatusCompleted          Status = "COMPLETED"
	StatusFailed             Status = "FAILED"
	StatusRefunded           Status = "REFUNDED"
)

// transitions lists the legal moves. PAID appears as a direct source for the
// post-generation states because the in-process pipeline may finish before
// any PROCESSING write lands.
var transitions = map[Status][]Status{
	StatusPending:            {StatusPaid, StatusFailed},
	StatusPaid:               {StatusProcessing, StatusAwaitingValidation, StatusCompleted, StatusFailed, StatusRefunded},
	StatusProcessing:         {StatusAwaitingValidation, StatusCompleted, StatusFailed, StatusRefunded},
	StatusAwaitingValidation: {StatusCompleted, StatusProcessing, StatusFailed, StatusRefunded},
	StatusFailed:             {StatusProcessing, StatusRefunded},
	StatusCompleted:          nil,
	StatusRefunded:           nil,
}

// Allowed source sets per mutating operation. Guarded writes pass one of
// these so the precondition and the mutation land in a single statement.
var (
	// SourcesPayment feeds MarkOrderPaid.
	SourcesPayment = []Status{StatusPending}

	// SourcesDispatch feeds the PAID -> PROCESSING move before dispatching
	// to the external worker.
	SourcesDispatch = []Status{StatusPaid}

	// SourcesGeneration are the states a generation result may land on.
	SourcesGeneration = []Status{StatusPaid, StatusProcessing}

	// SourcesValidation feeds operator approval and rejection.
	SourcesValidation = []Status{StatusAwaitingValidation}

	// SourcesRegenerate feeds the operator retry.
	SourcesRegenerate = []Status{StatusFailed, StatusAwaitingValidation}

	// SourcesFailure are the states an unrecoverable error can strike from.
	SourcesFailure = []Status{StatusPending, StatusPaid, StatusProcessing, StatusAwaitingValidation}
)

// Valid reports whether s is a known status.
func Valid(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s. FAILED is recoverable
// through operator regeneration and is not terminal.
func IsTerminal(s Status) bool {
	return Valid(s) && len(transitions[s]) == 0
}
