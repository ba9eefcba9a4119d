package bookings

// Status is the booking lifecycle state.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusConfirmed      Status = "confirmed"
	StatusInProgress     Status = "in_progress"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusRejected       Status = "rejected"
)

// Actor identifies who is driving a transition.
type Actor string

const (
	ActorCustomer Actor = "customer"
	ActorProvider Actor = "provider"
	ActorSystem   Actor = "system"
)

// transitions is the authoritative state graph. Anything not listed is
// rejected, never coerced.
var transitions = map[Status]map[Status]bool{
	StatusPending:        {StatusPendingPayment: true, StatusCancelled: true},
	StatusPendingPayment: {StatusCancelled: true},
	StatusPaid:           {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed:      {StatusInProgress: true, StatusCancelled: true, StatusRejected: true},
	StatusInProgress:     {StatusCompleted: true, StatusCancelled: true},
	// completed, cancelled, rejected are terminal
}

// ActiveStatuses are the states that occupy a time slot. The conflict
// guard locks rows in these states.
var ActiveStatuses = []Status{
	StatusPending,
	StatusPendingPayment,
	StatusPaid,
	StatusConfirmed,
	StatusInProgress,
}

func activeStatusStrings() []string {
	out := make([]string, len(ActiveStatuses))
	for i, s := range ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPendingPayment, StatusPaid, StatusConfirmed,
		StatusInProgress, StatusCompleted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is in the state graph.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// ActorAllowed reports whether the given actor may drive from -> to.
// The system actor covers backend and reconciler paths and may drive any
// valid transition.
func ActorAllowed(from, to Status, actor Actor) bool {
	if !CanTransition(from, to) {
		return false
	}
	if actor == ActorSystem {
		return true
	}
	switch to {
	case StatusInProgress, StatusRejected:
		return actor == ActorProvider
	case StatusCompleted:
		return actor == ActorCustomer
	case StatusConfirmed:
		return actor == ActorProvider
	case StatusCancelled:
		return actor == ActorCustomer || actor == ActorProvider
	case StatusPendingPayment:
		// issued by the authorization path on behalf of the customer
		return actor == ActorCustomer
	}
	return false
}
