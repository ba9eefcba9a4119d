package bookings

import "testing"

var allStatuses = []Status{
	StatusPending, StatusPendingPayment, StatusPaid, StatusConfirmed,
	StatusInProgress, StatusCompleted, StatusCancelled, StatusRejected,
}

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusPendingPayment}:   true,
		{StatusPending, StatusCancelled}:        true,
		{StatusPendingPayment, StatusCancelled}: true,
		{StatusPaid, StatusConfirmed}:           true,
		{StatusPaid, StatusCancelled}:           true,
		{StatusConfirmed, StatusInProgress}:     true,
		{StatusConfirmed, StatusCancelled}:      true,
		{StatusConfirmed, StatusRejected}:       true,
		{StatusInProgress, StatusCompleted}:     true,
		{StatusInProgress, StatusCancelled}:     true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesFrozen(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusCancelled, StatusRejected} {
		if !terminal.IsTerminal() {
			t.Errorf("%s should be terminal", terminal)
		}
		for _, to := range allStatuses {
			if CanTransition(terminal, to) {
				t.Errorf("terminal state %s allows transition to %s", terminal, to)
			}
		}
	}
}

func TestActorConstraints(t *testing.T) {
	cases := []struct {
		from, to Status
		actor    Actor
		want     bool
	}{
		// only the provider drives -> in_progress
		{StatusConfirmed, StatusInProgress, ActorProvider, true},
		{StatusConfirmed, StatusInProgress, ActorCustomer, false},
		// only the customer drives -> completed
		{StatusInProgress, StatusCompleted, ActorCustomer, true},
		{StatusInProgress, StatusCompleted, ActorProvider, false},
		// rejection is provider-only, from confirmed only
		{StatusConfirmed, StatusRejected, ActorProvider, true},
		{StatusConfirmed, StatusRejected, ActorCustomer, false},
		{StatusPaid, StatusRejected, ActorProvider, false},
		// either party may cancel
		{StatusPaid, StatusCancelled, ActorCustomer, true},
		{StatusPaid, StatusCancelled, ActorProvider, true},
		// system may drive any listed transition
		{StatusInProgress, StatusCompleted, ActorSystem, true},
		{StatusConfirmed, StatusInProgress, ActorSystem, true},
		// nothing leaves a terminal state, regardless of actor
		{StatusCompleted, StatusCancelled, ActorSystem, false},
	}
	for _, tc := range cases {
		if got := ActorAllowed(tc.from, tc.to, tc.actor); got != tc.want {
			t.Errorf("ActorAllowed(%s, %s, %s) = %v, want %v", tc.from, tc.to, tc.actor, got, tc.want)
		}
	}
}

func TestActiveStatusesExcludeTerminal(t *testing.T) {
	for _, s := range ActiveStatuses {
		if s.IsTerminal() {
			t.Errorf("active set contains terminal status %s", s)
		}
	}
	if len(ActiveStatuses) != 5 {
		t.Errorf("active set size = %d, want 5", len(ActiveStatuses))
	}
}
