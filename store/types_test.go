package store

import "testing"

func TestValidTransitionMatrix(t *testing.T) {
	allowed := []struct{ from, to StateKind }{
		{StateQueued, StateProcessing},
		{StateQueued, StateFailed},
		{StateProcessing, StateWaitingPermission},
		{StateProcessing, StateCompleted},
		{StateProcessing, StateFailed},
		{StateWaitingPermission, StateProcessing},
		{StateWaitingPermission, StateCompleted},
		{StateWaitingPermission, StateFailed},
	}
	for _, tc := range allowed {
		if !ValidTransition(tc.from, tc.to) {
			t.Errorf("transition %s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to StateKind }{
		{StateQueued, StateCompleted},
		{StateQueued, StateWaitingPermission},
		{StateProcessing, StateQueued},
		{StateWaitingPermission, StateQueued},
		{StateCompleted, StateProcessing},
		{StateCompleted, StateQueued},
		{StateFailed, StateProcessing},
		{StateFailed, StateCompleted},
	}
	for _, tc := range denied {
		if ValidTransition(tc.from, tc.to) {
			t.Errorf("transition %s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	if !Completed("done").Terminal() {
		t.Fatalf("completed should be terminal")
	}
	if !Failed("err").Terminal() {
		t.Fatalf("failed should be terminal")
	}
	for _, s := range []State{Queued(), Processing("w"), WaitingPermission("exec", "r1", "w")} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s.Kind)
		}
	}
}
