package ratelimit

import "testing"

func TestBurstExhaustion(t *testing.T) {
	s := NewSet()

	// The trade bucket holds 4; the 5th immediate event must be refused.
	for i := 0; i < 4; i++ {
		if !s.Allow(ActionTrade) {
			t.Fatalf("event %d inside burst was refused", i)
		}
	}
	if s.Allow(ActionTrade) {
		t.Fatalf("event beyond burst was allowed")
	}
}

func TestBucketsAreIndependent(t *testing.T) {
	s := NewSet()

	for i := 0; i < 4; i++ {
		s.Allow(ActionTrade)
	}
	if !s.Allow(ActionChat) {
		t.Fatalf("exhausting trade drained the chat bucket")
	}
}

func TestSetsAreIndependent(t *testing.T) {
	a, b := NewSet(), NewSet()

	for i := 0; i < 8; i++ {
		a.Allow(ActionChat)
	}
	if !b.Allow(ActionChat) {
		t.Fatalf("one user's traffic limited another user")
	}
}

func TestUnknownActionAllowed(t *testing.T) {
	if !NewSet().Allow(Action("unpoliced")) {
		t.Fatalf("unpoliced action was refused")
	}
}
