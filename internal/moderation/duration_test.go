package moderation

import (
	"testing"
	"time"
)

func TestEscalationDuration(t *testing.T) {
	base := 30 * time.Minute
	cases := []struct {
		priorBans int
		expected  time.Duration
	}{
		{0, base},
		{1, 2 * base},
		{2, 4 * base},
		{3, 8 * base},
		{-1, base},
	}
	for _, tc := range cases {
		got := EscalationDuration(base, tc.priorBans)
		if got != tc.expected {
			t.Errorf("EscalationDuration(base, %d) = %v, want %v", tc.priorBans, got, tc.expected)
		}
	}
}

func TestEscalationDuration_Capped(t *testing.T) {
	base := 30 * time.Minute
	capped := EscalationDuration(base, maxEscalationShift)
	for _, prior := range []int{maxEscalationShift + 1, 100, 1 << 30} {
		got := EscalationDuration(base, prior)
		if got != capped {
			t.Errorf("EscalationDuration(base, %d) = %v, want cap %v", prior, got, capped)
		}
		if got <= 0 {
			t.Errorf("EscalationDuration(base, %d) overflowed: %v", prior, got)
		}
	}
}
