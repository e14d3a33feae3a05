package moderation

import "time"

// maxEscalationShift caps the doubling so the duration cannot overflow for
// an address with an absurd ban history.
const maxEscalationShift = 16

// EscalationDuration returns the ban duration for an address with the given
// number of prior bans: base doubled once per prior ban.
//
//	0 prior bans -> base
//	1 prior ban  -> 2 * base
//	2 prior bans -> 4 * base
func EscalationDuration(base time.Duration, priorBans int) time.Duration {
	if priorBans < 0 {
		priorBans = 0
	}
	if priorBans > maxEscalationShift {
		priorBans = maxEscalationShift
	}
	return base << uint(priorBans)
}
