package dispatch

import "time"

const (
	NormalTolerance   = 5 * time.Minute
	RecoveryTolerance = 120 * time.Minute

	// StuckClaimAge is how long a claim may sit untouched before it counts as stuck.
	StuckClaimAge = 10 * time.Minute
	// LongPause since the last ledger entry switches to recovery tolerance.
	LongPause = time.Hour
)

// RecoveryFacts are the observations ToleranceFor decides on.
type RecoveryFacts struct {
	StuckClaims int
	LastSent    time.Time
	HasSent     bool
}

// Recovering reports whether the campaign looks like it is coming back from
// downtime. A campaign that never sent counts as paused.
func (f RecoveryFacts) Recovering(now time.Time) bool {
	if f.StuckClaims > 0 {
		return true
	}
	return !f.HasSent || now.Sub(f.LastSent) > LongPause
}

// ToleranceFor bounds how far in the past a due item may lie and still be
// claimed.
func ToleranceFor(f RecoveryFacts, now time.Time) time.Duration {
	if f.Recovering(now) {
		return RecoveryTolerance
	}
	return NormalTolerance
}
