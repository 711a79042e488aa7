package task

import "time"

// Group is a set of tasks sharing a bandwidth quota and a restriction
// profile. Consumed-time accounting is owned by the bandwidth controller;
// the fields here are the static configuration.
type Group struct {
	Name    string
	Quota   time.Duration
	Period  time.Duration
	Profile *RestrictionProfile

	// RTExempt marks a group whose admitted real-time tasks keep running
	// past quota exhaustion.
	RTExempt bool
}
