package domain

import "time"

// Subject is an end user on whose behalf tokens are issued. The
// authorization journey that creates subjects lives elsewhere; this
// service only checks liveness and reads roles.
type Subject struct {
	ID     string
	Active bool
	Roles  []string

	CreatedAt time.Time
	UpdatedAt time.Time
}
