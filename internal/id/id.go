package id

import "github.com/google/uuid"

// New returns a random job identifier. Version 7 ids sort by creation time,
// which keeps the jobs primary key index append-mostly.
func New() string {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return v.String()
}
