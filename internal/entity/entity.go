// Package entity defines the base entity type for all hookpipe domain objects.
package entity

import "time"

// Entity is the base type embedded by all hookpipe domain objects.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an Entity with both timestamps set to the current UTC time.
func New() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch sets UpdatedAt to the current UTC time.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
