// Package entity holds the timestamps shared by persisted bridge objects.
package entity

import "time"

// Entity is embedded by pairs and dead-letter entries.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns an Entity with both timestamps set to the current UTC time.
func New() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch advances UpdatedAt to now, keeping CreatedAt.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
