// Package models - activity.go defines the append-only ActivityRecord and the ActivityView
// projection returned by recent-activity queries.
package models

import "time"

// ActivityRecord is one audit entry. It is written once and never updated or deleted.
type ActivityRecord struct {
	ID          int64     `json:"id"`
	UserID      *int64    `json:"user_id"` // nil for system actions or after the actor is deleted
	Module      string    `json:"module"`
	EntityType  string    `json:"entity_type"`
	EntityID    *int64    `json:"entity_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// ActivityView is the read projection of an ActivityRecord with the actor resolved to a
// display name ("System" when there is no actor).
type ActivityView struct {
	ID          int64     `json:"id"`
	User        string    `json:"user"`
	Module      string    `json:"app_name"`
	EntityType  string    `json:"model_name"`
	EntityID    *int64    `json:"object_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
