package model

import "time"

// Project is a booking target mirrored from the time-registration system.
type Project struct {
	ID           int64     `json:"id"`
	ExternalID   string    `json:"external_id"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	IsActive     bool      `json:"is_active"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Task is a bookable task under a Project. ExternalID is unique per project.
type Task struct {
	ID           int64     `json:"id"`
	ProjectID    int64     `json:"project_id"`
	ExternalID   string    `json:"external_id"`
	Name         string    `json:"name"`
	IsActive     bool      `json:"is_active"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}
