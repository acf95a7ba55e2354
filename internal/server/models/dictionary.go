// Package models defines server-side data models persisted in the database.
package models

import "time"

// Dictionary is a registered case schema. Content holds the descriptor JSON
// as uploaded.
type Dictionary struct {
	ID        int64
	Name      string
	Label     string
	Content   string
	CreatedAt time.Time
	UpdatedAt time.Time
}
