package models

import "time"

// Identity is an enrolled person and their reference embedding.
type Identity struct {
	ID        int64     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Embedding []float32 `json:"-" db:"embedding"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
