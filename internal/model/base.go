package model

import (
	"time"

	"github.com/google/uuid"
)

// Base contains the identity and timestamp columns every table carries.
type Base struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// JSONMap is a decoded JSON object, e.g. a consultation's clinical data.
type JSONMap map[string]interface{}
