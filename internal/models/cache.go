package models

import (
	"encoding/json"
	"time"
)

// CachedEntity is the offline copy of one record of a collection.
type CachedEntity struct {
	EntityType EntityType      `json:"entity_type"`
	ID         string          `json:"id"`
	Data       json.RawMessage `json:"data,omitempty"`
	Pending    bool            `json:"pending"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RemoteEntity is what a remote handler returns for a create or update.
// ID is the server-assigned identifier and may differ from the local one.
type RemoteEntity struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data,omitempty"`
}
