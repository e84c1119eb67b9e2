package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Operation is the kind of write a queued mutation replays.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether o is one of the supported operations.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpUpdate, OpDelete:
		return true
	default:
		return false
	}
}

// EntityType names a domain collection with its own remote handler.
// The set is open: any non-empty name can be queued as long as a handler
// is registered for it at sync time.
type EntityType string

const (
	EntityClientes EntityType = "clientes"
	EntityPedidos  EntityType = "pedidos"
	EntityInsumos  EntityType = "insumos"
)

// ErrorKind classifies the last failure recorded on an entry.
type ErrorKind string

const (
	ErrorKindNone          ErrorKind = ""
	ErrorKindTransient     ErrorKind = "transient"
	ErrorKindPermanent     ErrorKind = "permanent"
	ErrorKindConfiguration ErrorKind = "configuration"
)

// QueueEntry is one durable record of an attempted write.
type QueueEntry struct {
	ID            string          `json:"id"`
	Seq           int64           `json:"seq"`
	EntityType    EntityType      `json:"entity_type"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	LocalEntityID string          `json:"local_entity_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastError     string          `json:"last_error,omitempty"`
	ErrorKind     ErrorKind       `json:"error_kind,omitempty"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}

// EntityKey identifies the logical entity an entry mutates.
func (e *QueueEntry) EntityKey() string {
	return string(e.EntityType) + "/" + e.LocalEntityID
}

// NeedsAttention reports whether the entry cannot succeed without user action.
func (e *QueueEntry) NeedsAttention() bool {
	return e.ErrorKind == ErrorKindPermanent || e.ErrorKind == ErrorKindConfiguration
}

// Validate checks the fields required to replay the entry.
func (e *QueueEntry) Validate() error {
	if strings.TrimSpace(string(e.EntityType)) == "" {
		return errors.New("entity type is required")
	}
	if !e.Operation.Valid() {
		return fmt.Errorf("unsupported operation %q", e.Operation)
	}
	if e.Operation != OpCreate && strings.TrimSpace(e.LocalEntityID) == "" {
		return fmt.Errorf("%s requires a local entity id", e.Operation)
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return errors.New("payload is not valid JSON")
	}
	return nil
}

// Prepare assigns the id and creation time when they are missing and validates the entry.
func (e *QueueEntry) Prepare(now time.Time) error {
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate entry id: %w", err)
		}
		e.ID = id.String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
	return e.Validate()
}

// DiscardedEntry is a queue entry the user chose to drop after a permanent failure.
type DiscardedEntry struct {
	QueueEntry
	DiscardedAt time.Time `json:"discarded_at"`
}

// Mutation is a write intent coming from the UI.
type Mutation struct {
	EntityType    EntityType      `json:"entity_type"`
	Operation     Operation       `json:"operation"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	LocalEntityID string          `json:"local_entity_id"`
}

// Entry builds the queue entry that records m.
func (m Mutation) Entry() *QueueEntry {
	return &QueueEntry{
		EntityType:    m.EntityType,
		Operation:     m.Operation,
		Payload:       m.Payload,
		LocalEntityID: m.LocalEntityID,
	}
}
