package models

import "time"

// SyncError describes why a single entry did not sync during a pass.
type SyncError struct {
	EntryID       string     `json:"entry_id"`
	EntityType    EntityType `json:"entity_type"`
	Operation     Operation  `json:"operation"`
	LocalEntityID string     `json:"local_entity_id"`
	Kind          ErrorKind  `json:"kind"`
	Message       string     `json:"message"`
}

// SyncResult summarises one sync pass.
type SyncResult struct {
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Blocked   int           `json:"blocked"`
	Pending   int           `json:"pending"`
	Error     bool          `json:"error"`
	Errors    []SyncError   `json:"errors,omitempty"`
	Shared    bool          `json:"shared,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// AddError records a failed entry and flips the error flag.
func (r *SyncResult) AddError(entry *QueueEntry, kind ErrorKind, msg string) {
	r.Failed++
	r.Error = true
	r.Errors = append(r.Errors, SyncError{
		EntryID:       entry.ID,
		EntityType:    entry.EntityType,
		Operation:     entry.Operation,
		LocalEntityID: entry.LocalEntityID,
		Kind:          kind,
		Message:       msg,
	})
}

// ErrorsOfKind filters the recorded errors.
func (r *SyncResult) ErrorsOfKind(kind ErrorKind) []SyncError {
	var out []SyncError
	for _, e := range r.Errors {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// SubmitResult tells the UI what happened to a write.
type SubmitResult struct {
	Sent   bool          `json:"sent"`
	Queued bool          `json:"queued"`
	Entry  *QueueEntry   `json:"entry,omitempty"`
	Remote *RemoteEntity `json:"remote,omitempty"`
}

// Status is the snapshot polled by status surfaces.
type Status struct {
	Online     bool        `json:"online"`
	Pending    int         `json:"pending"`
	Durable    bool        `json:"durable"`
	Syncing    bool        `json:"syncing"`
	StoreError string      `json:"store_error,omitempty"`
	LastSyncAt *time.Time  `json:"last_sync_at,omitempty"`
	LastResult *SyncResult `json:"last_result,omitempty"`
}
