package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"taller/internal/domain"
	"taller/internal/models"
)

// Registry maps entity types to the handlers that replay their mutations.
type Registry struct {
	mu       sync.RWMutex
	handlers map[models.EntityType]domain.EntityHandler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[models.EntityType]domain.EntityHandler)}
}

// Register adds or replaces the handler for entityType.
func (r *Registry) Register(entityType models.EntityType, h domain.EntityHandler) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[entityType] = h
	return r
}

func (r *Registry) Lookup(entityType models.EntityType) (domain.EntityHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[entityType]
	return h, ok
}

// EntityTypes lists the registered types in name order.
func (r *Registry) EntityTypes() []models.EntityType {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.EntityType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// HandlerFuncs adapts plain functions to domain.EntityHandler.
// A nil function makes the operation unsupported.
type HandlerFuncs struct {
	CreateFunc func(ctx context.Context, payload json.RawMessage) (*models.RemoteEntity, error)
	UpdateFunc func(ctx context.Context, id string, payload json.RawMessage) (*models.RemoteEntity, error)
	DeleteFunc func(ctx context.Context, id string) error
}

func (h HandlerFuncs) Create(ctx context.Context, payload json.RawMessage) (*models.RemoteEntity, error) {
	if h.CreateFunc == nil {
		return nil, fmt.Errorf("create: %w", domain.ErrUnsupportedOp)
	}
	return h.CreateFunc(ctx, payload)
}

func (h HandlerFuncs) Update(ctx context.Context, id string, payload json.RawMessage) (*models.RemoteEntity, error) {
	if h.UpdateFunc == nil {
		return nil, fmt.Errorf("update: %w", domain.ErrUnsupportedOp)
	}
	return h.UpdateFunc(ctx, id, payload)
}

func (h HandlerFuncs) Delete(ctx context.Context, id string) error {
	if h.DeleteFunc == nil {
		return fmt.Errorf("delete: %w", domain.ErrUnsupportedOp)
	}
	return h.DeleteFunc(ctx, id)
}

// call routes an entry to the matching handler method.
func call(ctx context.Context, h domain.EntityHandler, e *models.QueueEntry) (*models.RemoteEntity, error) {
	switch e.Operation {
	case models.OpCreate:
		return h.Create(ctx, e.Payload)
	case models.OpUpdate:
		return h.Update(ctx, e.LocalEntityID, e.Payload)
	case models.OpDelete:
		return nil, h.Delete(ctx, e.LocalEntityID)
	default:
		return nil, domain.Permanent(fmt.Errorf("unsupported operation %q", e.Operation))
	}
}
