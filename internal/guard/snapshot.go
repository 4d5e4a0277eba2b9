package guard

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Finder loads the current state of one resource for audit snapshots.
type Finder interface {
	FindByID(ctx context.Context, id string) (any, error)
}

// FinderFunc adapts a function to Finder.
type FinderFunc func(ctx context.Context, id string) (any, error)

// FindByID calls f.
func (f FinderFunc) FindByID(ctx context.Context, id string) (any, error) { return f(ctx, id) }

// SnapshotRegistry maps resource names to their finders. Business modules
// register at startup.
type SnapshotRegistry struct {
	mu      sync.RWMutex
	finders map[string]Finder
	logger  *zap.Logger
}

// NewSnapshotRegistry constructs an empty registry.
func NewSnapshotRegistry(logger *zap.Logger) *SnapshotRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotRegistry{finders: make(map[string]Finder), logger: logger}
}

// Register binds resource to f, replacing any earlier finder.
func (r *SnapshotRegistry) Register(resource string, f Finder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finders[resource] = f
}

// Lookup returns the snapshot or nil when unknown or on error.
func (r *SnapshotRegistry) Lookup(ctx context.Context, resource, id string) any {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	f, ok := r.finders[resource]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	v, err := f.FindByID(ctx, id)
	if err != nil {
		r.logger.Debug("snapshot lookup failed", zap.String("resource", resource), zap.String("id", id), zap.Error(err))
		return nil
	}
	return v
}
