// internal/store/memory/memory.go
package memory

import (
	"context"
	"sync"

	"github.com/campustrack/tracker/pkg/core"
	"github.com/campustrack/tracker/pkg/streaming"
)

// Backend keeps location slots in memory. Used by tests and by the serve
// mode when no database is reachable.
type Backend struct {
	slots map[string]core.LocationRecord

	onChange []func(streaming.RowChangePayload)
	mu       sync.RWMutex
}

// New creates a new memory backend
func New() *Backend {
	return &Backend{
		slots: make(map[string]core.LocationRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// Upsert overwrites the publisher's slot with the given record.
func (b *Backend) Upsert(ctx context.Context, rec core.LocationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	_, existed := b.slots[rec.PublisherID]
	b.slots[rec.PublisherID] = rec
	b.mu.Unlock()

	kind := streaming.RowInsert
	if existed {
		kind = streaming.RowUpdate
	}
	b.notify(streaming.RowChangePayload{
		Kind:        kind,
		PublisherID: rec.PublisherID,
		Record:      &rec,
	})
	return nil
}

// Get returns the publisher's current slot.
func (b *Backend) Get(ctx context.Context, publisherID string) (core.LocationRecord, bool, error) {
	if err := ctx.Err(); err != nil {
		return core.LocationRecord{}, false, err
	}

	b.mu.RLock()
	rec, ok := b.slots[publisherID]
	b.mu.RUnlock()
	return rec, ok, nil
}

// WriteTombstone overwrites the slot with null coordinates and the epoch
// timestamp so pollers observe staleness before the delete lands.
func (b *Backend) WriteTombstone(ctx context.Context, publisherID string) error {
	return b.Upsert(ctx, core.Tombstone(publisherID))
}

// Delete removes the publisher's slot entirely.
func (b *Backend) Delete(ctx context.Context, publisherID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	_, existed := b.slots[publisherID]
	delete(b.slots, publisherID)
	b.mu.Unlock()

	if existed {
		b.notify(streaming.RowChangePayload{
			Kind:        streaming.RowDelete,
			PublisherID: publisherID,
		})
	}
	return nil
}

// OnChange registers a callback invoked after every slot mutation.
func (b *Backend) OnChange(fn func(streaming.RowChangePayload)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

// Len returns the number of live slots.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.slots)
}

func (b *Backend) notify(change streaming.RowChangePayload) {
	b.mu.RLock()
	fns := make([]func(streaming.RowChangePayload), len(b.onChange))
	copy(fns, b.onChange)
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(change)
	}
}
