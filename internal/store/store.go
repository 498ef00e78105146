// internal/store/store.go
package store

import (
	"context"

	"github.com/campustrack/tracker/internal/model"
	"github.com/campustrack/tracker/pkg/core"
	"github.com/campustrack/tracker/pkg/streaming"
)

// Store is the interface all shared location store implementations must satisfy.
// Each publisher owns exactly one slot; Upsert overwrites it in place.
type Store interface {
	// Lifecycle
	Init() error
	Close() error

	// Slot operations. Get reports ok=false when no slot exists, which is
	// a normal observation for pollers, not an error.
	Upsert(ctx context.Context, rec core.LocationRecord) error
	Get(ctx context.Context, publisherID string) (core.LocationRecord, bool, error)
	WriteTombstone(ctx context.Context, publisherID string) error
	Delete(ctx context.Context, publisherID string) error
}

// ChangeFunc receives row change notifications from a store. It is an
// alias so backends can satisfy Notifier without importing this package.
type ChangeFunc = func(change streaming.RowChangePayload)

// Notifier is an optional interface for stores that can push row changes
// to interested parties, such as the realtime hub.
type Notifier interface {
	OnChange(fn ChangeFunc)
}

// Directory exposes the roster lookups publisher resolution walks through.
// All lookups report ok=false on a clean miss.
type Directory interface {
	// DriverByEmail checks the administrative driver roster.
	DriverByEmail(ctx context.Context, email string) (model.ResolvedPublisher, bool, error)
	// CredentialByEmail checks login credentials for a stable UID.
	CredentialByEmail(ctx context.Context, email string) (model.ResolvedPublisher, bool, error)
	// DriverByBusNumber checks the roster and the legacy bus mapping.
	DriverByBusNumber(ctx context.Context, busNumber string) (model.ResolvedPublisher, bool, error)
	// StudentBusByEmail returns the bus number a student is allocated to.
	StudentBusByEmail(ctx context.Context, email string) (string, bool, error)
}
