// internal/store/gormstore/gormstore.go
package gormstore

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/campustrack/tracker/internal/model"
	"github.com/campustrack/tracker/internal/model/convert"
	"github.com/campustrack/tracker/pkg/core"
	"github.com/campustrack/tracker/pkg/streaming"
)

// Backend persists location slots in the drivers_latest table. One row per
// publisher, overwritten in place on every fix.
type Backend struct {
	db *gorm.DB

	onChange []func(streaming.RowChangePayload)
	mu       sync.RWMutex
}

// New creates a gorm-backed location store.
func New(db *gorm.DB) *Backend {
	return &Backend{db: db}
}

// Init migrates the location table.
func (b *Backend) Init() error {
	return b.db.AutoMigrate(&model.LatestLocation{})
}

// Close is a no-op; the database connection is owned by the caller.
func (b *Backend) Close() error {
	return nil
}

// Upsert writes the publisher's slot, inserting or overwriting as needed.
func (b *Backend) Upsert(ctx context.Context, rec core.LocationRecord) error {
	row := convert.CoreToLatestLocation(rec)

	existed, err := b.exists(ctx, rec.PublisherID)
	if err != nil {
		return err
	}

	err = b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "publisher_id"}},
		UpdateAll: true,
	}).Create(&row).Error
	if err != nil {
		return err
	}

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
	var row model.LatestLocation
	err := b.db.WithContext(ctx).
		Where("publisher_id = ?", publisherID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return core.LocationRecord{}, false, nil
	}
	if err != nil {
		return core.LocationRecord{}, false, err
	}
	return convert.LatestLocationToCore(row), true, nil
}

// WriteTombstone overwrites the slot with null coordinates and the epoch
// timestamp so pollers observe staleness before the delete lands.
func (b *Backend) WriteTombstone(ctx context.Context, publisherID string) error {
	return b.Upsert(ctx, core.Tombstone(publisherID))
}

// Delete removes the publisher's slot entirely.
func (b *Backend) Delete(ctx context.Context, publisherID string) error {
	res := b.db.WithContext(ctx).
		Where("publisher_id = ?", publisherID).
		Delete(&model.LatestLocation{})
	if res.Error != nil {
		return res.Error
	}

	if res.RowsAffected > 0 {
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

func (b *Backend) exists(ctx context.Context, publisherID string) (bool, error) {
	var count int64
	err := b.db.WithContext(ctx).
		Model(&model.LatestLocation{}).
		Where("publisher_id = ?", publisherID).
		Count(&count).Error
	return count > 0, err
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
