// internal/store/factory.go
package store

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/campustrack/tracker/internal/store/gormstore"
	"github.com/campustrack/tracker/internal/store/memory"
)

// NewStore creates a location store based on configuration.
// The db handle is only required for the gorm backend.
func NewStore(storeType string, db *gorm.DB) (Store, error) {
	switch storeType {
	case "gorm":
		if db == nil {
			return nil, fmt.Errorf("gorm store requires a database handle")
		}
		return gormstore.New(db), nil
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", storeType)
	}
}
