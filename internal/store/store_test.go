package store_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campustrack/tracker/internal/store"
	"github.com/campustrack/tracker/internal/store/memory"
)

func TestNewStore_Memory(t *testing.T) {
	s, err := store.NewStore("memory", nil)
	require.NoError(t, err)
	assert.IsType(t, &memory.Backend{}, s)

	// Memory backend also supports change notification
	_, ok := s.(store.Notifier)
	assert.True(t, ok)
}

func TestNewStore_GormWithoutDB(t *testing.T) {
	_, err := store.NewStore("gorm", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a database handle")
}

func TestNewStore_Unknown(t *testing.T) {
	_, err := store.NewStore("redis", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown store type")
}
