package gormstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campustrack/tracker/internal/model"
)

func newTestDirectory(t *testing.T) *Backend {
	t.Helper()

	b := newTestBackend(t)
	require.NoError(t, b.db.AutoMigrate(
		&model.DriverAllocation{},
		&model.BusAllocation{},
		&model.Credential{},
		&model.StudentAllocation{},
	))

	require.NoError(t, b.db.Create(&model.DriverAllocation{
		Name: "Asha Rao", Email: "Asha.Rao@college.edu", Phone: "99001", BusNumber: "KA-07", RouteName: "North Gate",
	}).Error)
	require.NoError(t, b.db.Create(&model.Credential{
		Email: "ravi@college.edu", UID: "uid-ravi-42", Role: "driver",
	}).Error)
	require.NoError(t, b.db.Create(&model.BusAllocation{
		BusNumber: "KA-99", DriverName: "Legacy Driver", Contact: "99002",
	}).Error)
	require.NoError(t, b.db.Create(&model.StudentAllocation{
		Name: "Student One", Email: "student@college.edu", BusNumber: "KA-07",
	}).Error)
	return b
}

func TestDirectory_DriverByEmail(t *testing.T) {
	b := newTestDirectory(t)
	ctx := context.Background()

	p, ok, err := b.DriverByEmail(ctx, "  ASHA.RAO@college.edu ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "asha.rao@college.edu", p.PublisherID)
	assert.Equal(t, "Asha Rao", p.Name)
	assert.Equal(t, "KA-07", p.BusNumber)
	assert.Equal(t, "drivers_admin", p.Source)

	_, ok, err = b.DriverByEmail(ctx, "nobody@college.edu")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirectory_CredentialByEmail(t *testing.T) {
	b := newTestDirectory(t)

	p, ok, err := b.CredentialByEmail(context.Background(), "Ravi@College.edu")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "uid-ravi-42", p.PublisherID)
	assert.Equal(t, "credentials", p.Source)
}

func TestDirectory_CredentialWithoutUID(t *testing.T) {
	b := newTestDirectory(t)
	require.NoError(t, b.db.Create(&model.Credential{Email: "nouid@college.edu"}).Error)

	p, ok, err := b.CredentialByEmail(context.Background(), "nouid@college.edu")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "nouid@college.edu", p.PublisherID)
}

func TestDirectory_DriverByBusNumber(t *testing.T) {
	b := newTestDirectory(t)
	ctx := context.Background()

	// Roster row wins over the legacy table.
	p, ok, err := b.DriverByBusNumber(ctx, "KA-07")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "drivers_admin", p.Source)
	assert.Equal(t, "asha.rao@college.edu", p.PublisherID)

	// Legacy-only bus resolves with a synthetic identity.
	p, ok, err = b.DriverByBusNumber(ctx, "KA-99")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bus_KA-99", p.PublisherID)
	assert.Equal(t, "Legacy Driver", p.Name)
	assert.Equal(t, "bus_driver", p.Source)

	_, ok, err = b.DriverByBusNumber(ctx, "KA-00")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirectory_StudentBusByEmail(t *testing.T) {
	b := newTestDirectory(t)

	bus, ok, err := b.StudentBusByEmail(context.Background(), "STUDENT@college.edu")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "KA-07", bus)

	_, ok, err = b.StudentBusByEmail(context.Background(), "ghost@college.edu")
	require.NoError(t, err)
	assert.False(t, ok)
}
