package gormstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/campustrack/tracker/internal/model"
)

// Roster lookups backing publisher resolution. Emails are matched
// case-insensitively; bus numbers exactly.

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DriverByEmail looks the driver up in the administrative roster.
func (b *Backend) DriverByEmail(ctx context.Context, email string) (model.ResolvedPublisher, bool, error) {
	var row model.DriverAllocation
	err := b.db.WithContext(ctx).Where("lower(email) = ?", normalizeEmail(email)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ResolvedPublisher{}, false, nil
	}
	if err != nil {
		return model.ResolvedPublisher{}, false, fmt.Errorf("failed to query drivers_admin by email: %w", err)
	}
	return resolvedFromDriver(row), true, nil
}

// CredentialByEmail looks the login credential up. The credential UID is
// the preferred stable publisher identity when present.
func (b *Backend) CredentialByEmail(ctx context.Context, email string) (model.ResolvedPublisher, bool, error) {
	var row model.Credential
	err := b.db.WithContext(ctx).Where("lower(email) = ?", normalizeEmail(email)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ResolvedPublisher{}, false, nil
	}
	if err != nil {
		return model.ResolvedPublisher{}, false, fmt.Errorf("failed to query credentials by email: %w", err)
	}

	id := row.UID
	if id == "" {
		id = normalizeEmail(row.Email)
	}
	return model.ResolvedPublisher{
		PublisherID: id,
		Email:       normalizeEmail(row.Email),
		Source:      "credentials",
	}, true, nil
}

// DriverByBusNumber checks the roster first, then the legacy bus_driver
// mapping. Legacy rows carry no email, so the identity is keyed on the
// bus number itself.
func (b *Backend) DriverByBusNumber(ctx context.Context, busNumber string) (model.ResolvedPublisher, bool, error) {
	bus := strings.TrimSpace(busNumber)

	var driver model.DriverAllocation
	err := b.db.WithContext(ctx).Where("bus_number = ?", bus).First(&driver).Error
	if err == nil {
		return resolvedFromDriver(driver), true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ResolvedPublisher{}, false, fmt.Errorf("failed to query drivers_admin by bus number: %w", err)
	}

	var legacy model.BusAllocation
	err = b.db.WithContext(ctx).Where("bus_number = ?", bus).First(&legacy).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ResolvedPublisher{}, false, nil
	}
	if err != nil {
		return model.ResolvedPublisher{}, false, fmt.Errorf("failed to query bus_driver by bus number: %w", err)
	}

	return model.ResolvedPublisher{
		PublisherID: "bus_" + legacy.BusNumber,
		Name:        legacy.DriverName,
		BusNumber:   legacy.BusNumber,
		Source:      "bus_driver",
	}, true, nil
}

// StudentBusByEmail returns the bus a student is allocated to.
func (b *Backend) StudentBusByEmail(ctx context.Context, email string) (string, bool, error) {
	var row model.StudentAllocation
	err := b.db.WithContext(ctx).Where("lower(email) = ?", normalizeEmail(email)).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to query students_admin by email: %w", err)
	}
	return row.BusNumber, true, nil
}

func resolvedFromDriver(row model.DriverAllocation) model.ResolvedPublisher {
	return model.ResolvedPublisher{
		PublisherID: normalizeEmail(row.Email),
		Name:        row.Name,
		Email:       normalizeEmail(row.Email),
		BusNumber:   row.BusNumber,
		Source:      "drivers_admin",
	}
}
