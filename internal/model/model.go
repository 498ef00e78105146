package model

import (
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

////////////////////////
// DATABASE STRUCTURES //
////////////////////////

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&DriverAllocation{},
	&BusAllocation{},
	&Credential{},
	&StudentAllocation{},
	&LatestLocation{},
}

// DriverAllocation is a row in the administrative driver roster.
// This is the primary source for resolving a driver to a publisher identity.
type DriverAllocation struct {
	gorm.Model
	Name      string `json:"name" gorm:"size:127"`
	Email     string `json:"email" gorm:"size:255;index:idx_driver_email"`
	Phone     string `json:"phone" gorm:"size:32"`
	BusNumber string `json:"busNumber" gorm:"size:32;index:idx_driver_bus_number"`
	RouteName string `json:"routeName" gorm:"size:127"`
}

func (*DriverAllocation) TableName() string {
	return "drivers_admin"
}

// BusAllocation is a row in the legacy bus-to-driver mapping. Older deployments
// keyed drivers by bus number with a free-form contact column, so both shapes
// are tolerated during resolution.
type BusAllocation struct {
	gorm.Model
	BusNumber  string `json:"busNumber" gorm:"size:32;index:idx_bus_number"`
	DriverName string `json:"driverName" gorm:"size:127"`
	Contact    string `json:"contact" gorm:"size:255"`
}

func (*BusAllocation) TableName() string {
	return "bus_driver"
}

// Credential links a login email to a stable publisher UID and role.
type Credential struct {
	gorm.Model
	Email string `json:"email" gorm:"size:255;uniqueIndex:idx_credential_email"`
	UID   string `json:"uid" gorm:"size:64;index:idx_credential_uid"`
	Role  string `json:"role" gorm:"size:32;default:driver"`
}

func (*Credential) TableName() string {
	return "credentials"
}

// StudentAllocation is a row in the student roster. Extras carries
// deployment-specific fields (guardian contacts, stop names) as JSON.
type StudentAllocation struct {
	gorm.Model
	Name      string         `json:"name" gorm:"size:127"`
	Email     string         `json:"email" gorm:"size:255;index:idx_student_email"`
	BusNumber string         `json:"busNumber" gorm:"size:32;index:idx_student_bus_number"`
	Extras    datatypes.JSON `json:"extras" gorm:"type:jsonb;default:'{}'"`
}

func (*StudentAllocation) TableName() string {
	return "students_admin"
}

// LatestLocation is the single live location slot for a publisher.
// Each publisher owns exactly one row, overwritten in place on every fix.
// A stop leaves a tombstone: null coordinates and the epoch timestamp.
type LatestLocation struct {
	PublisherID string     `json:"publisherId" gorm:"primaryKey;size:64;autoIncrement:false"`
	Lat         *float64   `json:"lat"`
	Lon         *float64   `json:"lon"`
	CapturedAt  time.Time  `json:"capturedAt" gorm:"type:timestamptz"`
	Geom        geom.Point `json:"-"` // web mercator point for map layers, empty for tombstones
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (*LatestLocation) TableName() string {
	return "drivers_latest"
}

// ResolvedPublisher is the outcome of publisher resolution: the stable
// identity a subscriber tracks, plus where it was found.
type ResolvedPublisher struct {
	PublisherID string `json:"publisherId"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	BusNumber   string `json:"busNumber"`
	Source      string `json:"source"` // drivers_admin, credentials or bus_driver
}
