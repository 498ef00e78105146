// Package convert provides functions to convert between GORM models and core models
package convert

import (
	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/campustrack/tracker/internal/geo"
	"github.com/campustrack/tracker/internal/model"
	"github.com/campustrack/tracker/pkg/core"
)

// CoreToLatestLocation converts a core.LocationRecord to a GORM
// model.LatestLocation. Tombstones keep null coordinates and an empty
// geometry so the row shape stays uniform.
func CoreToLatestLocation(rec core.LocationRecord) model.LatestLocation {
	row := model.LatestLocation{
		PublisherID: rec.PublisherID,
		Lat:         rec.Lat,
		Lon:         rec.Lon,
		CapturedAt:  rec.CapturedAt,
	}
	if pos, ok := rec.Position(); ok {
		row.Geom = geo.Point3857(pos)
	} else {
		row.Geom = geom.Point{}
	}
	return row
}

// LatestLocationToCore converts a GORM model.LatestLocation back to a
// core.LocationRecord. The geometry column is derived data and is not
// read back.
func LatestLocationToCore(row model.LatestLocation) core.LocationRecord {
	return core.LocationRecord{
		PublisherID: row.PublisherID,
		Lat:         row.Lat,
		Lon:         row.Lon,
		CapturedAt:  row.CapturedAt,
	}
}
