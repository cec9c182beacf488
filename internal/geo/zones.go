// Package geo resolves reported points to administrative wards.
//
// Ward boundaries are loaded once from a GeoJSON FeatureCollection into an
// immutable ZoneIndex. A Resolver holds the current index and can swap in a
// freshly loaded one via Reload without touching callers.
package geo

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// Feature property keys seen in municipal ward datasets
var (
	zoneNumberKeys = []string{"ward", "WARD", "ward_no"}
	zoneNameKeys   = []string{"name", "WARD_NAME", "NAME"}
)

// Point is a WGS84 coordinate
type Point struct {
	Lat float64
	Lng float64
}

func (p Point) orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

// Valid reports whether the coordinates are within WGS84 bounds
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Zone is a single ward polygon
type Zone struct {
	ID       int
	Name     string
	geometry orb.Geometry
	bound    orb.Bound
}

func (z *Zone) contains(p orb.Point) bool {
	if !z.bound.Contains(p) {
		return false
	}
	switch g := z.geometry.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, p)
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, p)
	}
	return false
}

// ZoneIndex is an immutable set of ward polygons
type ZoneIndex struct {
	zones []*Zone
}

// LoadZoneIndex reads a GeoJSON FeatureCollection from path
func LoadZoneIndex(path string) (*ZoneIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ward boundaries: %w", err)
	}
	return ParseZoneIndex(data)
}

// ParseZoneIndex builds an index from GeoJSON bytes.
// Features that are not polygons or lack a ward number are skipped.
func ParseZoneIndex(data []byte) (*ZoneIndex, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("parse ward boundaries: %w", err)
	}

	idx := &ZoneIndex{}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		switch f.Geometry.(type) {
		case orb.Polygon, orb.MultiPolygon:
		default:
			continue
		}
		id, ok := zoneNumber(f.Properties)
		if !ok {
			continue
		}
		idx.zones = append(idx.zones, &Zone{
			ID:       id,
			Name:     zoneName(f.Properties),
			geometry: f.Geometry,
			bound:    f.Geometry.Bound(),
		})
	}

	if len(idx.zones) == 0 {
		return nil, fmt.Errorf("parse ward boundaries: no ward polygons found")
	}
	return idx, nil
}

// Len returns the number of indexed zones
func (idx *ZoneIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.zones)
}

// Locate returns the first zone containing p
func (idx *ZoneIndex) Locate(p Point) (*Zone, bool) {
	if idx == nil {
		return nil, false
	}
	op := p.orb()
	for _, z := range idx.zones {
		if z.contains(op) {
			return z, true
		}
	}
	return nil, false
}

// Inside reports whether p falls within any polygon tagged with zoneID
func (idx *ZoneIndex) Inside(p Point, zoneID int) bool {
	op := p.orb()
	for _, z := range idx.zones {
		if z.ID != zoneID {
			continue
		}
		if z.contains(op) {
			return true
		}
	}
	return false
}

func zoneNumber(props geojson.Properties) (int, bool) {
	for _, k := range zoneNumberKeys {
		v, ok := props[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n), true
		case int:
			return n, true
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(n))
			if err == nil {
				return i, true
			}
		}
	}
	return 0, false
}

func zoneName(props geojson.Properties) string {
	for _, k := range zoneNameKeys {
		if s, ok := props[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
