package geo

import (
	"errors"
	"sync/atomic"

	orbgeo "github.com/paulmach/orb/geo"
	"go.uber.org/zap"
)

var errNoPath = errors.New("ward boundary path not configured")

// Resolver maps points to wards using the currently loaded ZoneIndex.
// A nil index means boundaries are unavailable: lookups find nothing and
// validation fails open.
type Resolver struct {
	index  atomic.Pointer[ZoneIndex]
	path   string
	logger *zap.SugaredLogger
}

// NewResolver wraps an already loaded index (may be nil)
func NewResolver(index *ZoneIndex, logger *zap.SugaredLogger) *Resolver {
	r := &Resolver{logger: logger}
	r.index.Store(index)
	return r
}

// NewResolverFromFile loads boundaries from path. A load failure is logged and
// leaves the resolver without boundaries rather than failing startup.
func NewResolverFromFile(path string, logger *zap.SugaredLogger) *Resolver {
	r := &Resolver{path: path, logger: logger}
	if err := r.Reload(); err != nil {
		logger.Warnw("Ward boundaries unavailable, zone validation fails open",
			"path", path,
			"error", err,
		)
	}
	return r
}

// Reload re-reads the boundary file and swaps the index atomically.
// On error the previous index stays in place.
func (r *Resolver) Reload() error {
	if r.path == "" {
		return errNoPath
	}
	idx, err := LoadZoneIndex(r.path)
	if err != nil {
		return err
	}
	r.index.Store(idx)
	r.logger.Infow("Ward boundaries loaded", "path", r.path, "zones", idx.Len())
	return nil
}

// Zones returns how many ward polygons are loaded
func (r *Resolver) Zones() int {
	return r.index.Load().Len()
}

// ResolveZone returns the ward containing p
func (r *Resolver) ResolveZone(p Point) (id int, name string, ok bool) {
	z, found := r.index.Load().Locate(p)
	if !found {
		return 0, "", false
	}
	return z.ID, z.Name, true
}

// ValidateInsideZone reports whether p really lies in claimedZone.
// Returns true when no boundaries are loaded.
func (r *Resolver) ValidateInsideZone(p Point, claimedZone int) bool {
	idx := r.index.Load()
	if idx.Len() == 0 {
		return true
	}
	return idx.Inside(p, claimedZone)
}

// Distance is the great-circle distance between two points in meters
func Distance(a, b Point) float64 {
	return orbgeo.DistanceHaversine(a.orb(), b.orb())
}
