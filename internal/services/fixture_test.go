package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/civicplus/grievance-engine/internal/geo"
	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/civicplus/grievance-engine/internal/notify"
	"github.com/civicplus/grievance-engine/internal/queue"
	"github.com/civicplus/grievance-engine/internal/scoring"
	"github.com/civicplus/grievance-engine/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Ward 5 spans lng 75.99-76.00, ward 6 lng 76.00-76.01, both lat 9.99-10.00
const testWards = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "properties": {"ward": 5, "name": "Market"},
      "geometry": {"type": "Polygon", "coordinates": [[[75.99, 9.99], [76.0, 9.99], [76.0, 10.0], [75.99, 10.0], [75.99, 9.99]]]}
    },
    {
      "type": "Feature",
      "properties": {"ward": 6, "name": "Harbour"},
      "geometry": {"type": "Polygon", "coordinates": [[[76.0, 9.99], [76.01, 9.99], [76.01, 10.0], [76.0, 10.0], [76.0, 9.99]]]}
    }
  ]
}`

// Points in ward 5; near is about 50 m north of base
var (
	baseLat, baseLng = 9.995, 75.995
	nearLat          = 9.99545
	farLat           = 9.9995 // ~500 m north of base, still ward 5
	ward6Lng         = 76.005
)

var (
	alice = models.Identity{ID: "alice", Name: "Alice", Verified: true, HomeZone: 5}
	bob   = models.Identity{ID: "bob", Name: "Bob", Verified: true, HomeZone: 5}
	carol = models.Identity{ID: "carol", Name: "Carol", Verified: false, HomeZone: 5}
)

type fixture struct {
	store    *store.Memory
	queue    *queue.Memory
	pub      *notify.Recorder
	calc     *scoring.Calculator
	resolver *geo.Resolver
	detector *DuplicateDetector
	groups   *GroupAggregator
	svc      *GrievanceService
	review   *ReviewService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx, err := geo.ParseZoneIndex([]byte(testWards))
	require.NoError(t, err)
	return newFixtureWithResolver(geo.NewResolver(idx, zap.NewNop().Sugar()))
}

func newFixtureWithResolver(resolver *geo.Resolver) *fixture {
	logger := zap.NewNop().Sugar()
	f := &fixture{
		store:    store.NewMemory(),
		queue:    queue.NewMemory(64),
		pub:      &notify.Recorder{},
		calc:     scoring.NewCalculator(nil),
		resolver: resolver,
	}
	f.detector = NewDuplicateDetector(f.store, resolver, 0, logger)
	f.groups = NewGroupAggregator(f.store, f.calc, logger)
	f.svc = NewGrievanceService(GrievanceDeps{
		Store:      f.store,
		Resolver:   resolver,
		Detector:   f.detector,
		Groups:     f.groups,
		Limiter:    NewRateLimiter(f.store, 3, logger),
		Calculator: f.calc,
		Queue:      f.queue,
		Publisher:  f.pub,
	}, DefaultIntakeOptions(), logger)
	f.review = NewReviewService(f.store, f.groups, logger)
	return f
}

func report(description string, lat, lng float64) models.Submission {
	return models.Submission{
		Title:       "Issue",
		Description: description,
		Category:    scoring.CategoryRoadRepair,
		Lat:         lat,
		Lng:         lng,
		Address:     "Main Road",
	}
}

// imageFile stages a fake image with the given content
func imageFile(t *testing.T, content string) models.UploadedFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return models.UploadedFile{Path: path, Filename: "photo.jpg", ContentType: "image/jpeg"}
}
