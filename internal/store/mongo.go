package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/civicplus/grievance-engine/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const grievanceCollection = "grievances"

// Mongo is a Store backed by a MongoDB collection
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.SugaredLogger
}

// OpenMongo connects to uri, ensures indexes and returns a Mongo store
func OpenMongo(ctx context.Context, uri, dbName string, logger *zap.SugaredLogger) (*Mongo, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo URI is empty")
	}
	if dbName == "" {
		dbName = "civic"
	}

	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}

	m := &Mongo{
		client: client,
		coll:   client.Database(dbName).Collection(grievanceCollection),
		logger: logger,
	}
	if err := m.ensureIndexes(cctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	logger.Infow("Connected to MongoDB", "database", dbName, "collection", grievanceCollection)
	return m, nil
}

func (s *Mongo) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "zone", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "submitter_id", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "group_id", Value: 1}}},
		{Keys: bson.D{{Key: "image_hashes", Value: 1}}},
		{Keys: bson.D{{Key: "geo", Value: "2dsphere"}}},
	})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Create implements Store
func (s *Mongo) Create(ctx context.Context, g *models.Grievance) error {
	prepare(g)
	if _, err := s.coll.InsertOne(ctx, g); err != nil {
		return fmt.Errorf("insert grievance: %w", err)
	}
	return nil
}

// Get implements Store
func (s *Mongo) Get(ctx context.Context, id string) (*models.Grievance, error) {
	var g models.Grievance
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&g)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grievance: %w", err)
	}
	return &g, nil
}

// FindCandidates implements Store
func (s *Mongo) FindCandidates(ctx context.Context, f CandidateFilter) ([]Candidate, error) {
	filter := bson.M{
		"zone":       f.Zone,
		"status":     bson.M{"$in": statusStrings(f.Statuses)},
		"created_at": bson.M{"$gte": f.Since},
	}
	opts := options.Find().
		SetProjection(bson.M{
			"group_id": 1, "submitter_id": 1, "description": 1, "location": 1,
			"image_hashes": 1, "supporter_count": 1, "created_at": 1,
		}).
		SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	var out []Candidate
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return out, nil
}

// FindGroup implements Store
func (s *Mongo) FindGroup(ctx context.Context, groupID string) ([]*models.Grievance, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return s.findMany(ctx, bson.M{"group_id": groupID}, opts)
}

// GroupHasSubmitter implements Store
func (s *Mongo) GroupHasSubmitter(ctx context.Context, groupID, submitterID string) (bool, error) {
	n, err := s.coll.CountDocuments(ctx,
		bson.M{"group_id": groupID, "submitter_id": submitterID},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("check group submitter: %w", err)
	}
	return n > 0, nil
}

// AddSupporter implements Store with a single $addToSet + $inc update guarded
// by a filter that excludes existing supporters.
func (s *Mongo) AddSupporter(ctx context.Context, leaderID, userID string) (bool, error) {
	filter := bson.M{
		"_id":          leaderID,
		"$expr":        bson.M{"$eq": bson.A{"$group_id", "$_id"}},
		"status":       bson.M{"$in": statusStrings(models.OpenStatuses)},
		"submitter_id": bson.M{"$ne": userID},
		"supporters":   bson.M{"$ne": userID},
	}
	update := bson.M{
		"$addToSet":    bson.M{"supporters": userID},
		"$inc":         bson.M{"supporter_count": 1, "upvotes": 1},
		"$currentDate": bson.M{"updated_at": true},
	}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("add supporter: %w", err)
	}
	if res.ModifiedCount == 1 {
		return true, nil
	}
	leader, err := s.Get(ctx, leaderID)
	if err != nil {
		return false, err
	}
	if !leader.Status.Open() {
		return false, ErrGroupClosed
	}
	return false, nil
}

// SetGroupSupporterCount implements Store
func (s *Mongo) SetGroupSupporterCount(ctx context.Context, groupID string, count int) error {
	_, err := s.coll.UpdateMany(ctx,
		bson.M{"group_id": groupID},
		bson.M{
			"$set":         bson.M{"supporter_count": count, "upvotes": count},
			"$currentDate": bson.M{"updated_at": true},
		},
	)
	if err != nil {
		return fmt.Errorf("set group supporter count: %w", err)
	}
	return nil
}

// SetPriority implements Store
func (s *Mongo) SetPriority(ctx context.Context, id string, priority int) error {
	return s.updateOne(ctx, "set priority", id, bson.M{
		"$set":         bson.M{"priority_score": priority},
		"$currentDate": bson.M{"updated_at": true},
	})
}

// ApplyRelevance implements Store
func (s *Mongo) ApplyRelevance(ctx context.Context, id string, p RelevancePatch) error {
	return s.updateOne(ctx, "apply relevance", id, bson.M{
		"$set": bson.M{
			"signals":           p.Signals,
			"credibility_score": p.CredibilityScore,
			"priority_score":    p.PriorityScore,
			"ai_classification": p.AIClassification,
		},
		"$currentDate": bson.M{"updated_at": true},
	})
}

// UpdateStatus implements Store
func (s *Mongo) UpdateStatus(ctx context.Context, id string, p StatusPatch, entry models.ActionEntry) error {
	set := bson.M{"status": string(p.Status)}
	if p.AssignedTo != "" {
		set["assigned_to"] = p.AssignedTo
	}
	if p.ResolvedAt != nil {
		set["resolved_at"] = *p.ResolvedAt
	}
	return s.updateOne(ctx, "update status", id, bson.M{
		"$set":         set,
		"$push":        bson.M{"action_history": entry},
		"$currentDate": bson.M{"updated_at": true},
	})
}

// CountSince implements Store
func (s *Mongo) CountSince(ctx context.Context, submitterID string, since time.Time) (int, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{
		"submitter_id": submitterID,
		"created_at":   bson.M{"$gte": since},
	})
	if err != nil {
		return 0, fmt.Errorf("count recent grievances: %w", err)
	}
	return int(n), nil
}

// CountWithStatus implements Store
func (s *Mongo) CountWithStatus(ctx context.Context, submitterID string, status models.Status) (int, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"submitter_id": submitterID, "status": string(status)})
	if err != nil {
		return 0, fmt.Errorf("count grievances by status: %w", err)
	}
	return int(n), nil
}

// ImageHashSeen implements Store
func (s *Mongo) ImageHashSeen(ctx context.Context, hashes []string) (bool, error) {
	if len(hashes) == 0 {
		return false, nil
	}
	n, err := s.coll.CountDocuments(ctx,
		bson.M{"image_hashes": bson.M{"$in": hashes}},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("check image hashes: %w", err)
	}
	return n > 0, nil
}

// List implements Store
func (s *Mongo) List(ctx context.Context, f ListFilter) ([]*models.Grievance, int, error) {
	filter := bson.M{}
	if f.Zone != nil {
		filter["zone"] = *f.Zone
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.SubmitterID != "" {
		filter["submitter_id"] = f.SubmitterID
	}

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count grievances: %w", err)
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "priority_score", Value: -1}, {Key: "created_at", Value: 1}}).
		SetLimit(int64(pageLimit(f.Limit))).
		SetSkip(int64(f.Offset))
	out, err := s.findMany(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	return out, int(total), nil
}

// StatusCounts implements Store
func (s *Mongo) StatusCounts(ctx context.Context, zone *int) (models.StatusCounts, error) {
	var counts models.StatusCounts
	match := bson.M{}
	if zone != nil {
		match["zone"] = *zone
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}

	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return counts, fmt.Errorf("status counts: %w", err)
	}
	var rows []struct {
		Status string `bson:"_id"`
		Count  int    `bson:"count"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return counts, fmt.Errorf("decode status counts: %w", err)
	}
	for _, r := range rows {
		counts.Add(models.Status(r.Status), r.Count)
	}
	return counts, nil
}

// ActiveGroups implements Store
func (s *Mongo) ActiveGroups(ctx context.Context, since time.Time) ([]string, error) {
	values, err := s.coll.Distinct(ctx, "group_id", bson.M{
		"updated_at": bson.M{"$gte": since},
		"status":     bson.M{"$in": statusStrings(models.OpenStatuses)},
	})
	if err != nil {
		return nil, fmt.Errorf("query active groups: %w", err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if id, ok := v.(string); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// Ping implements Store
func (s *Mongo) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close implements Store
func (s *Mongo) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *Mongo) updateOne(ctx context.Context, op, id string, update bson.M) error {
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Mongo) findMany(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Grievance, error) {
	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find grievances: %w", err)
	}
	var out []*models.Grievance
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode grievances: %w", err)
	}
	return out, nil
}
