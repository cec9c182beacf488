package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/civicplus/grievance-engine/internal/database"
	"github.com/civicplus/grievance-engine/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const grievanceColumns = `id, submitter_id, submitter_name, zone, zone_name, category, title, description,
	lat, lng, address, attachments, image_url, image_hashes, capture_times,
	group_id, supporter_count, supporters, upvotes,
	credibility_score, signals, priority_score, ai_classification,
	geo_valid, duplicate_candidate, flags,
	status, assigned_to, resolved_at, action_history, audit, created_at, updated_at`

// Postgres is a Store backed by a pgx connection pool
type Postgres struct {
	db     *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewPostgres wraps an existing pool
func NewPostgres(db *pgxpool.Pool, logger *zap.SugaredLogger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

// OpenPostgres connects, migrates and returns a Postgres store
func OpenPostgres(ctx context.Context, databaseURL string, opts database.PoolOptions, logger *zap.SugaredLogger) (*Postgres, error) {
	pool, err := database.NewPool(ctx, databaseURL, opts)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("Connected to PostgreSQL, schema up to date")
	return NewPostgres(pool, logger), nil
}

// Create implements Store
func (s *Postgres) Create(ctx context.Context, g *models.Grievance) error {
	prepare(g)

	query := `INSERT INTO grievances (` + grievanceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33)`

	_, err := s.db.Exec(ctx, query,
		g.ID, g.SubmitterID, g.SubmitterName, g.Zone, g.ZoneName, g.Category, g.Title, g.Description,
		g.Location.Lat, g.Location.Lng, g.Location.Address, g.Attachments, g.ImageURL, g.ImageHashes, g.CaptureTimes,
		g.GroupID, g.SupporterCount, g.Supporters, g.Upvotes,
		g.CredibilityScore, g.Signals, g.PriorityScore, g.AIClassification,
		g.GeoValid, g.DuplicateCandidate, g.Flags,
		string(g.Status), g.AssignedTo, g.ResolvedAt, g.ActionHistory, g.Audit, g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert grievance: %w", err)
	}
	return nil
}

// Get implements Store
func (s *Postgres) Get(ctx context.Context, id string) (*models.Grievance, error) {
	row := s.db.QueryRow(ctx, `SELECT `+grievanceColumns+` FROM grievances WHERE id = $1`, id)
	g, err := scanGrievance(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grievance: %w", err)
	}
	return g, nil
}

// FindCandidates implements Store
func (s *Postgres) FindCandidates(ctx context.Context, f CandidateFilter) ([]Candidate, error) {
	query := `
		SELECT id, group_id, submitter_id, description, lat, lng, address, image_hashes, supporter_count, created_at
		FROM grievances
		WHERE zone = $1 AND status = ANY($2) AND created_at >= $3
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.db.Query(ctx, query, f.Zone, statusStrings(f.Statuses), f.Since)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.GroupID, &c.SubmitterID, &c.Description,
			&c.Location.Lat, &c.Location.Lng, &c.Location.Address,
			&c.ImageHashes, &c.SupporterCount, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// FindGroup implements Store
func (s *Postgres) FindGroup(ctx context.Context, groupID string) ([]*models.Grievance, error) {
	rows, err := s.db.Query(ctx, `SELECT `+grievanceColumns+` FROM grievances
		WHERE group_id = $1 ORDER BY created_at ASC, id ASC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query group: %w", err)
	}
	return collectGrievances(rows)
}

// GroupHasSubmitter implements Store
func (s *Postgres) GroupHasSubmitter(ctx context.Context, groupID, submitterID string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM grievances WHERE group_id = $1 AND submitter_id = $2)`,
		groupID, submitterID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check group submitter: %w", err)
	}
	return exists, nil
}

// AddSupporter implements Store. The membership test and the append happen in
// one UPDATE so concurrent mergers cannot both add the same user.
func (s *Postgres) AddSupporter(ctx context.Context, leaderID, userID string) (bool, error) {
	query := `
		UPDATE grievances
		SET supporters = array_append(supporters, $2),
			supporter_count = supporter_count + 1,
			upvotes = upvotes + 1,
			updated_at = NOW()
		WHERE id = $1 AND group_id = id
			AND status = ANY($3)
			AND submitter_id <> $2
			AND NOT ($2 = ANY(supporters))
	`

	tag, err := s.db.Exec(ctx, query, leaderID, userID, statusStrings(models.OpenStatuses))
	if err != nil {
		return false, fmt.Errorf("add supporter: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish "already a supporter" from "no such leader" and "closed"
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
func (s *Postgres) SetGroupSupporterCount(ctx context.Context, groupID string, count int) error {
	_, err := s.db.Exec(ctx,
		`UPDATE grievances SET supporter_count = $2, upvotes = $2, updated_at = NOW() WHERE group_id = $1`,
		groupID, count,
	)
	if err != nil {
		return fmt.Errorf("set group supporter count: %w", err)
	}
	return nil
}

// SetPriority implements Store
func (s *Postgres) SetPriority(ctx context.Context, id string, priority int) error {
	return s.execOne(ctx, "set priority",
		`UPDATE grievances SET priority_score = $2, updated_at = NOW() WHERE id = $1`,
		id, priority,
	)
}

// ApplyRelevance implements Store
func (s *Postgres) ApplyRelevance(ctx context.Context, id string, p RelevancePatch) error {
	return s.execOne(ctx, "apply relevance",
		`UPDATE grievances
		SET signals = $2, credibility_score = $3, priority_score = $4, ai_classification = $5, updated_at = NOW()
		WHERE id = $1`,
		id, p.Signals, p.CredibilityScore, p.PriorityScore, p.AIClassification,
	)
}

// UpdateStatus implements Store
func (s *Postgres) UpdateStatus(ctx context.Context, id string, p StatusPatch, entry models.ActionEntry) error {
	return s.execOne(ctx, "update status",
		`UPDATE grievances
		SET status = $2,
			assigned_to = CASE WHEN $3 = '' THEN assigned_to ELSE $3 END,
			resolved_at = COALESCE($4, resolved_at),
			action_history = action_history || jsonb_build_array($5::jsonb),
			updated_at = NOW()
		WHERE id = $1`,
		id, string(p.Status), p.AssignedTo, p.ResolvedAt, entry,
	)
}

// CountSince implements Store
func (s *Postgres) CountSince(ctx context.Context, submitterID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM grievances WHERE submitter_id = $1 AND created_at >= $2`,
		submitterID, since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count recent grievances: %w", err)
	}
	return n, nil
}

// CountWithStatus implements Store
func (s *Postgres) CountWithStatus(ctx context.Context, submitterID string, status models.Status) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM grievances WHERE submitter_id = $1 AND status = $2`,
		submitterID, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count grievances by status: %w", err)
	}
	return n, nil
}

// ImageHashSeen implements Store
func (s *Postgres) ImageHashSeen(ctx context.Context, hashes []string) (bool, error) {
	if len(hashes) == 0 {
		return false, nil
	}
	var seen bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM grievances WHERE image_hashes && $1)`, hashes,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("check image hashes: %w", err)
	}
	return seen, nil
}

// List implements Store
func (s *Postgres) List(ctx context.Context, f ListFilter) ([]*models.Grievance, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Zone != nil {
		args = append(args, *f.Zone)
		conds = append(conds, fmt.Sprintf("zone = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.SubmitterID != "" {
		args = append(args, f.SubmitterID)
		conds = append(conds, fmt.Sprintf("submitter_id = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM grievances `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count grievances: %w", err)
	}

	args = append(args, pageLimit(f.Limit), f.Offset)
	query := fmt.Sprintf(`SELECT %s FROM grievances %s
		ORDER BY priority_score DESC, created_at ASC
		LIMIT $%d OFFSET $%d`, grievanceColumns, where, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list grievances: %w", err)
	}
	out, err := collectGrievances(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// StatusCounts implements Store
func (s *Postgres) StatusCounts(ctx context.Context, zone *int) (models.StatusCounts, error) {
	query := `SELECT status, COUNT(*) FROM grievances GROUP BY status`
	var args []interface{}
	if zone != nil {
		query = `SELECT status, COUNT(*) FROM grievances WHERE zone = $1 GROUP BY status`
		args = append(args, *zone)
	}

	var counts models.StatusCounts
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return counts, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			continue
		}
		counts.Add(models.Status(status), n)
	}
	return counts, rows.Err()
}

// ActiveGroups implements Store
func (s *Postgres) ActiveGroups(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT group_id FROM grievances
		WHERE updated_at >= $1 AND status = ANY($2)
		ORDER BY group_id`,
		since, statusStrings(models.OpenStatuses),
	)
	if err != nil {
		return nil, fmt.Errorf("query active groups: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Ping implements Store
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close implements Store
func (s *Postgres) Close(context.Context) error {
	s.db.Close()
	return nil
}

func (s *Postgres) execOne(ctx context.Context, op, query string, args ...interface{}) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectGrievances(rows pgx.Rows) ([]*models.Grievance, error) {
	defer rows.Close()

	var out []*models.Grievance
	for rows.Next() {
		g, err := scanGrievance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan grievance: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGrievance(row pgx.Row) (*models.Grievance, error) {
	var (
		g      models.Grievance
		status string
	)
	err := row.Scan(
		&g.ID, &g.SubmitterID, &g.SubmitterName, &g.Zone, &g.ZoneName, &g.Category, &g.Title, &g.Description,
		&g.Location.Lat, &g.Location.Lng, &g.Location.Address, &g.Attachments, &g.ImageURL, &g.ImageHashes, &g.CaptureTimes,
		&g.GroupID, &g.SupporterCount, &g.Supporters, &g.Upvotes,
		&g.CredibilityScore, &g.Signals, &g.PriorityScore, &g.AIClassification,
		&g.GeoValid, &g.DuplicateCandidate, &g.Flags,
		&status, &g.AssignedTo, &g.ResolvedAt, &g.ActionHistory, &g.Audit, &g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	g.Status = models.Status(status)
	g.Geo = models.NewGeoPoint(g.Location.Lat, g.Location.Lng)
	return &g, nil
}
