package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/velocityfibre/polelink/internal/db"
	"github.com/velocityfibre/polelink/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore with a tuned connection pool.
func NewPostgres(ctx context.Context, connString string, maxConns, minConns int32) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	if minConns <= 0 {
		minConns = 2
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS permissions (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	last_modified TIMESTAMPTZ NOT NULL,
	doc           JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_permissions_status ON permissions(status);

CREATE TABLE IF NOT EXISTS assignments (
	id          TEXT PRIMARY KEY,
	pole_number TEXT NOT NULL,
	imported_at TIMESTAMPTZ NOT NULL,
	doc         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assignments_imported ON assignments(imported_at);

CREATE TABLE IF NOT EXISTS links (
	id            TEXT PRIMARY KEY,
	permission_id TEXT NOT NULL,
	assignment_id TEXT NOT NULL,
	pole_number   TEXT NOT NULL,
	status        TEXT NOT NULL,
	linked_at     TIMESTAMPTZ NOT NULL,
	doc           JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_links_permission ON links(permission_id);
CREATE INDEX IF NOT EXISTS idx_links_pole ON links(pole_number);

CREATE TABLE IF NOT EXISTS conflicts (
	id                TEXT PRIMARY KEY,
	permission_id     TEXT NOT NULL,
	conflict_type     TEXT NOT NULL,
	resolution_status TEXT NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	doc               JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_resolution ON conflicts(resolution_status);

CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL,
	status       TEXT NOT NULL,
	doc          JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_processed ON reports(processed_at);

CREATE TABLE IF NOT EXISTS run_lease (
	id          INT PRIMARY KEY CHECK (id = 1),
	holder      TEXT NOT NULL DEFAULT '',
	acquired_at TIMESTAMPTZ
);
INSERT INTO run_lease (id, holder) VALUES (1, '') ON CONFLICT (id) DO NOTHING;
`

// Migrate creates the schema if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// UpsertPermission writes a permission record (import-pipeline boundary).
func (s *PostgresStore) UpsertPermission(ctx context.Context, p model.PermissionRecord) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal permission")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO permissions (id, status, last_modified, doc) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
		   last_modified = EXCLUDED.last_modified, doc = EXCLUDED.doc`,
		p.ID, p.Status, p.LastModified.UTC(), doc)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert permission %s", p.ID)
	}
	return nil
}

// UpsertAssignment writes an assignment record (import-pipeline boundary).
func (s *PostgresStore) UpsertAssignment(ctx context.Context, a model.AssignmentRecord) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal assignment")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO assignments (id, pole_number, imported_at, doc) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE SET pole_number = EXCLUDED.pole_number,
		   imported_at = EXCLUDED.imported_at, doc = EXCLUDED.doc`,
		a.ID, a.PoleNumber, a.ImportedAt.UTC(), doc)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert assignment %s", a.ID)
	}
	return nil
}

// ListApprovedUnlinkedPermissions returns approved permissions that do not
// yet appear as the permission side of any link.
func (s *PostgresStore) ListApprovedUnlinkedPermissions(ctx context.Context, limit int) ([]model.PermissionRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM permissions p
		 WHERE p.status = $1
		   AND NOT EXISTS (SELECT 1 FROM links l WHERE l.permission_id = p.id)
		 ORDER BY p.last_modified
		 LIMIT $2`,
		model.ApprovedPermissionStatus, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list unlinked permissions")
	}
	return scanDocs[model.PermissionRecord](rows, "permission")
}

// ListRecentAssignments returns assignments imported at or after since,
// newest first, capped at limit.
func (s *PostgresStore) ListRecentAssignments(ctx context.Context, since time.Time, limit int) ([]model.AssignmentRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM assignments WHERE imported_at >= $1
		 ORDER BY imported_at DESC LIMIT $2`,
		since.UTC(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list recent assignments")
	}
	return scanDocs[model.AssignmentRecord](rows, "assignment")
}

// GetPermission returns one permission by id, or ErrNotFound.
func (s *PostgresStore) GetPermission(ctx context.Context, id string) (*model.PermissionRecord, error) {
	return getDoc[model.PermissionRecord](ctx, s.pool,
		`SELECT doc FROM permissions WHERE id = $1`, id, "permission")
}

// GetAssignment returns one assignment by id, or ErrNotFound.
func (s *PostgresStore) GetAssignment(ctx context.Context, id string) (*model.AssignmentRecord, error) {
	return getDoc[model.AssignmentRecord](ctx, s.pool,
		`SELECT doc FROM assignments WHERE id = $1`, id, "assignment")
}

// CountApprovedPermissions counts the approved permission population.
func (s *PostgresStore) CountApprovedPermissions(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM permissions WHERE status = $1`,
		model.ApprovedPermissionStatus).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: count approved permissions")
	}
	return n, nil
}

// IsPermissionLinked reports whether any link references the permission.
func (s *PostgresStore) IsPermissionLinked(ctx context.Context, permissionID string) (bool, error) {
	var linked bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM links WHERE permission_id = $1)`,
		permissionID).Scan(&linked)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: check linked %s", permissionID)
	}
	return linked, nil
}

// ListAllLinks returns every persisted link.
func (s *PostgresStore) ListAllLinks(ctx context.Context) ([]model.Link, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM links ORDER BY linked_at`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list links")
	}
	return scanDocs[model.Link](rows, "link")
}

// CreateLink persists a link and returns its id.
func (s *PostgresStore) CreateLink(ctx context.Context, link model.Link) (string, error) {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	doc, err := json.Marshal(link)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal link")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO links (id, permission_id, assignment_id, pole_number, status, linked_at, doc)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		link.ID, link.PermissionID, link.AssignmentID, link.PoleNumber,
		string(link.Status), link.LinkedAt.UTC(), doc)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: create link for permission %s", link.PermissionID)
	}
	return link.ID, nil
}

// CreateConflict persists a conflict and returns its id.
func (s *PostgresStore) CreateConflict(ctx context.Context, conflict model.Conflict) (string, error) {
	if conflict.ID == "" {
		conflict.ID = uuid.NewString()
	}
	doc, err := json.Marshal(conflict)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal conflict")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO conflicts (id, permission_id, conflict_type, resolution_status, created_at, doc)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		conflict.ID, conflict.PermissionID, string(conflict.Type),
		string(conflict.Resolution.Status), conflict.CreatedAt.UTC(), doc)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: create conflict for permission %s", conflict.PermissionID)
	}
	return conflict.ID, nil
}

// SaveReport persists a reconciliation report and returns its id.
func (s *PostgresStore) SaveReport(ctx context.Context, report model.ReconciliationReport) (string, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	doc, err := json.Marshal(report)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal report")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO reports (id, processed_at, status, doc) VALUES ($1, $2, $3, $4)`,
		report.ID, report.ProcessedAt.UTC(), string(report.Status), doc)
	if err != nil {
		return "", eris.Wrap(err, "postgres: save report")
	}
	return report.ID, nil
}

// ListPendingConflicts returns unresolved conflicts, newest first.
func (s *PostgresStore) ListPendingConflicts(ctx context.Context, limit int) ([]model.Conflict, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM conflicts WHERE resolution_status = $1
		 ORDER BY created_at DESC LIMIT $2`,
		string(model.ResolutionPending), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list pending conflicts")
	}
	return scanDocs[model.Conflict](rows, "conflict")
}

// ListRecentReports returns reports newest first.
func (s *PostgresStore) ListRecentReports(ctx context.Context, limit int) ([]model.ReconciliationReport, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM reports ORDER BY processed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	return scanDocs[model.ReconciliationReport](rows, "report")
}

// TryAcquireRunLease attempts to take the singleton run lease. Stale leases
// older than the TTL are treated as abandoned.
func (s *PostgresStore) TryAcquireRunLease(ctx context.Context, holder string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE run_lease SET holder = $1, acquired_at = now()
		 WHERE id = 1 AND (holder = '' OR acquired_at <= now() - make_interval(secs => $2))`,
		holder, leaseTTL.Seconds())
	if err != nil {
		return false, eris.Wrap(err, "postgres: acquire run lease")
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseRunLease releases the lease if held by holder.
func (s *PostgresStore) ReleaseRunLease(ctx context.Context, holder string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE run_lease SET holder = '', acquired_at = NULL WHERE id = 1 AND holder = $1`,
		holder)
	if err != nil {
		return eris.Wrap(err, "postgres: release run lease")
	}
	return nil
}

// scanDocs decodes a single-column JSON doc result set.
func scanDocs[T any](rows pgx.Rows, kind string) ([]T, error) {
	defer rows.Close()

	var out []T
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s", kind)
		}
		var v T
		if err := json.Unmarshal(doc, &v); err != nil {
			return nil, eris.Wrapf(err, "postgres: decode %s", kind)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// getDoc fetches and decodes a single JSON doc, mapping no-rows to ErrNotFound.
func getDoc[T any](ctx context.Context, pool db.Pool, sql, id, kind string) (*T, error) {
	var doc []byte
	err := pool.QueryRow(ctx, sql, id).Scan(&doc)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get %s %s", kind, id)
	}
	var v T
	if err := json.Unmarshal(doc, &v); err != nil {
		return nil, eris.Wrapf(err, "postgres: decode %s", kind)
	}
	return &v, nil
}
