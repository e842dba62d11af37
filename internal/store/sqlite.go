package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/velocityfibre/polelink/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and tests; production runs on Postgres.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS permissions (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	last_modified DATETIME NOT NULL,
	doc           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_permissions_status ON permissions(status);

CREATE TABLE IF NOT EXISTS assignments (
	id          TEXT PRIMARY KEY,
	pole_number TEXT NOT NULL,
	imported_at DATETIME NOT NULL,
	doc         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assignments_imported ON assignments(imported_at);

CREATE TABLE IF NOT EXISTS links (
	id            TEXT PRIMARY KEY,
	permission_id TEXT NOT NULL,
	assignment_id TEXT NOT NULL,
	pole_number   TEXT NOT NULL,
	status        TEXT NOT NULL,
	linked_at     DATETIME NOT NULL,
	doc           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_links_permission ON links(permission_id);
CREATE INDEX IF NOT EXISTS idx_links_pole ON links(pole_number);

CREATE TABLE IF NOT EXISTS conflicts (
	id                TEXT PRIMARY KEY,
	permission_id     TEXT NOT NULL,
	conflict_type     TEXT NOT NULL,
	resolution_status TEXT NOT NULL,
	created_at        DATETIME NOT NULL,
	doc               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conflicts_resolution ON conflicts(resolution_status);

CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	processed_at DATETIME NOT NULL,
	status       TEXT NOT NULL,
	doc          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_processed ON reports(processed_at);

CREATE TABLE IF NOT EXISTS run_lease (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	holder      TEXT NOT NULL DEFAULT '',
	acquired_at DATETIME
);
INSERT OR IGNORE INTO run_lease (id, holder) VALUES (1, '');
`

// Migrate creates the schema if missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// UpsertPermission writes a permission record (import-pipeline boundary).
func (s *SQLiteStore) UpsertPermission(ctx context.Context, p model.PermissionRecord) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal permission")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO permissions (id, status, last_modified, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET status = excluded.status,
		   last_modified = excluded.last_modified, doc = excluded.doc`,
		p.ID, p.Status, p.LastModified.UTC(), string(doc))
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert permission %s", p.ID)
	}
	return nil
}

// UpsertAssignment writes an assignment record (import-pipeline boundary).
func (s *SQLiteStore) UpsertAssignment(ctx context.Context, a model.AssignmentRecord) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal assignment")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assignments (id, pole_number, imported_at, doc) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET pole_number = excluded.pole_number,
		   imported_at = excluded.imported_at, doc = excluded.doc`,
		a.ID, a.PoleNumber, a.ImportedAt.UTC(), string(doc))
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert assignment %s", a.ID)
	}
	return nil
}

// ListApprovedUnlinkedPermissions returns approved permissions that do not
// yet appear as the permission side of any link.
func (s *SQLiteStore) ListApprovedUnlinkedPermissions(ctx context.Context, limit int) ([]model.PermissionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM permissions
		 WHERE status = ?
		   AND id NOT IN (SELECT permission_id FROM links)
		 ORDER BY last_modified
		 LIMIT ?`,
		model.ApprovedPermissionStatus, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list unlinked permissions")
	}
	defer rows.Close()

	var out []model.PermissionRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan permission")
		}
		var p model.PermissionRecord
		if err := json.Unmarshal([]byte(doc), &p); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode permission")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListRecentAssignments returns assignments imported at or after since,
// newest first, capped at limit.
func (s *SQLiteStore) ListRecentAssignments(ctx context.Context, since time.Time, limit int) ([]model.AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM assignments WHERE imported_at >= ?
		 ORDER BY imported_at DESC LIMIT ?`,
		since.UTC(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list recent assignments")
	}
	defer rows.Close()

	var out []model.AssignmentRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan assignment")
		}
		var a model.AssignmentRecord
		if err := json.Unmarshal([]byte(doc), &a); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode assignment")
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetPermission returns one permission by id, or ErrNotFound.
func (s *SQLiteStore) GetPermission(ctx context.Context, id string) (*model.PermissionRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM permissions WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "permission %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get permission %s", id)
	}
	var p model.PermissionRecord
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode permission")
	}
	return &p, nil
}

// GetAssignment returns one assignment by id, or ErrNotFound.
func (s *SQLiteStore) GetAssignment(ctx context.Context, id string) (*model.AssignmentRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM assignments WHERE id = ?`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "assignment %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get assignment %s", id)
	}
	var a model.AssignmentRecord
	if err := json.Unmarshal([]byte(doc), &a); err != nil {
		return nil, eris.Wrap(err, "sqlite: decode assignment")
	}
	return &a, nil
}

// CountApprovedPermissions counts the approved permission population.
func (s *SQLiteStore) CountApprovedPermissions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM permissions WHERE status = ?`,
		model.ApprovedPermissionStatus).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: count approved permissions")
	}
	return n, nil
}

// IsPermissionLinked reports whether any link references the permission.
func (s *SQLiteStore) IsPermissionLinked(ctx context.Context, permissionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM links WHERE permission_id = ?`, permissionID).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: check linked %s", permissionID)
	}
	return n > 0, nil
}

// ListAllLinks returns every persisted link.
func (s *SQLiteStore) ListAllLinks(ctx context.Context) ([]model.Link, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM links ORDER BY linked_at`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list links")
	}
	defer rows.Close()

	var out []model.Link
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan link")
		}
		var l model.Link
		if err := json.Unmarshal([]byte(doc), &l); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode link")
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CreateLink persists a link and returns its id.
func (s *SQLiteStore) CreateLink(ctx context.Context, link model.Link) (string, error) {
	if link.ID == "" {
		link.ID = uuid.NewString()
	}
	doc, err := json.Marshal(link)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal link")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO links (id, permission_id, assignment_id, pole_number, status, linked_at, doc)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		link.ID, link.PermissionID, link.AssignmentID, link.PoleNumber,
		string(link.Status), link.LinkedAt.UTC(), string(doc))
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: create link for permission %s", link.PermissionID)
	}
	return link.ID, nil
}

// CreateConflict persists a conflict and returns its id.
func (s *SQLiteStore) CreateConflict(ctx context.Context, conflict model.Conflict) (string, error) {
	if conflict.ID == "" {
		conflict.ID = uuid.NewString()
	}
	doc, err := json.Marshal(conflict)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal conflict")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conflicts (id, permission_id, conflict_type, resolution_status, created_at, doc)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		conflict.ID, conflict.PermissionID, string(conflict.Type),
		string(conflict.Resolution.Status), conflict.CreatedAt.UTC(), string(doc))
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: create conflict for permission %s", conflict.PermissionID)
	}
	return conflict.ID, nil
}

// SaveReport persists a reconciliation report and returns its id.
func (s *SQLiteStore) SaveReport(ctx context.Context, report model.ReconciliationReport) (string, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	doc, err := json.Marshal(report)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal report")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reports (id, processed_at, status, doc) VALUES (?, ?, ?, ?)`,
		report.ID, report.ProcessedAt.UTC(), string(report.Status), string(doc))
	if err != nil {
		return "", eris.Wrap(err, "sqlite: save report")
	}
	return report.ID, nil
}

// ListPendingConflicts returns unresolved conflicts, newest first.
func (s *SQLiteStore) ListPendingConflicts(ctx context.Context, limit int) ([]model.Conflict, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM conflicts WHERE resolution_status = ?
		 ORDER BY created_at DESC LIMIT ?`,
		string(model.ResolutionPending), limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list pending conflicts")
	}
	defer rows.Close()

	var out []model.Conflict
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan conflict")
		}
		var c model.Conflict
		if err := json.Unmarshal([]byte(doc), &c); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode conflict")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListRecentReports returns reports newest first.
func (s *SQLiteStore) ListRecentReports(ctx context.Context, limit int) ([]model.ReconciliationReport, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc FROM reports ORDER BY processed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var out []model.ReconciliationReport
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		var r model.ReconciliationReport
		if err := json.Unmarshal([]byte(doc), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: decode report")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// TryAcquireRunLease attempts to take the singleton run lease. Stale leases
// older than the TTL are treated as abandoned.
func (s *SQLiteStore) TryAcquireRunLease(ctx context.Context, holder string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_lease SET holder = ?, acquired_at = ?
		 WHERE id = 1 AND (holder = '' OR acquired_at <= ?)`,
		holder, time.Now().UTC(), time.Now().UTC().Add(-leaseTTL))
	if err != nil {
		return false, eris.Wrap(err, "sqlite: acquire run lease")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: acquire run lease rows")
	}
	return n == 1, nil
}

// ReleaseRunLease releases the lease if held by holder.
func (s *SQLiteStore) ReleaseRunLease(ctx context.Context, holder string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE run_lease SET holder = '', acquired_at = NULL WHERE id = 1 AND holder = ?`,
		holder)
	if err != nil {
		return eris.Wrap(err, "sqlite: release run lease")
	}
	return nil
}
