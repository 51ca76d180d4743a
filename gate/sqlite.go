package gate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore is the SQLite-backed Store. The terminal-transition and
// executed-flag guards are enforced in SQL (conditional UPDATE), so
// concurrent resolvers serialize on the database.
type SQLiteStore struct {
	dsn string

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("missing sqlite dsn")
	}
	s := &SQLiteStore{dsn: dsn}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec ApprovalRecord) (string, error) {
	if err := s.ensureOpen(); err != nil {
		return "", err
	}

	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = NewApprovalID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.Status = StatusPending

	metaJSON, _ := json.Marshal(rec.Metadata)

	_, err := s.db.ExecContext(ctx, `
INSERT INTO approvals (
  id, description, metadata_json, amount, currency,
  status, created_at_unix,
  approver, denied_by, reason, resolved_at_unix, executed
) VALUES (?, ?, ?, ?, ?, ?, ?, '', '', '', NULL, 0)
`, rec.ID, rec.Description, string(metaJSON), nullFloat(rec.Amount), strings.TrimSpace(rec.Currency),
		string(rec.Status), rec.CreatedAt.Unix(),
	)
	if err != nil {
		return "", fmt.Errorf("persist approval %s: %w", rec.ID, err)
	}
	return rec.ID, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (ApprovalRecord, bool, error) {
	if err := s.ensureOpen(); err != nil {
		return ApprovalRecord{}, false, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return ApprovalRecord{}, false, nil
	}
	rec, err := s.scanOne(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return ApprovalRecord{}, false, nil
	}
	if err != nil {
		return ApprovalRecord{}, false, err
	}
	return rec, true, nil
}

func (s *SQLiteStore) Resolve(ctx context.Context, id string, status Status, actor, reason string, committed func(ApprovalRecord)) (ApprovalRecord, error) {
	if err := s.ensureOpen(); err != nil {
		return ApprovalRecord{}, err
	}
	if !status.Terminal() {
		return ApprovalRecord{}, fmt.Errorf("%w: %q", ErrNotTerminal, status)
	}
	id = strings.TrimSpace(id)
	actor = strings.TrimSpace(actor)

	approver, deniedBy := actor, ""
	if status == StatusDenied {
		approver, deniedBy = "", actor
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ApprovalRecord{}, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Unix()
	res, err := tx.ExecContext(ctx, `
UPDATE approvals
SET status = ?, approver = ?, denied_by = ?, reason = ?, resolved_at_unix = ?
WHERE id = ? AND status = ?
`, string(status), approver, deniedBy, strings.TrimSpace(reason), now, id, string(StatusPending))
	if err != nil {
		return ApprovalRecord{}, fmt.Errorf("persist resolution of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ApprovalRecord{}, err
	}

	rec, err := s.scanOne(tx.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return ApprovalRecord{}, ErrNotFound
	}
	if err != nil {
		return ApprovalRecord{}, err
	}
	if n == 0 {
		return rec, ErrAlreadyResolved
	}

	// The callback runs before the commit so other connections cannot
	// see the terminal status until it returns.
	if committed != nil {
		committed(rec)
	}
	if err := tx.Commit(); err != nil {
		return ApprovalRecord{}, fmt.Errorf("persist resolution of %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLiteStore) MarkExecuted(ctx context.Context, id string) error {
	if err := s.ensureOpen(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET executed = 1 WHERE id = ? AND executed = 0`, id)
	if err != nil {
		return fmt.Errorf("persist executed flag of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, ok, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		return ErrAlreadyExecuted
	}
	return nil
}

func (s *SQLiteStore) ListPending(ctx context.Context) ([]ApprovalRecord, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` WHERE status = ? ORDER BY created_at_unix ASC, id ASC`, string(StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ApprovalRecord, 0, 8)
	for rows.Next() {
		rec, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

const selectColumns = `
SELECT
  id, description, metadata_json, amount, currency,
  status, created_at_unix,
  approver, denied_by, reason, resolved_at_unix, executed
FROM approvals`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanOne(row rowScanner) (ApprovalRecord, error) {
	var (
		rec            ApprovalRecord
		metaJSON       string
		amount         sql.NullFloat64
		status         string
		createdAtUnix  int64
		resolvedAtUnix sql.NullInt64
		executed       int
	)
	err := row.Scan(
		&rec.ID, &rec.Description, &metaJSON, &amount, &rec.Currency,
		&status, &createdAtUnix,
		&rec.Approver, &rec.DeniedBy, &rec.Reason, &resolvedAtUnix, &executed,
	)
	if err != nil {
		return ApprovalRecord{}, err
	}

	rec.Status = Status(status)
	rec.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	rec.Executed = executed != 0
	if amount.Valid {
		v := amount.Float64
		rec.Amount = &v
	}
	if resolvedAtUnix.Valid {
		t := time.Unix(resolvedAtUnix.Int64, 0).UTC()
		rec.ResolvedAt = &t
	}
	if strings.TrimSpace(metaJSON) != "" {
		_ = json.Unmarshal([]byte(metaJSON), &rec.Metadata)
	}
	return rec, nil
}

func (s *SQLiteStore) open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}
	db, err := sql.Open("sqlite", s.dsn)
	if err != nil {
		return err
	}
	s.db = db
	return s.migrate()
}

func (s *SQLiteStore) ensureOpen() error {
	if s.db != nil {
		return nil
	}
	return s.open()
}

func (s *SQLiteStore) migrate() error {
	if s.db == nil {
		return fmt.Errorf("sqlite db is not open")
	}
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS approvals (
  id TEXT PRIMARY KEY,
  description TEXT,
  metadata_json TEXT,
  amount REAL,
  currency TEXT,
  status TEXT NOT NULL,
  created_at_unix INTEGER NOT NULL,
  approver TEXT,
  denied_by TEXT,
  reason TEXT,
  resolved_at_unix INTEGER,
  executed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
`)
	return err
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
