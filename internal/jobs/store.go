package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrNotFound is returned when no job has the requested identifier.
	ErrNotFound = errors.New("job not found")
	// ErrConflict is returned when the (target, kind) slot is held by an in-progress job.
	ErrConflict = errors.New("job already in progress")
	// ErrInvalidTransition is returned for a status change the lifecycle does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// ConflictError carries the job currently holding the (target, kind) slot.
// Existing may be nil if the holder finished before it could be read back.
type ConflictError struct {
	Existing *Job
}

func (e *ConflictError) Error() string {
	if e.Existing == nil {
		return ErrConflict.Error()
	}
	return fmt.Sprintf("%s: %s", ErrConflict.Error(), e.Existing.ID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

const jobColumns = "id, kind, target, status, info, created_at, updated_at"

var schemas = map[string][]string{
	DriverSQLite: {
		`CREATE TABLE IF NOT EXISTS admin_jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL,
			info TEXT NOT NULL DEFAULT '',
			owner TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS admin_jobs_active_key ON admin_jobs (target, kind) WHERE status = 'in_progress'`,
		`CREATE INDEX IF NOT EXISTS admin_jobs_target_kind ON admin_jobs (target, kind, created_at)`,
		`CREATE INDEX IF NOT EXISTS admin_jobs_status ON admin_jobs (status)`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS admin_jobs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			target TEXT NOT NULL,
			status TEXT NOT NULL,
			info TEXT NOT NULL DEFAULT '',
			owner TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS admin_jobs_active_key ON admin_jobs (target, kind) WHERE status = 'in_progress'`,
		`CREATE INDEX IF NOT EXISTS admin_jobs_target_kind ON admin_jobs (target, kind, created_at)`,
		`CREATE INDEX IF NOT EXISTS admin_jobs_status ON admin_jobs (status)`,
	},
}

// defaultBusyTimeout is applied to sqlite DSNs that do not set one, so
// other processes holding the file lock delay writes instead of failing them.
const defaultBusyTimeout = 5 * time.Second

// Store persists jobs in a relational database.
// It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string
	owner  string
}

// Option configures a Store.
type Option func(*Store)

// WithOwner tags jobs admitted through the store with owner. Recovery only
// reclaims jobs carrying the same owner, so several daemons can share one
// database. It should stay the same across restarts of one daemon.
func WithOwner(owner string) Option {
	return func(s *Store) { s.owner = owner }
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to the job database and applies the schema.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (*Store, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite:
		sqlDriver = "sqlite"
		dsn = withBusyTimeout(dsn)
	case DriverPostgres:
		sqlDriver = "pgx"
	default:
		return nil, fmt.Errorf("unsupported job database driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open job database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection serialises writers within the process.
		db.SetMaxOpenConns(1)
	}

	s := NewStore(db, driver, opts...)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing database handle. The schema is not applied.
func NewStore(db *sql.DB, driver string, opts ...Option) *Store {
	s := &Store{db: db, driver: driver}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// withBusyTimeout adds a busy_timeout pragma unless dsn already sets one.
func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout(%d)", dsn, sep, defaultBusyTimeout.Milliseconds())
}

// Migrate creates the jobs table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts, ok := schemas[s.driver]
	if !ok {
		return fmt.Errorf("unsupported job database driver %q", s.driver)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply job schema: %w", err)
		}
	}
	return s.addOwnerColumn(ctx)
}

// addOwnerColumn upgrades tables created before jobs carried an owner.
func (s *Store) addOwnerColumn(ctx context.Context) error {
	if s.driver == DriverPostgres {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE admin_jobs ADD COLUMN IF NOT EXISTS owner TEXT NOT NULL DEFAULT ''`); err != nil {
			return fmt.Errorf("failed to add owner column: %w", err)
		}
		return nil
	}

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('admin_jobs') WHERE name = 'owner'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to inspect job schema: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `ALTER TABLE admin_jobs ADD COLUMN owner TEXT NOT NULL DEFAULT ''`); err != nil {
		return fmt.Errorf("failed to add owner column: %w", err)
	}
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new pending job.
func (s *Store) Create(ctx context.Context, kind Kind, target string) (*Job, error) {
	job := NewJob(kind, target)
	if err := s.insert(ctx, s.db, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Admit atomically creates a job for (target, kind) and moves it to
// In Progress. When another job already holds the slot it returns a
// *ConflictError (matching ErrConflict) describing that job and leaves no
// record behind.
func (s *Store) Admit(ctx context.Context, kind Kind, target string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin admission: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.findInProgress(ctx, tx, target, &kind)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &ConflictError{Existing: existing}
	}

	job := NewJob(kind, target)
	if err := s.insert(ctx, tx, job); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE admin_jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`),
		StatusInProgress.Code(), now, job.ID, StatusPending.Code())
	if err == nil {
		err = tx.Commit()
	}
	if err != nil {
		if isUniqueViolation(err) {
			tx.Rollback()
			winner, findErr := s.FindInProgress(ctx, target, &kind)
			if findErr != nil {
				return nil, findErr
			}
			return nil, &ConflictError{Existing: winner}
		}
		return nil, fmt.Errorf("failed to admit job: %w", err)
	}

	job.Status = StatusInProgress
	job.UpdatedAt = now
	return job, nil
}

// FindInProgress returns the in-progress job for target, optionally
// restricted to kind. It returns nil when there is none.
func (s *Store) FindInProgress(ctx context.Context, target string, kind *Kind) (*Job, error) {
	return s.findInProgress(ctx, s.db, target, kind)
}

func (s *Store) findInProgress(ctx context.Context, q querier, target string, kind *Kind) (*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM admin_jobs WHERE target = ? AND status = ?`
	args := []any{target, StatusInProgress.Code()}
	if kind != nil {
		query += ` AND kind = ?`
		args = append(args, kind.Code())
	}
	query += ` ORDER BY created_at DESC LIMIT 1`

	job, err := scanJob(q.QueryRowContext(ctx, s.rebind(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query in-progress job: %w", err)
	}
	return job, nil
}

// Latest returns the most recently created job for (target, kind), or nil.
func (s *Store) Latest(ctx context.Context, target string, kind Kind) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+jobColumns+` FROM admin_jobs WHERE target = ? AND kind = ? ORDER BY created_at DESC LIMIT 1`),
		target, kind.Code()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest job: %w", err)
	}
	return job, nil
}

// Get loads a job by identifier. It returns ErrNotFound if absent.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		s.rebind(`SELECT `+jobColumns+` FROM admin_jobs WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return job, nil
}

// UpdateStatus moves a job to status to, optionally replacing its info.
// The change is conditional on the job currently being in one of the
// predecessors of to, so concurrent or repeated calls cannot move a job
// backwards or finish it twice.
func (s *Store) UpdateStatus(ctx context.Context, id string, to Status, info *string) (*Job, error) {
	from := to.Predecessors()
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: nothing transitions to %s", ErrInvalidTransition, to.Label())
	}

	query := `UPDATE admin_jobs SET status = ?, updated_at = ?`
	now := time.Now().UTC()
	args := []any{to.Code(), now}
	if info != nil {
		query += `, info = ?`
		args = append(args, *info)
	}
	query += ` WHERE id = ? AND status IN (` + placeholders(len(from)) + `)`
	args = append(args, id)
	for _, st := range from {
		args = append(args, st.Code())
	}

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, &ConflictError{}
		}
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", id, err)
	}

	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return job, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status.Label(), to.Label())
	}
	return job, nil
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Kind   Kind
	Status Status
	Target string
	Limit  int
}

// List returns jobs matching f, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM admin_jobs WHERE 1=1`
	var args []any

	if !f.Kind.IsZero() {
		query += ` AND kind = ?`
		args = append(args, f.Kind.Code())
	}
	if !f.Status.IsZero() {
		query += ` AND status = ?`
		args = append(args, f.Status.Code())
	}
	if f.Target != "" {
		query += ` AND target = ?`
		args = append(args, f.Target)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

// FailUnfinished marks the pending or in-progress jobs owned by this store
// as failed with the given info and returns how many were changed. It is
// meant for process start, when no executor of this owner can be running.
// Jobs of other owners are left alone.
func (s *Store) FailUnfinished(ctx context.Context, info string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE admin_jobs SET status = ?, info = ?, updated_at = ? WHERE owner = ? AND status IN (?, ?)`),
		StatusFailed.Code(), info, time.Now().UTC(), s.owner, StatusPending.Code(), StatusInProgress.Code())
	if err != nil {
		return 0, fmt.Errorf("failed to recover unfinished jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) insert(ctx context.Context, q querier, job *Job) error {
	_, err := q.ExecContext(ctx,
		s.rebind(`INSERT INTO admin_jobs (`+jobColumns+`, owner) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		job.ID, job.Kind.Code(), job.Target, job.Status.Code(), job.Info, job.CreatedAt, job.UpdatedAt, s.owner)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into the driver's native form.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var kindCode, statusCode string
	var createdAt, updatedAt time.Time
	err := row.Scan(&job.ID, &kindCode, &job.Target, &statusCode, &job.Info,
		timeScanner{&createdAt}, timeScanner{&updatedAt})
	if err != nil {
		return nil, err
	}
	if job.Kind, err = ParseKind(kindCode); err != nil {
		return nil, err
	}
	if job.Status, err = ParseStatus(statusCode); err != nil {
		return nil, err
	}
	job.CreatedAt = createdAt
	job.UpdatedAt = updatedAt
	return &job, nil
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// timeScanner accepts the timestamp representations the supported drivers return.
type timeScanner struct {
	t *time.Time
}

func (ts timeScanner) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*ts.t = time.Time{}
		return nil
	case time.Time:
		*ts.t = x.UTC()
		return nil
	case int64:
		*ts.t = time.Unix(0, x).UTC()
		return nil
	case []byte:
		return ts.parse(string(x))
	case string:
		return ts.parse(x)
	}
	return fmt.Errorf("unsupported timestamp type %T", v)
}

func (ts timeScanner) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*ts.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
			strings.Contains(liteErr.Error(), "UNIQUE")
	}
	return false
}
