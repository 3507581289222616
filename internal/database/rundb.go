package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/imgref/internal/model"
)

// FileName is the SQLite database file inside the data directory.
const FileName = "imgref.db"

// timeLayout is how timestamps are stored. Fixed width keeps text order
// equal to time order.
const timeLayout = "2006-01-02 15:04:05.000000"

// dialect selects placeholder syntax and schema types.
type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// RunDB stores resolution runs.
type RunDB struct {
	db      *sql.DB
	dialect dialect
	path    string
}

// Options configures RunDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file if it doesn't exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the SQLite database in dbDir.
func Open(dbDir string, opts Options) (*RunDB, error) {
	dbPath := filepath.Join(dbDir, FileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a missing file.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	rdb := &RunDB{db: db, dialect: dialectSQLite, path: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := rdb.createTables(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return rdb, nil
}

// OpenPostgres connects to a Postgres database and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*RunDB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	rdb := &RunDB{db: db, dialect: dialectPostgres}
	if err := rdb.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return rdb, nil
}

// Close closes the database connection.
func (r *RunDB) Close() error {
	return r.db.Close()
}

// Path returns the SQLite file path, empty for Postgres.
func (r *RunDB) Path() string {
	return r.path
}

func (r *RunDB) createTables(ctx context.Context) error {
	idColumn := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if r.dialect == dialectPostgres {
		idColumn = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id ` + idColumn + `,
			run_id TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL,
			digest TEXT NOT NULL,
			created_at TEXT NOT NULL,
			image_count INTEGER NOT NULL DEFAULT 0,
			candidates INTEGER NOT NULL DEFAULT 0,
			rejected INTEGER NOT NULL DEFAULT 0,
			missing INTEGER NOT NULL DEFAULT 0,
			resolution_json TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_source ON runs(source)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_digest ON runs(digest)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites "?" placeholders for the active dialect.
func (r *RunDB) rebind(query string) string {
	if r.dialect != dialectPostgres {
		return query
	}
	return rebindDollar(query)
}

// rebindDollar turns each "?" into $1, $2, ... in order.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// SaveRun inserts a run, replacing any earlier run with the same ID.
func (r *RunDB) SaveRun(ctx context.Context, res *model.Resolution) error {
	if res.ID == "" {
		return errors.New("run ID is required")
	}

	// The cleaned text is derived from the answer and not stored.
	stored := *res
	stored.CleanedText = ""
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("failed to serialize run: %w", err)
	}

	query := r.rebind(`
	INSERT INTO runs (run_id, source, digest, created_at, image_count, candidates, rejected, missing, resolution_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		source = excluded.source,
		digest = excluded.digest,
		created_at = excluded.created_at,
		image_count = excluded.image_count,
		candidates = excluded.candidates,
		rejected = excluded.rejected,
		missing = excluded.missing,
		resolution_json = excluded.resolution_json
	`)

	_, err = r.db.ExecContext(ctx, query,
		res.ID,
		res.Source,
		res.Digest,
		res.CreatedAt.UTC().Format(timeLayout),
		len(res.Images),
		res.Candidates,
		res.Rejected,
		len(res.Missing),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun returns the run with the given ID, or nil when there is none.
func (r *RunDB) GetRun(ctx context.Context, runID string) (*model.Resolution, error) {
	return r.queryResolution(ctx, `SELECT resolution_json FROM runs WHERE run_id = ?`, runID)
}

// LatestRun returns the most recent run of a source, or nil.
func (r *RunDB) LatestRun(ctx context.Context, source string) (*model.Resolution, error) {
	return r.queryResolution(ctx, `
	SELECT resolution_json FROM runs
	WHERE source = ?
	ORDER BY created_at DESC, id DESC
	LIMIT 1
	`, source)
}

// FindByDigest returns the most recent run of a document with this
// digest, or nil.
func (r *RunDB) FindByDigest(ctx context.Context, digest string) (*model.Resolution, error) {
	return r.queryResolution(ctx, `
	SELECT resolution_json FROM runs
	WHERE digest = ?
	ORDER BY created_at DESC, id DESC
	LIMIT 1
	`, digest)
}

func (r *RunDB) queryResolution(ctx context.Context, query string, args ...any) (*model.Resolution, error) {
	var data string
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	var res model.Resolution
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return nil, fmt.Errorf("failed to parse run: %w", err)
	}
	return &res, nil
}

// RunMetadata summarizes a stored run without loading its images.
type RunMetadata struct {
	RunID      string
	Source     string
	Digest     string
	CreatedAt  time.Time
	Images     int
	Candidates int
	Rejected   int
	Missing    int
}

// ListRuns returns run summaries, newest first. An empty source lists
// every source; a limit of zero or less means no limit.
func (r *RunDB) ListRuns(ctx context.Context, source string, limit int) ([]RunMetadata, error) {
	query := `
	SELECT run_id, source, digest, created_at, image_count, candidates, rejected, missing
	FROM runs
	WHERE 1=1
	`
	args := make([]any, 0, 2)
	if source != "" {
		query += " AND source = ?"
		args = append(args, source)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var results []RunMetadata
	for rows.Next() {
		var meta RunMetadata
		var createdAt string
		if err := rows.Scan(
			&meta.RunID,
			&meta.Source,
			&meta.Digest,
			&createdAt,
			&meta.Images,
			&meta.Candidates,
			&meta.Rejected,
			&meta.Missing,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		meta.CreatedAt = parseTimestamp(createdAt)
		results = append(results, meta)
	}
	return results, rows.Err()
}

// ListSources returns every source with at least one run.
func (r *RunDB) ListSources(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT source FROM runs ORDER BY source`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var source string
		if err := rows.Scan(&source); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// timestampFormats contains the timestamp formats a stored value may use.
var timestampFormats = []string{
	"2006-01-02 15:04:05", // fractional seconds are accepted when parsing
	"2006-01-02T15:04:05Z",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
}

// parseTimestamp tries each known format and returns the zero time when
// none matches.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
