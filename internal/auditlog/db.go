package auditlog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBLog is the SQL-backed audit log. The default backend is a SQLite file
// under dataDir; a Postgres DSN selects lib/pq instead. A single write lock
// serializes appends from concurrent runs.
type DBLog struct {
	mu     sync.Mutex
	db     *sql.DB
	driver string
}

// OpenSQLite opens (or creates) dataDir/audit.db in WAL mode and runs
// pending migrations. Caller must Close when done.
func OpenSQLite(dataDir string) (*DBLog, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("audit log: data_dir is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("audit log: %w", err)
	}
	dbPath := filepath.Join(dataDir, "audit.db")
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("audit log: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit log: WAL: %w", err)
	}
	return newDBLog(db, "sqlite")
}

// OpenPostgres connects to a Postgres DSN and runs pending migrations.
func OpenPostgres(dsn string) (*DBLog, error) {
	if dsn == "" {
		return nil, fmt.Errorf("audit log: postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit log: open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("audit log: ping: %w", err)
	}
	return newDBLog(db, "postgres")
}

func newDBLog(db *sql.DB, driver string) (*DBLog, error) {
	l := &DBLog{db: db, driver: driver}
	if err := l.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the database connection.
func (l *DBLog) Close() error {
	return l.db.Close()
}

// RecordOracleCall appends one oracle-call record.
func (l *DBLog) RecordOracleCall(ctx context.Context, call OracleCall) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx, l.rebind(
		`INSERT INTO oracle_calls (id, run_id, ts, context, response, latency_ms, error) VALUES (?, ?, ?, ?, ?, ?, ?)`),
		call.ID, call.RunID, call.Timestamp, truncateForStorage(call.Context), call.Response, call.LatencyMs, call.Error)
	if err != nil {
		return fmt.Errorf("audit log: oracle call: %w", err)
	}
	return nil
}

// RecordCapabilityCall appends one capability-invocation record.
func (l *DBLog) RecordCapabilityCall(ctx context.Context, call CapabilityCall) error {
	if call.ID == "" {
		call.ID = uuid.New().String()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx, l.rebind(
		`INSERT INTO capability_calls (id, run_id, ts, capability, args, result, error, latency_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		call.ID, call.RunID, call.Timestamp, call.Capability, call.Args, call.Result, call.Error, call.LatencyMs)
	if err != nil {
		return fmt.Errorf("audit log: capability call: %w", err)
	}
	return nil
}

// OracleCalls returns records for a run in append order, for inspection and
// tests.
func (l *DBLog) OracleCalls(ctx context.Context, runID string) ([]OracleCall, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(
		`SELECT id, run_id, ts, context, response, latency_ms, error FROM oracle_calls WHERE run_id = ? ORDER BY ts`), runID)
	if err != nil {
		return nil, fmt.Errorf("audit log: query oracle calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var calls []OracleCall
	for rows.Next() {
		var c OracleCall
		if err := rows.Scan(&c.ID, &c.RunID, &c.Timestamp, &c.Context, &c.Response, &c.LatencyMs, &c.Error); err != nil {
			return nil, fmt.Errorf("audit log: scan: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// CapabilityCalls returns invocation records for a run in append order.
func (l *DBLog) CapabilityCalls(ctx context.Context, runID string) ([]CapabilityCall, error) {
	rows, err := l.db.QueryContext(ctx, l.rebind(
		`SELECT id, run_id, ts, capability, args, result, error, latency_ms FROM capability_calls WHERE run_id = ? ORDER BY ts`), runID)
	if err != nil {
		return nil, fmt.Errorf("audit log: query capability calls: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var calls []CapabilityCall
	for rows.Next() {
		var c CapabilityCall
		if err := rows.Scan(&c.ID, &c.RunID, &c.Timestamp, &c.Capability, &c.Args, &c.Result, &c.Error, &c.LatencyMs); err != nil {
			return nil, fmt.Errorf("audit log: scan: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// rebind rewrites ? placeholders to $1..$n for Postgres.
func (l *DBLog) rebind(query string) string {
	if l.driver != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

func (l *DBLog) runMigrations() error {
	names, err := migrationNames()
	if err != nil {
		return fmt.Errorf("audit log: migrations: %w", err)
	}
	for _, name := range names {
		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("audit log: migration %s: %w", name, err)
		}
		for _, stmt := range strings.Split(string(data), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := l.db.Exec(stmt); err != nil {
				return fmt.Errorf("audit log: migration %s: %w", name, err)
			}
		}
	}
	return nil
}

func migrationNames() ([]string, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
