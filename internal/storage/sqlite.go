package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/txbot/internal/account"
	"github.com/gateway-fm/txbot/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// A corrupt request column should not hide the rest of the run.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStorage implements Storage and KeyStorage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var (
	_ Storage    = (*SQLiteStorage)(nil)
	_ KeyStorage = (*SQLiteStorage)(nil)
)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL lets the HTTP API read history while a run is writing.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

// migrate brings the schema up to the latest embedded migration. The
// migrator shares s.db, so it is not closed here.
func (s *SQLiteStorage) migrate() error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("creating migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("running migration up: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run record.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.Run) error {
	reqJSON, err := json.Marshal(run.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, kind, request, status, started_at, wallets)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, string(run.Request.Kind), string(reqJSON), string(run.Status), run.StartedAt, run.Wallets)
	return err
}

// UpdateRun writes the run's counters, status and completion time.
func (s *SQLiteStorage) UpdateRun(ctx context.Context, run *types.Run) error {
	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: *run.CompletedAt, Valid: true}
	}
	var latency sql.NullString
	if run.Latency != nil {
		data, err := json.Marshal(run.Latency)
		if err != nil {
			return fmt.Errorf("failed to marshal latency: %w", err)
		}
		latency = sql.NullString{String: string(data), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			completed_at = ?,
			wallets = ?,
			operations = ?,
			confirmed = ?,
			failed = ?,
			skipped = ?,
			latency = ?,
			error_message = ?
		WHERE id = ?
	`, string(run.Status), completedAt, run.Wallets, run.Operations,
		run.Confirmed, run.Failed, run.Skipped, latency, nullString(run.Error), run.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not found", run.ID)
	}
	return nil
}

const runColumns = `id, request, status, started_at, completed_at, wallets, operations,
	confirmed, failed, skipped, latency, error_message`

// GetRun retrieves a single run by ID. It returns nil, nil if none exists.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ListRuns returns a page of runs, newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []types.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// DeleteRun deletes a run and its submissions. Ephemeral keys are kept.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	return err
}

// BulkInsertSubmissions inserts submissions in a single transaction.
func (s *SQLiteStorage) BulkInsertSubmissions(ctx context.Context, runID string, subs []types.Submission) error {
	if len(subs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO submissions (run_id, wallet, phase, call_type, label, from_addr, to_addr,
			nonce, tx_hash, status, attempts, gas_used, block_number, latency_ms, error_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, sub := range subs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var nonce sql.NullInt64
		if sub.Nonce != nil {
			nonce = sql.NullInt64{Int64: int64(*sub.Nonce), Valid: true}
		}
		createdAt := sub.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err := stmt.ExecContext(ctx, runID, sub.Wallet, sub.Phase, nullString(sub.Call), nullString(sub.Label),
			nullString(sub.From), nullString(sub.To), nonce, nullString(sub.TxHash), string(sub.Status),
			sub.Attempts, sub.GasUsed, sub.Block, sub.LatencyMs, nullString(sub.Error), createdAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const submissionColumns = `run_id, wallet, phase, call_type, label, from_addr, to_addr, nonce, tx_hash,
	status, attempts, gas_used, block_number, latency_ms, error_reason, created_at`

// GetSubmissions retrieves a page of a run's submissions in insertion order.
func (s *SQLiteStorage) GetSubmissions(ctx context.Context, runID string, limit, offset int) (*PaginatedSubmissions, error) {
	var total int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM submissions WHERE run_id = ?", runID).Scan(&total)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE run_id = ?
		ORDER BY id
		LIMIT ? OFFSET ?
	`, runID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []types.Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedSubmissions{
		Submissions: subs,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	}, nil
}

// GetSubmissionByHash finds a submission by transaction hash. It returns
// nil, nil if none exists.
func (s *SQLiteStorage) GetSubmissionByHash(ctx context.Context, txHash string) (*types.Submission, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE tx_hash = ?
		ORDER BY id DESC
		LIMIT 1
	`, txHash)
	sub, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return sub, err
}

// SaveEphemeralAccounts stores generated keys. Saving an address twice
// keeps the first record.
func (s *SQLiteStorage) SaveEphemeralAccounts(ctx context.Context, runID, owner string, keys []account.KeyPair) error {
	if len(keys) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO ephemeral_accounts (address, private_key, owner, run_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k.Address, k.PrivateKeyHex, owner, nullString(runID), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListEphemeralAccounts returns the keys generated for owner, oldest first.
// An empty owner lists every key.
func (s *SQLiteStorage) ListEphemeralAccounts(ctx context.Context, owner string) ([]EphemeralAccount, error) {
	query := `SELECT address, private_key, owner, run_id, created_at FROM ephemeral_accounts`
	var args []any
	if owner != "" {
		query += ` WHERE owner = ?`
		args = append(args, owner)
	}
	query += ` ORDER BY created_at, address`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EphemeralAccount
	for rows.Next() {
		var a EphemeralAccount
		var runID sql.NullString
		if err := rows.Scan(&a.Address, &a.PrivateKeyHex, &a.Owner, &runID, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.RunID = runID.String
		out = append(out, a)
	}
	return out, rows.Err()
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*types.Run, error) {
	var run types.Run
	var reqJSON string
	var status string
	var completedAt sql.NullTime
	var latency, errorMsg sql.NullString

	err := row.Scan(&run.ID, &reqJSON, &status, &run.StartedAt, &completedAt, &run.Wallets, &run.Operations,
		&run.Confirmed, &run.Failed, &run.Skipped, &latency, &errorMsg)
	if err != nil {
		return nil, err
	}

	run.Status = types.RunStatus(status)
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.Error = errorMsg.String
	unmarshalJSON(reqJSON, &run.Request, "request", run.ID)
	if latency.Valid {
		run.Latency = &types.LatencyStats{}
		unmarshalJSON(latency.String, run.Latency, "latency", run.ID)
	}
	return &run, nil
}

func scanSubmission(row scanner) (*types.Submission, error) {
	var sub types.Submission
	var call, label, from, to, txHash, errorReason sql.NullString
	var nonce sql.NullInt64
	var status string

	err := row.Scan(&sub.RunID, &sub.Wallet, &sub.Phase, &call, &label, &from, &to, &nonce, &txHash,
		&status, &sub.Attempts, &sub.GasUsed, &sub.Block, &sub.LatencyMs, &errorReason, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}

	sub.Call = call.String
	sub.Label = label.String
	sub.From = from.String
	sub.To = to.String
	sub.TxHash = txHash.String
	sub.Error = errorReason.String
	sub.Status = types.SubmissionStatus(status)
	if nonce.Valid {
		n := uint64(nonce.Int64)
		sub.Nonce = &n
	}
	return &sub, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
