package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/ashureev/crawl/internal/domain"
	"github.com/ashureev/crawl/internal/shared"
	_ "modernc.org/sqlite"
)

// ssq is the statement builder for SQLite's ? placeholders.
var ssq = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var sessionColumns = []string{
	"id", "owner_id", "status", "health", "start_time", "end_time",
	"next_item_time", "next_escapade_time", "npc_event_triggered",
	"encounter_json", "items_json", "logs_json", "version", "updated_at",
}

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens the database at dbPath, applies migrations and returns the repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; immediate transactions so writers queue on
	// busy_timeout instead of failing on lock upgrade.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return New(db), nil
}

// New wraps an already opened and migrated database.
func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion() (uint, bool, error) {
	return SchemaVersion(s.db)
}

// EnsureAccount creates the owner's account if missing and returns it.
func (s *SQLiteStore) EnsureAccount(ctx context.Context, ownerID, username string) (*domain.Account, error) {
	now := s.now().UnixMilli()
	query := `
	INSERT INTO accounts (owner_id, username, balance, created_at, updated_at)
	VALUES (?, ?, 0, ?, ?)
	ON CONFLICT(owner_id) DO UPDATE SET updated_at = excluded.updated_at`

	if _, err := s.db.ExecContext(ctx, query, ownerID, username, now, now); err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	account, err := s.GetAccount(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("account %s missing after upsert", ownerID)
	}
	return account, nil
}

// GetAccount retrieves an account by owner ID.
func (s *SQLiteStore) GetAccount(ctx context.Context, ownerID string) (*domain.Account, error) {
	query := `SELECT owner_id, username, balance, created_at, updated_at FROM accounts WHERE owner_id = ?`

	var account domain.Account
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, ownerID).Scan(
		&account.OwnerID, &account.Username, &account.Balance, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account row: %w", err)
	}

	account.CreatedAt = fromMillis(createdAt)
	account.UpdatedAt = fromMillis(updatedAt)
	return &account, nil
}

// Balance returns the owner's currency balance.
func (s *SQLiteStore) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE owner_id = ?`, ownerID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// OwnedItems returns the catalog IDs in the owner's inventory in acquisition order.
func (s *SQLiteStore) OwnedItems(ctx context.Context, ownerID string) ([]int64, error) {
	query, args, err := ssq.Select("item_id").
		From("inventory_items").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build inventory query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close inventory rows", "error", closeErr)
		}
	}()

	items := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan inventory row: %w", err)
		}
		items = append(items, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory: %w", err)
	}
	return items, nil
}

// CreateSession inserts a new session with version 1.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	row, err := encodeSession(session)
	if err != nil {
		return err
	}
	session.Version = 1
	session.UpdatedAt = s.now()

	query, args, err := ssq.Insert("dungeon_sessions").
		Columns(sessionColumns...).
		Values(
			session.ID, session.OwnerID, string(session.Status), session.Health,
			toMillis(session.StartTime), row.endTime, row.nextItemTime,
			toMillis(session.NextEscapadeTime), session.NPCEventTriggered,
			row.encounter, row.items, row.logs, session.Version, toMillis(session.UpdatedAt),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build session insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if shared.IsSQLiteUniqueError(err) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	return s.getOne(ctx, sq.Eq{"id": sessionID})
}

// OpenSession retrieves the owner's non-ended session.
func (s *SQLiteStore) OpenSession(ctx context.Context, ownerID string) (*domain.Session, error) {
	return s.getOne(ctx, sq.And{
		sq.Eq{"owner_id": ownerID},
		sq.NotEq{"status": string(domain.StatusEnded)},
	})
}

func (s *SQLiteStore) getOne(ctx context.Context, where sq.Sqlizer) (*domain.Session, error) {
	query, args, err := ssq.Select(sessionColumns...).
		From("dungeon_sessions").
		Where(where).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build session query: %w", err)
	}

	session, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return session, nil
}

// ListSessions returns sessions matching the filter ordered by start time.
func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]*domain.Session, error) {
	qb := ssq.Select(sessionColumns...).From("dungeon_sessions")
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		qb = qb.Where(sq.Eq{"status": statuses})
	}
	if filter.OwnerID != "" {
		qb = qb.Where(sq.Eq{"owner_id": filter.OwnerID})
	}
	qb = qb.OrderBy("start_time ASC", "id ASC")
	if filter.Limit > 0 {
		qb = qb.Limit(filter.Limit)
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build session list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close session rows", "error", closeErr)
		}
	}()

	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// WithTx runs fn in a transaction.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("failed to roll back transaction", "error", rbErr)
			}
		}
	}()

	if err = fn(&sqliteTx{tx: sqlTx, now: s.now}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *sqliteTx) SaveSession(ctx context.Context, session *domain.Session) error {
	row, err := encodeSession(session)
	if err != nil {
		return err
	}
	updatedAt := t.now()

	query, args, err := ssq.Update("dungeon_sessions").
		Set("status", string(session.Status)).
		Set("health", session.Health).
		Set("end_time", row.endTime).
		Set("next_item_time", row.nextItemTime).
		Set("next_escapade_time", toMillis(session.NextEscapadeTime)).
		Set("npc_event_triggered", session.NPCEventTriggered).
		Set("encounter_json", row.encounter).
		Set("items_json", row.items).
		Set("logs_json", row.logs).
		Set("version", sq.Expr("version + 1")).
		Set("updated_at", toMillis(updatedAt)).
		Where(sq.Eq{"id": session.ID, "version": session.Version, "end_time": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build session update: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Debug("SaveSession affected 0 rows", "session_id", session.ID, "version", session.Version)
		return ErrVersionConflict
	}

	session.Version++
	session.UpdatedAt = updatedAt
	return nil
}

func (t *sqliteTx) MarkApplied(ctx context.Context, sessionID, trigger string, at time.Time) (bool, error) {
	query := `
	INSERT INTO reward_applications (session_id, trigger_key, applied_at)
	VALUES (?, ?, ?)
	ON CONFLICT(session_id, trigger_key) DO NOTHING`

	result, err := t.tx.ExecContext(ctx, query, sessionID, trigger, toMillis(at))
	if err != nil {
		return false, fmt.Errorf("record reward application: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (t *sqliteTx) GrantItem(ctx context.Context, grant Grant) error {
	query, args, err := ssq.Insert("inventory_items").
		Columns("owner_id", "item_id", "source", "session_id", "acquired_at").
		Values(grant.OwnerID, grant.ItemID, string(grant.Source), grant.SessionID, toMillis(grant.At)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build inventory insert: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("grant item: %w", err)
	}
	return nil
}

func (t *sqliteTx) CreditCurrency(ctx context.Context, ownerID string, amount int64) (int64, error) {
	now := toMillis(t.now())
	query := `
	INSERT INTO accounts (owner_id, username, balance, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(owner_id) DO UPDATE SET
		balance = accounts.balance + excluded.balance,
		updated_at = excluded.updated_at
	RETURNING balance`

	var balance int64
	if err := t.tx.QueryRowContext(ctx, query, ownerID, ownerID, amount, now, now).Scan(&balance); err != nil {
		return 0, fmt.Errorf("credit currency: %w", err)
	}
	return balance, nil
}

// sessionRow holds the nullable and JSON-encoded session columns.
type sessionRow struct {
	endTime      any
	nextItemTime any
	encounter    any
	items        string
	logs         string
}

func encodeSession(s *domain.Session) (sessionRow, error) {
	var row sessionRow
	if s.EndTime != nil {
		row.endTime = toMillis(*s.EndTime)
	}
	if s.NextItemTime != nil {
		row.nextItemTime = toMillis(*s.NextItemTime)
	}
	if s.Encounter != nil {
		b, err := json.Marshal(s.Encounter)
		if err != nil {
			return row, fmt.Errorf("encode encounter: %w", err)
		}
		row.encounter = string(b)
	}

	items := s.ItemsCollected
	if items == nil {
		items = []int64{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return row, fmt.Errorf("encode items: %w", err)
	}
	row.items = string(b)

	logs := s.Logs
	if logs == nil {
		logs = []domain.LogEntry{}
	}
	b, err = json.Marshal(logs)
	if err != nil {
		return row, fmt.Errorf("encode logs: %w", err)
	}
	row.logs = string(b)
	return row, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*domain.Session, error) {
	var s domain.Session
	var status string
	var startTime, nextEscapade, updatedAt int64
	var endTime, nextItem sql.NullInt64
	var encounterJSON sql.NullString
	var itemsJSON, logsJSON string

	err := r.Scan(
		&s.ID, &s.OwnerID, &status, &s.Health, &startTime, &endTime,
		&nextItem, &nextEscapade, &s.NPCEventTriggered,
		&encounterJSON, &itemsJSON, &logsJSON, &s.Version, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	s.Status = domain.Status(status)
	s.StartTime = fromMillis(startTime)
	s.NextEscapadeTime = fromMillis(nextEscapade)
	s.UpdatedAt = fromMillis(updatedAt)
	if endTime.Valid {
		t := fromMillis(endTime.Int64)
		s.EndTime = &t
	}
	if nextItem.Valid {
		t := fromMillis(nextItem.Int64)
		s.NextItemTime = &t
	}
	if encounterJSON.Valid && encounterJSON.String != "" {
		var enc domain.Encounter
		if err := json.Unmarshal([]byte(encounterJSON.String), &enc); err != nil {
			return nil, fmt.Errorf("decode encounter for session %s: %w", s.ID, err)
		}
		s.Encounter = &enc
	}
	if err := json.Unmarshal([]byte(itemsJSON), &s.ItemsCollected); err != nil {
		return nil, fmt.Errorf("decode items for session %s: %w", s.ID, err)
	}
	if err := json.Unmarshal([]byte(logsJSON), &s.Logs); err != nil {
		return nil, fmt.Errorf("decode logs for session %s: %w", s.ID, err)
	}
	return &s, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
