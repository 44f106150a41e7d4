package repository

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"cmsauth/internal/apperr"
	"cmsauth/internal/models"
)

// sessionCreatedLayout keeps sub-second order so the session limit never drops the newest
// session when several are created within one second.
const sessionCreatedLayout = "2006-01-02 15:04:05.000000000"

const sqliteSessionColumns = `id, user_id, refresh_token, device_name, ip_address, user_agent, created_at, expires_at`

type sqliteSessionRow struct {
	ID           string     `db:"id"`
	UserID       int64      `db:"user_id"`
	RefreshToken string     `db:"refresh_token"`
	DeviceName   string     `db:"device_name"`
	IPAddress    string     `db:"ip_address"`
	UserAgent    string     `db:"user_agent"`
	CreatedAt    sqliteTime `db:"created_at"`
	ExpiresAt    sqliteTime `db:"expires_at"`
}

func (row sqliteSessionRow) toModel() (models.Session, error) {
	hash, err := hex.DecodeString(row.RefreshToken)
	if err != nil {
		return models.Session{}, fmt.Errorf("session %s: decode token hash: %w", row.ID, err)
	}
	return models.Session{
		ID:         row.ID,
		UserID:     row.UserID,
		TokenHash:  hash,
		DeviceName: row.DeviceName,
		IPAddress:  row.IPAddress,
		UserAgent:  row.UserAgent,
		CreatedAt:  row.CreatedAt.Time,
		ExpiresAt:  row.ExpiresAt.Time,
	}, nil
}

// SQLiteSessionRepository implements SessionRepository on an embedded SQLite file.
// The refresh_token column holds the hex-encoded token hash.
type SQLiteSessionRepository struct {
	sqliteBase
}

func NewSQLiteSessionRepository(db *sqlx.DB, opts Options) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{sqliteBase{db: db, opts: opts.withDefaults()}}
}

func (r *SQLiteSessionRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, sqliteError(err)
	}
	return result.RowsAffected()
}

func (r *SQLiteSessionRepository) Create(ctx context.Context, session models.Session) error {
	const query = `
		INSERT INTO sessions (id, user_id, refresh_token, device_name, ip_address, user_agent, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.exec(ctx, query,
		session.ID,
		session.UserID,
		hex.EncodeToString(session.TokenHash),
		session.DeviceName,
		session.IPAddress,
		session.UserAgent,
		time.Now().UTC().Format(sessionCreatedLayout),
		formatSQLiteTime(session.ExpiresAt),
	)
	return err
}

func (r *SQLiteSessionRepository) FindByTokenHash(ctx context.Context, hash []byte) (models.Session, error) {
	const query = `SELECT ` + sqliteSessionColumns + ` FROM sessions WHERE refresh_token = ?`
	return r.getOne(ctx, query, hex.EncodeToString(hash))
}

func (r *SQLiteSessionRepository) GetByID(ctx context.Context, id string) (models.Session, error) {
	const query = `SELECT ` + sqliteSessionColumns + ` FROM sessions WHERE id = ?`
	return r.getOne(ctx, query, id)
}

func (r *SQLiteSessionRepository) getOne(ctx context.Context, query string, args ...any) (models.Session, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return models.Session{}, err
	}
	defer conn.Close()

	var row sqliteSessionRow
	if err := conn.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, apperr.ErrSessionNotFound
		}
		return models.Session{}, sqliteError(err)
	}
	return row.toModel()
}

func (r *SQLiteSessionRepository) ListByUser(ctx context.Context, userID int64) ([]models.Session, error) {
	const query = `SELECT ` + sqliteSessionColumns + ` FROM sessions WHERE user_id = ? ORDER BY created_at DESC, id DESC`

	conn, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var rows []sqliteSessionRow
	if err := conn.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, sqliteError(err)
	}

	sessions := make([]models.Session, 0, len(rows))
	for _, row := range rows {
		session, err := row.toModel()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (r *SQLiteSessionRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM sessions WHERE user_id = ?`, userID)
}

func (r *SQLiteSessionRepository) CountActive(ctx context.Context, now time.Time) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM sessions WHERE expires_at > ?`, formatSQLiteTime(now))
}

func (r *SQLiteSessionRepository) count(ctx context.Context, query string, args ...any) (int, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	var count int
	if err := conn.GetContext(ctx, &count, query, args...); err != nil {
		return 0, sqliteError(err)
	}
	return count, nil
}

// DeleteOldest keeps the newest keepLatest sessions.
func (r *SQLiteSessionRepository) DeleteOldest(ctx context.Context, userID int64, keepLatest int) error {
	const query = `
		DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT -1 OFFSET ?
		)
	`
	_, err := r.exec(ctx, query, userID, keepLatest)
	return err
}

func (r *SQLiteSessionRepository) DeleteByID(ctx context.Context, id string) error {
	affected, err := r.exec(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.ErrSessionNotFound
	}
	return nil
}

func (r *SQLiteSessionRepository) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.exec(ctx, `DELETE FROM sessions WHERE user_id = ?`, userID)
	return err
}

func (r *SQLiteSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, formatSQLiteTime(now))
}
