package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cmsauth/internal/apperr"
	"cmsauth/internal/models"
)

const sessionColumns = `id, user_id, token_hash, device_name, ip_address, user_agent, created_at, expires_at`

// PostgresSessionRepository implements SessionRepository on PostgreSQL.
type PostgresSessionRepository struct {
	pool *pgxpool.Pool
	opts Options
}

func NewSessionRepository(pool *pgxpool.Pool, opts Options) *PostgresSessionRepository {
	return &PostgresSessionRepository{pool: pool, opts: opts.withDefaults()}
}

func (r *PostgresSessionRepository) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, r.opts.AcquireTimeout)
	defer cancel()

	conn, err := r.pool.Acquire(acquireCtx)
	if err != nil {
		return nil, acquireError(err)
	}
	return conn, nil
}

func (r *PostgresSessionRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	cmd, err := conn.Exec(ctx, query, args...)
	if err != nil {
		return 0, pgError(err)
	}
	return cmd.RowsAffected(), nil
}

func (r *PostgresSessionRepository) Create(ctx context.Context, session models.Session) error {
	const query = `
		INSERT INTO sessions (id, user_id, token_hash, device_name, ip_address, user_agent, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), $7)
	`
	_, err := r.exec(ctx, query,
		session.ID,
		session.UserID,
		session.TokenHash,
		session.DeviceName,
		session.IPAddress,
		session.UserAgent,
		session.ExpiresAt.UTC(),
	)
	return err
}

func (r *PostgresSessionRepository) FindByTokenHash(ctx context.Context, hash []byte) (models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE token_hash = $1`
	return r.getOne(ctx, query, hash)
}

func (r *PostgresSessionRepository) GetByID(ctx context.Context, id string) (models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresSessionRepository) getOne(ctx context.Context, query string, args ...any) (models.Session, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return models.Session{}, err
	}
	defer conn.Release()

	session, err := scanSession(conn.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Session{}, apperr.ErrSessionNotFound
		}
		return models.Session{}, pgError(err)
	}
	return session, nil
}

func (r *PostgresSessionRepository) ListByUser(ctx context.Context, userID int64) ([]models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	conn, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, userID)
	if err != nil {
		return nil, pgError(err)
	}
	defer rows.Close()

	var sessions []models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, pgError(err)
		}
		sessions = append(sessions, session)
	}
	return sessions, pgError(rows.Err())
}

func (r *PostgresSessionRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE user_id = $1`
	return r.count(ctx, query, userID)
}

func (r *PostgresSessionRepository) CountActive(ctx context.Context, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM sessions WHERE expires_at > $1`
	return r.count(ctx, query, now.UTC())
}

func (r *PostgresSessionRepository) count(ctx context.Context, query string, args ...any) (int, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Release()

	var count int
	if err := conn.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, pgError(err)
	}
	return count, nil
}

func (r *PostgresSessionRepository) DeleteOldest(ctx context.Context, userID int64, keepLatest int) error {
	const query = `
		DELETE FROM sessions
		WHERE id IN (
			SELECT id FROM sessions
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			OFFSET $2
		)
	`
	_, err := r.exec(ctx, query, userID, keepLatest)
	return err
}

func (r *PostgresSessionRepository) DeleteByID(ctx context.Context, id string) error {
	const query = `DELETE FROM sessions WHERE id = $1`
	affected, err := r.exec(ctx, query, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return apperr.ErrSessionNotFound
	}
	return nil
}

func (r *PostgresSessionRepository) DeleteByUser(ctx context.Context, userID int64) error {
	const query = `DELETE FROM sessions WHERE user_id = $1`
	_, err := r.exec(ctx, query, userID)
	return err
}

func (r *PostgresSessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE expires_at <= $1`
	return r.exec(ctx, query, now.UTC())
}

func scanSession(row pgx.Row) (models.Session, error) {
	var session models.Session
	err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.TokenHash,
		&session.DeviceName,
		&session.IPAddress,
		&session.UserAgent,
		&session.CreatedAt,
		&session.ExpiresAt,
	)
	return session, err
}
