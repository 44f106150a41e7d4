package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cmsauth/internal/apperr"
	"cmsauth/internal/models"
)

const userColumns = `id, name, email, password_hash, role, status, avatar_url, last_login, created_at, updated_at`

// PostgresUserRepository implements UserRepository on PostgreSQL.
type PostgresUserRepository struct {
	pool *pgxpool.Pool
	opts Options
}

func NewUserRepository(pool *pgxpool.Pool, opts Options) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool, opts: opts.withDefaults()}
}

func (r *PostgresUserRepository) acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, r.opts.AcquireTimeout)
	defer cancel()

	conn, err := r.pool.Acquire(acquireCtx)
	if err != nil {
		return nil, acquireError(err)
	}
	return conn, nil
}

func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) (models.User, error) {
	const query = `
		INSERT INTO users (name, email, password_hash, role, status, avatar_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING ` + userColumns

	conn, err := r.acquire(ctx)
	if err != nil {
		return models.User{}, err
	}
	defer conn.Release()

	created, err := scanUser(conn.QueryRow(ctx, query,
		user.Name,
		models.NormalizeEmail(user.Email),
		user.PasswordHash,
		string(user.Role),
		string(user.Status),
		user.AvatarURL,
	))
	if err != nil {
		return models.User{}, pgError(err)
	}
	return created, nil
}

func (r *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = $1` + r.lookupFilter()
	return r.getOne(ctx, query, models.NormalizeEmail(email))
}

func (r *PostgresUserRepository) FindByID(ctx context.Context, id int64) (models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1` + r.lookupFilter()
	return r.getOne(ctx, query, id)
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (models.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND status <> 'deleted'`
	return r.getOne(ctx, query, id)
}

func (r *PostgresUserRepository) lookupFilter() string {
	if r.opts.LookupMode == LookupStrict {
		return ` AND status = 'active'`
	}
	return ""
}

func (r *PostgresUserRepository) getOne(ctx context.Context, query string, args ...any) (models.User, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return models.User{}, err
	}
	defer conn.Release()

	user, err := scanUser(conn.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, apperr.ErrUserNotFound
		}
		return models.User{}, pgError(err)
	}
	return user, nil
}

func (r *PostgresUserRepository) List(ctx context.Context, limit, offset int) ([]models.User, int, error) {
	const countQuery = `SELECT COUNT(*) FROM users WHERE status <> 'deleted'`
	const listQuery = `
		SELECT ` + userColumns + `
		FROM users
		WHERE status <> 'deleted'
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2
	`

	conn, err := r.acquire(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Release()

	var total int
	if err := conn.QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, pgError(err)
	}

	rows, err := conn.Query(ctx, listQuery, limit, offset)
	if err != nil {
		return nil, 0, pgError(err)
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *PostgresUserRepository) Update(ctx context.Context, id int64, update models.UserUpdate) (models.User, error) {
	const query = `
		UPDATE users SET
			name       = COALESCE($2, name),
			email      = COALESCE($3, email),
			avatar_url = COALESCE($4, avatar_url),
			role       = COALESCE($5, role),
			status     = COALESCE($6, status),
			updated_at = NOW()
		WHERE id = $1 AND status <> 'deleted'
		RETURNING ` + userColumns

	var email *string
	if update.Email != nil {
		normalized := models.NormalizeEmail(*update.Email)
		email = &normalized
	}

	conn, err := r.acquire(ctx)
	if err != nil {
		return models.User{}, err
	}
	defer conn.Release()

	user, err := scanUser(conn.QueryRow(ctx, query,
		id,
		update.Name,
		email,
		update.AvatarURL,
		optionalString(update.Role),
		optionalString(update.Status),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.User{}, apperr.ErrUserNotFound
		}
		return models.User{}, pgError(err)
	}
	return user, nil
}

func (r *PostgresUserRepository) SetStatus(ctx context.Context, ids []int64, status models.UserStatus) ([]models.User, error) {
	const query = `
		UPDATE users SET status = $2, updated_at = NOW()
		WHERE id = ANY($1) AND status <> 'deleted'
		RETURNING ` + userColumns

	conn, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, query, ids, string(status))
	if err != nil {
		return nil, pgError(err)
	}
	return collectUsers(rows)
}

func (r *PostgresUserRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE users SET last_login = $2 WHERE id = $1`

	conn, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, query, id, at.UTC())
	return pgError(err)
}

// Delete removes the user's sessions before the user, or soft deletes when configured.
func (r *PostgresUserRepository) Delete(ctx context.Context, id int64) error {
	deleted, err := r.DeleteMany(ctx, []int64{id})
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

func (r *PostgresUserRepository) DeleteMany(ctx context.Context, ids []int64) ([]models.User, error) {
	const selectQuery = `SELECT ` + userColumns + ` FROM users WHERE id = ANY($1) AND status <> 'deleted' FOR UPDATE`
	const deleteSessions = `DELETE FROM sessions WHERE user_id = ANY($1)`
	const hardDelete = `DELETE FROM users WHERE id = ANY($1)`
	const softDelete = `UPDATE users SET status = 'deleted', updated_at = NOW() WHERE id = ANY($1)`

	conn, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, pgError(err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, selectQuery, ids)
	if err != nil {
		return nil, pgError(err)
	}
	users, err := collectUsers(rows)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}

	found := make([]int64, 0, len(users))
	for _, user := range users {
		found = append(found, user.ID)
	}

	if _, err := tx.Exec(ctx, deleteSessions, found); err != nil {
		return nil, pgError(err)
	}
	userQuery := hardDelete
	if r.opts.SoftDelete {
		userQuery = softDelete
	}
	if _, err := tx.Exec(ctx, userQuery, found); err != nil {
		return nil, pgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, pgError(err)
	}
	return users, nil
}

func (r *PostgresUserRepository) Stats(ctx context.Context, now time.Time, recent int) (models.UserStats, error) {
	const byStatusQuery = `SELECT status, COUNT(*) FROM users WHERE status <> 'deleted' GROUP BY status`
	const newUsersQuery = `
		SELECT
			COUNT(*) FILTER (WHERE created_at >= $1),
			COUNT(*) FILTER (WHERE created_at >= $2)
		FROM users
		WHERE status <> 'deleted'
	`
	const activeSessionsQuery = `SELECT COUNT(*) FROM sessions WHERE expires_at > $1`
	const recentQuery = `
		SELECT ` + userColumns + `
		FROM users
		WHERE status <> 'deleted'
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	conn, err := r.acquire(ctx)
	if err != nil {
		return models.UserStats{}, err
	}
	defer conn.Release()

	stats := models.UserStats{UsersByStatus: make(map[models.UserStatus]int)}

	rows, err := conn.Query(ctx, byStatusQuery)
	if err != nil {
		return models.UserStats{}, pgError(err)
	}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return models.UserStats{}, pgError(err)
		}
		stats.UsersByStatus[models.UserStatus(status)] = count
		stats.TotalUsers += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return models.UserStats{}, pgError(err)
	}

	weekAgo := now.Add(-7 * 24 * time.Hour)
	monthAgo := now.Add(-30 * 24 * time.Hour)
	if err := conn.QueryRow(ctx, newUsersQuery, weekAgo, monthAgo).Scan(&stats.NewUsersLast7Days, &stats.NewUsersLast30Days); err != nil {
		return models.UserStats{}, pgError(err)
	}
	if err := conn.QueryRow(ctx, activeSessionsQuery, now).Scan(&stats.ActiveSessions); err != nil {
		return models.UserStats{}, pgError(err)
	}

	recentRows, err := conn.Query(ctx, recentQuery, recent)
	if err != nil {
		return models.UserStats{}, pgError(err)
	}
	stats.RecentUsers, err = collectUsers(recentRows)
	if err != nil {
		return models.UserStats{}, err
	}
	return stats, nil
}

func scanUser(row pgx.Row) (models.User, error) {
	var (
		user   models.User
		role   string
		status string
	)
	if err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&role,
		&status,
		&user.AvatarURL,
		&user.LastLogin,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return models.User{}, err
	}
	return withEnums(user, role, status)
}

func collectUsers(rows pgx.Rows) ([]models.User, error) {
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, pgError(err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, pgError(err)
	}
	return users, nil
}

func withEnums(user models.User, role, status string) (models.User, error) {
	parsedRole, err := models.ParseUserRole(role)
	if err != nil {
		return models.User{}, fmt.Errorf("user %d: unexpected stored role %q", user.ID, role)
	}
	parsedStatus, err := models.ParseUserStatus(status)
	if err != nil {
		return models.User{}, fmt.Errorf("user %d: unexpected stored status %q", user.ID, status)
	}
	user.Role = parsedRole
	user.Status = parsedStatus
	return user, nil
}

func optionalString[T ~string](value *T) *string {
	if value == nil {
		return nil
	}
	s := strings.TrimSpace(string(*value))
	return &s
}
