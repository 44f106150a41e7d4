package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"cmsauth/internal/apperr"
	"cmsauth/internal/models"
)

const sqliteUserColumns = `id, email, password, name, avatar, role, status, last_login, created_at, updated_at`

type sqliteUserRow struct {
	ID        int64          `db:"id"`
	Email     string         `db:"email"`
	Password  string         `db:"password"`
	Name      string         `db:"name"`
	Avatar    sql.NullString `db:"avatar"`
	Role      string         `db:"role"`
	Status    string         `db:"status"`
	LastLogin sqliteTime     `db:"last_login"`
	CreatedAt sqliteTime     `db:"created_at"`
	UpdatedAt sqliteTime     `db:"updated_at"`
}

func (row sqliteUserRow) toModel() (models.User, error) {
	user := models.User{
		ID:           row.ID,
		Email:        row.Email,
		PasswordHash: []byte(row.Password),
		Name:         row.Name,
		LastLogin:    row.LastLogin.Ptr(),
		CreatedAt:    row.CreatedAt.Time,
		UpdatedAt:    row.UpdatedAt.Time,
	}
	if row.Avatar.Valid {
		avatar := row.Avatar.String
		user.AvatarURL = &avatar
	}
	return withEnums(user, row.Role, row.Status)
}

// SQLiteUserRepository implements UserRepository on an embedded SQLite file.
type SQLiteUserRepository struct {
	sqliteBase
}

func NewSQLiteUserRepository(db *sqlx.DB, opts Options) *SQLiteUserRepository {
	return &SQLiteUserRepository{sqliteBase{db: db, opts: opts.withDefaults()}}
}

func (r *SQLiteUserRepository) Create(ctx context.Context, user models.User) (models.User, error) {
	const query = `
		INSERT INTO users (email, password, name, avatar, role, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	conn, err := r.acquire(ctx)
	if err != nil {
		return models.User{}, err
	}
	defer conn.Close()

	now := formatSQLiteTime(time.Now())
	result, err := conn.ExecContext(ctx, query,
		models.NormalizeEmail(user.Email),
		string(user.PasswordHash),
		user.Name,
		user.AvatarURL,
		string(user.Role),
		string(user.Status),
		now,
		now,
	)
	if err != nil {
		return models.User{}, sqliteError(err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return models.User{}, fmt.Errorf("last insert id: %w", err)
	}
	return r.getOne(ctx, conn, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id)
}

func (r *SQLiteUserRepository) FindByEmail(ctx context.Context, email string) (models.User, error) {
	query := `SELECT ` + sqliteUserColumns + ` FROM users WHERE email = ?` + r.lookupFilter()
	return r.queryOne(ctx, query, models.NormalizeEmail(email))
}

func (r *SQLiteUserRepository) FindByID(ctx context.Context, id int64) (models.User, error) {
	query := `SELECT ` + sqliteUserColumns + ` FROM users WHERE id = ?` + r.lookupFilter()
	return r.queryOne(ctx, query, id)
}

func (r *SQLiteUserRepository) GetByID(ctx context.Context, id int64) (models.User, error) {
	const query = `SELECT ` + sqliteUserColumns + ` FROM users WHERE id = ? AND status <> 'deleted'`
	return r.queryOne(ctx, query, id)
}

func (r *SQLiteUserRepository) lookupFilter() string {
	if r.opts.LookupMode == LookupStrict {
		return ` AND status = 'active'`
	}
	return ""
}

func (r *SQLiteUserRepository) queryOne(ctx context.Context, query string, args ...any) (models.User, error) {
	conn, err := r.acquire(ctx)
	if err != nil {
		return models.User{}, err
	}
	defer conn.Close()

	return r.getOne(ctx, conn, query, args...)
}

type sqlxGetter interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func (r *SQLiteUserRepository) getOne(ctx context.Context, q sqlxGetter, query string, args ...any) (models.User, error) {
	var row sqliteUserRow
	if err := q.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, apperr.ErrUserNotFound
		}
		return models.User{}, sqliteError(err)
	}
	return row.toModel()
}

func (r *SQLiteUserRepository) selectUsers(ctx context.Context, q sqlxGetter, query string, args ...any) ([]models.User, error) {
	var rows []sqliteUserRow
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, sqliteError(err)
	}

	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		user, err := row.toModel()
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, nil
}

func (r *SQLiteUserRepository) List(ctx context.Context, limit, offset int) ([]models.User, int, error) {
	const countQuery = `SELECT COUNT(*) FROM users WHERE status <> 'deleted'`
	const listQuery = `
		SELECT ` + sqliteUserColumns + `
		FROM users
		WHERE status <> 'deleted'
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	conn, err := r.acquire(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer conn.Close()

	var total int
	if err := conn.GetContext(ctx, &total, countQuery); err != nil {
		return nil, 0, sqliteError(err)
	}

	users, err := r.selectUsers(ctx, conn, listQuery, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *SQLiteUserRepository) Update(ctx context.Context, id int64, update models.UserUpdate) (models.User, error) {
	const query = `
		UPDATE users SET
			name       = COALESCE(?, name),
			email      = COALESCE(?, email),
			avatar     = COALESCE(?, avatar),
			role       = COALESCE(?, role),
			status     = COALESCE(?, status),
			updated_at = ?
		WHERE id = ? AND status <> 'deleted'
	`

	var email *string
	if update.Email != nil {
		normalized := models.NormalizeEmail(*update.Email)
		email = &normalized
	}

	conn, err := r.acquire(ctx)
	if err != nil {
		return models.User{}, err
	}
	defer conn.Close()

	result, err := conn.ExecContext(ctx, query,
		update.Name,
		email,
		update.AvatarURL,
		optionalString(update.Role),
		optionalString(update.Status),
		formatSQLiteTime(time.Now()),
		id,
	)
	if err != nil {
		return models.User{}, sqliteError(err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return models.User{}, apperr.ErrUserNotFound
	}

	return r.getOne(ctx, conn, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id)
}

func (r *SQLiteUserRepository) SetStatus(ctx context.Context, ids []int64, status models.UserStatus) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	conn, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, sqliteError(err)
	}
	defer tx.Rollback()

	update, args, err := sqlx.In(`UPDATE users SET status = ?, updated_at = ? WHERE id IN (?) AND status <> 'deleted'`,
		string(status), formatSQLiteTime(time.Now()), ids)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return nil, sqliteError(err)
	}

	selectQuery, args, err := sqlx.In(`SELECT `+sqliteUserColumns+` FROM users WHERE id IN (?) AND status = ? ORDER BY id`, ids, string(status))
	if err != nil {
		return nil, err
	}
	users, err := r.selectUsers(ctx, tx, selectQuery, args...)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, sqliteError(err)
	}
	return users, nil
}

func (r *SQLiteUserRepository) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	const query = `UPDATE users SET last_login = ? WHERE id = ?`

	conn, err := r.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	_, err = conn.ExecContext(ctx, query, formatSQLiteTime(at), id)
	return sqliteError(err)
}

// Delete removes the user's sessions before the user, or soft deletes when configured.
func (r *SQLiteUserRepository) Delete(ctx context.Context, id int64) error {
	deleted, err := r.DeleteMany(ctx, []int64{id})
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		return apperr.ErrUserNotFound
	}
	return nil
}

func (r *SQLiteUserRepository) DeleteMany(ctx context.Context, ids []int64) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	conn, err := r.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return nil, sqliteError(err)
	}
	defer tx.Rollback()

	selectQuery, args, err := sqlx.In(`SELECT `+sqliteUserColumns+` FROM users WHERE id IN (?) AND status <> 'deleted' ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	users, err := r.selectUsers(ctx, tx, selectQuery, args...)
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

	deleteSessions, args, err := sqlx.In(`DELETE FROM sessions WHERE user_id IN (?)`, found)
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, deleteSessions, args...); err != nil {
		return nil, sqliteError(err)
	}

	userQuery, args, err := sqlx.In(`DELETE FROM users WHERE id IN (?)`, found)
	if r.opts.SoftDelete {
		userQuery, args, err = sqlx.In(`UPDATE users SET status = 'deleted', updated_at = ? WHERE id IN (?)`,
			formatSQLiteTime(time.Now()), found)
	}
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, userQuery, args...); err != nil {
		return nil, sqliteError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, sqliteError(err)
	}
	return users, nil
}

func (r *SQLiteUserRepository) Stats(ctx context.Context, now time.Time, recent int) (models.UserStats, error) {
	const byStatusQuery = `SELECT status, COUNT(*) AS total FROM users WHERE status <> 'deleted' GROUP BY status`
	const newUsersQuery = `SELECT COUNT(*) FROM users WHERE status <> 'deleted' AND created_at >= ?`
	const activeSessionsQuery = `SELECT COUNT(*) FROM sessions WHERE expires_at > ?`
	const recentQuery = `
		SELECT ` + sqliteUserColumns + `
		FROM users
		WHERE status <> 'deleted'
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	conn, err := r.acquire(ctx)
	if err != nil {
		return models.UserStats{}, err
	}
	defer conn.Close()

	var counts []struct {
		Status string `db:"status"`
		Total  int    `db:"total"`
	}
	if err := conn.SelectContext(ctx, &counts, byStatusQuery); err != nil {
		return models.UserStats{}, sqliteError(err)
	}

	stats := models.UserStats{UsersByStatus: make(map[models.UserStatus]int, len(counts))}
	for _, c := range counts {
		stats.UsersByStatus[models.UserStatus(strings.ToLower(c.Status))] = c.Total
		stats.TotalUsers += c.Total
	}

	weekAgo := formatSQLiteTime(now.Add(-7 * 24 * time.Hour))
	monthAgo := formatSQLiteTime(now.Add(-30 * 24 * time.Hour))
	if err := conn.GetContext(ctx, &stats.NewUsersLast7Days, newUsersQuery, weekAgo); err != nil {
		return models.UserStats{}, sqliteError(err)
	}
	if err := conn.GetContext(ctx, &stats.NewUsersLast30Days, newUsersQuery, monthAgo); err != nil {
		return models.UserStats{}, sqliteError(err)
	}
	if err := conn.GetContext(ctx, &stats.ActiveSessions, activeSessionsQuery, formatSQLiteTime(now)); err != nil {
		return models.UserStats{}, sqliteError(err)
	}

	stats.RecentUsers, err = r.selectUsers(ctx, conn, recentQuery, recent)
	if err != nil {
		return models.UserStats{}, err
	}
	return stats, nil
}
