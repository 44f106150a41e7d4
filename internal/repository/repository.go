package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"cmsauth/internal/config"
	"cmsauth/internal/database"
	"cmsauth/internal/models"
)

// LookupMode selects how auth lookups treat users that are not active.
type LookupMode string

const (
	// LookupStrict hides non-active users from FindByEmail and FindByID at the query level.
	LookupStrict LookupMode = "strict"
	// LookupPermissive returns any stored user and leaves the status gate to the caller.
	LookupPermissive LookupMode = "permissive"
)

type Options struct {
	LookupMode     LookupMode
	SoftDelete     bool
	AcquireTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.LookupMode == "" {
		o.LookupMode = LookupPermissive
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 5 * time.Second
	}
	return o
}

// UserRepository persists user records. FindByEmail and FindByID serve login and the
// access guard and honour the lookup mode; GetByID and List serve administration and
// only hide soft-deleted users.
type UserRepository interface {
	Create(ctx context.Context, user models.User) (models.User, error)
	FindByEmail(ctx context.Context, email string) (models.User, error)
	FindByID(ctx context.Context, id int64) (models.User, error)
	GetByID(ctx context.Context, id int64) (models.User, error)
	List(ctx context.Context, limit, offset int) ([]models.User, int, error)
	Update(ctx context.Context, id int64, update models.UserUpdate) (models.User, error)
	SetStatus(ctx context.Context, ids []int64, status models.UserStatus) ([]models.User, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
	DeleteMany(ctx context.Context, ids []int64) ([]models.User, error)
	Stats(ctx context.Context, now time.Time, recent int) (models.UserStats, error)
}

// SessionRepository persists refresh-token sessions.
type SessionRepository interface {
	Create(ctx context.Context, session models.Session) error
	FindByTokenHash(ctx context.Context, hash []byte) (models.Session, error)
	GetByID(ctx context.Context, id string) (models.Session, error)
	ListByUser(ctx context.Context, userID int64) ([]models.Session, error)
	CountByUser(ctx context.Context, userID int64) (int, error)
	DeleteOldest(ctx context.Context, userID int64, keepLatest int) error
	DeleteByID(ctx context.Context, id string) error
	DeleteByUser(ctx context.Context, userID int64) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	CountActive(ctx context.Context, now time.Time) (int, error)
}

// Store is the credential store: users and sessions on one database.
type Store struct {
	Users    UserRepository
	Sessions SessionRepository
	Driver   string

	ping  func(ctx context.Context) error
	close func()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.ping(ctx)
}

func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

func NewPostgresStore(pool *pgxpool.Pool, opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		Users:    NewUserRepository(pool, opts),
		Sessions: NewSessionRepository(pool, opts),
		Driver:   "postgres",
		ping:     pool.Ping,
		close:    pool.Close,
	}
}

func NewSQLiteStore(db *sqlx.DB, opts Options) *Store {
	opts = opts.withDefaults()
	return &Store{
		Users:    NewSQLiteUserRepository(db, opts),
		Sessions: NewSQLiteSessionRepository(db, opts),
		Driver:   "sqlite",
		ping:     db.PingContext,
		close:    func() { _ = db.Close() },
	}
}

// Open connects the configured backend and applies its schema.
func Open(ctx context.Context, cfg *config.AppConfig) (*Store, error) {
	opts := Options{
		LookupMode:     LookupMode(cfg.Database.LookupMode),
		SoftDelete:     cfg.Database.SoftDelete,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	}

	switch cfg.Database.Driver {
	case "postgres":
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		if err := database.MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresStore(pool, opts), nil
	case "sqlite":
		db, err := database.NewSQLite(ctx, cfg.SQLite)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateSQLite(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return NewSQLiteStore(db, opts), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}
