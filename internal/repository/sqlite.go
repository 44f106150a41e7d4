package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"

	"cmsauth/internal/database"
)

type sqliteBase struct {
	db   *sqlx.DB
	opts Options
}

func (b sqliteBase) acquire(ctx context.Context) (*sqlx.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, b.opts.AcquireTimeout)
	defer cancel()

	conn, err := b.db.Connx(acquireCtx)
	if err != nil {
		return nil, acquireError(err)
	}
	return conn, nil
}

// sqliteTime scans DATETIME columns whether the driver hands back text or time.Time.
type sqliteTime struct {
	Time  time.Time
	Valid bool
}

var sqliteTimeLayouts = []string{
	database.SQLiteTimeLayout,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
}

func (t *sqliteTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = sqliteTime{}
		return nil
	case time.Time:
		*t = sqliteTime{Time: v.UTC(), Valid: true}
		return nil
	case int64:
		*t = sqliteTime{Time: time.Unix(v, 0).UTC(), Valid: true}
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("sqlite time: unsupported type %T", src)
	}
}

func (t *sqliteTime) parse(value string) error {
	for _, layout := range sqliteTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			*t = sqliteTime{Time: parsed.UTC(), Valid: true}
			return nil
		}
	}
	if unix, err := strconv.ParseInt(value, 10, 64); err == nil {
		*t = sqliteTime{Time: time.Unix(unix, 0).UTC(), Valid: true}
		return nil
	}
	return fmt.Errorf("sqlite time: cannot parse %q", value)
}

func (t sqliteTime) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(database.SQLiteTimeLayout)
}
