package sqlstore

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Dialect — различия Postgres и SQLite, которые видит хранилище.
type Dialect struct {
	Name   string
	Driver string // имя драйвера database/sql

	numbered bool // $1, $2 ... вместо ?
	ddl      map[string]string
	timeArg  func(time.Time) any
	// uniqueIndex — имя индекса/колонки из ошибки нарушения уникальности, "" если это не она
	uniqueIndex func(error) string
}

// фиксированная ширина дробной части: строки сортируются так же, как время
const sqliteTime = "2006-01-02T15:04:05.000000Z07:00"

var Postgres = Dialect{
	Name:     "postgres",
	Driver:   "pgx",
	numbered: true,
	ddl:      postgresDDL,
	timeArg:  func(t time.Time) any { return t.UTC() },
	uniqueIndex: func(err error) string {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return pgErr.ConstraintName
		}
		return ""
	},
}

var SQLite = Dialect{
	Name:    "sqlite",
	Driver:  "sqlite",
	ddl:     sqliteDDL,
	timeArg: func(t time.Time) any { return t.UTC().Format(sqliteTime) },
	uniqueIndex: func(err error) string {
		var se *sqlite.Error
		if !errors.As(err, &se) {
			return ""
		}
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			// "UNIQUE constraint failed: records.entity_type, records.handle_key"
			if strings.Contains(se.Error(), "handle_key") {
				return handleIndex
			}
			return "records_pkey"
		}
		return ""
	},
}

// rebind переписывает ? в $n для Postgres.
func (d Dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// parseTime читает время, отсканированное в строку (pgx отдаёт time.Time,
// database/sql переводит его в RFC3339Nano).
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
