package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"recordhub/internal/logging"
)

const handleIndex = "records_handle_uq"

// ключи задают порядок применения
var postgresDDL = map[string]string{
	"01_records": `
create table if not exists records (
  entity_type text not null,
  id          text not null,
  handle      text not null default '',
  handle_key  text null,
  data        jsonb not null,
  mentions    jsonb not null default '[]',
  created_at  timestamp with time zone not null,
  updated_at  timestamp with time zone not null,
  constraint records_pkey primary key (entity_type, id)
);`,
	"02_records_handle": `create unique index if not exists records_handle_uq on records(entity_type, handle_key);`,
	"03_records_order":  `create index if not exists records_created_idx on records(entity_type, created_at, id);`,
	"04_mentions": `
create table if not exists record_mentions (
  source_entity_type text not null,
  source_id          text not null,
  field_name         text not null,
  target_handle      text not null,
  position           integer not null,
  snippet            text not null default ''
);`,
	"05_mentions_target": `create index if not exists record_mentions_target_idx on record_mentions(target_handle);`,
	"06_mentions_source": `create index if not exists record_mentions_source_idx on record_mentions(source_entity_type, source_id, field_name);`,
	"07_activity": `
create table if not exists record_activity (
  seq         bigserial primary key,
  entity_type text not null,
  entity_id   text not null,
  actor       text not null default '',
  action      text not null,
  ts          timestamp with time zone not null,
  details     jsonb null
);`,
	"08_activity_record": `create index if not exists record_activity_record_idx on record_activity(entity_type, entity_id, seq);`,
	"09_schemas": `
create table if not exists record_schemas (
  entity_type   text primary key,
  body          jsonb not null,
  registered_at timestamp with time zone not null default now()
);`,
}

var sqliteDDL = map[string]string{
	"01_records": `
create table if not exists records (
  entity_type text not null,
  id          text not null,
  handle      text not null default '',
  handle_key  text null,
  data        text not null,
  mentions    text not null default '[]',
  created_at  text not null,
  updated_at  text not null,
  primary key (entity_type, id)
);`,
	"02_records_handle": `create unique index if not exists records_handle_uq on records(entity_type, handle_key);`,
	"03_records_order":  `create index if not exists records_created_idx on records(entity_type, created_at, id);`,
	"04_mentions": `
create table if not exists record_mentions (
  source_entity_type text not null,
  source_id          text not null,
  field_name         text not null,
  target_handle      text not null,
  position           integer not null,
  snippet            text not null default ''
);`,
	"05_mentions_target": `create index if not exists record_mentions_target_idx on record_mentions(target_handle);`,
	"06_mentions_source": `create index if not exists record_mentions_source_idx on record_mentions(source_entity_type, source_id, field_name);`,
	"07_activity": `
create table if not exists record_activity (
  seq         integer primary key autoincrement,
  entity_type text not null,
  entity_id   text not null,
  actor       text not null default '',
  action      text not null,
  ts          text not null,
  details     text null
);`,
	"08_activity_record": `create index if not exists record_activity_record_idx on record_activity(entity_type, entity_id, seq);`,
	"09_schemas": `
create table if not exists record_schemas (
  entity_type   text primary key,
  body          text not null,
  registered_at text not null default (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);`,
}

// Migrate применяет DDL диалекта. DDL идемпотентный (if not exists).
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	return applyDDL(ctx, db, d.ddl)
}

func applyDDL(ctx context.Context, db *sql.DB, ddl map[string]string) error {
	keys := make([]string, 0, len(ddl))
	for k := range ddl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	log := logging.FromContext(ctx)

	for _, k := range keys {
		sqlText := strings.TrimSpace(ddl[k])
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			// 42710 duplicate_object, 42P07 duplicate_table: гонка двух процессов на старте
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && (pgErr.Code == "42710" || pgErr.Code == "42P07") {
				log.Info("DDL skipped (already exists)", "step", k, "detail", strings.TrimSpace(pgErr.Message))
				continue
			}
			return fmt.Errorf("DDL %s failed: %w", k, err)
		}
		log.Debug("DDL applied", "step", k)
	}
	return nil
}
