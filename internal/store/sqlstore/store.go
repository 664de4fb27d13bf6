// Package sqlstore — хранилище записей в Postgres (pgx) или SQLite (modernc).
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"recordhub/internal/apperr"
	"recordhub/internal/records"
	"recordhub/internal/schema"
)

type Store struct {
	db *sql.DB
	d  Dialect
}

var (
	_ records.Store = (*Store)(nil)
	_ schema.Store  = (*Store)(nil)
)

// New оборачивает открытый пул. Схему БД создаёт Migrate.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// queryer — общее у *sql.DB и *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ===== schema.Store =====

func (s *Store) SaveSchema(ctx context.Context, sc schema.RecordSchema) error {
	body, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode schema %s: %w", sc.EntityType, err)
	}
	_, err = s.db.ExecContext(ctx, s.d.rebind(
		`insert into record_schemas(entity_type, body) values (?, ?)
		 on conflict (entity_type) do update set body = excluded.body`),
		sc.EntityType, string(body))
	if err != nil {
		return fmt.Errorf("save schema %s: %w", sc.EntityType, err)
	}
	return nil
}

func (s *Store) LoadSchemas(ctx context.Context) ([]schema.RecordSchema, error) {
	rows, err := s.db.QueryContext(ctx, `select body from record_schemas order by registered_at, entity_type`)
	if err != nil {
		return nil, fmt.Errorf("select schemas: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []schema.RecordSchema
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		var sc schema.RecordSchema
		if err := json.Unmarshal(body, &sc); err != nil {
			return nil, fmt.Errorf("decode schema: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ===== records.Store =====

func (s *Store) InTx(ctx context.Context, fn func(tx records.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(&sqlTx{tx: tx, d: s.d}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, entityType, id string) (*records.Record, error) {
	return getRecord(ctx, s.db, s.d, entityType, id)
}

const recordCols = `entity_type, id, handle, handle_key, data, mentions, created_at, updated_at`

func (s *Store) ListRecords(ctx context.Context, entityType string) ([]*records.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`select `+recordCols+` from records where entity_type = ? order by created_at, id`), entityType)
	if err != nil {
		return nil, fmt.Errorf("select records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []*records.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) ListActivity(ctx context.Context, entityType, id string) ([]records.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`select seq, entity_type, entity_id, actor, action, ts, details
		   from record_activity where entity_type = ? and entity_id = ? order by seq`), entityType, id)
	if err != nil {
		return nil, fmt.Errorf("select activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []records.ActivityEntry
	for rows.Next() {
		var (
			e       records.ActivityEntry
			action  string
			ts      string
			details []byte
		)
		if err := rows.Scan(&e.Seq, &e.EntityType, &e.EntityID, &e.Actor, &action, &ts, &details); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.Action = records.Action(action)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("activity %d ts: %w", e.Seq, err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("activity %d details: %w", e.Seq, err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) MentionsOf(ctx context.Context, handle string) ([]records.Mention, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`select source_entity_type, source_id, field_name, target_handle, position, snippet
		   from record_mentions where target_handle = ?
		  order by source_entity_type, source_id, field_name, position`), handle)
	if err != nil {
		return nil, fmt.Errorf("select mentions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []records.Mention
	for rows.Next() {
		var m records.Mention
		if err := rows.Scan(&m.SourceType, &m.SourceID, &m.Field, &m.Handle, &m.Position, &m.Snippet); err != nil {
			return nil, fmt.Errorf("scan mention: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ===== транзакция =====

type sqlTx struct {
	tx *sql.Tx
	d  Dialect
}

func (t *sqlTx) GetRecord(ctx context.Context, entityType, id string) (*records.Record, error) {
	return getRecord(ctx, t.tx, t.d, entityType, id)
}

func (t *sqlTx) InsertRecord(ctx context.Context, rec *records.Record) error {
	data, mentions, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, t.d.rebind(
		`insert into records(`+recordCols+`) values (?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.EntityType, rec.ID, rec.Handle, handleKey(rec.Handle), data, mentions,
		t.d.timeArg(rec.CreatedAt), t.d.timeArg(rec.UpdatedAt))
	if err != nil {
		return t.mapErr(rec, err)
	}
	return nil
}

func (t *sqlTx) UpdateRecord(ctx context.Context, rec *records.Record) error {
	data, mentions, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, t.d.rebind(
		`update records set handle = ?, handle_key = ?, data = ?, mentions = ?, updated_at = ?
		  where entity_type = ? and id = ?`),
		rec.Handle, handleKey(rec.Handle), data, mentions, t.d.timeArg(rec.UpdatedAt), rec.EntityType, rec.ID)
	if err != nil {
		return t.mapErr(rec, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("record", rec.EntityType+"/"+rec.ID)
	}
	return nil
}

func (t *sqlTx) ReplaceMentions(ctx context.Context, entityType, id, field string, ms []records.Mention) error {
	if _, err := t.tx.ExecContext(ctx, t.d.rebind(
		`delete from record_mentions where source_entity_type = ? and source_id = ? and field_name = ?`),
		entityType, id, field); err != nil {
		return fmt.Errorf("delete mentions: %w", err)
	}
	ins := t.d.rebind(`insert into record_mentions(source_entity_type, source_id, field_name, target_handle, position, snippet)
		values (?, ?, ?, ?, ?, ?)`)
	for _, m := range ms {
		if _, err := t.tx.ExecContext(ctx, ins, entityType, id, field, m.Handle, m.Position, m.Snippet); err != nil {
			return fmt.Errorf("insert mention: %w", err)
		}
	}
	return nil
}

func (t *sqlTx) AppendActivity(ctx context.Context, e *records.ActivityEntry) error {
	var details any
	if e.Details != nil {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("encode details: %w", err)
		}
		details = string(b)
	}
	err := t.tx.QueryRowContext(ctx, t.d.rebind(
		`insert into record_activity(entity_type, entity_id, actor, action, ts, details)
		 values (?, ?, ?, ?, ?, ?) returning seq`),
		e.EntityType, e.EntityID, e.Actor, string(e.Action), t.d.timeArg(e.Timestamp), details,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (t *sqlTx) mapErr(rec *records.Record, err error) error {
	switch idx := t.d.uniqueIndex(err); {
	case idx == "":
		return fmt.Errorf("write record %s/%s: %w", rec.EntityType, rec.ID, err)
	case idx == handleIndex:
		return apperr.Conflict("handle", "handle '"+rec.Handle+"' is already used by another "+rec.EntityType)
	default:
		return apperr.Conflict("id", "record "+rec.ID+" already exists")
	}
}

// ===== кодирование =====

func handleKey(h string) any {
	k := strings.ToLower(strings.TrimSpace(h))
	if k == "" {
		return nil
	}
	return k
}

func encodeRecord(rec *records.Record) (data, mentions string, err error) {
	stored := make(map[string]schema.Stored, len(rec.Fields))
	for k, v := range rec.Fields {
		stored[k] = v.Stored()
	}
	b, err := json.Marshal(stored)
	if err != nil {
		return "", "", fmt.Errorf("encode fields: %w", err)
	}
	ms := rec.Mentions
	if ms == nil {
		ms = []string{}
	}
	m, err := json.Marshal(ms)
	if err != nil {
		return "", "", fmt.Errorf("encode mentions: %w", err)
	}
	return string(b), string(m), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func getRecord(ctx context.Context, q queryer, d Dialect, entityType, id string) (*records.Record, error) {
	row := q.QueryRowContext(ctx, d.rebind(
		`select `+recordCols+` from records where entity_type = ? and id = ?`), entityType, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("record", entityType+"/"+id)
	}
	return rec, err
}

func scanRecord(row scanner) (*records.Record, error) {
	var (
		rec                  records.Record
		key                  sql.NullString
		data, mentions       []byte
		createdAt, updatedAt string
	)
	if err := row.Scan(&rec.EntityType, &rec.ID, &rec.Handle, &key, &data, &mentions, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan record: %w", err)
	}

	var stored map[string]schema.Stored
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("record %s data: %w", rec.ID, err)
	}
	rec.Fields = make(map[string]schema.Value, len(stored))
	for k, sv := range stored {
		v, err := schema.FromStored(sv)
		if err != nil {
			return nil, fmt.Errorf("record %s field %s: %w", rec.ID, k, err)
		}
		rec.Fields[k] = v
	}
	if err := json.Unmarshal(mentions, &rec.Mentions); err != nil {
		return nil, fmt.Errorf("record %s mentions: %w", rec.ID, err)
	}

	var err error
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("record %s created_at: %w", rec.ID, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("record %s updated_at: %w", rec.ID, err)
	}
	return &rec, nil
}
