// Package memory — хранилище в памяти процесса (по умолчанию, когда БД не настроена).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"recordhub/internal/apperr"
	"recordhub/internal/records"
	"recordhub/internal/schema"
)

type mentionKey struct {
	entityType, id, field string
}

type Store struct {
	mu       sync.RWMutex
	schemas  map[string]schema.RecordSchema
	order    []string                              // порядок регистрации схем
	data     map[string]map[string]*records.Record // entity type -> id -> запись
	handles  map[string]map[string]string          // entity type -> handle (lower) -> id
	mentions map[mentionKey][]records.Mention
	activity map[string][]records.ActivityEntry // "type/id" -> журнал
	seq      int64
}

var (
	_ records.Store = (*Store)(nil)
	_ schema.Store  = (*Store)(nil)
)

func New() *Store {
	return &Store{
		schemas:  make(map[string]schema.RecordSchema),
		data:     make(map[string]map[string]*records.Record),
		handles:  make(map[string]map[string]string),
		mentions: make(map[mentionKey][]records.Mention),
		activity: make(map[string][]records.ActivityEntry),
	}
}

// ===== schema.Store =====

func (s *Store) SaveSchema(_ context.Context, sc schema.RecordSchema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schemas[sc.EntityType]; !ok {
		s.order = append(s.order, sc.EntityType)
	}
	sc.Fields = append([]schema.FieldDefinition(nil), sc.Fields...)
	s.schemas[sc.EntityType] = sc
	return nil
}

func (s *Store) LoadSchemas(context.Context) ([]schema.RecordSchema, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]schema.RecordSchema, 0, len(s.order))
	for _, et := range s.order {
		sc := s.schemas[et]
		sc.Fields = append([]schema.FieldDefinition(nil), sc.Fields...)
		out = append(out, sc)
	}
	return out, nil
}

// ===== records.Store =====

// InTx выполняет fn под write-lock. При ошибке все изменения откатываются по журналу undo.
func (s *Store) InTx(ctx context.Context, fn func(tx records.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) GetRecord(_ context.Context, entityType, id string) (*records.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(entityType, id)
}

func (s *Store) getLocked(entityType, id string) (*records.Record, error) {
	rec := s.data[entityType][id]
	if rec == nil {
		return nil, apperr.NotFound("record", entityType+"/"+id)
	}
	return rec.Clone(), nil
}

func (s *Store) ListRecords(_ context.Context, entityType string) ([]*records.Record, error) {
	s.mu.RLock()
	byID := s.data[entityType]
	out := make([]*records.Record, 0, len(byID))
	for _, rec := range byID {
		out = append(out, rec.Clone())
	}
	s.mu.RUnlock()
	records.SortRecords(out)
	return out, nil
}

func (s *Store) ListActivity(_ context.Context, entityType, id string) ([]records.ActivityEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.activity[entityType+"/"+id]
	return append([]records.ActivityEntry(nil), list...), nil
}

func (s *Store) MentionsOf(_ context.Context, handle string) ([]records.Mention, error) {
	s.mu.RLock()
	var out []records.Mention
	for _, ms := range s.mentions {
		for _, m := range ms {
			if m.Handle == handle {
				out = append(out, m)
			}
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.SourceType != b.SourceType {
			return a.SourceType < b.SourceType
		}
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		return a.Field < b.Field
	})
	return out, nil
}

// ===== транзакция =====

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) GetRecord(_ context.Context, entityType, id string) (*records.Record, error) {
	return t.s.getLocked(entityType, id)
}

func handleKey(h string) string { return strings.ToLower(strings.TrimSpace(h)) }

func (t *memTx) checkHandle(rec *records.Record) error {
	key := handleKey(rec.Handle)
	if key == "" {
		return nil
	}
	if owner, ok := t.s.handles[rec.EntityType][key]; ok && owner != rec.ID {
		return apperr.Conflict("handle", "handle '"+rec.Handle+"' is already used by another "+rec.EntityType)
	}
	return nil
}

func (t *memTx) setHandle(entityType, key, id string) {
	if key == "" {
		return
	}
	if t.s.handles[entityType] == nil {
		t.s.handles[entityType] = make(map[string]string)
	}
	t.s.handles[entityType][key] = id
}

func (t *memTx) InsertRecord(_ context.Context, rec *records.Record) error {
	s := t.s
	if s.data[rec.EntityType][rec.ID] != nil {
		return apperr.Conflict("id", "record "+rec.ID+" already exists")
	}
	if err := t.checkHandle(rec); err != nil {
		return err
	}
	if s.data[rec.EntityType] == nil {
		s.data[rec.EntityType] = make(map[string]*records.Record)
	}
	s.data[rec.EntityType][rec.ID] = rec.Clone()
	key := handleKey(rec.Handle)
	t.setHandle(rec.EntityType, key, rec.ID)

	t.undo = append(t.undo, func() {
		delete(s.data[rec.EntityType], rec.ID)
		if key != "" {
			delete(s.handles[rec.EntityType], key)
		}
	})
	return nil
}

func (t *memTx) UpdateRecord(_ context.Context, rec *records.Record) error {
	s := t.s
	old := s.data[rec.EntityType][rec.ID]
	if old == nil {
		return apperr.NotFound("record", rec.EntityType+"/"+rec.ID)
	}
	if err := t.checkHandle(rec); err != nil {
		return err
	}
	oldKey, newKey := handleKey(old.Handle), handleKey(rec.Handle)
	s.data[rec.EntityType][rec.ID] = rec.Clone()
	if oldKey != newKey {
		if oldKey != "" {
			delete(s.handles[rec.EntityType], oldKey)
		}
		t.setHandle(rec.EntityType, newKey, rec.ID)
	}

	t.undo = append(t.undo, func() {
		s.data[rec.EntityType][rec.ID] = old
		if oldKey != newKey {
			if newKey != "" {
				delete(s.handles[rec.EntityType], newKey)
			}
			t.setHandle(rec.EntityType, oldKey, rec.ID)
		}
	})
	return nil
}

func (t *memTx) ReplaceMentions(_ context.Context, entityType, id, field string, ms []records.Mention) error {
	s := t.s
	k := mentionKey{entityType, id, field}
	old, had := s.mentions[k]
	if len(ms) == 0 {
		delete(s.mentions, k)
	} else {
		s.mentions[k] = append([]records.Mention(nil), ms...)
	}
	t.undo = append(t.undo, func() {
		if had {
			s.mentions[k] = old
		} else {
			delete(s.mentions, k)
		}
	})
	return nil
}

func (t *memTx) AppendActivity(_ context.Context, e *records.ActivityEntry) error {
	s := t.s
	s.seq++
	e.Seq = s.seq
	k := e.EntityType + "/" + e.EntityID
	prevLen := len(s.activity[k])
	s.activity[k] = append(s.activity[k], *e)
	t.undo = append(t.undo, func() {
		s.activity[k] = s.activity[k][:prevLen]
		if prevLen == 0 {
			delete(s.activity, k)
		}
		s.seq--
	})
	return nil
}
