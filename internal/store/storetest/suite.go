// Package storetest — общий набор проверок для реализаций records.Store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordhub/internal/apperr"
	"recordhub/internal/records"
	"recordhub/internal/schema"
)

// Backend — хранилище записей, которое заодно хранит схемы.
type Backend interface {
	records.Store
	schema.Store
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(entityType, id, handle string, at time.Time) *records.Record {
	fields := map[string]schema.Value{
		"title": schema.StringValue("title " + id),
		"count": schema.NumberValue(3),
		"done":  schema.BoolValue(true),
		"due":   schema.DateValue(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)),
	}
	if handle != "" {
		fields["handle"] = schema.StringValue(handle)
	}
	return &records.Record{
		ID:         id,
		EntityType: entityType,
		Fields:     fields,
		Handle:     handle,
		Mentions:   []string{},
		CreatedAt:  at,
		UpdatedAt:  at,
	}
}

func insert(t *testing.T, s records.Store, rec *records.Record) error {
	t.Helper()
	return s.InTx(context.Background(), func(tx records.Tx) error {
		return tx.InsertRecord(context.Background(), rec)
	})
}

// Run прогоняет все проверки; newStore должен возвращать пустое хранилище.
func Run(t *testing.T, newStore func(t *testing.T) Backend) {
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, newStore(t)) })
	t.Run("HandleConflict", func(t *testing.T) { testHandleConflict(t, newStore(t)) })
	t.Run("HandleChangeFreesOldKey", func(t *testing.T) { testHandleChange(t, newStore(t)) })
	t.Run("RollbackOnError", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ListOrder", func(t *testing.T) { testListOrder(t, newStore(t)) })
	t.Run("ActivityOrder", func(t *testing.T) { testActivity(t, newStore(t)) })
	t.Run("Mentions", func(t *testing.T) { testMentions(t, newStore(t)) })
	t.Run("Schemas", func(t *testing.T) { testSchemas(t, newStore(t)) })
	t.Run("ConcurrentHandleClaim", func(t *testing.T) { testConcurrentHandle(t, newStore(t)) })
}

func testInsertAndGet(t *testing.T, s Backend) {
	ctx := context.Background()
	in := record("note", "01A", "Alice", base)
	require.NoError(t, insert(t, s, in))

	got, err := s.GetRecord(ctx, "note", "01A")
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Handle)
	assert.True(t, got.CreatedAt.Equal(base))
	assert.True(t, got.UpdatedAt.Equal(base))
	require.Len(t, got.Fields, len(in.Fields))
	for k, v := range in.Fields {
		assert.Truef(t, v.Equal(got.Fields[k]), "field %s: %v != %v", k, v, got.Fields[k])
	}

	_, err = s.GetRecord(ctx, "note", "missing")
	assert.True(t, apperr.IsNotFound(err))
	_, err = s.GetRecord(ctx, "task", "01A")
	assert.True(t, apperr.IsNotFound(err))
}

func testHandleConflict(t *testing.T, s Backend) {
	require.NoError(t, insert(t, s, record("note", "01A", "alice", base)))

	err := insert(t, s, record("note", "01B", "ALICE", base.Add(time.Second)))
	require.Error(t, err)
	assert.True(t, apperr.IsConflict(err), "got %v", err)

	// у другого entity type свой набор handle'ов
	require.NoError(t, insert(t, s, record("contact", "01C", "alice", base)))

	// записи без handle не конфликтуют
	require.NoError(t, insert(t, s, record("note", "01D", "", base)))
	require.NoError(t, insert(t, s, record("note", "01E", "", base)))

	// обновление чужим handle'ом тоже конфликт
	err = s.InTx(context.Background(), func(tx records.Tx) error {
		cur, err := tx.GetRecord(context.Background(), "note", "01D")
		if err != nil {
			return err
		}
		cur.Handle = "Alice"
		return tx.UpdateRecord(context.Background(), cur)
	})
	assert.True(t, apperr.IsConflict(err), "got %v", err)
}

func testHandleChange(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, insert(t, s, record("note", "01A", "old", base)))

	require.NoError(t, s.InTx(ctx, func(tx records.Tx) error {
		cur, err := tx.GetRecord(ctx, "note", "01A")
		if err != nil {
			return err
		}
		cur.Handle = "new"
		cur.Fields["handle"] = schema.StringValue("new")
		cur.UpdatedAt = base.Add(time.Minute)
		return tx.UpdateRecord(ctx, cur)
	}))

	got, err := s.GetRecord(ctx, "note", "01A")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Handle)
	assert.True(t, got.UpdatedAt.Equal(base.Add(time.Minute)))

	require.NoError(t, insert(t, s, record("note", "01B", "old", base)))
	assert.True(t, apperr.IsConflict(insert(t, s, record("note", "01C", "NEW", base))))
}

func testRollback(t *testing.T, s Backend) {
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx records.Tx) error {
		rec := record("note", "01A", "alice", base)
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		if err := tx.ReplaceMentions(ctx, "note", "01A", "body", []records.Mention{
			{SourceType: "note", SourceID: "01A", Field: "body", Handle: "bob"},
		}); err != nil {
			return err
		}
		if err := tx.AppendActivity(ctx, &records.ActivityEntry{
			EntityType: "note", EntityID: "01A", Action: records.ActionCreated, Timestamp: base,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetRecord(ctx, "note", "01A")
	assert.True(t, apperr.IsNotFound(err))
	ms, err := s.MentionsOf(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, ms)
	acts, err := s.ListActivity(ctx, "note", "01A")
	require.NoError(t, err)
	assert.Empty(t, acts)

	// handle освобождён откатом
	require.NoError(t, insert(t, s, record("note", "01B", "alice", base)))
}

func testListOrder(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, insert(t, s, record("note", "03", "", base.Add(2*time.Second))))
	require.NoError(t, insert(t, s, record("note", "02", "", base)))
	require.NoError(t, insert(t, s, record("note", "01", "", base)))
	require.NoError(t, insert(t, s, record("task", "00", "", base)))

	list, err := s.ListRecords(ctx, "note")
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"01", "02", "03"}, ids)

	empty, err := s.ListRecords(ctx, "nothing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testActivity(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, insert(t, s, record("note", "01A", "", base)))

	var seqs []int64
	require.NoError(t, s.InTx(ctx, func(tx records.Tx) error {
		for i, a := range []records.Action{records.ActionCreated, records.ActionMentionAdded, records.ActionUpdated} {
			e := &records.ActivityEntry{
				EntityType: "note",
				EntityID:   "01A",
				Actor:      "tester",
				Action:     a,
				Timestamp:  base.Add(time.Duration(i) * time.Microsecond),
				Details:    map[string]any{"handles": []any{"bob"}},
			}
			if err := tx.AppendActivity(ctx, e); err != nil {
				return err
			}
			seqs = append(seqs, e.Seq)
		}
		return nil
	}))
	require.Len(t, seqs, 3)
	assert.Less(t, seqs[0], seqs[1])
	assert.Less(t, seqs[1], seqs[2])

	list, err := s.ListActivity(ctx, "note", "01A")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, records.ActionCreated, list[0].Action)
	assert.Equal(t, records.ActionMentionAdded, list[1].Action)
	assert.Equal(t, records.ActionUpdated, list[2].Action)
	assert.Equal(t, "tester", list[0].Actor)
	assert.Equal(t, []any{"bob"}, list[1].Details["handles"])
	assert.True(t, list[2].Timestamp.Equal(base.Add(2*time.Microsecond)))
}

func testMentions(t *testing.T, s Backend) {
	ctx := context.Background()
	require.NoError(t, insert(t, s, record("note", "01A", "", base)))
	require.NoError(t, insert(t, s, record("task", "01B", "", base)))

	m := func(et, id, field, h string, pos int) records.Mention {
		return records.Mention{SourceType: et, SourceID: id, Field: field, Handle: h, Position: pos, Snippet: "ping @" + h}
	}
	require.NoError(t, s.InTx(ctx, func(tx records.Tx) error {
		if err := tx.ReplaceMentions(ctx, "note", "01A", "body", []records.Mention{
			m("note", "01A", "body", "alice", 0), m("note", "01A", "body", "bob", 1),
		}); err != nil {
			return err
		}
		return tx.ReplaceMentions(ctx, "task", "01B", "notes", []records.Mention{
			m("task", "01B", "notes", "alice", 0),
		})
	}))

	got, err := s.MentionsOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []records.Mention{
		m("note", "01A", "body", "alice", 0),
		m("task", "01B", "notes", "alice", 0),
	}, got)

	// замена набора поля убирает старые рёбра
	require.NoError(t, s.InTx(ctx, func(tx records.Tx) error {
		return tx.ReplaceMentions(ctx, "note", "01A", "body", []records.Mention{m("note", "01A", "body", "carol", 0)})
	}))
	got, err = s.MentionsOf(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []records.Mention{m("task", "01B", "notes", "alice", 0)}, got)

	got, err = s.MentionsOf(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testSchemas(t *testing.T, s Backend) {
	ctx := context.Background()
	note := schema.RecordSchema{
		EntityType:   "note",
		Description:  "notes",
		HandleField:  "handle",
		DisplayField: "title",
		Fields: []schema.FieldDefinition{
			{Name: "title", Type: schema.TypeString, Required: true},
			{Name: "body", Type: schema.TypeText, Mention: true},
			{Name: "handle", Type: schema.TypeString},
			{Name: "priority", Type: schema.TypeNumber, Default: float64(2)},
		},
	}
	task := schema.RecordSchema{
		EntityType: "task",
		Fields:     []schema.FieldDefinition{{Name: "done", Type: schema.TypeBoolean}},
	}
	require.NoError(t, s.SaveSchema(ctx, note))
	require.NoError(t, s.SaveSchema(ctx, task))

	got, err := s.LoadSchemas(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	byType := map[string]schema.RecordSchema{}
	for _, sc := range got {
		byType[sc.EntityType] = sc
	}
	gotNote, gotTask := byType["note"], byType["task"]
	assert.True(t, note.Compatible(&gotNote))
	assert.Equal(t, "notes", gotNote.Description)
	assert.EqualValues(t, 2, gotNote.Fields[3].Default)
	assert.True(t, task.Compatible(&gotTask))
}

func testConcurrentHandle(t *testing.T, s Backend) {
	const n = 8
	var ok, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('A'+i)) + "-id"
			err := insert(t, s, record("note", id, "shared", base))
			switch {
			case err == nil:
				ok.Add(1)
			case apperr.IsConflict(err):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(n-1), conflicts.Load())
}
