package records_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordhub/internal/apperr"
	"recordhub/internal/events"
	"recordhub/internal/records"
	"recordhub/internal/schema"
	"recordhub/internal/store/memory"
)

func noteSchema() schema.RecordSchema {
	return schema.RecordSchema{
		EntityType: "note",
		Fields: []schema.FieldDefinition{
			{Name: "title", Type: schema.TypeString, Required: true},
			{Name: "body", Type: schema.TypeText, Required: true, Mention: true},
			{Name: "summary", Type: schema.TypeText, Mention: true},
			{Name: "handle", Type: schema.TypeString, Required: true},
			{Name: "priority", Type: schema.TypeNumber, Default: 3},
			{Name: "pinned", Type: schema.TypeBoolean},
			{Name: "due", Type: schema.TypeDate},
		},
		HandleField:  "handle",
		DisplayField: "title",
	}
}

type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *counter) ObserveMutation(entityType, action, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[entityType+"/"+action+"/"+result]++
}

type fixture struct {
	svc      *records.Service
	store    *memory.Store
	notifier *events.Notifier
	obs      *counter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	reg := schema.NewRegistry(st)
	_, err := reg.Register(context.Background(), noteSchema())
	require.NoError(t, err)

	n := events.NewNotifier(16, nil, nil)
	t.Cleanup(n.Close)
	obs := &counter{}
	return &fixture{
		svc:      records.NewService(reg, st, records.WithPublisher(n), records.WithObserver(obs)),
		store:    st,
		notifier: n,
		obs:      obs,
	}
}

func validNote(handle string) map[string]any {
	return map[string]any{
		"title":  "CSAT follow-up",
		"body":   "Ping @clientalpha and @ClientAlpha",
		"handle": handle,
	}
}

func TestCreateAppliesDefaultsAndMentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Create(ctx, "note", validNote("note-alpha"), "ana")
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "note", rec.EntityType)
	assert.Equal(t, "note-alpha", rec.Handle)
	assert.Equal(t, []string{"clientalpha"}, rec.Mentions)
	assert.True(t, rec.CreatedAt.Equal(rec.UpdatedAt))

	prio, ok := rec.Fields["priority"].Number()
	require.True(t, ok)
	assert.Equal(t, float64(3), prio)
	_, has := rec.Fields["pinned"]
	assert.False(t, has)

	got, err := f.svc.Get(ctx, "NOTE", rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)

	acts, err := f.svc.Activity(ctx, "note", rec.ID, 0)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, records.ActionCreated, acts[0].Action)
	assert.Equal(t, "ana", acts[0].Actor)
	assert.Equal(t, records.ActionMentionAdded, acts[1].Action)
	assert.Equal(t, []any{"clientalpha"}, acts[1].Details["handles"])
	assert.True(t, acts[0].Timestamp.Before(acts[1].Timestamp))

	backlinks, err := f.svc.Backlinks(ctx, "ClientAlpha")
	require.NoError(t, err)
	require.Len(t, backlinks, 1)
	assert.Equal(t, rec.ID, backlinks[0].SourceID)
	assert.Equal(t, "body", backlinks[0].Field)

	assert.Equal(t, 1, f.obs.calls["note/created/ok"])
}

func TestCreateMissingRequiredPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.notifier.Subscribe()

	in := validNote("note-alpha")
	delete(in, "title")
	_, err := f.svc.Create(ctx, "note", in, "")
	require.Error(t, err)
	var verr *apperr.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, apperr.ErrRequired, verr.Fields[0].Code)
	assert.Equal(t, "title", verr.Fields[0].Field)

	list, err := f.svc.List(ctx, "note")
	require.NoError(t, err)
	assert.Empty(t, list)
	ms, err := f.svc.Backlinks(ctx, "clientalpha")
	require.NoError(t, err)
	assert.Empty(t, ms)
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event %+v", e)
	default:
	}
	assert.Equal(t, 1, f.obs.calls["note/created/invalid"])
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		patch map[string]any
		code  string
		field string
	}{
		{"type mismatch", map[string]any{"priority": "high"}, apperr.ErrTypeMismatch, "priority"},
		{"NaN number", map[string]any{"priority": "NaN"}, apperr.ErrTypeMismatch, "priority"},
		{"infinite number", map[string]any{"priority": "-Inf"}, apperr.ErrTypeMismatch, "priority"},
		{"bad date", map[string]any{"due": "tomorrow"}, apperr.ErrTypeMismatch, "due"},
		{"unknown field", map[string]any{"color": "red"}, apperr.ErrUnknownField, "color"},
		{"system field", map[string]any{"id": "x"}, apperr.ErrReadOnly, "id"},
		{"empty required", map[string]any{"handle": ""}, apperr.ErrRequired, "handle"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validNote("h-" + tc.name)
			for k, v := range tc.patch {
				in[k] = v
			}
			_, err := f.svc.Create(ctx, "note", in, "")
			var verr *apperr.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			require.NotEmpty(t, verr.Fields)
			assert.Equal(t, tc.code, verr.Fields[0].Code)
			assert.Equal(t, tc.field, verr.Fields[0].Field)
		})
	}

	_, err := f.svc.Create(ctx, "ghost", validNote("x"), "")
	assert.True(t, apperr.IsNotFound(err))
}

func TestConcurrentCreateSameHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 2
	errs := make([]error, n)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Create(ctx, "note", validNote("Shared"), "")
		}(i)
	}
	close(start)
	wg.Wait()

	var ok, conflict int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsConflict(err):
			conflict++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)

	list, err := f.svc.List(ctx, "note")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	// регистр не важен
	_, err = f.svc.Create(ctx, "note", validNote("shared"), "")
	assert.True(t, apperr.IsConflict(err))
}

func TestUpdateReplacesMentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validNote("n1")
	in["body"] = "hi @alice"
	rec, err := f.svc.Create(ctx, "note", in, "")
	require.NoError(t, err)

	upd, err := f.svc.Update(ctx, "note", rec.ID, map[string]any{"body": "hi @carol"}, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, upd.Mentions)
	assert.True(t, upd.UpdatedAt.After(rec.UpdatedAt))
	assert.True(t, upd.CreatedAt.Equal(rec.CreatedAt))

	acts, err := f.svc.Activity(ctx, "note", rec.ID, 0)
	require.NoError(t, err)
	var updated []records.ActivityEntry
	for _, a := range acts {
		if a.Action == records.ActionUpdated {
			updated = append(updated, a)
		}
	}
	require.Len(t, updated, 1)
	assert.Equal(t, "bob", updated[0].Actor)
	assert.Equal(t, []any{"body"}, updated[0].Details["changed"])
	assert.Equal(t, map[string]any{"before": "hi @alice", "after": "hi @carol"},
		updated[0].Details["changes"].(map[string]any)["body"])

	last := acts[len(acts)-1]
	assert.Equal(t, records.ActionMentionAdded, last.Action)
	assert.Equal(t, []any{"carol"}, last.Details["handles"])

	alice, err := f.svc.Backlinks(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, alice)
	carol, err := f.svc.Backlinks(ctx, "carol")
	require.NoError(t, err)
	assert.Len(t, carol, 1)
}

func TestUpdateUntouchedMentionFieldKeepsMentions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validNote("n1")
	in["body"] = "for @alice"
	in["summary"] = "cc @dave"
	rec, err := f.svc.Create(ctx, "note", in, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "dave"}, rec.Mentions)

	upd, err := f.svc.Update(ctx, "note", rec.ID, map[string]any{"summary": nil, "pinned": true}, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, upd.Mentions)
	_, has := upd.Fields["summary"]
	assert.False(t, has)
	pinned, _ := upd.Fields["pinned"].Bool()
	assert.True(t, pinned)

	alice, err := f.svc.Backlinks(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, alice, 1)
}

func TestUpdateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec, err := f.svc.Create(ctx, "note", validNote("n1"), "")
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, "note", validNote("n2"), "")
	require.NoError(t, err)

	_, err = f.svc.Update(ctx, "note", rec.ID, map[string]any{"title": nil}, "")
	assert.True(t, apperr.IsValidation(err))

	_, err = f.svc.Update(ctx, "note", rec.ID, map[string]any{"handle": "N2"}, "")
	assert.True(t, apperr.IsConflict(err))

	_, err = f.svc.Update(ctx, "note", "missing", map[string]any{"title": "x"}, "")
	assert.True(t, apperr.IsNotFound(err))
	// тело с ошибками не маскирует отсутствие записи
	_, err = f.svc.Update(ctx, "note", "missing", map[string]any{"priority": "high", "color": "red"}, "")
	assert.True(t, apperr.IsNotFound(err))
	_, err = f.svc.Update(ctx, "note", rec.ID, map[string]any{"priority": "Inf"}, "")
	assert.True(t, apperr.IsValidation(err))

	// неудачные попытки не пишут журнал
	acts, err := f.svc.Activity(ctx, "note", rec.ID, 0)
	require.NoError(t, err)
	for _, a := range acts {
		assert.NotEqual(t, records.ActionUpdated, a.Action)
	}
}

func TestActivityLimitKeepsNewest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := validNote("n1")
	in["body"] = "plain"
	rec, err := f.svc.Create(ctx, "note", in, "")
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := f.svc.Update(ctx, "note", rec.ID, map[string]any{"priority": i + 10}, "")
		require.NoError(t, err)
	}

	acts, err := f.svc.Activity(ctx, "note", rec.ID, 2)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Less(t, acts[0].Seq, acts[1].Seq)
	assert.Equal(t, []any{"priority"}, acts[1].Details["changed"])

	_, err = f.svc.Activity(ctx, "note", "missing", 0)
	assert.True(t, apperr.IsNotFound(err))
}

func TestEventsAfterCommitOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	early := f.notifier.Subscribe()
	rec, err := f.svc.Create(ctx, "note", validNote("n1"), "")
	require.NoError(t, err)
	late := f.notifier.Subscribe()

	select {
	case e := <-early.Events():
		assert.Equal(t, events.Event{EntityType: "note", EntityID: rec.ID, Action: "created", Timestamp: rec.CreatedAt}, e)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
	select {
	case e := <-early.Events():
		t.Fatalf("duplicate event %+v", e)
	case e := <-late.Events():
		t.Fatalf("late subscriber got %+v", e)
	default:
	}

	_, err = f.svc.Update(ctx, "note", rec.ID, map[string]any{"title": "renamed"}, "")
	require.NoError(t, err)
	e := <-late.Events()
	assert.Equal(t, "updated", e.Action)
}

func TestClockIsStrictlyIncreasing(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := records.NewClock(func() time.Time { return fixed })
	a, b := c.Now(), c.Now()
	assert.True(t, b.After(a))
	assert.Equal(t, time.Microsecond, b.Sub(a))
}

func TestIDsSortByCreation(t *testing.T) {
	g := records.NewIDGenerator()
	at := time.Now()
	a, b := g.New(at), g.New(at)
	assert.Less(t, a, b)
	assert.Len(t, a, 26)
}

func TestNonFiniteNumberPersistsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.notifier.Subscribe()

	in := validNote("n-nan")
	in["priority"] = "NaN"
	_, err := f.svc.Create(ctx, "note", in, "")
	require.True(t, apperr.IsValidation(err))

	list, err := f.svc.List(ctx, "note")
	require.NoError(t, err)
	assert.Empty(t, list)
	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event %+v", e)
	default:
	}
}

func TestBacklinksCarrySnippet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := validNote("n1")
	in["body"] = "  call @alice about the renewal  "
	in["summary"] = strings.Repeat("x", 600) + " @alice"
	rec, err := f.svc.Create(ctx, "note", in, "")
	require.NoError(t, err)

	ms, err := f.svc.Backlinks(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, ms, 2)
	byField := map[string]records.Mention{}
	for _, m := range ms {
		assert.Equal(t, rec.ID, m.SourceID)
		byField[m.Field] = m
	}
	assert.Equal(t, "call @alice about the renewal", byField["body"].Snippet)
	long := byField["summary"].Snippet
	assert.Len(t, []rune(long), records.SnippetLimit)
	assert.True(t, strings.HasSuffix(long, "..."))
}
