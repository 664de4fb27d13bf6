package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordhub/internal/directory"
	"recordhub/internal/events"
	"recordhub/internal/metrics"
	"recordhub/internal/records"
	"recordhub/internal/schema"
	"recordhub/internal/store/memory"
)

type testEnv struct {
	router   *gin.Engine
	notifier *events.Notifier
	ready    error
}

func setupTestRouter(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.New()
	reg := schema.NewRegistry(st)
	m := metrics.New()
	n := events.NewNotifier(16, nil, m)
	t.Cleanup(n.Close)
	svc := records.NewService(reg, st, records.WithPublisher(n), records.WithObserver(m))

	env := &testEnv{notifier: n}
	env.router = NewRouter(Deps{
		Registry:  reg,
		Records:   svc,
		Directory: directory.New(reg, svc),
		Notifier:  n,
		Metrics:   m,
		Ready:     func(context.Context) error { return env.ready },
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

var noteSchema = map[string]any{
	"entity_type": "note",
	"fields": []map[string]any{
		{"name": "title", "field_type": "string", "required": true},
		{"name": "body", "field_type": "text", "required": true, "mention": true},
		{"name": "handle", "field_type": "string", "required": true},
	},
	"handle_field":  "handle",
	"display_field": "title",
}

func (e *testEnv) registerNote(t *testing.T) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/records/schemas", noteSchema)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (e *testEnv) createNote(t *testing.T, title, body, handle string) map[string]any {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/records/note", map[string]any{"title": title, "body": body, "handle": handle})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[map[string]any](t, w)
}

type errResp struct {
	Message string `json:"message"`
	Errors  []struct {
		Code    string `json:"code"`
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"errors"`
}

func TestCreateAndDirectoryScenario(t *testing.T) {
	env := setupTestRouter(t)
	env.registerNote(t)

	rec := env.createNote(t, "CSAT follow-up", "Ping @clientalpha", "note-alpha")
	assert.NotEmpty(t, rec["id"])
	assert.Equal(t, "note", rec["entity_type"])
	assert.Equal(t, []any{"clientalpha"}, rec["mentions"])
	assert.Equal(t, "CSAT follow-up", rec["title"])
	assert.NotEmpty(t, rec["created_at"])

	w := env.do(t, http.MethodGet, "/api/records/handles?entity_types=note", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]directory.Entry](t, w)
	assert.Contains(t, entries, directory.Entry{
		EntityType:  "note",
		EntityID:    rec["id"].(string),
		Handle:      "note-alpha",
		DisplayName: "CSAT follow-up",
	})

	w = env.do(t, http.MethodGet, "/api/records/note/"+rec["id"].(string), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rec, decode[map[string]any](t, w))
}

func TestErrorMapping(t *testing.T) {
	env := setupTestRouter(t)
	env.registerNote(t)
	env.createNote(t, "first", "x", "taken")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
		field  string
	}{
		{"missing required", http.MethodPost, "/api/records/note", map[string]any{"title": "t", "handle": "h1"}, 400, "required", "body"},
		{"type mismatch", http.MethodPost, "/api/records/note", map[string]any{"title": 5, "body": "b", "handle": "h2"}, 400, "type_mismatch", "title"},
		{"unknown field", http.MethodPost, "/api/records/note", map[string]any{"title": "t", "body": "b", "handle": "h3", "x": 1}, 400, "unknown_field", "x"},
		{"duplicate handle", http.MethodPost, "/api/records/note", map[string]any{"title": "t", "body": "b", "handle": "TAKEN"}, 409, "unique_violation", "handle"},
		{"unknown type", http.MethodPost, "/api/records/ghost", map[string]any{"title": "t"}, 404, "not_found", "entity type"},
		{"unknown type list", http.MethodGet, "/api/records/ghost", nil, 404, "not_found", "entity type"},
		{"missing record", http.MethodGet, "/api/records/note/nope", nil, 404, "not_found", "record"},
		{"update missing", http.MethodPut, "/api/records/note/nope", map[string]any{"title": "t"}, 404, "not_found", "record"},
		{"schema without type", http.MethodPost, "/api/records/schemas", map[string]any{"fields": []any{map[string]any{"name": "a"}}}, 400, "required", "entity_type"},
		{"schema bad field type", http.MethodPost, "/api/records/schemas", map[string]any{"entity_type": "x", "fields": []any{map[string]any{"name": "a", "field_type": "json"}}}, 400, "schema_invalid", "fields[0].field_type"},
		{"schema bad handle", http.MethodPost, "/api/records/schemas", map[string]any{"entity_type": "x", "fields": []any{map[string]any{"name": "a"}}, "handle_field": "b"}, 400, "schema_invalid", "handle_field"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(t, tc.method, tc.path, tc.body)
			require.Equal(t, tc.status, w.Code, w.Body.String())
			resp := decode[errResp](t, w)
			assert.NotEmpty(t, resp.Message)
			require.NotEmpty(t, resp.Errors)
			assert.Equal(t, tc.code, resp.Errors[0].Code)
			assert.Equal(t, tc.field, resp.Errors[0].Field)
		})
	}

	w := env.do(t, http.MethodPost, "/api/records/note", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateReplacesMentionsAndLogsActivity(t *testing.T) {
	env := setupTestRouter(t)
	env.registerNote(t)
	rec := env.createNote(t, "t", "hello @alice", "n1")
	id := rec["id"].(string)

	w := env.do(t, http.MethodPut, "/api/records/note/"+id, map[string]any{"body": "hello @carol", "actor": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	upd := decode[map[string]any](t, w)
	assert.Equal(t, []any{"carol"}, upd["mentions"])
	assert.Equal(t, "t", upd["title"])

	w = env.do(t, http.MethodGet, "/api/records/note/"+id+"/activity", nil)
	require.Equal(t, http.StatusOK, w.Code)
	acts := decode[[]records.ActivityEntry](t, w)
	var updated int
	for _, a := range acts {
		if a.Action == records.ActionUpdated {
			updated++
			assert.Equal(t, "bob", a.Actor)
		}
	}
	assert.Equal(t, 1, updated)
	assert.Equal(t, records.ActionCreated, acts[0].Action)

	w = env.do(t, http.MethodGet, "/api/records/note/"+id+"/activity?limit=1", nil)
	last := decode[[]records.ActivityEntry](t, w)
	require.Len(t, last, 1)
	assert.Equal(t, acts[len(acts)-1].Seq, last[0].Seq)

	w = env.do(t, http.MethodGet, "/api/records/handles/alice/mentions", nil)
	assert.Empty(t, decode[[]records.Mention](t, w))
	w = env.do(t, http.MethodGet, "/api/records/handles/Carol/mentions", nil)
	backlinks := decode[[]records.Mention](t, w)
	require.Len(t, backlinks, 1)
	assert.Equal(t, id, backlinks[0].SourceID)
	assert.Equal(t, "hello @carol", backlinks[0].Snippet)

	// несуществующая запись: 404 даже при неверном теле
	w = env.do(t, http.MethodPut, "/api/records/note/missing", map[string]any{"color": "red"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListPaginationAndOrder(t *testing.T) {
	env := setupTestRouter(t)
	env.registerNote(t)
	var ids []string
	for _, h := range []string{"a", "b", "c"} {
		ids = append(ids, env.createNote(t, "t-"+h, "x", h)["id"].(string))
	}

	w := env.do(t, http.MethodGet, "/api/records/note", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3", w.Header().Get("X-Total-Count"))
	all := decode[[]map[string]any](t, w)
	require.Len(t, all, 3)
	for i, r := range all {
		assert.Equal(t, ids[i], r["id"])
	}

	w = env.do(t, http.MethodGet, "/api/records/note?limit=1&offset=1", nil)
	one := decode[[]map[string]any](t, w)
	require.Len(t, one, 1)
	assert.Equal(t, ids[1], one[0]["id"])
	assert.Equal(t, "3", w.Header().Get("X-Total-Count"))

	w = env.do(t, http.MethodGet, "/api/records/note?offset=10", nil)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}

func TestSchemaEndpoints(t *testing.T) {
	env := setupTestRouter(t)
	env.registerNote(t)

	// повтор той же схемы не ошибка
	w := env.do(t, http.MethodPost, "/api/records/schemas", noteSchema)
	assert.Equal(t, http.StatusCreated, w.Code)

	changed := map[string]any{
		"entity_type": "note",
		"fields":      []map[string]any{{"name": "title", "field_type": "number"}},
	}
	w = env.do(t, http.MethodPost, "/api/records/schemas", changed)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/api/records/schemas", nil)
	list := decode[[]schema.RecordSchema](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "note", list[0].EntityType)
	assert.Len(t, list[0].Fields, 3)

	w = env.do(t, http.MethodGet, "/api/records/schemas/NOTE", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[schema.RecordSchema](t, w)
	assert.Equal(t, "handle", got.HandleField)

	w = env.do(t, http.MethodGet, "/api/records/schemas/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveHandles(t *testing.T) {
	env := setupTestRouter(t)
	env.registerNote(t)
	a := env.createNote(t, "Alpha", "x", "alpha")
	env.createNote(t, "Beta", "x", "beta")

	w := env.do(t, http.MethodGet, "/api/records/handles/resolve?handles=@Alpha,ghost", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[[]directory.Entry](t, w)
	require.Len(t, got, 1)
	assert.Equal(t, a["id"], got[0].EntityID)

	w = env.do(t, http.MethodGet, "/api/records/handles?q=bet", nil)
	got = decode[[]directory.Entry](t, w)
	require.Len(t, got, 1)
	assert.Equal(t, "beta", got[0].Handle)
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestRouter(t)
	env.registerNote(t)
	env.createNote(t, "t", "x", "h")

	w := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	env.ready = errors.New("db down")
	w = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `recordhub_record_mutations_total{action="created",entity_type="note",result="ok"} 1`)
	assert.Contains(t, w.Body.String(), "recordhub_http_request_duration_seconds")
}

// readEvents читает data-строки SSE-потока в канал.
func readEvents(t *testing.T, ctx context.Context, url string) <-chan events.Event {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	out := make(chan events.Event, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			var e events.Event
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &e); err == nil {
				out <- e
			}
		}
	}()
	return out
}

func nextEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "stream closed")
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return events.Event{}
}

func TestEventStream(t *testing.T) {
	env := setupTestRouter(t)
	env.registerNote(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	early := readEvents(t, ctx, srv.URL+"/api/events")
	require.Eventually(t, func() bool { return env.notifier.Len() == 1 }, time.Second, 10*time.Millisecond)

	first := env.createNote(t, "one", "x", "one")
	e := nextEvent(t, early)
	assert.Equal(t, "note", e.EntityType)
	assert.Equal(t, first["id"], e.EntityID)
	assert.Equal(t, "created", e.Action)

	late := readEvents(t, ctx, srv.URL+"/api/events")
	require.Eventually(t, func() bool { return env.notifier.Len() == 2 }, time.Second, 10*time.Millisecond)

	second := env.createNote(t, "two", "x", "two")
	// первое событие позднего подписчика уже второе создание
	assert.Equal(t, second["id"], nextEvent(t, late).EntityID)
	// у раннего ровно одно событие на первое создание
	assert.Equal(t, second["id"], nextEvent(t, early).EntityID)

	cancel()
	require.Eventually(t, func() bool { return env.notifier.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSchemaFieldTypeIgnoresCase(t *testing.T) {
	env := setupTestRouter(t)
	w := env.do(t, http.MethodPost, "/api/records/schemas", map[string]any{
		"entity_type": "metric",
		"fields": []map[string]any{
			{"name": "label", "field_type": "Text"},
			{"name": "value", "field_type": " NUMBER "},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	got := decode[schema.RecordSchema](t, w)
	require.Len(t, got.Fields, 2)
	assert.Equal(t, schema.TypeText, got.Fields[0].Type)
	assert.Equal(t, schema.TypeNumber, got.Fields[1].Type)

	// число вне JSON: 400, запись не создаётся, список остаётся пригодным для кодирования
	for _, bad := range []string{"NaN", "+Inf", "-inf"} {
		w = env.do(t, http.MethodPost, "/api/records/metric", map[string]any{"label": "x", "value": bad})
		require.Equal(t, http.StatusBadRequest, w.Code, bad)
		resp := decode[errResp](t, w)
		require.NotEmpty(t, resp.Errors)
		assert.Equal(t, "type_mismatch", resp.Errors[0].Code)
		assert.Equal(t, "value", resp.Errors[0].Field)
	}
	w = env.do(t, http.MethodGet, "/api/records/metric", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))
}
