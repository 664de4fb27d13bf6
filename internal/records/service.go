package records

import (
	"context"
	"sort"
	"strings"
	"time"

	"recordhub/internal/apperr"
	"recordhub/internal/events"
	"recordhub/internal/logging"
	"recordhub/internal/mention"
	"recordhub/internal/schema"
)

// Publisher — получатель событий после коммита (events.Notifier).
type Publisher interface {
	Publish(events.Event)
}

// MutationObserver — счётчики мутаций (metrics.Metrics).
type MutationObserver interface {
	ObserveMutation(entityType, action, result string)
}

type Service struct {
	registry *schema.Registry
	store    Store
	ids      *IDGenerator
	clock    *Clock
	activity *ActivityLogger
	events   Publisher
	obs      MutationObserver
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.events = p } }
func WithObserver(o MutationObserver) Option { return func(s *Service) { s.obs = o } }
func WithClock(c *Clock) Option { return func(s *Service) { s.clock = c } }

func NewService(registry *schema.Registry, store Store, opts ...Option) *Service {
	s := &Service{
		registry: registry,
		store:    store,
		ids:      NewIDGenerator(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.clock == nil {
		s.clock = NewClock(nil)
	}
	s.activity = NewActivityLogger(s.clock)
	return s
}

// Create валидирует поля, сохраняет запись с упоминаниями и журналом одной
// транзакцией и после коммита публикует событие.
func (s *Service) Create(ctx context.Context, entityType string, input map[string]any, actor string) (*Record, error) {
	sch, err := s.registry.Get(entityType)
	if err != nil {
		return nil, err
	}
	fields, err := validateCreate(&sch, input)
	if err != nil {
		s.observe(sch.EntityType, ActionCreated, err)
		return nil, err
	}

	now := s.clock.Now()
	rec := &Record{
		ID:         s.ids.New(now),
		EntityType: sch.EntityType,
		Fields:     fields,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	rec.Handle = handleOf(&sch, fields)
	perField := fieldMentions(&sch, rec, sch.MentionFields())
	rec.Mentions = mergeMentions(&sch, fields)

	err = s.store.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertRecord(ctx, rec); err != nil {
			return err
		}
		for _, name := range sch.MentionFields() {
			if err := tx.ReplaceMentions(ctx, rec.EntityType, rec.ID, name, perField[name]); err != nil {
				return err
			}
		}
		data := make(map[string]any, len(fields))
		for k, v := range fields {
			data[k] = v.Interface()
		}
		if _, err := s.activity.Append(ctx, tx, rec.EntityType, rec.ID, actor, ActionCreated, map[string]any{"fields": data}); err != nil {
			return err
		}
		if len(rec.Mentions) > 0 {
			if _, err := s.activity.Append(ctx, tx, rec.EntityType, rec.ID, actor, ActionMentionAdded,
				map[string]any{"handles": toAny(rec.Mentions)}); err != nil {
				return err
			}
		}
		return nil
	})
	s.observe(rec.EntityType, ActionCreated, err)
	if err != nil {
		return nil, s.logFailure(ctx, "create", rec.EntityType, rec.ID, err)
	}

	s.publish(rec.EntityType, rec.ID, ActionCreated, rec.CreatedAt)
	return rec.Clone(), nil
}

// Update проверяет только переданные поля, пересчитывает упоминания
// переданных mention-полей и пишет "updated" с before/after.
func (s *Service) Update(ctx context.Context, entityType, id string, input map[string]any, actor string) (*Record, error) {
	sch, err := s.registry.Get(entityType)
	if err != nil {
		return nil, err
	}
	// отсутствие записи важнее ошибок в теле запроса
	if _, err := s.store.GetRecord(ctx, sch.EntityType, id); err != nil {
		s.observe(sch.EntityType, ActionUpdated, err)
		return nil, s.logFailure(ctx, "update", sch.EntityType, id, err)
	}
	patch, err := validatePatch(&sch, input)
	if err != nil {
		s.observe(sch.EntityType, ActionUpdated, err)
		return nil, err
	}

	var out *Record
	err = s.store.InTx(ctx, func(tx Tx) error {
		cur, err := tx.GetRecord(ctx, sch.EntityType, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		changed := make([]string, 0, len(patch))
		changes := make(map[string]any, len(patch))
		for _, f := range sch.Fields {
			v, ok := patch[f.Name]
			if !ok {
				continue
			}
			before, had := cur.Fields[f.Name]
			if v.IsZero() {
				delete(next.Fields, f.Name)
			} else {
				next.Fields[f.Name] = v
			}
			switch {
			case !had && v.IsZero():
				continue
			case had && !v.IsZero() && before.Equal(v):
				continue
			}
			changed = append(changed, f.Name)
			changes[f.Name] = map[string]any{"before": before.Interface(), "after": v.Interface()}
		}
		next.Handle = handleOf(&sch, next.Fields)
		next.Mentions = mergeMentions(&sch, next.Fields)
		next.UpdatedAt = s.clock.Now()

		if err := tx.UpdateRecord(ctx, next); err != nil {
			return err
		}

		// упоминания пересчитываются только для переданных полей
		var touched []string
		for _, name := range sch.MentionFields() {
			if _, ok := patch[name]; ok {
				touched = append(touched, name)
			}
		}
		oldPer := fieldMentions(&sch, cur, touched)
		newPer := fieldMentions(&sch, next, touched)
		var added []string
		for _, name := range touched {
			if err := tx.ReplaceMentions(ctx, next.EntityType, next.ID, name, newPer[name]); err != nil {
				return err
			}
			added = append(added, newHandles(oldPer[name], newPer[name])...)
		}

		if _, err := s.activity.Append(ctx, tx, next.EntityType, next.ID, actor, ActionUpdated, map[string]any{
			"changed": toAny(changed),
			"changes": changes,
		}); err != nil {
			return err
		}
		if added = dedupe(added); len(added) > 0 {
			if _, err := s.activity.Append(ctx, tx, next.EntityType, next.ID, actor, ActionMentionAdded,
				map[string]any{"handles": toAny(added)}); err != nil {
				return err
			}
		}
		out = next
		return nil
	})
	s.observe(sch.EntityType, ActionUpdated, err)
	if err != nil {
		return nil, s.logFailure(ctx, "update", sch.EntityType, id, err)
	}

	s.publish(out.EntityType, out.ID, ActionUpdated, out.UpdatedAt)
	return out.Clone(), nil
}

func (s *Service) Get(ctx context.Context, entityType, id string) (*Record, error) {
	sch, err := s.registry.Get(entityType)
	if err != nil {
		return nil, err
	}
	return s.store.GetRecord(ctx, sch.EntityType, id)
}

func (s *Service) List(ctx context.Context, entityType string) ([]*Record, error) {
	sch, err := s.registry.Get(entityType)
	if err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, sch.EntityType)
}

// Activity — журнал записи от старых к новым. limit > 0 оставляет последние limit записей.
func (s *Service) Activity(ctx context.Context, entityType, id string, limit int) ([]ActivityEntry, error) {
	sch, err := s.registry.Get(entityType)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetRecord(ctx, sch.EntityType, id); err != nil {
		return nil, err
	}
	list, err := s.store.ListActivity(ctx, sch.EntityType, id)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return list, nil
}

// Backlinks — записи, чьи mention-поля ссылаются на handle.
func (s *Service) Backlinks(ctx context.Context, handle string) ([]Mention, error) {
	return s.store.MentionsOf(ctx, strings.ToLower(strings.TrimSpace(handle)))
}

func (s *Service) publish(entityType, id string, action Action, at time.Time) {
	if s.events == nil {
		return
	}
	s.events.Publish(events.Event{EntityType: entityType, EntityID: id, Action: string(action), Timestamp: at})
}

func (s *Service) observe(entityType string, action Action, err error) {
	if s.obs == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case apperr.IsValidation(err):
		result = "invalid"
	case apperr.IsConflict(err):
		result = "conflict"
	case apperr.IsNotFound(err):
		result = "not_found"
	default:
		result = "error"
	}
	s.obs.ObserveMutation(entityType, string(action), result)
}

// logFailure пишет в лог только ошибки хранилища; доменные ошибки уходят клиенту.
func (s *Service) logFailure(ctx context.Context, op, entityType, id string, err error) error {
	if apperr.IsValidation(err) || apperr.IsConflict(err) || apperr.IsNotFound(err) {
		return err
	}
	logging.FromContext(ctx).Error("record "+op+" failed", "entity_type", entityType, "entity_id", id, "err", err)
	return err
}

func handleOf(sch *schema.RecordSchema, fields map[string]schema.Value) string {
	if sch.HandleField == "" {
		return ""
	}
	h, _ := fields[sch.HandleField].Text()
	return strings.TrimSpace(h)
}

// fieldMentions — упоминания по каждому из перечисленных полей записи.
func fieldMentions(sch *schema.RecordSchema, rec *Record, names []string) map[string][]Mention {
	out := make(map[string][]Mention, len(names))
	for _, name := range names {
		text, _ := rec.Fields[name].Text()
		snippet := MakeSnippet(text)
		var ms []Mention
		for i, h := range mention.Extract(text) {
			ms = append(ms, Mention{
				SourceType: sch.EntityType,
				SourceID:   rec.ID,
				Field:      name,
				Handle:     h,
				Position:   i,
				Snippet:    snippet,
			})
		}
		out[name] = ms
	}
	return out
}

// mergeMentions — handle'ы всех mention-полей в порядке объявления полей, без повторов.
func mergeMentions(sch *schema.RecordSchema, fields map[string]schema.Value) []string {
	var all []string
	for _, name := range sch.MentionFields() {
		text, _ := fields[name].Text()
		all = append(all, mention.Extract(text)...)
	}
	return dedupe(all)
}

func newHandles(before, after []Mention) []string {
	had := make(map[string]struct{}, len(before))
	for _, m := range before {
		had[m.Handle] = struct{}{}
	}
	var out []string
	for _, m := range after {
		if _, ok := had[m.Handle]; !ok {
			out = append(out, m.Handle)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// SortRecords — порядок выдачи списков: created_at, затем id.
func SortRecords(list []*Record) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
