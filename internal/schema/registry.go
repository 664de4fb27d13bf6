package schema

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"recordhub/internal/apperr"
)

// Store — постоянное хранилище схем. Реализуется memory/sql хранилищами.
type Store interface {
	SaveSchema(ctx context.Context, s RecordSchema) error
	LoadSchemas(ctx context.Context) ([]RecordSchema, error)
}

// Registry хранит зарегистрированные схемы. Схемы write-once: повторная
// регистрация допустима только с той же формой полей.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]RecordSchema
	store   Store // nil — только память
}

func NewRegistry(store Store) *Registry {
	return &Registry{
		schemas: make(map[string]RecordSchema),
		store:   store,
	}
}

// Bootstrap подтягивает ранее сохранённые схемы из хранилища.
func (r *Registry) Bootstrap(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	list, err := r.store.LoadSchemas(ctx)
	if err != nil {
		return fmt.Errorf("load schemas: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range list {
		s.normalize()
		r.schemas[s.EntityType] = s.clone()
	}
	return nil
}

// Register валидирует и сохраняет схему, возвращает её entity type.
func (r *Registry) Register(ctx context.Context, s RecordSchema) (string, error) {
	s = s.clone()
	s.normalize()
	if issues := Lint(&s); len(issues) > 0 {
		return "", apperr.Invalid("invalid schema", issues...)
	}

	// под write-lock целиком: две параллельные регистрации одного типа не должны разойтись
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.schemas[s.EntityType]; ok {
		if !cur.Compatible(&s) {
			return "", apperr.Invalid("invalid schema", apperr.Field(apperr.ErrSchemaInvalid, "entity_type",
				fmt.Sprintf("entity type %q is already registered with different fields", s.EntityType)))
		}
		return s.EntityType, nil
	}
	if r.store != nil {
		if err := r.store.SaveSchema(ctx, s); err != nil {
			return "", fmt.Errorf("save schema %s: %w", s.EntityType, err)
		}
	}
	r.schemas[s.EntityType] = s
	return s.EntityType, nil
}

func (r *Registry) Get(entityType string) (RecordSchema, error) {
	key := NormalizeEntityType(entityType)
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[key]
	if !ok {
		return RecordSchema{}, apperr.NotFound("entity type", entityType)
	}
	return s.clone(), nil
}

func (r *Registry) Has(entityType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[NormalizeEntityType(entityType)]
	return ok
}

// List — все схемы, отсортированные по entity type
func (r *Registry) List() []RecordSchema {
	r.mu.RLock()
	out := make([]RecordSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out
}
