// Package directory — справочник handle'ов для автодополнения упоминаний.
// Каждый вызов пересчитывается из хранилища записей, кеша нет.
package directory

import (
	"context"
	"sort"
	"strings"

	"recordhub/internal/records"
	"recordhub/internal/schema"
)

type Entry struct {
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
}

// Source — откуда берутся записи (records.Service).
type Source interface {
	List(ctx context.Context, entityType string) ([]*records.Record, error)
}

type Directory struct {
	registry *schema.Registry
	src      Source
}

func New(registry *schema.Registry, src Source) *Directory {
	return &Directory{registry: registry, src: src}
}

// List — записи с handle'ом по выбранным типам (пусто = все зарегистрированные).
// search: префикс handle'а или подстрока display name, без учёта регистра.
func (d *Directory) List(ctx context.Context, entityTypes []string, search string) ([]Entry, error) {
	q := strings.ToLower(strings.TrimSpace(search))
	var out []Entry
	for _, sch := range d.schemas(entityTypes) {
		if sch.HandleField == "" {
			continue
		}
		list, err := d.src.List(ctx, sch.EntityType)
		if err != nil {
			return nil, err
		}
		for _, rec := range list {
			if rec.Handle == "" {
				continue
			}
			e := Entry{
				EntityType:  rec.EntityType,
				EntityID:    rec.ID,
				Handle:      rec.Handle,
				DisplayName: DisplayName(&sch, rec),
			}
			if q != "" && !matches(e, q) {
				continue
			}
			out = append(out, e)
		}
	}
	sortEntries(out)
	return out, nil
}

// Resolve находит записи по handle'ам (без учёта регистра) в порядке запроса.
// Ненайденные handle'ы пропускаются.
func (d *Directory) Resolve(ctx context.Context, handles []string) ([]Entry, error) {
	if len(handles) == 0 {
		return []Entry{}, nil
	}
	all, err := d.List(ctx, nil, "")
	if err != nil {
		return nil, err
	}
	byKey := make(map[string][]Entry, len(all))
	for _, e := range all {
		k := strings.ToLower(e.Handle)
		byKey[k] = append(byKey[k], e)
	}

	out := []Entry{}
	seen := make(map[string]struct{}, len(handles))
	for _, h := range handles {
		k := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
		if _, dup := seen[k]; dup || k == "" {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, byKey[k]...)
	}
	return out, nil
}

func (d *Directory) schemas(entityTypes []string) []schema.RecordSchema {
	if len(entityTypes) == 0 {
		return d.registry.List()
	}
	var out []schema.RecordSchema
	seen := make(map[string]struct{}, len(entityTypes))
	for _, et := range entityTypes {
		sch, err := d.registry.Get(et)
		if err != nil {
			continue // неизвестные типы в фильтре игнорируются
		}
		if _, dup := seen[sch.EntityType]; dup {
			continue
		}
		seen[sch.EntityType] = struct{}{}
		out = append(out, sch)
	}
	return out
}

func matches(e Entry, q string) bool {
	return strings.HasPrefix(strings.ToLower(e.Handle), q) ||
		strings.Contains(strings.ToLower(e.DisplayName), q)
}

func sortEntries(list []Entry) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := strings.ToLower(list[i].DisplayName), strings.ToLower(list[j].DisplayName)
		if a != b {
			return a < b
		}
		if list[i].EntityType != list[j].EntityType {
			return list[i].EntityType < list[j].EntityType
		}
		return strings.ToLower(list[i].Handle) < strings.ToLower(list[j].Handle)
	})
}

var fallbackFields = []string{"title", "name", "contactName", "companyName"}

// DisplayName: display-поле, затем handle, затем title/name, затем тип сущности.
func DisplayName(sch *schema.RecordSchema, rec *records.Record) string {
	if s := text(rec.Fields[sch.DisplayField]); sch.DisplayField != "" && s != "" {
		return s
	}
	if h := strings.TrimSpace(rec.Handle); h != "" {
		return h
	}
	for _, name := range fallbackFields {
		if s := text(rec.Fields[name]); s != "" {
			return s
		}
	}
	return sch.EntityType
}

func text(v schema.Value) string {
	if v.IsZero() {
		return ""
	}
	return strings.TrimSpace(v.String())
}
