package api

import (
	"strings"
	"time"

	"recordhub/internal/records"
)

// flatten — запись в "плоском" виде: системные ключи и поля на одном уровне.
// Имена системных ключей зарезервированы, поля с ними не пересекаются.
func flatten(rec *records.Record) map[string]any {
	mentions := rec.Mentions
	if mentions == nil {
		mentions = []string{}
	}
	out := map[string]any{
		"id":          rec.ID,
		"entity_type": rec.EntityType,
		"mentions":    mentions,
		"created_at":  rec.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":  rec.UpdatedAt.Format(time.RFC3339Nano),
	}
	for k, v := range rec.Fields {
		out[k] = v.Interface()
	}
	return out
}

func flattenAll(list []*records.Record) []map[string]any {
	out := make([]map[string]any, 0, len(list))
	for _, rec := range list {
		out = append(out, flatten(rec))
	}
	return out
}

// splitCSV: "a, b,,c" -> [a b c]; пустая строка -> nil
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// takeActor вынимает необязательный "actor" из тела запроса.
func takeActor(body map[string]any) string {
	raw, ok := body["actor"]
	if !ok {
		return ""
	}
	delete(body, "actor")
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}
