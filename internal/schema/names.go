package schema

import (
	"regexp"
	"strings"
)

var (
	entityTypeRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	fieldNameRe  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// системные ключи записи, которые нельзя объявлять полями
var reserved = map[string]struct{}{
	"id": {}, "entity_type": {}, "created_at": {}, "updated_at": {},
	"mentions": {}, "actor": {},
}

func isReserved(s string) bool { _, ok := reserved[strings.ToLower(s)]; return ok }

// заняты служебными маршрутами /api/records/<...>
var reservedEntityTypes = map[string]struct{}{"schemas": {}, "handles": {}}

// NormalizeEntityType — entity type регистронезависим: "Note" и "note" один и тот же тип.
func NormalizeEntityType(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
