// schema/lint.go
package schema

import (
	"fmt"

	"recordhub/internal/apperr"
)

// Lint проверяет схему на противоречия. Пустой результат: схема годна к регистрации.
func Lint(s *RecordSchema) []apperr.FieldError {
	var issues []apperr.FieldError
	add := func(field, msg string) {
		issues = append(issues, apperr.Field(apperr.ErrSchemaInvalid, field, msg))
	}

	if !entityTypeRe.MatchString(s.EntityType) {
		add("entity_type", fmt.Sprintf("entity_type %q must match %s", s.EntityType, entityTypeRe))
	} else if _, ok := reservedEntityTypes[s.EntityType]; ok {
		add("entity_type", fmt.Sprintf("entity_type %q is reserved", s.EntityType))
	}
	if len(s.Fields) == 0 {
		add("fields", "schema must declare at least one field")
	}

	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		switch {
		case !fieldNameRe.MatchString(f.Name):
			add(f.Name, fmt.Sprintf("field name %q is invalid", f.Name))
			continue
		case isReserved(f.Name):
			add(f.Name, fmt.Sprintf("field name %q is reserved", f.Name))
			continue
		}
		if _, dup := seen[f.Name]; dup {
			add(f.Name, fmt.Sprintf("field %q is declared more than once", f.Name))
			continue
		}
		seen[f.Name] = struct{}{}

		if !f.Type.Valid() {
			add(f.Name, fmt.Sprintf("unknown field_type %q (allowed: string|text|number|boolean|date)", f.Type))
			continue
		}
		// mention имеет смысл только для текстовых полей
		if f.Mention && f.Type != TypeString && f.Type != TypeText {
			add(f.Name, "mention is only allowed on string/text fields")
		}
		if f.Default != nil {
			if _, err := Coerce(f, f.Default); err != nil {
				add(f.Name, "default "+err.Error())
			}
		}
	}

	if s.HandleField != "" {
		f, ok := s.Field(s.HandleField)
		switch {
		case !ok:
			add("handle_field", fmt.Sprintf("handle_field %q is not a declared field", s.HandleField))
		case f.Type != TypeString:
			add("handle_field", "handle_field must be a string field")
		}
	}
	if s.DisplayField != "" {
		if _, ok := s.Field(s.DisplayField); !ok {
			add("display_field", fmt.Sprintf("display_field %q is not a declared field", s.DisplayField))
		}
	}
	return issues
}
