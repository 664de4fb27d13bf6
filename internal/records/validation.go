package records

import (
	"sort"

	"recordhub/internal/apperr"
	"recordhub/internal/schema"
)

// blank — отсутствующее значение: null или пустая строка.
func blank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// checkSystemAndUnknown запрещает системные ключи и поля, которых нет в схеме.
func checkSystemAndUnknown(s *schema.RecordSchema, obj map[string]any) []apperr.FieldError {
	var errs []apperr.FieldError
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch k {
		case "id", "entity_type", "created_at", "updated_at", "mentions":
			errs = append(errs, apperr.Field(apperr.ErrReadOnly, k, "Field '"+k+"' is read-only"))
			continue
		}
		if _, ok := s.Field(k); !ok {
			errs = append(errs, apperr.Field(apperr.ErrUnknownField, k, "Field '"+k+"' is not declared in schema '"+s.EntityType+"'"))
		}
	}
	return errs
}

// validateCreate проверяет и нормализует полный набор полей новой записи:
// default для отсутствующих, required, приведение типов.
func validateCreate(s *schema.RecordSchema, obj map[string]any) (map[string]schema.Value, error) {
	errs := checkSystemAndUnknown(s, obj)
	out := make(map[string]schema.Value, len(s.Fields))

	for _, f := range s.Fields {
		raw, present := obj[f.Name]
		if !present || blank(raw) {
			if f.Default != nil {
				if v, err := schema.Coerce(f, f.Default); err == nil {
					out[f.Name] = v
					continue
				}
			}
			if f.Required {
				errs = append(errs, apperr.Field(apperr.ErrRequired, f.Name, "Field '"+f.Name+"' is required"))
			}
			continue
		}
		v, err := schema.Coerce(f, raw)
		if err != nil {
			errs = append(errs, apperr.Field(apperr.ErrTypeMismatch, f.Name, "Field '"+f.Name+"' "+err.Error()))
			continue
		}
		out[f.Name] = v
	}
	if len(errs) > 0 {
		return nil, apperr.Invalid("validation failed", errs...)
	}
	return out, nil
}

// validatePatch проверяет только переданные поля. Нулевое значение у
// необязательного поля означает "очистить" (в результате Value{}).
func validatePatch(s *schema.RecordSchema, obj map[string]any) (map[string]schema.Value, error) {
	errs := checkSystemAndUnknown(s, obj)
	out := make(map[string]schema.Value, len(obj))

	for _, f := range s.Fields {
		raw, present := obj[f.Name]
		if !present {
			continue
		}
		if blank(raw) {
			if f.Required {
				errs = append(errs, apperr.Field(apperr.ErrRequired, f.Name, "Field '"+f.Name+"' is required"))
				continue
			}
			out[f.Name] = schema.Value{}
			continue
		}
		v, err := schema.Coerce(f, raw)
		if err != nil {
			errs = append(errs, apperr.Field(apperr.ErrTypeMismatch, f.Name, "Field '"+f.Name+"' "+err.Error()))
			continue
		}
		out[f.Name] = v
	}
	if len(errs) > 0 {
		return nil, apperr.Invalid("validation failed", errs...)
	}
	return out, nil
}
