package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Value — типизированное значение поля записи. Ровно один из вариантов
// активен, какой именно, определяет Kind.
type Value struct {
	kind     FieldType
	str      string
	num      float64
	b        bool
	t        time.Time
	withTime bool
}

func StringValue(s string) Value { return Value{kind: TypeString, str: s} }
func TextValue(s string) Value   { return Value{kind: TypeText, str: s} }
func NumberValue(n float64) Value {
	return Value{kind: TypeNumber, num: n}
}
func BoolValue(b bool) Value { return Value{kind: TypeBoolean, b: b} }

// DateValue хранит календарную дату (без времени).
func DateValue(t time.Time) Value {
	y, m, d := t.Date()
	return Value{kind: TypeDate, t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateTimeValue хранит момент времени в поле типа date.
func DateTimeValue(t time.Time) Value {
	return Value{kind: TypeDate, t: t.UTC(), withTime: true}
}

func (v Value) Kind() FieldType { return v.kind }
func (v Value) IsZero() bool    { return v.kind == "" }

// Text возвращает строку для string/text значений.
func (v Value) Text() (string, bool) {
	if v.kind == TypeString || v.kind == TypeText {
		return v.str, true
	}
	return "", false
}

func (v Value) Number() (float64, bool) { return v.num, v.kind == TypeNumber }
func (v Value) Bool() (bool, bool)      { return v.b, v.kind == TypeBoolean }
func (v Value) Time() (time.Time, bool) { return v.t, v.kind == TypeDate }

// Interface — значение в виде, пригодном для JSON.
func (v Value) Interface() any {
	switch v.kind {
	case TypeString, TypeText:
		return v.str
	case TypeNumber:
		return v.num
	case TypeBoolean:
		return v.b
	case TypeDate:
		if v.withTime {
			return v.t.Format(time.RFC3339Nano)
		}
		return v.t.Format(dateLayout)
	}
	return nil
}

// String — человекочитаемое представление (для display name и логов).
func (v Value) String() string {
	switch v.kind {
	case TypeNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case TypeBoolean:
		return strconv.FormatBool(v.b)
	case "":
		return ""
	}
	return fmt.Sprint(v.Interface())
}

func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case TypeString, TypeText:
		return v.str == o.str
	case TypeNumber:
		return v.num == o.num
	case TypeBoolean:
		return v.b == o.b
	case TypeDate:
		return v.withTime == o.withTime && v.t.Equal(o.t)
	}
	return true
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

const dateLayout = "2006-01-02"

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`) // YYYY-MM-DD

// Coerce приводит сырое JSON-значение к типу поля. На каждый тип своя функция.
func Coerce(f FieldDefinition, raw any) (Value, error) {
	switch f.Type {
	case TypeString:
		s, err := toStringStrict(raw)
		if err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case TypeText:
		s, err := toStringStrict(raw)
		if err != nil {
			return Value{}, err
		}
		return TextValue(s), nil
	case TypeNumber:
		n, err := toNumberStrict(raw)
		if err != nil {
			return Value{}, err
		}
		return NumberValue(n), nil
	case TypeBoolean:
		b, err := toBoolStrict(raw)
		if err != nil {
			return Value{}, err
		}
		return BoolValue(b), nil
	case TypeDate:
		return toDateStrict(raw)
	default:
		return Value{}, fmt.Errorf("unknown field type %q", f.Type)
	}
}

func toStringStrict(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	// числа автоматически в строки не превращаем
	return "", errors.New("must be string")
}

// toNumberStrict не пропускает NaN и ±Inf: JSON их не представляет.
func toNumberStrict(v any) (float64, error) {
	f, err := parseNumber(v)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.New("must be number")
	}
	return f, nil
}

func parseNumber(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, errors.New("must be number")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errors.New("must be number")
		}
		return f, nil
	default:
		return 0, errors.New("must be number")
	}
}

func toBoolStrict(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}
	}
	return false, errors.New("must be boolean")
}

func toDateStrict(v any) (Value, error) {
	s, err := toStringStrict(v)
	if err != nil {
		return Value{}, errors.New("must be date string")
	}
	s = strings.TrimSpace(s)
	if dateRe.MatchString(s) {
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return Value{}, errors.New("invalid date")
		}
		return DateValue(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return DateTimeValue(t), nil
	}
	// datetime-local из форм: без зоны, считаем UTC
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return DateTimeValue(t), nil
		}
	}
	return Value{}, errors.New("must match YYYY-MM-DD, YYYY-MM-DDTHH:MM[:SS] or RFC3339")
}

var localLayouts = []string{"2006-01-02T15:04:05", "2006-01-02T15:04"}

// Stored — самоописывающая форма значения для хранилищ: тип + JSON-значение.
type Stored struct {
	Type  FieldType `json:"t"`
	Value any       `json:"v"`
}

func (v Value) Stored() Stored { return Stored{Type: v.kind, Value: v.Interface()} }

// FromStored восстанавливает Value из сохранённой формы.
func FromStored(s Stored) (Value, error) {
	return Coerce(FieldDefinition{Type: s.Type}, s.Value)
}
