package schema

import "strings"

type FieldType string

const (
	TypeString  FieldType = "string"
	TypeText    FieldType = "text"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeDate    FieldType = "date"
)

func (t FieldType) Valid() bool {
	switch t {
	case TypeString, TypeText, TypeNumber, TypeBoolean, TypeDate:
		return true
	}
	return false
}

// RecordSchema описывает один тип записей (entity type)
type RecordSchema struct {
	EntityType   string            `json:"entity_type" yaml:"entity_type"`
	Description  string            `json:"description,omitempty" yaml:"description,omitempty"`
	Fields       []FieldDefinition `json:"fields" yaml:"fields"`
	HandleField  string            `json:"handle_field,omitempty" yaml:"handle_field,omitempty"`
	DisplayField string            `json:"display_field,omitempty" yaml:"display_field,omitempty"`
}

// FieldDefinition описывает поле схемы
type FieldDefinition struct {
	Name        string    `json:"name" yaml:"name"`
	Type        FieldType `json:"field_type" yaml:"field_type"`
	Required    bool      `json:"required" yaml:"required"`
	Mention     bool      `json:"mention" yaml:"mention"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Default     any       `json:"default,omitempty" yaml:"default,omitempty"`
}

func (s *RecordSchema) Field(name string) (FieldDefinition, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDefinition{}, false
}

// MentionFields — поля с mention: true в порядке объявления
func (s *RecordSchema) MentionFields() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Mention {
			out = append(out, f.Name)
		}
	}
	return out
}

// Compatible сравнивает форму двух схем (описания не учитываются).
func (s *RecordSchema) Compatible(other *RecordSchema) bool {
	if s.EntityType != other.EntityType ||
		s.HandleField != other.HandleField ||
		s.DisplayField != other.DisplayField ||
		len(s.Fields) != len(other.Fields) {
		return false
	}
	for i, f := range s.Fields {
		o := other.Fields[i]
		if f.Name != o.Name || f.Type != o.Type || f.Required != o.Required || f.Mention != o.Mention {
			return false
		}
	}
	return true
}

func (s RecordSchema) clone() RecordSchema {
	out := s
	out.Fields = append([]FieldDefinition(nil), s.Fields...)
	return out
}

// Normalized — копия в том виде, в каком её проверит и сохранит Register.
func (s RecordSchema) Normalized() RecordSchema {
	out := s.clone()
	out.normalize()
	return out
}

// normalize приводит имена к каноничному виду; тип по умолчанию string.
func (s *RecordSchema) normalize() {
	s.EntityType = NormalizeEntityType(s.EntityType)
	s.HandleField = strings.TrimSpace(s.HandleField)
	s.DisplayField = strings.TrimSpace(s.DisplayField)
	for i := range s.Fields {
		s.Fields[i].Name = strings.TrimSpace(s.Fields[i].Name)
		t := FieldType(strings.ToLower(strings.TrimSpace(string(s.Fields[i].Type))))
		if t == "" {
			t = TypeString
		}
		s.Fields[i].Type = t
	}
}
