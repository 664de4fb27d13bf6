package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"recordhub/internal/schema"
)

// ===== SCHEMA HANDLERS =====

// fieldTypeName приводится к нижнему регистру ещё при разборе JSON,
// чтобы oneof проверял то же, что примет реестр.
type fieldTypeName string

func (t *fieldTypeName) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*t = fieldTypeName(strings.ToLower(strings.TrimSpace(s)))
	return nil
}

type fieldRequest struct {
	Name        string        `json:"name" binding:"required"`
	FieldType   fieldTypeName `json:"field_type" binding:"omitempty,oneof=string text number boolean date"`
	Required    bool   `json:"required"`
	Mention     bool   `json:"mention"`
	Description string `json:"description"`
	Default     any    `json:"default"`
}

type schemaRequest struct {
	EntityType   string         `json:"entity_type" binding:"required"`
	Description  string         `json:"description"`
	Fields       []fieldRequest `json:"fields" binding:"required,min=1,dive"`
	HandleField  string         `json:"handle_field"`
	DisplayField string         `json:"display_field"`
}

func (r schemaRequest) toSchema() schema.RecordSchema {
	s := schema.RecordSchema{
		EntityType:   r.EntityType,
		Description:  r.Description,
		HandleField:  r.HandleField,
		DisplayField: r.DisplayField,
		Fields:       make([]schema.FieldDefinition, 0, len(r.Fields)),
	}
	for _, f := range r.Fields {
		s.Fields = append(s.Fields, schema.FieldDefinition{
			Name:        f.Name,
			Type:        schema.FieldType(f.FieldType),
			Required:    f.Required,
			Mention:     f.Mention,
			Description: f.Description,
			Default:     f.Default,
		})
	}
	return s
}

// POST /api/records/schemas
func RegisterSchemaHandler(reg *schema.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req schemaRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badJSON(c, err)
			return
		}
		et, err := reg.Register(c.Request.Context(), req.toSchema())
		if err != nil {
			writeError(c, err)
			return
		}
		out, err := reg.Get(et)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

// GET /api/records/schemas
func ListSchemasHandler(reg *schema.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		list := reg.List()
		if list == nil {
			list = []schema.RecordSchema{}
		}
		c.JSON(http.StatusOK, list)
	}
}

// GET /api/records/schemas/:entity_type
func GetSchemaHandler(reg *schema.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		s, err := reg.Get(c.Param("entity_type"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, s)
	}
}
