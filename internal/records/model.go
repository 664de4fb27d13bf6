package records

import (
	"strings"
	"time"

	"recordhub/internal/schema"
)

type Record struct {
	ID         string
	EntityType string
	Fields     map[string]schema.Value
	Handle     string   // значение handle-поля, "" если схема его не объявляет
	Mentions   []string // текущие упоминания, по всем mention-полям
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Clone — глубокая копия (хранилища не должны разделять map с вызывающим).
func (r *Record) Clone() *Record {
	out := *r
	out.Fields = make(map[string]schema.Value, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	out.Mentions = append([]string(nil), r.Mentions...)
	return &out
}

// Mention — ребро "поле записи -> handle". Пересчитывается при каждой записи поля.
type Mention struct {
	SourceType string `json:"source_entity_type"`
	SourceID   string `json:"source_id"`
	Field      string `json:"field_name"`
	Handle     string `json:"target_handle"`
	Position   int    `json:"position"`
	// Snippet — текст поля, где встретилось упоминание (обрезан до SnippetLimit)
	Snippet string `json:"snippet"`
}

const SnippetLimit = 500

// MakeSnippet обрезает текст поля для показа рядом с backlink'ом.
func MakeSnippet(text string) string {
	text = strings.TrimSpace(text)
	r := []rune(text)
	if len(r) <= SnippetLimit {
		return text
	}
	return string(r[:SnippetLimit-3]) + "..."
}

type Action string

const (
	ActionCreated      Action = "created"
	ActionUpdated      Action = "updated"
	ActionMentionAdded Action = "mention_added"
)

// ActivityEntry — неизменяемая запись журнала. Seq назначает хранилище.
type ActivityEntry struct {
	Seq        int64          `json:"seq"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor,omitempty"`
	Action     Action         `json:"action"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}
