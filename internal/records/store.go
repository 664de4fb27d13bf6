package records

import "context"

// Store — хранилище записей. Все мутации идут через InTx: если fn вернула
// ошибку, ни запись, ни упоминания, ни журнал не сохраняются.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetRecord(ctx context.Context, entityType, id string) (*Record, error)
	// ListRecords — по created_at, затем по id (возрастание)
	ListRecords(ctx context.Context, entityType string) ([]*Record, error)
	// ListActivity — от старых к новым (по Seq)
	ListActivity(ctx context.Context, entityType, id string) ([]ActivityEntry, error)
	// MentionsOf — входящие упоминания handle'а (backlinks)
	MentionsOf(ctx context.Context, handle string) ([]Mention, error)
}

type Tx interface {
	GetRecord(ctx context.Context, entityType, id string) (*Record, error)
	// InsertRecord/UpdateRecord возвращают *apperr.ConflictError, если handle
	// (без учёта регистра) уже занят другой записью того же entity type.
	InsertRecord(ctx context.Context, rec *Record) error
	UpdateRecord(ctx context.Context, rec *Record) error
	// ReplaceMentions заменяет весь набор упоминаний одного поля записи.
	ReplaceMentions(ctx context.Context, entityType, id, field string, ms []Mention) error
	// AppendActivity сохраняет запись журнала и проставляет e.Seq.
	AppendActivity(ctx context.Context, e *ActivityEntry) error
}
