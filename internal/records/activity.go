package records

import (
	"context"
	"fmt"
)

// ActivityLogger дописывает журнал записи внутри транзакции мутации.
// Уведомлений не шлёт: это делает Service после коммита.
type ActivityLogger struct {
	clock *Clock
}

func NewActivityLogger(clock *Clock) *ActivityLogger {
	if clock == nil {
		clock = NewClock(nil)
	}
	return &ActivityLogger{clock: clock}
}

func (l *ActivityLogger) Append(ctx context.Context, tx Tx, entityType, entityID, actor string, action Action, details map[string]any) (ActivityEntry, error) {
	if _, err := tx.GetRecord(ctx, entityType, entityID); err != nil {
		return ActivityEntry{}, err
	}
	e := ActivityEntry{
		EntityType: entityType,
		EntityID:   entityID,
		Actor:      actor,
		Action:     action,
		Timestamp:  l.clock.Now(),
		Details:    details,
	}
	if err := tx.AppendActivity(ctx, &e); err != nil {
		return ActivityEntry{}, fmt.Errorf("append activity %s/%s: %w", entityType, entityID, err)
	}
	return e, nil
}
