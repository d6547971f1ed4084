package sql

import (
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
)

func fromAuditEntry(e audit.Entry) *AuditEntryEntity {
	return &AuditEntryEntity{
		ID:          e.ID,
		RecordedAt:  e.Timestamp.UTC(),
		UserName:    e.User,
		Action:      e.Action,
		Category:    string(e.Category),
		Description: e.Description,
		Success:     e.Success,
		Signature:   e.Signature,
	}
}

func toAuditEntry(entity AuditEntryEntity) audit.Entry {
	return audit.Entry{
		ID:          entity.ID,
		Timestamp:   entity.RecordedAt.UTC(),
		User:        entity.UserName,
		Action:      entity.Action,
		Category:    audit.Category(entity.Category),
		Description: entity.Description,
		Success:     entity.Success,
		Signature:   entity.Signature,
	}
}

func fromAlarmEvent(ev alarm.Event) *AlarmEventEntity {
	return &AlarmEventEntity{
		ID:         ev.ID,
		AlarmID:    ev.AlarmID,
		EventType:  string(ev.Type),
		Priority:   int(ev.Priority),
		Category:   string(ev.Category),
		Source:     ev.Source,
		Message:    ev.Message,
		UserName:   ev.User,
		RecordedAt: ev.Timestamp.UTC(),
	}
}

func toAlarmEvent(entity AlarmEventEntity) alarm.Event {
	return alarm.Event{
		ID:        entity.ID,
		AlarmID:   entity.AlarmID,
		Type:      alarm.EventType(entity.EventType),
		Priority:  alarm.Priority(entity.Priority),
		Category:  alarm.Category(entity.Category),
		Source:    entity.Source,
		Message:   entity.Message,
		User:      entity.UserName,
		Timestamp: entity.RecordedAt.UTC(),
	}
}

func fromBatchEvent(ev batch.Event) *BatchEventEntity {
	return &BatchEventEntity{
		ID:         ev.ID,
		BatchID:    ev.BatchID,
		RecipeID:   ev.RecipeID,
		RecipeName: ev.RecipeName,
		EventType:  string(ev.Type),
		Phase:      ev.Phase,
		PhaseIndex: ev.PhaseIndex,
		OffsetMs:   ev.Offset.Milliseconds(),
		UserName:   ev.User,
		Message:    ev.Message,
		RecordedAt: ev.Timestamp.UTC(),
	}
}

func toBatchEvent(entity BatchEventEntity) batch.Event {
	return batch.Event{
		ID:         entity.ID,
		BatchID:    entity.BatchID,
		RecipeID:   entity.RecipeID,
		RecipeName: entity.RecipeName,
		Type:       batch.EventType(entity.EventType),
		Phase:      entity.Phase,
		PhaseIndex: entity.PhaseIndex,
		Offset:     time.Duration(entity.OffsetMs) * time.Millisecond,
		User:       entity.UserName,
		Message:    entity.Message,
		Timestamp:  entity.RecordedAt.UTC(),
	}
}
