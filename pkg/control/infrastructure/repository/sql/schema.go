package sql

import "time"

// AuditEntryEntity is the persisted form of audit.Entry.
type AuditEntryEntity struct {
	ID          string    `gorm:"column:id;primaryKey"`
	RecordedAt  time.Time `gorm:"column:recorded_at"`
	UserName    string    `gorm:"column:user_name"`
	Action      string    `gorm:"column:action"`
	Category    string    `gorm:"column:category"`
	Description string    `gorm:"column:description"`
	Success     bool      `gorm:"column:success"`
	Signature   string    `gorm:"column:signature"`
}

func (AuditEntryEntity) TableName() string {
	return "audit_entries"
}

// AlarmEventEntity is the persisted form of alarm.Event.
type AlarmEventEntity struct {
	ID         string    `gorm:"column:id;primaryKey"`
	AlarmID    string    `gorm:"column:alarm_id"`
	EventType  string    `gorm:"column:event_type"`
	Priority   int       `gorm:"column:priority"`
	Category   string    `gorm:"column:category"`
	Source     string    `gorm:"column:source"`
	Message    string    `gorm:"column:message"`
	UserName   string    `gorm:"column:user_name"`
	RecordedAt time.Time `gorm:"column:recorded_at"`
}

func (AlarmEventEntity) TableName() string {
	return "alarm_events"
}

// BatchEventEntity is the persisted form of batch.Event. Offset is stored in milliseconds.
type BatchEventEntity struct {
	ID         string    `gorm:"column:id;primaryKey"`
	BatchID    string    `gorm:"column:batch_id"`
	RecipeID   string    `gorm:"column:recipe_id"`
	RecipeName string    `gorm:"column:recipe_name"`
	EventType  string    `gorm:"column:event_type"`
	Phase      string    `gorm:"column:phase"`
	PhaseIndex int       `gorm:"column:phase_index"`
	OffsetMs   int64     `gorm:"column:offset_ms"`
	UserName   string    `gorm:"column:user_name"`
	Message    string    `gorm:"column:message"`
	RecordedAt time.Time `gorm:"column:recorded_at"`
}

func (BatchEventEntity) TableName() string {
	return "batch_events"
}
