// Package sql persists audit entries, alarm events and batch events through gorm.
package sql

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const moduleName = "repository"

const (
	defaultQueueSize    = 1024
	defaultWriteTimeout = 5 * time.Second
)

// AuditQuery filters AuditEntries. Zero fields do not filter.
type AuditQuery struct {
	User   string
	Action string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// Repository writes audit entries synchronously, so a failed insert is reported to the trail.
// Alarm and batch events are queued and written by a background worker once Start is called;
// before that they are written inline.
type Repository struct {
	db           *gorm.DB
	writeTimeout time.Duration
	queueSize    int

	mu      sync.RWMutex
	queue   chan interface{}
	wg      sync.WaitGroup
	dropped int64
}

// Option configures a Repository.
type Option func(*Repository)

// WithQueueSize bounds the event queue. Events arriving while it is full are dropped.
func WithQueueSize(n int) Option {
	return func(r *Repository) {
		if n > 0 {
			r.queueSize = n
		}
	}
}

// WithWriteTimeout bounds each queued insert.
func WithWriteTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.writeTimeout = d
		}
	}
}

// NewRepository creates a repository over db.
func NewRepository(db *gorm.DB, opts ...Option) *Repository {
	r := &Repository{
		db:           db,
		writeTimeout: defaultWriteTimeout,
		queueSize:    defaultQueueSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the event writer.
func (r *Repository) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queue != nil {
		return
	}
	r.queue = make(chan interface{}, r.queueSize)
	r.wg.Add(1)
	go r.run(r.queue)
	logger.Debugf("Repository: event writer started (queue size %d).", r.queueSize)
}

// Stop drains the queue and waits for the writer, or until ctx is done.
func (r *Repository) Stop(ctx context.Context) error {
	r.mu.Lock()
	q := r.queue
	r.queue = nil
	r.mu.Unlock()
	if q == nil {
		return nil
	}
	close(q)

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Debugf("Repository: event writer stopped.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Dropped returns the number of events discarded because the queue was full.
func (r *Repository) Dropped() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.dropped
}

func (r *Repository) run(q <-chan interface{}) {
	defer r.wg.Done()
	for entity := range q {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		if err := r.insert(ctx, entity); err != nil {
			logger.Errorf("Repository: %v", err)
		}
		cancel()
	}
}

func (r *Repository) enqueue(entity interface{}) {
	r.mu.Lock()
	q := r.queue
	if q != nil {
		select {
		case q <- entity:
			r.mu.Unlock()
			return
		default:
			r.dropped++
			r.mu.Unlock()
			logger.Warnf("Repository: event queue full, dropping %T.", entity)
			return
		}
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()
	if err := r.insert(ctx, entity); err != nil {
		logger.Errorf("Repository: %v", err)
	}
}

func (r *Repository) insert(ctx context.Context, entity interface{}) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return exception.NewControlErrorf(moduleName, exception.KindTransient, "failed to insert %T", entity, err)
	}
	return nil
}

// AppendAuditEntry implements audit.Sink.
func (r *Repository) AppendAuditEntry(ctx context.Context, entry audit.Entry) error {
	return r.insert(ctx, fromAuditEntry(entry))
}

// OnAlarmEvent implements alarm.Listener.
func (r *Repository) OnAlarmEvent(ev alarm.Event) {
	r.enqueue(fromAlarmEvent(ev))
}

// OnBatchEvent implements batch.Listener.
func (r *Repository) OnBatchEvent(ev batch.Event) {
	r.enqueue(fromBatchEvent(ev))
}

// AuditEntries returns persisted audit entries in chronological order.
func (r *Repository) AuditEntries(ctx context.Context, q AuditQuery) ([]audit.Entry, error) {
	tx := r.db.WithContext(ctx).Model(&AuditEntryEntity{})
	if q.User != "" {
		tx = tx.Where("user_name = ?", q.User)
	}
	if q.Action != "" {
		tx = tx.Where("action = ?", q.Action)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("recorded_at >= ?", q.Since.UTC())
	}
	if !q.Until.IsZero() {
		tx = tx.Where("recorded_at <= ?", q.Until.UTC())
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	var rows []AuditEntryEntity
	if err := tx.Order("recorded_at ASC").Find(&rows).Error; err != nil {
		return nil, exception.NewControlErrorf(moduleName, exception.KindTransient, "failed to query audit entries", err)
	}
	out := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAuditEntry(row))
	}
	return out, nil
}

// AlarmEvents returns the history of one alarm, oldest first. An empty id returns every alarm.
func (r *Repository) AlarmEvents(ctx context.Context, alarmID string, limit int) ([]alarm.Event, error) {
	tx := r.db.WithContext(ctx).Model(&AlarmEventEntity{})
	if alarmID != "" {
		tx = tx.Where("alarm_id = ?", alarmID)
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []AlarmEventEntity
	if err := tx.Order("recorded_at ASC").Find(&rows).Error; err != nil {
		return nil, exception.NewControlErrorf(moduleName, exception.KindTransient, "failed to query alarm events", err)
	}
	out := make([]alarm.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAlarmEvent(row))
	}
	return out, nil
}

// BatchEvents returns the electronic batch record of one batch, oldest first.
func (r *Repository) BatchEvents(ctx context.Context, batchID string) ([]batch.Event, error) {
	var rows []BatchEventEntity
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("recorded_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, exception.NewControlErrorf(moduleName, exception.KindTransient, "failed to query events of batch %s", batchID, err)
	}
	out := make([]batch.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, toBatchEvent(row))
	}
	return out, nil
}
