package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinicops/internal/observability/metrics"
	"github.com/wolfman30/clinicops/pkg/logging"
)

type outboxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore persists tasks for reliable delivery.
type OutboxStore struct {
	pool outboxDB
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool}
}

func newOutboxStoreWithExec(exec outboxDB) *OutboxStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &OutboxStore{pool: exec}
}

// Enqueue implements Queue.
func (s *OutboxStore) Enqueue(ctx context.Context, tenantID, taskType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	query := `
		INSERT INTO outbox (id, tenant_id, type, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.pool.Exec(ctx, query, id, tenantID, taskType, data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

// FetchPending leases up to limit due tasks. Leased rows are pushed lease
// into the future so other instances skip them until the lease lapses.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32, lease time.Duration) ([]Task, error) {
	query := `
		UPDATE outbox SET next_attempt_at = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM outbox
			WHERE delivered_at IS NULL AND dead_lettered_at IS NULL AND next_attempt_at <= now()
			ORDER BY next_attempt_at, created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, tenant_id, type, payload, attempts, created_at
	`
	rows, err := s.pool.Query(ctx, query, limit, lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var task Task
		var payload []byte
		if err := rows.Scan(&task.ID, &task.TenantID, &task.Type, &payload, &task.Attempts, &task.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		task.Payload = append([]byte(nil), payload...)
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// ScheduleRetry records a failed attempt and when to try again.
func (s *OutboxStore) ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	query := `
		UPDATE outbox
		SET attempts = $2, next_attempt_at = $3, last_error = $4
		WHERE id = $1 AND delivered_at IS NULL
	`
	if _, err := s.pool.Exec(ctx, query, id, attempts, next, lastErr); err != nil {
		return fmt.Errorf("events: schedule retry: %w", err)
	}
	return nil
}

// MarkDeadLettered parks a task that exhausted its attempts.
func (s *OutboxStore) MarkDeadLettered(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	query := `
		UPDATE outbox
		SET attempts = $2, last_error = $3, dead_lettered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	if _, err := s.pool.Exec(ctx, query, id, attempts, lastErr); err != nil {
		return fmt.Errorf("events: mark dead-lettered: %w", err)
	}
	return nil
}

var _ Queue = (*OutboxStore)(nil)

// outboxStore is the subset of OutboxStore the deliverer needs.
type outboxStore interface {
	FetchPending(ctx context.Context, limit int32, lease time.Duration) ([]Task, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	ScheduleRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	MarkDeadLettered(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
}

const maxBackoff = 24 * time.Hour

// Backoff returns base * 2^attempts, capped at 24h.
func Backoff(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if attempts < 0 {
		attempts = 0
	}
	d := float64(base) * math.Pow(2, float64(attempts))
	if d > float64(maxBackoff) {
		return maxBackoff
	}
	return time.Duration(d)
}

// Deliverer polls the outbox and invokes the handler.
type Deliverer struct {
	store       outboxStore
	handler     Handler
	logger      *logging.Logger
	metrics     *metrics.AutomationMetrics
	batchSize   int32
	interval    time.Duration
	lease       time.Duration
	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
}

func NewDeliverer(store outboxStore, handler Handler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger,
		batchSize:   25,
		interval:    2 * time.Second,
		lease:       5 * time.Minute,
		maxAttempts: 8,
		baseDelay:   30 * time.Second,
		now:         time.Now,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithRetry sets the attempt budget and the base of the exponential backoff.
func (d *Deliverer) WithRetry(maxAttempts int, baseDelay time.Duration) *Deliverer {
	if maxAttempts > 0 {
		d.maxAttempts = maxAttempts
	}
	if baseDelay > 0 {
		d.baseDelay = baseDelay
	}
	return d
}

func (d *Deliverer) WithMetrics(m *metrics.AutomationMetrics) *Deliverer {
	d.metrics = m
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain delivers one batch.
func (d *Deliverer) Drain(ctx context.Context) {
	tasks, err := d.store.FetchPending(ctx, d.batchSize, d.lease)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return
	}
	for _, task := range tasks {
		d.deliver(ctx, task)
	}
}

func (d *Deliverer) deliver(ctx context.Context, task Task) {
	if err := d.handle(ctx, task); err != nil {
		attempts := task.Attempts + 1
		if attempts >= d.maxAttempts {
			d.logger.Error("outbox task dead-lettered", "error", err, "task_id", task.ID, "type", task.Type, "tenant_id", task.TenantID, "attempts", attempts)
			if markErr := d.store.MarkDeadLettered(ctx, task.ID, attempts, err.Error()); markErr != nil {
				d.logger.Error("failed to dead-letter outbox task", "error", markErr, "task_id", task.ID)
			}
			d.metrics.ObserveTask(task.Type, "dead_lettered")
			return
		}
		next := d.now().Add(Backoff(d.baseDelay, task.Attempts))
		d.logger.Warn("outbox delivery failed", "error", err, "task_id", task.ID, "type", task.Type, "attempts", attempts, "next_attempt_at", next)
		if markErr := d.store.ScheduleRetry(ctx, task.ID, attempts, next, err.Error()); markErr != nil {
			d.logger.Error("failed to schedule outbox retry", "error", markErr, "task_id", task.ID)
		}
		d.metrics.ObserveTask(task.Type, "retried")
		return
	}
	if ok, err := d.store.MarkDelivered(ctx, task.ID); err != nil {
		d.logger.Error("failed to mark outbox delivered", "error", err, "task_id", task.ID)
	} else if ok {
		d.logger.Debug("outbox delivered", "task_id", task.ID, "type", task.Type)
	}
	d.metrics.ObserveTask(task.Type, "delivered")
}

func (d *Deliverer) handle(ctx context.Context, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("events: handler panic: %v", p)
		}
	}()
	return d.handler.Handle(ctx, task)
}
