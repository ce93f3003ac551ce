package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfman30/clinicops/pkg/logging"
)

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records task ids that were already handled so redelivered
// tasks are skipped.
type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// AlreadyProcessed checks if source already handled eventID.
func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE source = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, source, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed records eventID for source, returning false if it was already recorded.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, source, eventID string) (bool, error) {
	query := `
		INSERT INTO processed_events (source, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, source, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

type processedChecker interface {
	AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
}

// Dedup wraps next so a task id is handled successfully at most once.
func Dedup(source string, store processedChecker, next Handler, logger *logging.Logger) Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return HandlerFunc(func(ctx context.Context, task Task) error {
		id := task.ID.String()
		done, err := store.AlreadyProcessed(ctx, source, id)
		if err != nil {
			return err
		}
		if done {
			logger.Debug("task already processed", "task_id", id, "type", task.Type)
			return nil
		}
		if err := next.Handle(ctx, task); err != nil {
			return err
		}
		if _, err := store.MarkProcessed(ctx, source, id); err != nil {
			logger.Warn("failed to record processed task", "task_id", id, "error", err)
		}
		return nil
	})
}
