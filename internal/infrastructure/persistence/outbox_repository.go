package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/pkg/constants"
	"github.com/migratehub/backend/pkg/utils"
)

// Outbox event statuses
const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

// TransitionEventPayload is the outbox payload for a committed mutation
type TransitionEventPayload struct {
	FlowID          string                    `json:"flow_id"`
	TenantID        string                    `json:"tenant_id"`
	SubTenantID     string                    `json:"sub_tenant_id"`
	LifecycleStatus string                    `json:"lifecycle_status"`
	Transitions     []models.TransitionRecord `json:"transitions"`
}

// OutboxEvent represents a persisted event record
type OutboxEvent struct {
	ID          string
	EventType   string
	Payload     string
	Status      string
	RetryCount  int
	CreatedDate time.Time
}

// OutboxRepository implements the transactional outbox pattern: transition
// events are enqueued in the same transaction as the record commit, then a
// relay publishes them out of band. Delivery transport is out of scope;
// the relay only needs pending rows in order.
type OutboxRepository struct {
	db *sql.DB
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts a new event into the outbox within an existing transaction
func (r *OutboxRepository) Enqueue(ctx context.Context, tx *sql.Tx, eventType string, payload interface{}) (string, error) {
	id := utils.GenerateID()

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event payload: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, event_type, payload, status, retry_count, created_date)
		VALUES (?, ?, ?, ?, 0, ?)
	`, constants.TableOutboxEvent)

	if _, err := tx.ExecContext(ctx, query, id, eventType, payloadJSON, OutboxStatusPending, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("failed to enqueue event: %w", err)
	}
	return id, nil
}

// FetchPending returns pending events, oldest first
func (r *OutboxRepository) FetchPending(ctx context.Context, limit int) ([]OutboxEvent, error) {
	query := fmt.Sprintf(`
		SELECT id, event_type, payload, status, retry_count, created_date
		FROM %s WHERE status = ? ORDER BY created_date ASC LIMIT ?
	`, constants.TableOutboxEvent)

	rows, err := r.db.QueryContext(ctx, query, OutboxStatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending events: %w", err)
	}
	defer rows.Close()

	var events []OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &e.Status, &e.RetryCount, &e.CreatedDate); err != nil {
			return nil, fmt.Errorf("failed to scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkPublished marks an event as delivered
func (r *OutboxRepository) MarkPublished(ctx context.Context, id string) error {
	query := fmt.Sprintf("UPDATE %s SET status = ? WHERE id = ?", constants.TableOutboxEvent)
	_, err := r.db.ExecContext(ctx, query, OutboxStatusPublished, id)
	return err
}

// MarkFailed increments the retry count, marking the event failed once the
// retry budget is spent.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, maxRetries int) error {
	query := fmt.Sprintf(`
		UPDATE %s SET retry_count = retry_count + 1,
			status = CASE WHEN retry_count + 1 >= ? THEN ? ELSE ? END
		WHERE id = ?
	`, constants.TableOutboxEvent)
	_, err := r.db.ExecContext(ctx, query, maxRetries, OutboxStatusFailed, OutboxStatusPending, id)
	return err
}
