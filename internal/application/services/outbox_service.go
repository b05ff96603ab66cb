package services

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/migratehub/backend/internal/domain/ports"
	"github.com/migratehub/backend/internal/infrastructure/persistence"
)

const outboxMaxRetries = 5

// OutboxService relays transition events from the outbox table to the
// event bus. Events land in the outbox inside the same transaction as the
// record commit, so a crash between commit and publish loses nothing; the
// relay picks them up on the next sweep.
type OutboxService struct {
	repo     *persistence.OutboxRepository
	eventBus ports.EventPublisher

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewOutboxService creates a new OutboxService
func NewOutboxService(repo *persistence.OutboxRepository, eventBus ports.EventPublisher) *OutboxService {
	return &OutboxService{
		repo:     repo,
		eventBus: eventBus,
		stopCh:   make(chan struct{}),
	}
}

// StartWorker starts the background relay that polls pending outbox events
func (os *OutboxService) StartWorker(interval time.Duration) {
	os.wg.Add(1)
	go func() {
		defer os.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		log.Printf("📤 Outbox relay started with %v interval", interval)

		for {
			select {
			case <-os.stopCh:
				log.Printf("📤 Outbox relay stopping...")
				return
			case <-ticker.C:
				if err := os.ProcessPending(context.Background()); err != nil {
					log.Printf("⚠️ Outbox relay error: %v", err)
				}
			}
		}
	}()
}

// StopWorker stops the background relay gracefully
func (os *OutboxService) StopWorker() {
	os.stopOnce.Do(func() {
		close(os.stopCh)
	})
	os.wg.Wait()
	log.Printf("📤 Outbox relay stopped")
}

// ProcessPending publishes all pending outbox events, oldest first
func (os *OutboxService) ProcessPending(ctx context.Context) error {
	events, err := os.repo.FetchPending(ctx, 100)
	if err != nil {
		return err
	}

	if len(events) > 0 {
		log.Printf("🔄 [Outbox] Processing %d pending events", len(events))
	}

	for _, e := range events {
		os.relay(ctx, e)
	}
	return nil
}

func (os *OutboxService) relay(ctx context.Context, e persistence.OutboxEvent) {
	var payload persistence.TransitionEventPayload
	if err := json.Unmarshal([]byte(e.Payload), &payload); err != nil {
		log.Printf("❌ [Outbox] Event %s has invalid payload: %v", e.ID, err)
		if markErr := os.repo.MarkFailed(ctx, e.ID, 0); markErr != nil {
			log.Printf("⚠️ [Outbox] Failed to mark event %s: %v", e.ID, markErr)
		}
		return
	}

	os.eventBus.Publish(ctx, ports.EventType(e.EventType), payload)

	if err := os.repo.MarkPublished(ctx, e.ID); err != nil {
		log.Printf("⚠️ [Outbox] Failed to mark event %s published: %v", e.ID, err)
		if markErr := os.repo.MarkFailed(ctx, e.ID, outboxMaxRetries); markErr != nil {
			log.Printf("⚠️ [Outbox] Failed to record retry for event %s: %v", e.ID, markErr)
		}
	}
}
