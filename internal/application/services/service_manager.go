package services

import (
	"time"

	"github.com/migratehub/backend/internal/domain/ports"
	"github.com/migratehub/backend/internal/infrastructure/database"
	"github.com/migratehub/backend/internal/infrastructure/persistence"
)

// ServiceManager wires all services with dependency injection
type ServiceManager struct {
	db *database.TiDBConnection

	EventBus     *EventBus
	Registry     *FlowTypeRegistry
	Orchestrator *OrchestrationService
	Outbox       *OutboxService
	Scheduler    *SchedulerService

	store ports.FlowRecordStore
}

// NewServiceManager creates a service manager backed by the SQL store
func NewServiceManager(db *database.TiDBConnection, staleAfter time.Duration) (*ServiceManager, error) {
	registry, err := NewFlowTypeRegistry(DefaultFlowTypeConfigs())
	if err != nil {
		return nil, err
	}

	sm := &ServiceManager{
		db:       db,
		EventBus: NewEventBus(),
		Registry: registry,
		store:    persistence.NewSQLFlowRecordStore(db.DB()),
	}

	sm.Orchestrator = NewOrchestrationService(sm.store, sm.Registry, sm.EventBus)
	sm.Outbox = NewOutboxService(persistence.NewOutboxRepository(db.DB()), sm.EventBus)
	sm.Scheduler = NewSchedulerService(sm.store, sm.Orchestrator, staleAfter)

	return sm, nil
}

// Store exposes the record store for handlers that need read filters
func (sm *ServiceManager) Store() ports.FlowRecordStore {
	return sm.store
}

// StartWorkers starts the outbox relay and the stale-flow scheduler.
// Call during server startup.
func (sm *ServiceManager) StartWorkers() error {
	sm.Outbox.StartWorker(500 * time.Millisecond)
	return sm.Scheduler.Start()
}

// StopWorkers stops background workers gracefully. Call during shutdown.
func (sm *ServiceManager) StopWorkers() {
	sm.Scheduler.Stop()
	sm.Outbox.StopWorker()
}
