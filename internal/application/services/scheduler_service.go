package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/internal/domain/ports"
	"github.com/migratehub/backend/pkg/constants"
	"github.com/migratehub/backend/pkg/errors"
)

const staleSweepBatchSize = 100

// SchedulerService runs the stale-flow sweep. Flows that sit in a
// non-terminal status without any update for longer than the configured
// window are cancelled so they stop occupying executor capacity. The
// sweep acts through the regular Cancel command, so it pays the same
// optimistic-versioning cost as any other caller.
type SchedulerService struct {
	store        ports.FlowRecordStore
	orchestrator *OrchestrationService
	staleAfter   time.Duration

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewSchedulerService creates a new scheduler service
func NewSchedulerService(store ports.FlowRecordStore, orchestrator *OrchestrationService, staleAfter time.Duration) *SchedulerService {
	if staleAfter <= 0 {
		staleAfter = time.Duration(constants.DefaultStaleFlowHours) * time.Hour
	}
	return &SchedulerService{
		store:        store,
		orchestrator: orchestrator,
		staleAfter:   staleAfter,
		cron:         cron.New(),
	}
}

// Start registers the sweep job and begins the cron loop
func (s *SchedulerService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(constants.SchedulerSweepSpec, func() {
		s.SweepStaleFlows(context.Background())
	}); err != nil {
		return errors.NewInternalError("failed to register stale-flow sweep", err)
	}

	s.cron.Start()
	s.running = true
	log.Printf("⏰ Scheduler started, stale-flow sweep at %q (threshold %v)", constants.SchedulerSweepSpec, s.staleAfter)
	return nil
}

// Stop halts the cron loop and waits for a running sweep to finish
func (s *SchedulerService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false

	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Println("⏰ Scheduler stopped")
}

// SweepStaleFlows cancels every non-terminal flow whose last update is
// older than the stale threshold. Returns the number of flows cancelled.
func (s *SchedulerService) SweepStaleFlows(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-s.staleAfter)

	stale, err := s.store.ListStale(ctx, cutoff, staleSweepBatchSize)
	if err != nil {
		log.Printf("⚠️ Stale-flow sweep query failed: %v", err)
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	log.Printf("⏰ Stale-flow sweep found %d candidates older than %v", len(stale), cutoff)

	cancelled := 0
	for _, m := range stale {
		scope := models.TenantScope{TenantID: m.TenantID, SubTenantID: m.SubTenantID}
		if _, err := s.orchestrator.Cancel(ctx, scope, m.FlowID, "auto-cancelled: no activity within stale window", constants.ActorScheduler); err != nil {
			// A flow mutated between the sweep query and the cancel is no
			// longer stale; anything else is worth surfacing.
			if errors.IsConcurrentModification(err) || errors.IsValidation(err) {
				continue
			}
			log.Printf("⚠️ Stale-flow sweep failed to cancel %s: %v", m.FlowID, err)
			continue
		}
		cancelled++
		log.Printf("🛑 Auto-cancelled stale flow %s (tenant %s, idle since %v)", m.FlowID, m.TenantID, m.UpdatedAt)
	}
	return cancelled
}
