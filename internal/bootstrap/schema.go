package bootstrap

import (
	"fmt"
	"log"

	"github.com/migratehub/backend/internal/infrastructure/database"
	"github.com/migratehub/backend/pkg/constants"
)

// EnsureSchema creates the orchestration system tables if they do not
// exist. Statements are idempotent so startup is safe to repeat.
func EnsureSchema(db *database.TiDBConnection) error {
	log.Println("🔧 Ensuring orchestration schema...")

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			flow_id          VARCHAR(64)  NOT NULL PRIMARY KEY,
			flow_type        VARCHAR(64)  NOT NULL,
			tenant_id        VARCHAR(64)  NOT NULL,
			sub_tenant_id    VARCHAR(64)  NOT NULL,
			lifecycle_status VARCHAR(32)  NOT NULL,
			created_at       DATETIME(6)  NOT NULL,
			updated_at       DATETIME(6)  NOT NULL,
			version          BIGINT       NOT NULL DEFAULT 1,
			KEY idx_master_tenant (tenant_id, sub_tenant_id, lifecycle_status),
			KEY idx_master_stale (lifecycle_status, updated_at)
		)`, constants.TableMasterFlow),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			flow_id           VARCHAR(64)  NOT NULL PRIMARY KEY,
			tenant_id         VARCHAR(64)  NOT NULL,
			sub_tenant_id     VARCHAR(64)  NOT NULL,
			current_phase     VARCHAR(64)  NOT NULL,
			phase_states      JSON,
			phase_results     JSON,
			operational_flags JSON,
			control           VARCHAR(16)  NOT NULL DEFAULT '',
			control_reason    VARCHAR(512) NOT NULL DEFAULT '',
			retry_keys        JSON,
			version           BIGINT       NOT NULL DEFAULT 1,
			KEY idx_child_tenant (tenant_id, sub_tenant_id)
		)`, constants.TableChildFlow),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id            VARCHAR(64)  NOT NULL PRIMARY KEY,
			flow_id       VARCHAR(64)  NOT NULL,
			tenant_id     VARCHAR(64)  NOT NULL,
			sub_tenant_id VARCHAR(64)  NOT NULL,
			phase         VARCHAR(64)  NOT NULL DEFAULT '',
			from_state    VARCHAR(32)  NOT NULL,
			to_state      VARCHAR(32)  NOT NULL,
			actor         VARCHAR(128) NOT NULL,
			reason        VARCHAR(1024) NOT NULL DEFAULT '',
			timestamp     DATETIME(6)  NOT NULL,
			KEY idx_history_flow (flow_id, timestamp)
		)`, constants.TableTransitionHistory),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id           VARCHAR(64) NOT NULL PRIMARY KEY,
			event_type   VARCHAR(64) NOT NULL,
			payload      JSON        NOT NULL,
			status       VARCHAR(16) NOT NULL DEFAULT 'pending',
			retry_count  INT         NOT NULL DEFAULT 0,
			created_date DATETIME(6) NOT NULL,
			KEY idx_outbox_pending (status, created_date)
		)`, constants.TableOutboxEvent),
	}

	for _, stmt := range statements {
		if _, err := db.DB().Exec(stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	log.Println("✅ Orchestration schema ready")
	return nil
}
