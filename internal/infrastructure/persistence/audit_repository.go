package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/pkg/constants"
	"github.com/migratehub/backend/pkg/utils"
)

// SQL columns, in scan order
var historyColumns = strings.Join([]string{
	constants.FieldFlowID,
	constants.FieldHistory_Phase,
	constants.FieldHistory_FromState,
	constants.FieldHistory_ToState,
	constants.FieldHistory_Actor,
	constants.FieldHistory_Reason,
	constants.FieldHistory_Timestamp,
}, ", ")

// AuditRepository handles the append-only flow transition history.
// Rows are only ever inserted - inside the same transaction as the record
// commit they describe - and read back for diagnostics.
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AppendTx inserts transition records within an existing transaction
func (r *AuditRepository) AppendTx(ctx context.Context, tx *sql.Tx, scope models.TenantScope, transitions []models.TransitionRecord) error {
	if len(transitions) == 0 {
		return nil
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, flow_id, tenant_id, sub_tenant_id, phase, from_state, to_state, actor, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, constants.TableTransitionHistory)

	for _, t := range transitions {
		if _, err := tx.ExecContext(ctx, insert,
			utils.GenerateID(), t.FlowID, scope.TenantID, scope.SubTenantID,
			t.Phase, t.FromState, t.ToState, t.Actor, t.Reason, t.Timestamp); err != nil {
			return fmt.Errorf("failed to insert transition record: %w", err)
		}
	}
	return nil
}

// ListByFlow returns the transition trail for one flow, oldest first
func (r *AuditRepository) ListByFlow(ctx context.Context, scope models.TenantScope, flowID string) ([]models.TransitionRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s WHERE flow_id = ? AND tenant_id = ? AND sub_tenant_id = ?
		ORDER BY %s ASC, %s ASC
	`, historyColumns, constants.TableTransitionHistory,
		constants.FieldHistory_Timestamp, constants.FieldHistory_ID)

	rows, err := r.db.QueryContext(ctx, query, flowID, scope.TenantID, scope.SubTenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transition history: %w", err)
	}
	defer rows.Close()

	var out []models.TransitionRecord
	for rows.Next() {
		var t models.TransitionRecord
		if err := rows.Scan(&t.FlowID, &t.Phase, &t.FromState, &t.ToState, &t.Actor, &t.Reason, &t.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan transition record: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
