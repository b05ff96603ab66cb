package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/internal/domain/ports"
	"github.com/migratehub/backend/pkg/constants"
	"github.com/migratehub/backend/pkg/errors"
)

// SQLFlowRecordStore persists master and child flow records in TiDB.
// Master and child are always written inside one transaction; there is no
// code path that writes one without the other. Per-flow mutation
// serialization uses optimistic versioning: commit re-checks the versions
// read at load time and rejects the loser with ConcurrentModificationError.
type SQLFlowRecordStore struct {
	db     *sql.DB
	txm    *TransactionManager
	audit  *AuditRepository
	outbox *OutboxRepository
}

// Compile-time interface check
var _ ports.FlowRecordStore = (*SQLFlowRecordStore)(nil)

// SQL columns, in scan order
var masterColumns = strings.Join([]string{
	constants.FieldFlowID,
	constants.FieldMasterFlow_FlowType,
	constants.FieldTenantID,
	constants.FieldSubTenantID,
	constants.FieldMasterFlow_LifecycleStatus,
	constants.FieldCreatedAt,
	constants.FieldUpdatedAt,
	constants.FieldVersion,
}, ", ")

var childSelectColumns = strings.Join([]string{
	constants.FieldFlowID,
	constants.FieldChildFlow_CurrentPhase,
	constants.FieldChildFlow_PhaseStates,
	constants.FieldChildFlow_PhaseResults,
	constants.FieldChildFlow_OperationalFlags,
	constants.FieldChildFlow_Control,
	constants.FieldChildFlow_ControlReason,
	constants.FieldChildFlow_RetryKeys,
	constants.FieldVersion,
}, ", ")

// NewSQLFlowRecordStore creates a new SQLFlowRecordStore
func NewSQLFlowRecordStore(db *sql.DB) *SQLFlowRecordStore {
	return &SQLFlowRecordStore{
		db:     db,
		txm:    NewTransactionManager(db),
		audit:  NewAuditRepository(db),
		outbox: NewOutboxRepository(db),
	}
}

// CreateFlow atomically inserts the master and child records. If either
// insert fails the transaction rolls back, so an orphan master can never
// be observed.
func (s *SQLFlowRecordStore) CreateFlow(ctx context.Context, scope models.TenantScope, master *models.MasterFlowRecord, child *models.ChildFlowRecord) error {
	if !scope.Matches(master.Scope()) {
		logSecurityEvent(scope, master.FlowID, "create")
		return &errors.TenantScopeViolation{FlowID: master.FlowID, TenantID: scope.TenantID}
	}

	childCols, err := marshalChildColumns(child)
	if err != nil {
		return fmt.Errorf("failed to encode child record: %w", err)
	}

	return s.txm.WithRetry(func(tx *sql.Tx) error {
		insertMaster := fmt.Sprintf(`
			INSERT INTO %s (%s)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, constants.TableMasterFlow, masterColumns)
		if _, err := tx.ExecContext(ctx, insertMaster,
			master.FlowID, master.FlowType, master.TenantID, master.SubTenantID,
			string(master.LifecycleStatus), master.CreatedAt, master.UpdatedAt, master.Version); err != nil {
			return fmt.Errorf("failed to insert master flow record: %w", err)
		}

		insertChild := fmt.Sprintf(`
			INSERT INTO %s (flow_id, tenant_id, sub_tenant_id, current_phase, phase_states, phase_results, operational_flags, control, control_reason, retry_keys, version)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, constants.TableChildFlow)
		if _, err := tx.ExecContext(ctx, insertChild,
			child.FlowID, master.TenantID, master.SubTenantID, child.CurrentPhase,
			childCols.phaseStates, childCols.phaseResults, childCols.flags,
			child.Control, child.ControlReason, childCols.retryKeys, child.Version); err != nil {
			return fmt.Errorf("failed to insert child flow record: %w", err)
		}

		return nil
	}, constants.DefaultCommitRetries)
}

// LoadForMutation reads both records and returns the version token the
// subsequent Commit must present.
func (s *SQLFlowRecordStore) LoadForMutation(ctx context.Context, scope models.TenantScope, flowID string) (*models.MasterFlowRecord, *models.ChildFlowRecord, ports.LockToken, error) {
	master, child, err := s.Read(ctx, scope, flowID)
	if err != nil {
		return nil, nil, ports.LockToken{}, err
	}
	token := ports.LockToken{
		FlowID:        flowID,
		MasterVersion: master.Version,
		ChildVersion:  child.Version,
	}
	return master, child, token, nil
}

// Commit atomically writes both records, appends the transition records to
// the audit trail, and enqueues a transition event in the outbox - all in
// one transaction. Version mismatch on either record aborts with
// ConcurrentModificationError.
func (s *SQLFlowRecordStore) Commit(ctx context.Context, scope models.TenantScope, token ports.LockToken, master *models.MasterFlowRecord, child *models.ChildFlowRecord, transitions []models.TransitionRecord) error {
	childCols, err := marshalChildColumns(child)
	if err != nil {
		return fmt.Errorf("failed to encode child record: %w", err)
	}

	now := time.Now().UTC()

	return s.txm.WithTransaction(func(tx *sql.Tx) error {
		updateMaster := fmt.Sprintf(`
			UPDATE %s SET lifecycle_status = ?, updated_at = ?, version = version + 1
			WHERE flow_id = ? AND tenant_id = ? AND sub_tenant_id = ? AND version = ?
		`, constants.TableMasterFlow)
		res, err := tx.ExecContext(ctx, updateMaster,
			string(master.LifecycleStatus), now,
			token.FlowID, scope.TenantID, scope.SubTenantID, token.MasterVersion)
		if err != nil {
			return fmt.Errorf("failed to update master flow record: %w", err)
		}
		if err := s.requireOneRow(ctx, tx, res, scope, token.FlowID, token.MasterVersion); err != nil {
			return err
		}

		updateChild := fmt.Sprintf(`
			UPDATE %s SET current_phase = ?, phase_states = ?, phase_results = ?, operational_flags = ?, control = ?, control_reason = ?, retry_keys = ?, version = version + 1
			WHERE flow_id = ? AND tenant_id = ? AND sub_tenant_id = ? AND version = ?
		`, constants.TableChildFlow)
		res, err = tx.ExecContext(ctx, updateChild,
			child.CurrentPhase, childCols.phaseStates, childCols.phaseResults, childCols.flags,
			child.Control, child.ControlReason, childCols.retryKeys,
			token.FlowID, scope.TenantID, scope.SubTenantID, token.ChildVersion)
		if err != nil {
			return fmt.Errorf("failed to update child flow record: %w", err)
		}
		if err := s.requireOneRow(ctx, tx, res, scope, token.FlowID, token.ChildVersion); err != nil {
			return err
		}

		if err := s.audit.AppendTx(ctx, tx, scope, transitions); err != nil {
			return fmt.Errorf("failed to append transition history: %w", err)
		}

		if len(transitions) > 0 {
			payload := TransitionEventPayload{
				FlowID:          token.FlowID,
				TenantID:        scope.TenantID,
				SubTenantID:     scope.SubTenantID,
				LifecycleStatus: string(master.LifecycleStatus),
				Transitions:     transitions,
			}
			if _, err := s.outbox.Enqueue(ctx, tx, string(ports.EventFlowTransition), payload); err != nil {
				return fmt.Errorf("failed to enqueue transition event: %w", err)
			}
		}

		return nil
	})
}

// requireOneRow classifies a zero-rows-affected UPDATE: concurrent
// modification if the row still exists in scope, tenant violation if it
// exists under another tenant, not-found otherwise.
func (s *SQLFlowRecordStore) requireOneRow(ctx context.Context, tx *sql.Tx, res sql.Result, scope models.TenantScope, flowID string, expectedVersion int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}

	var tenantID, subTenantID string
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT tenant_id, sub_tenant_id FROM %s WHERE flow_id = ?", constants.TableMasterFlow), flowID)
	switch err := row.Scan(&tenantID, &subTenantID); err {
	case nil:
		if tenantID != scope.TenantID || subTenantID != scope.SubTenantID {
			logSecurityEvent(scope, flowID, "commit")
			return &errors.TenantScopeViolation{FlowID: flowID, TenantID: scope.TenantID}
		}
		return &errors.ConcurrentModificationError{FlowID: flowID, ExpectedVersion: expectedVersion}
	case sql.ErrNoRows:
		return errors.NewNotFoundError("Flow", flowID)
	default:
		return fmt.Errorf("failed to classify commit failure: %w", err)
	}
}

// Read is the lock-free snapshot path. Both rows are read inside one
// read-only transaction so callers never observe a half-updated pair.
func (s *SQLFlowRecordStore) Read(ctx context.Context, scope models.TenantScope, flowID string) (*models.MasterFlowRecord, *models.ChildFlowRecord, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	master, err := scanMaster(tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s WHERE flow_id = ?
	`, masterColumns, constants.TableMasterFlow), flowID))
	if err == sql.ErrNoRows {
		// Master absent: if an in-scope child exists the pair is corrupt
		child, childErr := s.readChild(ctx, tx, flowID)
		if childErr == nil && child != nil {
			log.Printf("⚠️ Orphan child flow record detected for flow %s", flowID)
			return nil, nil, &errors.OrphanRecordError{FlowID: flowID, Missing: "master"}
		}
		return nil, nil, errors.NewNotFoundError("Flow", flowID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read master flow record: %w", err)
	}

	if !scope.Matches(master.Scope()) {
		logSecurityEvent(scope, flowID, "read")
		return nil, nil, &errors.TenantScopeViolation{FlowID: flowID, TenantID: scope.TenantID}
	}

	child, err := s.readChild(ctx, tx, flowID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read child flow record: %w", err)
	}
	if child == nil {
		log.Printf("⚠️ Orphan master flow record detected for flow %s", flowID)
		return nil, nil, &errors.OrphanRecordError{FlowID: flowID, Missing: "child"}
	}

	return master, child, nil
}

func (s *SQLFlowRecordStore) readChild(ctx context.Context, tx *sql.Tx, flowID string) (*models.ChildFlowRecord, error) {
	child, err := scanChild(tx.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s
		FROM %s WHERE flow_id = ?
	`, childSelectColumns, constants.TableChildFlow), flowID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return child, nil
}

// List returns tenant-scoped masters plus the total count for pagination
func (s *SQLFlowRecordStore) List(ctx context.Context, scope models.TenantScope, filter ports.ListFilter) ([]*models.MasterFlowRecord, int, error) {
	where := "tenant_id = ? AND sub_tenant_id = ?"
	args := []interface{}{scope.TenantID, scope.SubTenantID}
	if filter.Status != "" {
		where += " AND lifecycle_status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.FlowType != "" {
		where += " AND flow_type = ?"
		args = append(args, filter.FlowType)
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", constants.TableMasterFlow, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count flows: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = constants.DefaultListLimit
	}
	if limit > constants.MaxListLimit {
		limit = constants.MaxListLimit
	}

	listQuery := fmt.Sprintf(`
		SELECT %s
		FROM %s WHERE %s ORDER BY created_at DESC LIMIT ? OFFSET ?
	`, masterColumns, constants.TableMasterFlow, where)
	rows, err := s.db.QueryContext(ctx, listQuery, append(args, limit, filter.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var masters []*models.MasterFlowRecord
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan master flow record: %w", err)
		}
		masters = append(masters, m)
	}
	return masters, total, rows.Err()
}

// ListStale returns non-terminal masters across all tenants whose last
// update precedes the cutoff. Only the maintenance sweeper uses this;
// any action taken on a returned flow re-applies tenant scoping.
func (s *SQLFlowRecordStore) ListStale(ctx context.Context, updatedBefore time.Time, limit int) ([]*models.MasterFlowRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM %s WHERE lifecycle_status NOT IN (?, ?) AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?
	`, masterColumns, constants.TableMasterFlow)
	rows, err := s.db.QueryContext(ctx, query,
		string(models.FlowCompleted), string(models.FlowCancelled), updatedBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale flows: %w", err)
	}
	defer rows.Close()

	var masters []*models.MasterFlowRecord
	for rows.Next() {
		m, err := scanMaster(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan master flow record: %w", err)
		}
		masters = append(masters, m)
	}
	return masters, rows.Err()
}

// History returns the append-only transition trail for a flow
func (s *SQLFlowRecordStore) History(ctx context.Context, scope models.TenantScope, flowID string) ([]models.TransitionRecord, error) {
	// Existence + scope check first so history never leaks across tenants
	if _, _, err := s.Read(ctx, scope, flowID); err != nil {
		return nil, err
	}
	return s.audit.ListByFlow(ctx, scope, flowID)
}

// logSecurityEvent records a cross-tenant access attempt. These are fatal
// to the request and never retried.
func logSecurityEvent(scope models.TenantScope, flowID, op string) {
	log.Printf("🔒 SECURITY tenant %s/%s attempted %s on flow %s outside its scope",
		scope.TenantID, scope.SubTenantID, op, flowID)
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMaster(row rowScanner) (*models.MasterFlowRecord, error) {
	var m models.MasterFlowRecord
	var status string
	if err := row.Scan(&m.FlowID, &m.FlowType, &m.TenantID, &m.SubTenantID, &status, &m.CreatedAt, &m.UpdatedAt, &m.Version); err != nil {
		return nil, err
	}
	m.LifecycleStatus = models.FlowLifecycleStatus(status)
	return &m, nil
}

func scanChild(row rowScanner) (*models.ChildFlowRecord, error) {
	var c models.ChildFlowRecord
	var phaseStates, phaseResults, flags, retryKeys sql.NullString
	if err := row.Scan(&c.FlowID, &c.CurrentPhase, &phaseStates, &phaseResults, &flags, &c.Control, &c.ControlReason, &retryKeys, &c.Version); err != nil {
		return nil, err
	}

	c.PhaseStates = make(map[string]*models.PhaseStatus)
	if phaseStates.Valid && phaseStates.String != "" {
		if err := json.Unmarshal([]byte(phaseStates.String), &c.PhaseStates); err != nil {
			return nil, fmt.Errorf("corrupt phase_states column for flow %s: %w", c.FlowID, err)
		}
	}
	if phaseResults.Valid && phaseResults.String != "" {
		if err := json.Unmarshal([]byte(phaseResults.String), &c.PhaseResults); err != nil {
			return nil, fmt.Errorf("corrupt phase_results column for flow %s: %w", c.FlowID, err)
		}
	}
	if flags.Valid && flags.String != "" {
		if err := json.Unmarshal([]byte(flags.String), &c.OperationalFlags); err != nil {
			return nil, fmt.Errorf("corrupt operational_flags column for flow %s: %w", c.FlowID, err)
		}
	}
	if retryKeys.Valid && retryKeys.String != "" {
		if err := json.Unmarshal([]byte(retryKeys.String), &c.RetryKeys); err != nil {
			return nil, fmt.Errorf("corrupt retry_keys column for flow %s: %w", c.FlowID, err)
		}
	}
	return &c, nil
}

type childColumns struct {
	phaseStates  string
	phaseResults string
	flags        string
	retryKeys    string
}

func marshalChildColumns(child *models.ChildFlowRecord) (childColumns, error) {
	var cols childColumns

	b, err := json.Marshal(child.PhaseStates)
	if err != nil {
		return cols, err
	}
	cols.phaseStates = string(b)

	cols.phaseResults = "{}"
	if child.PhaseResults != nil {
		if b, err = json.Marshal(child.PhaseResults); err != nil {
			return cols, err
		}
		cols.phaseResults = string(b)
	}

	cols.flags = "{}"
	if child.OperationalFlags != nil {
		if b, err = json.Marshal(child.OperationalFlags); err != nil {
			return cols, err
		}
		cols.flags = string(b)
	}

	cols.retryKeys = "{}"
	if child.RetryKeys != nil {
		if b, err = json.Marshal(child.RetryKeys); err != nil {
			return cols, err
		}
		cols.retryKeys = string(b)
	}

	return cols, nil
}
