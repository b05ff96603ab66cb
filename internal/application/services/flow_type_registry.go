package services

import (
	"fmt"

	"github.com/migratehub/backend/internal/domain/models"
	"github.com/migratehub/backend/pkg/constants"
	"github.com/migratehub/backend/pkg/errors"
	"github.com/migratehub/backend/pkg/expression"
)

// FlowTypeRegistry holds the validated phase topology per flow type.
// Configs are supplied at construction - there is no ambient global
// registry - so tests and tenants can run with their own topologies.
type FlowTypeRegistry struct {
	configs map[string]models.FlowTypeConfig
	exprs   *expression.Engine
}

// NewFlowTypeRegistry validates and indexes the given configs
func NewFlowTypeRegistry(configs []models.FlowTypeConfig) (*FlowTypeRegistry, error) {
	r := &FlowTypeRegistry{
		configs: make(map[string]models.FlowTypeConfig, len(configs)),
		exprs:   expression.NewEngine(),
	}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid flow type config: %w", err)
		}
		if _, dup := r.configs[cfg.FlowType]; dup {
			return nil, fmt.Errorf("flow type '%s' configured twice", cfg.FlowType)
		}
		r.configs[cfg.FlowType] = cfg
	}
	return r, nil
}

// Config returns the topology for a flow type
func (r *FlowTypeRegistry) Config(flowType string) (models.FlowTypeConfig, error) {
	cfg, ok := r.configs[flowType]
	if !ok {
		return models.FlowTypeConfig{}, errors.NewValidationError("flow_type", fmt.Sprintf("unknown flow type '%s'", flowType))
	}
	return cfg, nil
}

// MaxRetries returns the retry budget for a flow type
func (r *FlowTypeRegistry) MaxRetries(flowType string) int {
	if cfg, ok := r.configs[flowType]; ok && cfg.MaxRetries > 0 {
		return cfg.MaxRetries
	}
	return constants.DefaultMaxPhaseRetries
}

// CheckEntryCondition evaluates a phase's entry condition against the
// flow's accumulated phase results and flags. An empty condition always
// passes.
func (r *FlowTypeRegistry) CheckEntryCondition(cfg models.FlowTypeConfig, phase string, child *models.ChildFlowRecord) error {
	def := cfg.Phase(phase)
	if def == nil || def.EntryCondition == "" {
		return nil
	}

	states := make(map[string]string, len(child.PhaseStates))
	for name, st := range child.PhaseStates {
		states[name] = string(st.State)
	}
	env := map[string]interface{}{
		"results": child.PhaseResults,
		"states":  states,
		"flags":   child.OperationalFlags,
	}

	ok, err := r.exprs.EvaluateBool(def.EntryCondition, env)
	if err != nil {
		return errors.NewValidationError("entry_condition", err.Error())
	}
	if !ok {
		return errors.NewValidationError("phase", fmt.Sprintf("entry condition for phase '%s' not met", phase))
	}
	return nil
}

// DefaultFlowTypeConfigs returns the built-in migration flow topologies.
// Deployments may replace or extend these through configuration.
func DefaultFlowTypeConfigs() []models.FlowTypeConfig {
	return []models.FlowTypeConfig{
		{
			FlowType: constants.FlowTypeDiscovery,
			Phases: []models.PhaseDefinition{
				{Name: "inventory"},
				{Name: "dependency_scan", EntryCondition: `states["inventory"] == "COMPLETED"`},
				{Name: "report"},
			},
		},
		{
			FlowType: constants.FlowTypeAssessment,
			Phases: []models.PhaseDefinition{
				{Name: "readiness"},
				{Name: "tech_debt"},
				{Name: "scoring"},
			},
		},
		{
			FlowType: constants.FlowTypeCollection,
			Phases: []models.PhaseDefinition{
				{Name: "field_mapping"},
				{Name: "extract"},
				{Name: "validate"},
				{Name: "load"},
			},
		},
		{
			FlowType: constants.FlowTypePlanning,
			Phases: []models.PhaseDefinition{
				{Name: "wave_grouping"},
				{Name: "schedule"},
				{Name: "signoff"},
			},
		},
		{
			FlowType: constants.FlowTypeDecommission,
			Phases: []models.PhaseDefinition{
				{Name: "verify_cutover"},
				{Name: "archive"},
				{Name: "teardown"},
			},
			MaxRetries: 5,
		},
	}
}
