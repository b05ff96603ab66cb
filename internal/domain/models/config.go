package models

import (
	"fmt"
)

// PhaseDefinition declares one phase of a flow type. EntryCondition is an
// optional expr expression evaluated against prior phase results before the
// phase may begin (empty means unconditional).
type PhaseDefinition struct {
	Name           string `json:"name"`
	EntryCondition string `json:"entry_condition,omitempty"`
}

// FlowTypeConfig declares the ordered phase topology for one flow type.
// It is passed explicitly into flow creation - never read from ambient
// global state - so the state machine stays free of hidden singletons.
type FlowTypeConfig struct {
	FlowType string            `json:"flow_type"`
	Phases   []PhaseDefinition `json:"phases"`
	// TerminalPhase is the phase whose completion completes the flow.
	// Defaults to the last declared phase.
	TerminalPhase string `json:"terminal_phase,omitempty"`
	// MaxRetries bounds retry attempts per phase; zero means the
	// platform default.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Validate checks the config is internally consistent
func (c *FlowTypeConfig) Validate() error {
	if c.FlowType == "" {
		return fmt.Errorf("flow type is required")
	}
	if len(c.Phases) == 0 {
		return fmt.Errorf("flow type '%s' declares no phases", c.FlowType)
	}
	seen := make(map[string]bool, len(c.Phases))
	for _, p := range c.Phases {
		if p.Name == "" {
			return fmt.Errorf("flow type '%s' declares an unnamed phase", c.FlowType)
		}
		if seen[p.Name] {
			return fmt.Errorf("flow type '%s' declares phase '%s' twice", c.FlowType, p.Name)
		}
		seen[p.Name] = true
	}
	if c.TerminalPhase != "" && !seen[c.TerminalPhase] {
		return fmt.Errorf("terminal phase '%s' is not a declared phase of flow type '%s'", c.TerminalPhase, c.FlowType)
	}
	return nil
}

// PhaseNames returns the ordered phase name list
func (c *FlowTypeConfig) PhaseNames() []string {
	names := make([]string, len(c.Phases))
	for i, p := range c.Phases {
		names[i] = p.Name
	}
	return names
}

// HasPhase reports whether the phase belongs to this flow type
func (c *FlowTypeConfig) HasPhase(name string) bool {
	return c.PhaseIndex(name) >= 0
}

// PhaseIndex returns the position of a phase in the declared order, -1 if absent
func (c *FlowTypeConfig) PhaseIndex(name string) int {
	for i, p := range c.Phases {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// Phase returns the definition for a phase, or nil if absent
func (c *FlowTypeConfig) Phase(name string) *PhaseDefinition {
	i := c.PhaseIndex(name)
	if i < 0 {
		return nil
	}
	return &c.Phases[i]
}

// NextPhase returns the phase following the given one in declared order,
// or "" if the given phase is last (or unknown).
func (c *FlowTypeConfig) NextPhase(name string) string {
	i := c.PhaseIndex(name)
	if i < 0 || i+1 >= len(c.Phases) {
		return ""
	}
	return c.Phases[i+1].Name
}

// PhasesAfter returns the names of every phase declared after the given
// one. Used by cascade reset on rollback.
func (c *FlowTypeConfig) PhasesAfter(name string) []string {
	i := c.PhaseIndex(name)
	if i < 0 {
		return nil
	}
	names := make([]string, 0, len(c.Phases)-i-1)
	for _, p := range c.Phases[i+1:] {
		names = append(names, p.Name)
	}
	return names
}

// ResolvedTerminalPhase returns the configured terminal phase, defaulting
// to the last declared phase.
func (c *FlowTypeConfig) ResolvedTerminalPhase() string {
	if c.TerminalPhase != "" {
		return c.TerminalPhase
	}
	if len(c.Phases) == 0 {
		return ""
	}
	return c.Phases[len(c.Phases)-1].Name
}
