package types

import "time"

// ProceduralType classifies a procedural ("how-to") memory.
type ProceduralType string

const (
	ProceduralSkill             ProceduralType = "SKILL"
	ProceduralHabit             ProceduralType = "HABIT"
	ProceduralRule              ProceduralType = "RULE"
	ProceduralWorkflow          ProceduralType = "WORKFLOW"
	ProceduralPreferencePattern ProceduralType = "PREFERENCE_PATTERN"
)

// IsValidProceduralType reports whether s is a known procedural memory type.
func IsValidProceduralType(s string) bool {
	switch ProceduralType(s) {
	case ProceduralSkill, ProceduralHabit, ProceduralRule,
		ProceduralWorkflow, ProceduralPreferencePattern:
		return true
	}
	return false
}

// ConditionOperator is the comparison operator of a procedural condition.
type ConditionOperator string

const (
	OperatorEquals      ConditionOperator = "equals"
	OperatorNotEquals   ConditionOperator = "not_equals"
	OperatorContains    ConditionOperator = "contains"
	OperatorGreaterThan ConditionOperator = "greater_than"
	OperatorLessThan    ConditionOperator = "less_than"
	OperatorInList      ConditionOperator = "in_list"
)

// Condition is a single predicate evaluated against a context map when
// matching procedural memories. All conditions of a memory must hold for it
// to match.
type Condition struct {
	Key      string            `json:"key"`
	Operator ConditionOperator `json:"operator"`
	Value    any               `json:"value"`
}

// ExecutionRecord captures a single execution of a procedural memory, kept
// for trend analysis. Histories are capped at the most recent 100 records.
type ExecutionRecord struct {
	Timestamp        time.Time     `json:"timestamp"`
	Success          bool          `json:"success"`
	Duration         time.Duration `json:"duration"`
	ProficiencyAfter float64       `json:"proficiency_after"`
}

// ProceduralMemory tracks a learned skill, habit, rule, workflow, or
// preference pattern. Proficiency starts at 0 on creation and is mutated
// only through the manager's Execute operation.
type ProceduralMemory struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Type ProceduralType `json:"type"`

	Conditions []Condition `json:"conditions,omitempty"` // Ordered predicate list
	Actions    []string    `json:"actions,omitempty"`

	Proficiency          float64       `json:"proficiency"`  // Learned skill level (0.0-1.0)
	ExecutionCount       int           `json:"execution_count"`
	SuccessRate          float64       `json:"success_rate"` // EMA of outcomes (0.0-1.0)
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	LastExecutedAt       *time.Time    `json:"last_executed_at,omitempty"`

	Tags    []string          `json:"tags,omitempty"`
	History []ExecutionRecord `json:"history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// IsAutomated reports whether the memory has been practiced to the point of
// automatic execution: proficiency at or above 0.9 over at least 10 runs.
func (p *ProceduralMemory) IsAutomated() bool {
	return p.Proficiency >= 0.9 && p.ExecutionCount >= 10
}

// Clone returns a deep copy of the procedural memory.
func (p *ProceduralMemory) Clone() *ProceduralMemory {
	out := *p
	out.Conditions = append([]Condition(nil), p.Conditions...)
	out.Actions = append([]string(nil), p.Actions...)
	out.Tags = append([]string(nil), p.Tags...)
	out.History = append([]ExecutionRecord(nil), p.History...)
	if p.LastExecutedAt != nil {
		t := *p.LastExecutedAt
		out.LastExecutedAt = &t
	}
	return &out
}
