package model

import (
	"sort"
	"time"
)

// TestClass distinguishes veto-capable tests from advisory ones.
type TestClass string

const (
	TestClassHard TestClass = "hard"
	TestClassSoft TestClass = "soft"
)

// Outcome is the result of a single underwriting test.
type Outcome string

const (
	OutcomePass Outcome = "PASS"
	OutcomeWarn Outcome = "WARN"
	OutcomeFail Outcome = "FAIL"
	OutcomeNA   Outcome = "N/A"
)

// Valid reports whether o is one of the four known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomePass, OutcomeWarn, OutcomeFail, OutcomeNA:
		return true
	}
	return false
}

// Counts reports whether the outcome counts toward the pass threshold.
func (o Outcome) Counts() bool {
	return o == OutcomePass || o == OutcomeWarn
}

// Decision is the computed gate label for a run.
type Decision string

const (
	DecisionAdvance Decision = "ADVANCE"
	DecisionKill    Decision = "KILL"
)

// TestResult is the outcome of one underwriting check within a run.
type TestResult struct {
	TestKey          string    `json:"test_key" yaml:"test_key"`
	TestName         string    `json:"test_name" yaml:"test_name"`
	TestClass        TestClass `json:"test_class" yaml:"test_class"`
	Threshold        *float64  `json:"threshold" yaml:"threshold"`
	Actual           *float64  `json:"actual" yaml:"actual"`
	ThresholdDisplay *string   `json:"threshold_display" yaml:"threshold_display"`
	ActualDisplay    *string   `json:"actual_display" yaml:"actual_display"`
	Result           Outcome   `json:"result" yaml:"result"`
	Note             *string   `json:"note" yaml:"note"`
}

// DecisionSummary is the server-side breakdown of a run's gate decision.
type DecisionSummary struct {
	Status          string   `json:"status"`
	HardVetoOK      bool     `json:"hard_veto_ok"`
	PassCount       int      `json:"pass_count"`
	TotalTests      int      `json:"total_tests"`
	Advance         bool     `json:"advance"`
	FailedHardTests []string `json:"failed_hard_tests"`
	FailedSoftTests []string `json:"failed_soft_tests"`
	WarnTests       []string `json:"warn_tests"`
	PassTests       []string `json:"pass_tests"`
	NATests         []string `json:"na_tests"`
	ICScore         *int     `json:"ic_score,omitempty"`
}

// Run is an immutable snapshot of one BOE evaluation.
type Run struct {
	ID                string             `json:"id"`
	DealID            string             `json:"deal_id"`
	Version           int                `json:"version"`
	Inputs            map[string]float64 `json:"inputs"`
	Outputs           map[string]any     `json:"outputs"`
	Decision          Decision           `json:"decision"`
	BindingConstraint *string            `json:"binding_constraint"`
	HardVetoOK        bool               `json:"hard_veto_ok"`
	PassCount         int                `json:"pass_count"`
	Advance           bool               `json:"advance"`
	DecisionSummary   *DecisionSummary   `json:"decision_summary,omitempty"`
	CreatedBy         string             `json:"created_by"`
	CreatedAt         time.Time          `json:"created_at"`
	Tests             []TestResult       `json:"tests"`
}

// Complete reports whether the run carries every field required before it
// may be evaluated.
func (r *Run) Complete() bool {
	if r == nil {
		return false
	}
	return r.ID != "" && r.DealID != "" && !r.CreatedAt.IsZero() && len(r.Tests) > 0
}

// Binding returns the binding constraint label or "" when absent.
func (r *Run) Binding() string {
	if r == nil || r.BindingConstraint == nil {
		return ""
	}
	return *r.BindingConstraint
}

// LatestRun returns the most recently created run, or nil for an empty slice.
func LatestRun(runs []Run) *Run {
	var latest *Run
	for i := range runs {
		if latest == nil || runs[i].CreatedAt.After(latest.CreatedAt) {
			latest = &runs[i]
		}
	}
	return latest
}

// SortRunsNewestFirst orders runs by creation time, most recent first.
// Runs created at the same instant are ordered by descending version.
func SortRunsNewestFirst(runs []Run) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].Version > runs[j].Version
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}

// FindRun returns the run with the given id.
func FindRun(runs []Run, id string) (*Run, bool) {
	for i := range runs {
		if runs[i].ID == id {
			return &runs[i], true
		}
	}
	return nil, false
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// Float64Ptr returns a pointer to f.
func Float64Ptr(f float64) *float64 { return &f }
