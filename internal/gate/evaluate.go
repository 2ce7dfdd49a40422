// Package gate implements the BOE gate decision model: the hard-veto and
// pass-count rules that turn a run's test battery into ADVANCE or KILL,
// override resolution, and the Full Underwriting unlock check.
package gate

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// RequiredPassCount is the minimum number of PASS or WARN results a run
// needs to advance.
const RequiredPassCount = 4

// HardVetoKeys are the test keys every run must carry.
var HardVetoKeys = []string{
	"yield_on_cost",
	"capex_value_multiple",
	"positive_leverage",
}

// ErrMalformedRun is returned when a test battery lacks a required hard-veto
// test, repeats a test key, or carries a required hard-veto key under a
// non-hard class. The run cannot be evaluated and no decision may be assumed.
var ErrMalformedRun = eris.New("gate: malformed run")

// Decision is the computed gate outcome for a set of tests.
type Decision struct {
	Label             model.Decision `json:"decision"`
	HardVetoOK        bool           `json:"hard_veto_ok"`
	PassCount         int            `json:"pass_count"`
	TotalTests        int            `json:"total_tests"`
	Required          int            `json:"required"`
	Advance           bool           `json:"advance"`
	BindingConstraint string         `json:"binding_constraint,omitempty"`
}

// Evaluator applies the gate rules. The zero value uses RequiredPassCount.
type Evaluator struct {
	// Required overrides RequiredPassCount when positive.
	Required int
}

func (e Evaluator) required() int {
	if e.Required > 0 {
		return e.Required
	}
	return RequiredPassCount
}

// Evaluate computes the gate decision for tests using the default threshold.
func Evaluate(tests []model.TestResult) (Decision, error) {
	return Evaluator{}.Evaluate(tests)
}

// EvaluateRun evaluates a run's tests and carries its binding constraint.
func EvaluateRun(run *model.Run) (Decision, error) {
	return Evaluator{}.EvaluateRun(run)
}

// Evaluate computes the gate decision for tests.
func (e Evaluator) Evaluate(tests []model.TestResult) (Decision, error) {
	if err := checkBattery(tests); err != nil {
		return Decision{}, err
	}

	d := Decision{HardVetoOK: true, Required: e.required()}
	for _, t := range tests {
		if t.TestClass == model.TestClassHard && t.Result != model.OutcomePass {
			d.HardVetoOK = false
		}
		if t.Result.Counts() {
			d.PassCount++
		}
		if t.Result != model.OutcomeNA {
			d.TotalTests++
		}
	}

	d.Advance = d.HardVetoOK && d.PassCount >= d.Required
	d.Label = model.DecisionKill
	if d.Advance {
		d.Label = model.DecisionAdvance
	}
	return d, nil
}

// EvaluateRun evaluates a fully fetched run. Partially populated runs are
// rejected with ErrMalformedRun.
func (e Evaluator) EvaluateRun(run *model.Run) (Decision, error) {
	if !run.Complete() {
		return Decision{}, eris.Wrap(ErrMalformedRun, "run is not fully populated")
	}
	d, err := e.Evaluate(run.Tests)
	if err != nil {
		return Decision{}, eris.Wrapf(err, "run %s", run.ID)
	}
	d.BindingConstraint = run.Binding()
	return d, nil
}

func checkBattery(tests []model.TestResult) error {
	seen := make(map[string]bool, len(tests))
	var dupes []string
	for _, t := range tests {
		if seen[t.TestKey] && !slices.Contains(dupes, t.TestKey) {
			dupes = append(dupes, t.TestKey)
		}
		seen[t.TestKey] = true
	}
	if len(dupes) > 0 {
		return eris.Wrapf(ErrMalformedRun, "duplicate tests: %s", strings.Join(dupes, ", "))
	}

	var missing, misclassed []string
	for _, k := range HardVetoKeys {
		i := slices.IndexFunc(tests, func(t model.TestResult) bool { return t.TestKey == k })
		switch {
		case i < 0:
			missing = append(missing, k)
		case tests[i].TestClass != model.TestClassHard:
			misclassed = append(misclassed, k)
		}
	}
	if len(missing) > 0 {
		return eris.Wrapf(ErrMalformedRun, "missing hard-veto tests: %s", strings.Join(missing, ", "))
	}
	if len(misclassed) > 0 {
		return eris.Wrapf(ErrMalformedRun, "hard-veto tests not classed hard: %s", strings.Join(misclassed, ", "))
	}
	return nil
}
