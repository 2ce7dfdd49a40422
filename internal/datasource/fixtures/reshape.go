package fixtures

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/model"
)

// FixtureAuthor is recorded as created_by when a sheet has no author.
const FixtureAuthor = "mock-user"

var nonKeyChars = regexp.MustCompile(`[^a-z0-9]+`)

// TestKey derives a test key from a display name: lower-cased with every run
// of non-alphanumerics collapsed to "_".
func TestKey(name string) string {
	return nonKeyChars.ReplaceAllString(strings.ToLower(name), "_")
}

// inputFields maps run input keys to sheet labels. asking_price comes from
// the deal's ask.
var inputFields = []struct {
	key, label string
	percent    bool
}{
	{"deposit_pct", "Deposit %", true},
	{"interest_rate", "Interest Rate", true},
	{"ltc", "LTC", true},
	{"capex_budget", "CapEx Budget", false},
}

// ToRuns reshapes a deal's sheets into runs. The gate fields are recomputed
// with the evaluator rather than copied from the sheet decision.
func ToRuns(d Deal) ([]model.Run, error) {
	runs := make([]model.Run, 0, len(d.Runs))
	for idx, s := range d.Runs {
		r, err := toRun(d, s, len(d.Runs)-idx)
		if err != nil {
			return nil, eris.Wrapf(err, "fixtures: deal %s run %s", d.ID, s.ID)
		}
		runs = append(runs, r)
	}
	return runs, nil
}

// ToDeal converts a fixture deal and its runs to the model shape.
func ToDeal(d Deal) (model.Deal, error) {
	runs, err := ToRuns(d)
	if err != nil {
		return model.Deal{}, err
	}
	model.SortRunsNewestFirst(runs)
	return model.Deal{
		ID:           d.ID,
		Name:         d.Name,
		Address:      d.Address,
		Neighborhood: d.Neighborhood,
		Stage:        model.Stage(d.Stage),
		Ask:          d.Ask,
		UpdatedAt:    d.UpdatedDate,
		Notes:        d.Notes,
		Runs:         runs,
	}, nil
}

func toRun(d Deal, s Sheet, version int) (model.Run, error) {
	inputs := map[string]float64{"asking_price": d.Ask}
	for _, f := range inputFields {
		v, err := parseDisplay(s.Inputs[f.label], f.percent)
		if err != nil {
			return model.Run{}, eris.Wrapf(err, "input %q", f.label)
		}
		inputs[f.key] = v
	}

	deposit, err := parseDisplay(s.Outputs["Deposit Amount"], false)
	if err != nil {
		return model.Run{}, eris.Wrap(err, `output "Deposit Amount"`)
	}
	outputs := map[string]any{
		"boe_max_bid":                s.MaxBid,
		"delta_vs_asking":            s.DeltaToAsk,
		"deposit_amount":             deposit,
		"binding_constraint":         s.BindingConstraint,
		"y1_dscr":                    s.Y1DSCR,
		"y1_yield_on_cost_unlevered": s.YOC,
		"y1_exit_cap_rate":           s.ExitCap,
		"y1_expense_ratio":           s.ExpenseRatio,
	}

	tests := make([]model.TestResult, 0, len(s.Tests))
	for _, row := range s.Tests {
		tr, err := toTestResult(row)
		if err != nil {
			return model.Run{}, err
		}
		tests = append(tests, tr)
	}

	author := s.Author
	if author == "" {
		author = FixtureAuthor
	}
	run := model.Run{
		ID:        s.ID,
		DealID:    d.ID,
		Version:   version,
		Inputs:    inputs,
		Outputs:   outputs,
		CreatedBy: author,
		CreatedAt: s.Timestamp,
		Tests:     tests,
	}
	if s.BindingConstraint != "" {
		run.BindingConstraint = model.StringPtr(s.BindingConstraint)
	}

	dec, err := gate.EvaluateRun(&run)
	if err != nil {
		return model.Run{}, err
	}
	summary, err := gate.Summarize(tests)
	if err != nil {
		return model.Run{}, err
	}
	run.Decision = dec.Label
	run.HardVetoOK = dec.HardVetoOK
	run.PassCount = dec.PassCount
	run.Advance = dec.Advance
	run.DecisionSummary = &summary
	return run, nil
}

func toTestResult(row Row) (model.TestResult, error) {
	var class model.TestClass
	switch row.Klass {
	case KlassHardVeto:
		class = model.TestClassHard
	case KlassSoft:
		class = model.TestClassSoft
	default:
		return model.TestResult{}, eris.Errorf("test %q: unknown klass %q", row.Name, row.Klass)
	}
	outcome := model.Outcome(row.Result)
	if !outcome.Valid() {
		return model.TestResult{}, eris.Errorf("test %q: unknown result %q", row.Name, row.Result)
	}
	return model.TestResult{
		TestKey:          TestKey(row.Name),
		TestName:         row.Name,
		TestClass:        class,
		ThresholdDisplay: model.StringPtr(row.Threshold),
		ActualDisplay:    model.StringPtr(row.Actual),
		Result:           outcome,
	}, nil
}

// parseDisplay reads a display value such as "$1,300,000" or "6.10%".
// Percentages are returned as fractions. A blank or digitless value is an
// error, never zero.
func parseDisplay(s string, percent bool) (float64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, eris.Errorf("blank value %q", s)
	}
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return 0, eris.Errorf("no number in %q", s)
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse %q", s)
	}
	if percent {
		v /= 100
	}
	return v, nil
}
