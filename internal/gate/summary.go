package gate

import (
	"sort"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// TestKeyOrder is the canonical display order of the BOE test battery.
var TestKeyOrder = []string{
	"yield_on_cost",
	"capex_value_multiple",
	"positive_leverage",
	"cash_on_cash",
	"dscr",
	"expense_ratio",
	"market_cap_rate",
}

var testKeyIndex = func() map[string]int {
	m := make(map[string]int, len(TestKeyOrder))
	for i, k := range TestKeyOrder {
		m[k] = i
	}
	return m
}()

// SortTests returns a copy of tests in canonical order. Unknown keys sort
// after the known ones, alphabetically.
func SortTests(tests []model.TestResult) []model.TestResult {
	out := make([]model.TestResult, len(tests))
	copy(out, tests)
	sort.SliceStable(out, func(i, j int) bool {
		ai, aok := testKeyIndex[out[i].TestKey]
		bi, bok := testKeyIndex[out[j].TestKey]
		switch {
		case aok && bok:
			return ai < bi
		case aok:
			return true
		case bok:
			return false
		default:
			return out[i].TestKey < out[j].TestKey
		}
	})
	return out
}

// Summarize builds the decision_summary breakdown for a test battery.
func Summarize(tests []model.TestResult) (model.DecisionSummary, error) {
	return Evaluator{}.Summarize(tests)
}

// Summarize builds the decision_summary breakdown for a test battery.
func (e Evaluator) Summarize(tests []model.TestResult) (model.DecisionSummary, error) {
	d, err := e.Evaluate(tests)
	if err != nil {
		return model.DecisionSummary{}, err
	}

	s := model.DecisionSummary{
		Status:          string(d.Label),
		HardVetoOK:      d.HardVetoOK,
		PassCount:       d.PassCount,
		TotalTests:      d.TotalTests,
		Advance:         d.Advance,
		FailedHardTests: []string{},
		FailedSoftTests: []string{},
		WarnTests:       []string{},
		PassTests:       []string{},
		NATests:         []string{},
	}
	for _, t := range SortTests(tests) {
		switch t.Result {
		case model.OutcomeFail:
			if t.TestClass == model.TestClassHard {
				s.FailedHardTests = append(s.FailedHardTests, t.TestKey)
			} else {
				s.FailedSoftTests = append(s.FailedSoftTests, t.TestKey)
			}
		case model.OutcomeWarn:
			s.WarnTests = append(s.WarnTests, t.TestKey)
		case model.OutcomePass:
			s.PassTests = append(s.PassTests, t.TestKey)
		case model.OutcomeNA:
			s.NATests = append(s.NATests, t.TestKey)
		}
	}
	score, _ := ICScore(tests)
	s.ICScore = &score
	return s, nil
}

// Agrees reports whether a server-supplied summary matches a local
// recomputation on the fields that drive the decision.
func Agrees(server model.DecisionSummary, local Decision) bool {
	return server.HardVetoOK == local.HardVetoOK &&
		server.PassCount == local.PassCount &&
		server.Advance == local.Advance
}

// ICBreakdown itemizes the penalties behind an IC score.
type ICBreakdown struct {
	HardFailCount   int `json:"hard_fail_count"`
	SoftFailCount   int `json:"soft_fail_count"`
	WarnCount       int `json:"warn_count"`
	HardFailPenalty int `json:"hard_fail_penalty"`
	SoftFailPenalty int `json:"soft_fail_penalty"`
	WarnPenalty     int `json:"warn_penalty"`
	BaseScore       int `json:"base_score"`
	TotalPenalty    int `json:"total_penalty"`
}

// ICScore rates a test battery from 0 to 100 for investment committee
// review: 25 points off per hard FAIL, 10 per soft FAIL, 5 per WARN.
func ICScore(tests []model.TestResult) (int, ICBreakdown) {
	b := ICBreakdown{BaseScore: 100}
	for _, t := range tests {
		switch {
		case t.Result == model.OutcomeFail && t.TestClass == model.TestClassHard:
			b.HardFailCount++
		case t.Result == model.OutcomeFail && t.TestClass == model.TestClassSoft:
			b.SoftFailCount++
		case t.Result == model.OutcomeWarn:
			b.WarnCount++
		}
	}
	b.HardFailPenalty = b.HardFailCount * 25
	b.SoftFailPenalty = b.SoftFailCount * 10
	b.WarnPenalty = b.WarnCount * 5
	b.TotalPenalty = b.HardFailPenalty + b.SoftFailPenalty + b.WarnPenalty

	score := b.BaseScore - b.TotalPenalty
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, b
}
