//go:build !integration

package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwrite-cli/internal/compare"
	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/model"
)

func TestMoney(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "$10,400,000", Money(10400000))
	assert.Equal(t, "-$675,000", Money(-675000))
	assert.Equal(t, "$0", Money(0))
	assert.Equal(t, Dash, MoneyPtr(nil))
	v := 9725000.0
	assert.Equal(t, "$9,725,000", MoneyPtr(&v))
}

func TestPercentRatioNumber(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "6.10%", Percent(0.061))
	assert.Equal(t, "5.00%", Percent(0.05))
	assert.Equal(t, "1.21", Ratio(1.21))
	assert.Equal(t, "1,300,000", Number(1300000))
	assert.Equal(t, "0.07", Number(0.071))
}

func TestInputOutput(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "70.00%", Input("ltc", 0.7))
	assert.Equal(t, "5.00%", Input("deposit_pct", 0.05))
	assert.Equal(t, "6.10%", Input("interest_rate", 0.061))
	assert.Equal(t, "$1,300,000", Input("capex_budget", 1300000))

	assert.Equal(t, "1.21", Output("y1_dscr", 1.21))
	assert.Equal(t, "6.70%", Output("y1_yield_on_cost_unlevered", 0.067))
	assert.Equal(t, "30.10%", Output("y1_expense_ratio", 0.301))
	assert.Equal(t, "5.20%", Output("y1_exit_cap_rate", 0.052))
	assert.Equal(t, "$9,725,000", Output("boe_max_bid", 9725000.0))
	assert.Equal(t, "CapEx Multiple", Output("binding_constraint", "CapEx Multiple"))
	assert.Equal(t, Dash, Output("note", nil))
	assert.Equal(t, "true", Output("flag", true))
}

func TestTimestampAndStr(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Dash, Timestamp(time.Time{}))
	assert.NotEqual(t, Dash, Timestamp(time.Date(2026, 2, 20, 9, 42, 0, 0, time.UTC)))
	assert.Equal(t, Dash, Str(nil))
	assert.Equal(t, Dash, Str(model.StringPtr("")))
	assert.Equal(t, "YOC", Str(model.StringPtr("YOC")))
}

func sampleRun() *model.Run {
	score := 95
	return &model.Run{
		ID:                "run-2",
		DealID:            "queens-24",
		Version:           2,
		Inputs:            map[string]float64{"ltc": 0.7, "asking_price": 10400000},
		Outputs:           map[string]any{"boe_max_bid": 9725000.0, "binding_constraint": "CapEx Multiple"},
		Decision:          model.DecisionAdvance,
		BindingConstraint: model.StringPtr("CapEx Multiple"),
		HardVetoOK:        true,
		PassCount:         7,
		Advance:           true,
		DecisionSummary:   &model.DecisionSummary{ICScore: &score},
		CreatedBy:         "Alex Kim",
		CreatedAt:         time.Date(2026, 2, 20, 14, 42, 0, 0, time.UTC),
		Tests: []model.TestResult{
			{TestKey: "dscr", TestName: "DSCR", TestClass: model.TestClassSoft, ActualDisplay: model.StringPtr("1.21"), Result: model.OutcomeWarn},
			{TestKey: "yield_on_cost", TestName: "Yield on Cost", TestClass: model.TestClassHard, Actual: model.Float64Ptr(0.067), Result: model.OutcomePass},
		},
	}
}

func TestRuns(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := sampleRun()
	killed := *r
	killed.ID, killed.Version, killed.HardVetoOK, killed.BindingConstraint = "run-1", 1, false, nil
	Runs(&buf, []model.Run{*r, killed})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "VERSION")
	assert.Contains(t, lines[1], "v2")
	assert.Contains(t, lines[1], "CapEx Multiple")
	assert.Contains(t, lines[2], "veto")
}

func TestTests_HardFirst(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Tests(&buf, sampleRun().Tests)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "Yield on Cost")
	assert.Contains(t, lines[1], "0.07")
	assert.Contains(t, lines[2], "DSCR")
	assert.Contains(t, lines[2], "1.21")
}

func TestRun(t *testing.T) {
	t.Parallel()

	r := sampleRun()
	d := gate.Decision{Label: model.DecisionAdvance, HardVetoOK: true, PassCount: 7, TotalTests: 7, Required: 4, Advance: true, BindingConstraint: "CapEx Multiple"}
	state := gate.ResolveEffectiveState(d, nil)

	var buf bytes.Buffer
	Run(&buf, r, d, state)
	out := buf.String()
	assert.Contains(t, out, "Run run-2 (v2) by Alex Kim")
	assert.Contains(t, out, "Gate:        ADVANCE")
	assert.Contains(t, out, "Pass count:  7/7 (need 4)")
	assert.Contains(t, out, "IC score:    95")
	assert.Contains(t, out, "Full underwriting: unlocked")
	assert.Contains(t, out, "$10,400,000")
	assert.Contains(t, out, "70.00%")
}

func TestDecision_Overridden(t *testing.T) {
	t.Parallel()

	d := gate.Decision{Label: model.DecisionAdvance, HardVetoOK: true, PassCount: 5, TotalTests: 7, Required: 4, Advance: true}
	state := gate.ResolveEffectiveState(d, &model.Override{Status: model.OverrideKill, Comment: "environmental"})

	var buf bytes.Buffer
	Decision(&buf, d, state)
	out := buf.String()
	assert.Contains(t, out, "KILL (overridden)")
	assert.Contains(t, out, "Computed:    ADVANCE")
	assert.Contains(t, out, "Override:    environmental")
	assert.Contains(t, out, "Full underwriting: locked")
}

func TestDiff(t *testing.T) {
	t.Parallel()

	a := &model.Run{ID: "run-1", Version: 1, Decision: model.DecisionKill,
		Outputs: map[string]any{"boe_max_bid": 9190000.0}}
	b := &model.Run{ID: "run-2", Version: 2, Decision: model.DecisionAdvance,
		Outputs: map[string]any{"boe_max_bid": 9725000.0}}

	var buf bytes.Buffer
	Diff(&buf, compare.Runs(a, b))
	out := buf.String()
	assert.Contains(t, out, "Comparing run-1 (v1) -> run-2 (v2)")
	assert.Contains(t, out, "Decision: KILL -> ADVANCE")
	assert.Contains(t, out, "+535,000.00")
	assert.Equal(t, 2, strings.Count(out, "No changes."))
}

func TestWorkspacesAndFeatures(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"deals", "boe", "ic_packet_basic", "portfolio_view"},
		FeatureNames(model.CapabilitiesFor(model.EditionSyndicator).Features))
	assert.Len(t, FeatureNames(model.CapabilitiesFor(model.EditionFund).Features), 7)

	var buf bytes.Buffer
	Workspaces(&buf, []model.Workspace{{ID: "ws-1", Name: "Prodigy", Edition: model.EditionFund,
		Capabilities: model.CapabilitiesFor(model.EditionFund), IsAdmin: true}})
	assert.Contains(t, buf.String(), "fund_reporting")
	assert.Contains(t, buf.String(), "true")
}

func TestSummary(t *testing.T) {
	t.Parallel()

	score := 85
	bid := 9725000.0
	status := "KILL"
	reason := "title issue"
	s := &model.DealWorkspaceSummary{
		DealID:              "queens-24",
		DealName:            "Queens 24-Unit",
		GateStatus:          "ADVANCE",
		GateStatusEffective: "KILL",
		ICScore:             &score,
		RecommendedMaxBid:   &bid,
		LatestRunID:         model.StringPtr("run-2"),
		Override:            &model.SummaryOverride{Status: &status, Reason: &reason},
	}

	var buf bytes.Buffer
	Summary(&buf, s)
	out := buf.String()
	assert.Contains(t, out, "Queens 24-Unit (queens-24)")
	assert.Contains(t, out, "85")
	assert.Contains(t, out, "$9,725,000")
	assert.Contains(t, out, "KILL: title issue")
}

func TestActivityAndTransitions(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	Activity(&buf, []model.ActivityEvent{
		{Type: "comment", Actor: model.ActivityActor{Email: model.StringPtr("a@x.com")}, Summary: "looks good"},
	})
	assert.Contains(t, buf.String(), "a@x.com")
	assert.Contains(t, buf.String(), "looks good")

	buf.Reset()
	Transitions(&buf, []model.GateTransition{{From: model.GateStateNoRun, To: model.GateStateKill}})
	assert.Contains(t, buf.String(), "NO_RUN")
	assert.Contains(t, buf.String(), "KILL")
}
