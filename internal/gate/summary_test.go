package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwrite-cli/internal/model"
)

func TestSortTests(t *testing.T) {
	t.Parallel()

	in := []model.TestResult{
		{TestKey: "zeta_custom"},
		{TestKey: "market_cap_rate"},
		{TestKey: "alpha_custom"},
		{TestKey: "yield_on_cost"},
		{TestKey: "dscr"},
	}
	out := SortTests(in)

	keys := make([]string, len(out))
	for i, tr := range out {
		keys[i] = tr.TestKey
	}
	assert.Equal(t, []string{"yield_on_cost", "dscr", "market_cap_rate", "alpha_custom", "zeta_custom"}, keys)
	// Input untouched.
	assert.Equal(t, "zeta_custom", in[0].TestKey)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	s, err := Summarize(battery(P, F, P, W, F, NA, P))
	require.NoError(t, err)

	assert.Equal(t, "KILL", s.Status)
	assert.False(t, s.HardVetoOK)
	assert.Equal(t, 4, s.PassCount)
	assert.Equal(t, 6, s.TotalTests)
	assert.False(t, s.Advance)
	assert.Equal(t, []string{"capex_value_multiple"}, s.FailedHardTests)
	assert.Equal(t, []string{"dscr"}, s.FailedSoftTests)
	assert.Equal(t, []string{"cash_on_cash"}, s.WarnTests)
	assert.Equal(t, []string{"yield_on_cost", "positive_leverage", "market_cap_rate"}, s.PassTests)
	assert.Equal(t, []string{"expense_ratio"}, s.NATests)
	require.NotNil(t, s.ICScore)
	assert.Equal(t, 100-25-10-5, *s.ICScore)
}

func TestSummarize_EmptyListsNotNil(t *testing.T) {
	t.Parallel()

	s, err := Summarize(battery(P, P, P, P, P, P, P))
	require.NoError(t, err)
	assert.NotNil(t, s.FailedHardTests)
	assert.NotNil(t, s.NATests)
	assert.Empty(t, s.WarnTests)
	assert.Equal(t, "ADVANCE", s.Status)
}

func TestSummarize_Malformed(t *testing.T) {
	t.Parallel()

	_, err := Summarize([]model.TestResult{{TestKey: "dscr", Result: P}})
	assert.ErrorIs(t, err, ErrMalformedRun)
}

func TestAgrees(t *testing.T) {
	t.Parallel()

	d, err := Evaluate(battery(P, P, P, P, W, P, P))
	require.NoError(t, err)

	server := model.DecisionSummary{HardVetoOK: true, PassCount: 7, Advance: true}
	assert.True(t, Agrees(server, d))

	server.PassCount = 6
	assert.False(t, Agrees(server, d))
}

func TestICScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		tests []model.TestResult
		want  int
	}{
		{"clean", battery(P, P, P, P, P, P, P), 100},
		{"one warn", battery(P, P, P, P, W, P, P), 95},
		{"fixture fail run", battery(F, F, F, F, F, F, P), 0},
		{"mixed", battery(F, P, P, F, W, NA, P), 60},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, b := ICScore(tt.tests)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, 100, b.BaseScore)
		})
	}

	_, b := ICScore(battery(F, F, P, F, W, W, P))
	assert.Equal(t, 2, b.HardFailCount)
	assert.Equal(t, 1, b.SoftFailCount)
	assert.Equal(t, 2, b.WarnCount)
	assert.Equal(t, 50+10+10, b.TotalPenalty)
}

func TestStateForLatest(t *testing.T) {
	t.Parallel()

	assert.Equal(t, model.GateStateNoRun, StateForLatest(nil))
	assert.Equal(t, model.GateStateAdvance, StateForLatest(&model.Run{Advance: true}))
	assert.Equal(t, model.GateStateKill, StateForLatest(&model.Run{}))
}

func TestBadgeTone(t *testing.T) {
	t.Parallel()

	cases := map[string]Tone{
		"ADVANCE":         TonePass,
		"PASS_WITH_NOTES": TonePass,
		"PASS":            TonePass,
		"WARN":            ToneWarn,
		"REVIEW":          ToneWarn,
		"KILL":            ToneFail,
		"FAIL":            ToneFail,
		"N/A":             ToneMuted,
		"NO_RUN":          ToneMuted,
	}
	for state, want := range cases {
		assert.Equal(t, want, BadgeTone(state), state)
	}
}
