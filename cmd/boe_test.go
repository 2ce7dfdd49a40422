//go:build !integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/underwrite-cli/internal/compare"
	"github.com/sells-group/underwrite-cli/internal/datasource"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/sheet"
	"github.com/sells-group/underwrite-cli/pkg/underwriting"
)

func TestBuildDraft_Defaults(t *testing.T) {
	d, err := buildDraft("", sheet.XLSXOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, underwriting.DefaultDraft(), d)
}

func TestBuildDraft_FileThenSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "draft.csv")
	require.NoError(t, os.WriteFile(path, []byte("key,value\nasking_price,10400000\nltc,0.65\n"), 0o644))

	d, err := buildDraft(path, sheet.XLSXOptions{}, []string{"ltc=0.7", " capex_budget = 1300000 "})
	require.NoError(t, err)
	assert.Equal(t, "10400000", d["asking_price"])
	assert.Equal(t, "0.7", d["ltc"])
	assert.Equal(t, "1300000", d["capex_budget"])
	// Untouched keys keep their defaults.
	assert.Equal(t, "0.05", d["deposit_pct"])
}

func TestBuildDraft_Errors(t *testing.T) {
	_, err := buildDraft("", sheet.XLSXOptions{}, []string{"ltc"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "want key=value")

	_, err = buildDraft("", sheet.XLSXOptions{}, []string{"cap_rate=0.05"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown input")

	_, err = buildDraft(filepath.Join(t.TempDir(), "missing.csv"), sheet.XLSXOptions{}, nil)
	assert.Error(t, err)
}

func TestCompareRuns_Local(t *testing.T) {
	env, _ := newTestEnv(t, testConfig(t))

	diff, err := env.compareRuns(context.Background(), "queens-24", "run-2026-02-16-1", "run-2026-02-20-1")
	require.NoError(t, err)

	assert.Equal(t, "run-2026-02-16-1", diff.RunA)
	assert.Equal(t, "run-2026-02-20-1", diff.RunB)
	assert.True(t, diff.DecisionChanged)
	assert.Empty(t, diff.Inputs)

	var maxBid *compare.Row
	for i := range diff.Outputs {
		if diff.Outputs[i].Key == "boe_max_bid" {
			maxBid = &diff.Outputs[i]
		}
	}
	require.NotNil(t, maxBid)
	require.NotNil(t, maxBid.Delta)
	assert.InDelta(t, 535000, *maxBid.Delta, 0.001)
	assert.Equal(t, compare.ToneImprove, maxBid.Tone)

	// Every hard veto flipped from FAIL to PASS.
	require.NotEmpty(t, diff.Tests)
	assert.Equal(t, "yield_on_cost", diff.Tests[0].Key)
	assert.Equal(t, "FAIL -> PASS", diff.Tests[0].Detail)
}

func TestCompareRuns_MissingRun(t *testing.T) {
	env, _ := newTestEnv(t, testConfig(t))

	_, err := env.compareRuns(context.Background(), "queens-24", "run-2026-02-16-1", "nope")
	assert.ErrorIs(t, err, datasource.ErrRunNotFound)
}

func TestCompareRuns_XLSXExport(t *testing.T) {
	env, _ := newTestEnv(t, testConfig(t))

	diff, err := env.compareRuns(context.Background(), "queens-24", "run-2026-02-16-1", "run-2026-02-20-1")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "compare.xlsx")
	require.NoError(t, sheet.SaveComparison(path, diff))

	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	assert.Contains(t, f.Sheet, "Outputs")
}

func TestCreateRun_RequiresClient(t *testing.T) {
	env, _ := newTestEnv(t, testConfig(t))

	_, err := env.createRun(context.Background(), "queens-24", map[string]float64{"ltc": 0.7})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boe create")
}

func TestCreateRun_Remote(t *testing.T) {
	api, srv := newFakeAPI(t)
	env, _ := newTestEnv(t, remoteConfig(t, datasource.PolicyRemote, srv.URL))

	d, err := buildDraft("", sheet.XLSXOptions{}, []string{"ltc=0.65"})
	require.NoError(t, err)
	inputs := underwriting.DraftToInputs(d)

	v, err := env.createRun(context.Background(), "queens-24", inputs)
	require.NoError(t, err)

	api.mu.Lock()
	sent := api.created
	api.mu.Unlock()
	assert.InDelta(t, 0.65, sent["ltc"], 0.0001)

	// The re-fetched run carries the full battery even though the create
	// response did not.
	assert.Equal(t, "run-new", v.RunID)
	assert.Equal(t, 3, v.Version)
	require.NotNil(t, v.Run)
	assert.Len(t, v.Run.Tests, 7)
	assert.Equal(t, model.DecisionAdvance, v.Decision.Label)
}

func TestPrintRun(t *testing.T) {
	env, _ := newTestEnv(t, testConfig(t))
	v, err := env.evaluateGate(context.Background(), "queens-24", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printRun(&buf, v))
	out := buf.String()
	assert.Contains(t, out, "Run run-2026-02-20-1 (v2) by Alex Kim")
	assert.Contains(t, out, "Gate:        ADVANCE")
	assert.Contains(t, out, "IC score:    95")
	assert.NotContains(t, out, "disagrees")
}

func TestPrintRun_JSON(t *testing.T) {
	env, _ := newTestEnv(t, testConfig(t))
	v, err := env.evaluateGate(context.Background(), "bronx-31", "")
	require.NoError(t, err)

	flagJSON = true
	t.Cleanup(func() { flagJSON = false })

	var buf bytes.Buffer
	require.NoError(t, printRun(&buf, v))

	var got struct {
		Run  model.Run `json:"run"`
		Gate struct {
			Unlocked bool `json:"unlocked"`
			State    struct {
				Label string `json:"status"`
			} `json:"state"`
		} `json:"gate"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "run-2026-02-22-1", got.Run.ID)
	assert.Equal(t, "KILL", got.Gate.State.Label)
	assert.False(t, got.Gate.Unlocked)
}

func TestPrintRun_NoRuns(t *testing.T) {
	var buf bytes.Buffer
	v := &gateView{DealID: "empty"}
	v.State.Label = "NO_RUN"
	require.NoError(t, printRun(&buf, v))
	assert.Equal(t, "No runs for empty. Gate: NO_RUN\n", buf.String())
}
