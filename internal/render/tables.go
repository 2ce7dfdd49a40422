package render

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/sells-group/underwrite-cli/internal/compare"
	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/model"
)

func newTabWriter(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
}

// DealRow is one line of the deal list.
type DealRow struct {
	Deal  model.Deal
	State string
}

// Deals writes the deal list.
func Deals(out io.Writer, rows []DealRow) {
	w := newTabWriter(out)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tNEIGHBORHOOD\tSTAGE\tASK\tGATE\tRUNS\tUPDATED")
	for _, r := range rows {
		d := r.Deal
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			d.ID, d.Name, d.Neighborhood, d.Stage, Money(d.Ask), r.State, len(d.Runs), d.UpdatedAt.Format("2006-01-02"))
	}
	_ = w.Flush()
}

// Runs writes a run history table, newest first as given.
func Runs(out io.Writer, runs []model.Run) {
	w := newTabWriter(out)
	_, _ = fmt.Fprintln(w, "VERSION\tID\tDECISION\tPASS\tHARD_VETO\tBINDING\tCREATED_BY\tCREATED")
	for _, r := range runs {
		hv := "ok"
		if !r.HardVetoOK {
			hv = "veto"
		}
		_, _ = fmt.Fprintf(w, "v%d\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.Version, r.ID, r.Decision, r.PassCount, hv, Str(r.BindingConstraint), r.CreatedBy, Timestamp(r.CreatedAt))
	}
	_ = w.Flush()
}

// Tests writes a run's tests, hard class first, in canonical order.
func Tests(out io.Writer, tests []model.TestResult) {
	sorted := gate.SortTests(tests)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TestClass == model.TestClassHard && sorted[j].TestClass != model.TestClassHard
	})

	w := newTabWriter(out)
	_, _ = fmt.Fprintln(w, "TEST\tCLASS\tTHRESHOLD\tACTUAL\tRESULT")
	for _, t := range sorted {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.TestName, t.TestClass, testValue(t.ThresholdDisplay, t.Threshold), testValue(t.ActualDisplay, t.Actual), t.Result)
	}
	_ = w.Flush()
}

func testValue(display *string, raw *float64) string {
	if display != nil && *display != "" {
		return *display
	}
	if raw != nil {
		return Number(*raw)
	}
	return Dash
}

// Decision writes the gate block of the BOE review screen.
func Decision(out io.Writer, d gate.Decision, state gate.EffectiveState) {
	_, _ = fmt.Fprintf(out, "Gate:        %s\n", state)
	if state.Overridden {
		_, _ = fmt.Fprintf(out, "Computed:    %s\n", state.Computed)
		if o := state.Override; o != nil && o.Comment != "" {
			_, _ = fmt.Fprintf(out, "Override:    %s\n", o.Comment)
		}
	}
	hv := "all hard tests PASS"
	if !d.HardVetoOK {
		hv = "vetoed"
	}
	_, _ = fmt.Fprintf(out, "Hard veto:   %s\n", hv)
	_, _ = fmt.Fprintf(out, "Pass count:  %d/%d (need %d)\n", d.PassCount, d.TotalTests, d.Required)
	if d.BindingConstraint != "" {
		_, _ = fmt.Fprintf(out, "Binding:     %s\n", d.BindingConstraint)
	}
	if gate.IsUnlocked(state) {
		_, _ = fmt.Fprintln(out, "Full underwriting: unlocked")
	} else {
		_, _ = fmt.Fprintln(out, "Full underwriting: locked")
	}
}

// Run writes the full BOE review for a run: header, gate, metrics and tests.
func Run(out io.Writer, r *model.Run, d gate.Decision, state gate.EffectiveState) {
	_, _ = fmt.Fprintf(out, "Run %s (v%d) by %s at %s\n\n", r.ID, r.Version, r.CreatedBy, Timestamp(r.CreatedAt))
	Decision(out, d, state)
	if r.DecisionSummary != nil && r.DecisionSummary.ICScore != nil {
		_, _ = fmt.Fprintf(out, "IC score:    %d\n", *r.DecisionSummary.ICScore)
	}

	_, _ = fmt.Fprintln(out, "\nInputs")
	w := newTabWriter(out)
	for _, k := range sortedKeys(r.Inputs) {
		_, _ = fmt.Fprintf(w, "  %s\t%s\n", k, Input(k, r.Inputs[k]))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out, "\nOutputs")
	w = newTabWriter(out)
	for _, k := range sortedKeys(r.Outputs) {
		_, _ = fmt.Fprintf(w, "  %s\t%s\n", k, Output(k, r.Outputs[k]))
	}
	_ = w.Flush()

	_, _ = fmt.Fprintln(out)
	Tests(out, r.Tests)
}

// Diff writes a run comparison. Sections without changes print "No changes.".
func Diff(out io.Writer, d compare.Diff) {
	_, _ = fmt.Fprintf(out, "Comparing %s (v%d) -> %s (v%d)\n", d.RunA, d.VersionA, d.RunB, d.VersionB)
	if d.DecisionChanged {
		_, _ = fmt.Fprintf(out, "Decision: %s -> %s\n", d.DecisionA, d.DecisionB)
	} else {
		_, _ = fmt.Fprintf(out, "Decision: %s (unchanged)\n", d.DecisionB)
	}
	diffSection(out, "Inputs Diff", d.Inputs)
	diffSection(out, "Outputs Diff", d.Outputs)
	diffSection(out, "Test State Changes", d.Tests)
}

func diffSection(out io.Writer, title string, rows []compare.Row) {
	_, _ = fmt.Fprintf(out, "\n%s\n", title)
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(out, "  No changes.")
		return
	}
	w := newTabWriter(out)
	for _, r := range rows {
		delta := ""
		if r.Delta != nil {
			delta = printer.Sprintf("%+.2f", *r.Delta)
		}
		_, _ = fmt.Fprintf(w, "  %s\t%s\t%s\n", r.Label, r.Detail, delta)
	}
	_ = w.Flush()
}

// Workspaces writes the workspace list with enabled features.
func Workspaces(out io.Writer, list []model.Workspace) {
	w := newTabWriter(out)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tEDITION\tADMIN\tFEATURES")
	for _, ws := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n",
			ws.ID, ws.Name, ws.Edition, ws.IsAdmin, strings.Join(FeatureNames(ws.Capabilities.Features), ","))
	}
	_ = w.Flush()
}

// FeatureNames lists the enabled features in a fixed order.
func FeatureNames(f model.Features) []string {
	var out []string
	for _, x := range []struct {
		name string
		on   bool
	}{
		{"deals", f.Deals},
		{"boe", f.BOE},
		{"ic_packet_basic", f.ICPacketBasic},
		{"portfolio_view", f.PortfolioView},
		{"fund_mode", f.FundMode},
		{"fund_admin", f.FundAdmin},
		{"fund_reporting", f.FundReporting},
	} {
		if x.on {
			out = append(out, x.name)
		}
	}
	return out
}

// Summary writes a deal workspace summary.
func Summary(out io.Writer, s *model.DealWorkspaceSummary) {
	_, _ = fmt.Fprintf(out, "%s (%s)\n", s.DealName, s.DealID)
	if s.Address != nil {
		_, _ = fmt.Fprintf(out, "%s\n", *s.Address)
	}
	w := newTabWriter(out)
	_, _ = fmt.Fprintf(w, "Gate\t%s\n", s.GateStatus)
	_, _ = fmt.Fprintf(w, "Effective gate\t%s\n", s.GateStatusEffective)
	ic := Dash
	if s.ICScore != nil {
		ic = fmt.Sprint(*s.ICScore)
	}
	_, _ = fmt.Fprintf(w, "IC score\t%s\n", ic)
	_, _ = fmt.Fprintf(w, "Recommended max bid\t%s\n", MoneyPtr(s.RecommendedMaxBid))
	_, _ = fmt.Fprintf(w, "Binding constraint\t%s\n", Str(s.BindingConstraint))
	latest := Dash
	if s.LatestRunID != nil {
		latest = *s.LatestRunID
		if s.LatestRunCreatedAt != nil {
			latest += " @ " + Timestamp(*s.LatestRunCreatedAt)
		}
	}
	_, _ = fmt.Fprintf(w, "Latest run\t%s\n", latest)
	if o := s.Override.ToOverride(); o.Active() {
		_, _ = fmt.Fprintf(w, "Override\t%s: %s\n", o.Status, o.Comment)
	}
	_ = w.Flush()
}

// Activity writes a deal's activity feed.
func Activity(out io.Writer, events []model.ActivityEvent) {
	w := newTabWriter(out)
	_, _ = fmt.Fprintln(w, "WHEN\tTYPE\tACTOR\tSUMMARY")
	for _, e := range events {
		actor := Str(e.Actor.Name)
		if actor == Dash {
			actor = Str(e.Actor.Email)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", Timestamp(e.CreatedAt), e.Type, actor, e.Summary)
	}
	_ = w.Flush()
}

// Transitions writes the locally recorded gate state history.
func Transitions(out io.Writer, list []model.GateTransition) {
	w := newTabWriter(out)
	_, _ = fmt.Fprintln(w, "WHEN\tFROM\tTO\tRUN")
	for _, t := range list {
		run := t.RunID
		if run == "" {
			run = Dash
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", Timestamp(t.CreatedAt), t.From, t.To, run)
	}
	_ = w.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
