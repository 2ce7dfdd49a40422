// Package compare diffs two BOE runs of the same deal.
package compare

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/model"
)

// Missing stands in for a value one side does not have.
const Missing = "N/A"

// Tone classifies a numeric change.
type Tone string

const (
	ToneImprove Tone = "improve"
	ToneRegress Tone = "regress"
	ToneNeutral Tone = "neutral"
)

// ToneFor maps a delta to its tone. Zero is neutral.
func ToneFor(delta float64) Tone {
	switch {
	case delta > 0:
		return ToneImprove
	case delta < 0:
		return ToneRegress
	default:
		return ToneNeutral
	}
}

// Row is one changed value. Delta is set only when both sides are numeric.
type Row struct {
	Key    string   `json:"key"`
	Label  string   `json:"label"`
	From   string   `json:"from"`
	To     string   `json:"to"`
	Delta  *float64 `json:"delta,omitempty"`
	Tone   Tone     `json:"tone,omitempty"`
	Detail string   `json:"detail"`
}

// Diff is the comparison of run A (baseline) against run B.
type Diff struct {
	RunA            string         `json:"run_a"`
	RunB            string         `json:"run_b"`
	VersionA        int            `json:"version_a"`
	VersionB        int            `json:"version_b"`
	DecisionA       model.Decision `json:"decision_a"`
	DecisionB       model.Decision `json:"decision_b"`
	DecisionChanged bool           `json:"decision_changed"`
	Inputs          []Row          `json:"inputs"`
	Outputs         []Row          `json:"outputs"`
	Tests           []Row          `json:"tests"`
}

// Empty reports whether the two runs are indistinguishable on every
// compared field.
func (d Diff) Empty() bool {
	return !d.DecisionChanged && len(d.Inputs) == 0 && len(d.Outputs) == 0 && len(d.Tests) == 0
}

// Runs compares b against a. Either run may be nil, in which case its
// values are all missing.
func Runs(a, b *model.Run) Diff {
	var ra, rb model.Run
	if a != nil {
		ra = *a
	}
	if b != nil {
		rb = *b
	}
	return Diff{
		RunA:            ra.ID,
		RunB:            rb.ID,
		VersionA:        ra.Version,
		VersionB:        rb.Version,
		DecisionA:       ra.Decision,
		DecisionB:       rb.Decision,
		DecisionChanged: ra.Decision != rb.Decision,
		Inputs:          inputRows(ra.Inputs, rb.Inputs),
		Outputs:         outputRows(ra.Outputs, rb.Outputs),
		Tests:           testRows(ra.Tests, rb.Tests),
	}
}

func inputRows(a, b map[string]float64) []Row {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}

	rows := []Row{}
	for _, k := range sortedKeys(keys) {
		va, aok := a[k]
		vb, bok := b[k]
		from, to := Missing, Missing
		if aok {
			from = formatNumber(va)
		}
		if bok {
			to = formatNumber(vb)
		}
		if aok == bok && from == to {
			continue
		}
		rows = append(rows, Row{Key: k, Label: k, From: from, To: to, Detail: from + " -> " + to})
	}
	return rows
}

func outputRows(a, b map[string]any) []Row {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}

	rows := []Row{}
	for _, k := range sortedKeys(keys) {
		va, vb := a[k], b[k]
		na, aNum := Number(va)
		nb, bNum := Number(vb)
		if aNum && bNum {
			if na == nb {
				continue
			}
			delta := nb - na
			rows = append(rows, Row{
				Key:    k,
				Label:  k,
				From:   fmt.Sprintf("%.2f", na),
				To:     fmt.Sprintf("%.2f", nb),
				Delta:  &delta,
				Tone:   ToneFor(delta),
				Detail: fmt.Sprintf("%.2f -> %.2f", na, nb),
			})
			continue
		}
		from, to := display(va), display(vb)
		if from == to {
			continue
		}
		rows = append(rows, Row{Key: k, Label: k, From: from, To: to, Detail: from + " -> " + to})
	}
	return rows
}

// testRows lists tests present in both runs whose result changed, in
// canonical test order.
func testRows(a, b []model.TestResult) []Row {
	before := make(map[string]model.Outcome, len(a))
	for _, t := range a {
		before[t.TestKey] = t.Result
	}
	rows := []Row{}
	for _, t := range gate.SortTests(b) {
		prev, ok := before[t.TestKey]
		if !ok || prev == t.Result {
			continue
		}
		label := t.TestName
		if label == "" {
			label = t.TestKey
		}
		rows = append(rows, Row{
			Key:    t.TestKey,
			Label:  label,
			From:   string(prev),
			To:     string(t.Result),
			Tone:   outcomeTone(prev, t.Result),
			Detail: string(prev) + " -> " + string(t.Result),
		})
	}
	return rows
}

var outcomeRank = map[model.Outcome]int{
	model.OutcomeFail: 0,
	model.OutcomeNA:   1,
	model.OutcomeWarn: 2,
	model.OutcomePass: 3,
}

func outcomeTone(from, to model.Outcome) Tone {
	return ToneFor(float64(outcomeRank[to] - outcomeRank[from]))
}

// Number reads an output value as a finite number. Numeric strings count;
// booleans, blanks and other values do not.
func Number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func display(v any) string {
	switch x := v.(type) {
	case nil:
		return Missing
	case string:
		return x
	case float64:
		return formatNumber(x)
	default:
		return fmt.Sprint(x)
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
