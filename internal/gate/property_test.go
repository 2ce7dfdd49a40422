package gate

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sells-group/underwrite-cli/internal/model"
)

var allOutcomes = []model.Outcome{P, W, F, NA}

func genOutcome() gopter.Gen {
	return gen.IntRange(0, len(allOutcomes)-1).Map(func(i int) model.Outcome {
		return allOutcomes[i]
	})
}

func genBattery() gopter.Gen {
	return gen.SliceOfN(7, genOutcome()).Map(func(outs []model.Outcome) []model.TestResult {
		return battery(outs...)
	})
}

func countCounted(tests []model.TestResult) int {
	n := 0
	for _, t := range tests {
		if t.Result.Counts() {
			n++
		}
	}
	return n
}

func hardAllPass(tests []model.TestResult) bool {
	for _, t := range tests {
		if t.TestClass == model.TestClassHard && t.Result != model.OutcomePass {
			return false
		}
	}
	return true
}

func TestEvaluateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("hard pass and four counted advances", prop.ForAll(
		func(tests []model.TestResult) bool {
			if !hardAllPass(tests) || countCounted(tests) < RequiredPassCount {
				return true
			}
			d, err := Evaluate(tests)
			return err == nil && d.Advance && d.Label == model.DecisionAdvance
		},
		genBattery(),
	))

	properties.Property("any hard test not PASS never advances", prop.ForAll(
		func(tests []model.TestResult) bool {
			if hardAllPass(tests) {
				return true
			}
			d, err := Evaluate(tests)
			return err == nil && !d.Advance && !d.HardVetoOK && d.Label == model.DecisionKill
		},
		genBattery(),
	))

	properties.Property("fewer than four counted never advances", prop.ForAll(
		func(tests []model.TestResult) bool {
			if countCounted(tests) >= RequiredPassCount {
				return true
			}
			d, err := Evaluate(tests)
			return err == nil && !d.Advance
		},
		genBattery(),
	))

	properties.Property("evaluation is idempotent", prop.ForAll(
		func(tests []model.TestResult) bool {
			a, errA := Evaluate(tests)
			b, errB := Evaluate(tests)
			return errA == nil && errB == nil && a == b
		},
		genBattery(),
	))

	properties.Property("summary agrees with evaluation", prop.ForAll(
		func(tests []model.TestResult) bool {
			d, err := Evaluate(tests)
			if err != nil {
				return false
			}
			s, err := Summarize(tests)
			if err != nil {
				return false
			}
			lists := len(s.FailedHardTests) + len(s.FailedSoftTests) + len(s.WarnTests) +
				len(s.PassTests) + len(s.NATests)
			return Agrees(s, d) && lists == len(tests)
		},
		genBattery(),
	))

	properties.Property("clear override keeps computed, active override wins", prop.ForAll(
		func(tests []model.TestResult, pick int) bool {
			d, err := Evaluate(tests)
			if err != nil {
				return false
			}
			cleared := ResolveEffectiveState(d, &model.Override{Status: model.OverrideClear})
			if cleared.Label != string(d.Label) || cleared.Overridden {
				return false
			}
			statuses := []model.OverrideStatus{model.OverrideAdvance, model.OverrideReview, model.OverrideKill}
			st := statuses[pick]
			eff := ResolveEffectiveState(d, &model.Override{Status: st, Comment: "ic call"})
			return eff.Label == string(st) && eff.Overridden && IsUnlocked(eff) == (st == model.OverrideAdvance)
		},
		genBattery(),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
