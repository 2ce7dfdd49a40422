package gate

import "github.com/sells-group/underwrite-cli/internal/model"

// StateForLatest returns the deal gate state implied by its latest run. The
// run's server-computed advance flag is trusted here; callers that need the
// local recomputation use EvaluateRun.
func StateForLatest(latest *model.Run) model.GateState {
	if latest == nil {
		return model.GateStateNoRun
	}
	if latest.Advance {
		return model.GateStateAdvance
	}
	return model.GateStateKill
}

// Tone is the visual category a decision or test state renders with.
type Tone string

const (
	TonePass  Tone = "pass"
	ToneWarn  Tone = "warn"
	ToneFail  Tone = "fail"
	ToneMuted Tone = "muted"
)

// BadgeTone maps any decision, gate, or test state to its display tone.
func BadgeTone(state string) Tone {
	switch state {
	case "PASS", "ADVANCE", "PASS_WITH_NOTES":
		return TonePass
	case "WARN", "REVIEW":
		return ToneWarn
	case "FAIL", "KILL":
		return ToneFail
	default:
		return ToneMuted
	}
}
