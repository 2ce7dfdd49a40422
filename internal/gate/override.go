package gate

import (
	"fmt"
	"strings"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// ValidationError reports an override submission the caller must correct
// before sending.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gate: invalid %s: %s", e.Field, e.Message)
}

// EffectiveState is the gate state shown to users after overrides apply.
type EffectiveState struct {
	Label      string          `json:"status"`
	Computed   model.Decision  `json:"computed_status"`
	Overridden bool            `json:"overridden"`
	Override   *model.Override `json:"override,omitempty"`
}

// String returns the effective label, flagged when overridden.
func (s EffectiveState) String() string {
	if s.Overridden {
		return s.Label + " (overridden)"
	}
	return s.Label
}

// ResolveEffectiveState applies an optional override to a computed decision.
// A nil or CLEAR override leaves the computed decision in place.
func ResolveEffectiveState(computed Decision, o *model.Override) EffectiveState {
	if !o.Active() {
		return EffectiveState{Label: string(computed.Label), Computed: computed.Label}
	}
	return EffectiveState{
		Label:      string(o.Status),
		Computed:   computed.Label,
		Overridden: true,
		Override:   o,
	}
}

// ValidateOverride checks an override before it is submitted. Any status
// other than CLEAR requires a non-blank comment.
func ValidateOverride(o model.Override) error {
	if _, ok := model.ParseOverrideStatus(string(o.Status)); !ok {
		return &ValidationError{Field: "status", Message: "must be one of ADVANCE, REVIEW, KILL, CLEAR"}
	}
	if o.Status != model.OverrideClear && strings.TrimSpace(o.Comment) == "" {
		return &ValidationError{Field: "comment", Message: "comment required"}
	}
	return nil
}

// UnlockCriteria describes what opens the Full Underwriting stage.
const UnlockCriteria = "Full Underwriting unlocks when the effective gate state is ADVANCE: " +
	"all 3 hard-veto tests (yield on cost, CapEx value multiple, positive leverage) PASS " +
	"and at least 4 of the 7 tests are PASS or WARN, or an admin override sets ADVANCE."

// IsUnlocked reports whether Full Underwriting is available.
func IsUnlocked(state EffectiveState) bool {
	return state.Label == string(model.DecisionAdvance)
}
