package model

import (
	"strings"
	"time"
)

// GateState is the deal-level gate state derived from the latest run.
type GateState string

const (
	GateStateNoRun   GateState = "NO_RUN"
	GateStateAdvance GateState = "ADVANCE"
	GateStateKill    GateState = "KILL"
)

// OverrideStatus is a manually applied gate decision.
type OverrideStatus string

const (
	OverrideAdvance OverrideStatus = "ADVANCE"
	OverrideReview  OverrideStatus = "REVIEW"
	OverrideKill    OverrideStatus = "KILL"
	OverrideClear   OverrideStatus = "CLEAR"
)

// ParseOverrideStatus normalizes user input into an OverrideStatus.
// It returns false for anything outside the four known statuses.
func ParseOverrideStatus(s string) (OverrideStatus, bool) {
	st := OverrideStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case OverrideAdvance, OverrideReview, OverrideKill, OverrideClear:
		return st, true
	}
	return "", false
}

// Override is an admin-applied decision that supersedes the computed one.
type Override struct {
	Status  OverrideStatus `json:"status"`
	Comment string         `json:"comment"`
	By      string         `json:"by,omitempty"`
	At      *time.Time     `json:"at,omitempty"`
}

// Active reports whether the override replaces the computed decision.
func (o *Override) Active() bool {
	return o != nil && o.Status != "" && o.Status != OverrideClear
}

// Stage is the pipeline stage a deal sits in.
type Stage string

const (
	StageIntake         Stage = "Intake"
	StageScreening      Stage = "Screening"
	StageBOEPass        Stage = "BOE Pass"
	StageBOEFail        Stage = "BOE Fail"
	StageFullUWApproved Stage = "Full UW Authorized"
)

// Deal is a property under evaluation together with its run history.
type Deal struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Address      string    `json:"address,omitempty" yaml:"address"`
	Neighborhood string    `json:"neighborhood,omitempty" yaml:"neighborhood"`
	Stage        Stage     `json:"stage" yaml:"stage"`
	Ask          float64   `json:"ask" yaml:"ask"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
	Notes        []string  `json:"notes,omitempty" yaml:"notes"`
	Override     *Override `json:"override,omitempty" yaml:"-"`
	Runs         []Run     `json:"runs" yaml:"-"`
}

// Latest returns the deal's most recent run, or nil when it has none.
func (d *Deal) Latest() *Run {
	if d == nil {
		return nil
	}
	return LatestRun(d.Runs)
}

// ActivityActor identifies who caused an activity event.
type ActivityActor struct {
	ID    *string `json:"id"`
	Email *string `json:"email"`
	Name  *string `json:"name"`
}

// ActivityEvent is a single entry in a deal's activity feed.
type ActivityEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	Actor     ActivityActor  `json:"actor"`
	Summary   string         `json:"summary"`
	Metadata  map[string]any `json:"metadata"`
}

// GateTransition records a change in a deal's gate state.
type GateTransition struct {
	ID        string    `json:"id"`
	DealID    string    `json:"deal_id"`
	RunID     string    `json:"run_id,omitempty"`
	From      GateState `json:"from"`
	To        GateState `json:"to"`
	CreatedAt time.Time `json:"created_at"`
}
