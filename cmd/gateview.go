package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/resilience"
)

// gateView is the evaluated gate for one run of a deal, with the local
// override applied.
type gateView struct {
	DealID       string                 `json:"deal_id"`
	Run          *model.Run             `json:"-"`
	RunID        string                 `json:"run_id,omitempty"`
	Version      int                    `json:"version,omitempty"`
	Decision     gate.Decision          `json:"decision"`
	Summary      *model.DecisionSummary `json:"summary,omitempty"`
	ICScore      *gate.ICBreakdown      `json:"ic_breakdown,omitempty"`
	State        gate.EffectiveState    `json:"state"`
	Unlocked     bool                   `json:"unlocked"`
	ServerAgrees *bool                  `json:"server_agrees,omitempty"`
}

// evaluateGate loads the requested run (the latest when runID is empty),
// recomputes its decision and resolves the effective state. A deal without
// runs yields NO_RUN unless an override is active.
func (e *appEnv) evaluateGate(ctx context.Context, dealID, runID string) (*gateView, error) {
	run, err := e.loadRun(ctx, dealID, runID)
	if err != nil {
		return nil, err
	}

	o, err := e.currentOverride(ctx, dealID)
	if err != nil {
		return nil, err
	}

	v := &gateView{DealID: dealID, Run: run}
	if run == nil {
		v.State = gate.ResolveEffectiveState(gate.Decision{}, o)
		if !v.State.Overridden {
			v.State.Label = string(model.GateStateNoRun)
		}
		v.Unlocked = gate.IsUnlocked(v.State)
		return v, nil
	}

	if !run.Complete() {
		return nil, eris.Wrapf(gate.ErrMalformedRun, "run %s is incomplete", run.ID)
	}
	v.RunID, v.Version = run.ID, run.Version

	if v.Decision, err = e.Evaluator.EvaluateRun(run); err != nil {
		return nil, eris.Wrapf(err, "evaluate run %s", run.ID)
	}
	summary, err := e.Evaluator.Summarize(run.Tests)
	if err != nil {
		return nil, eris.Wrapf(err, "summarize run %s", run.ID)
	}
	v.Summary = &summary
	_, breakdown := gate.ICScore(run.Tests)
	v.ICScore = &breakdown

	if run.DecisionSummary != nil {
		agrees := gate.Agrees(*run.DecisionSummary, v.Decision)
		v.ServerAgrees = &agrees
		if !agrees {
			zap.L().Warn("server decision summary disagrees with local evaluation",
				zap.String("deal_id", dealID),
				zap.String("run_id", run.ID),
				zap.Int("server_pass_count", run.DecisionSummary.PassCount),
				zap.Int("local_pass_count", v.Decision.PassCount),
			)
		}
	}

	v.State = gate.ResolveEffectiveState(v.Decision, o)
	v.Unlocked = gate.IsUnlocked(v.State)
	return v, nil
}

// currentOverride returns the override in force for a deal. When the API is
// configured with a workspace, the server's deal summary is authoritative and
// is mirrored into the store; the mirror answers only while the API is
// unreachable.
func (e *appEnv) currentOverride(ctx context.Context, dealID string) (*model.Override, error) {
	if e.Client == nil || e.WorkspaceID == "" {
		return e.Store.GetOverride(ctx, dealID)
	}

	summary, err := e.Client.GetDealSummary(ctx, e.WorkspaceID, dealID)
	if err != nil {
		if !resilience.IsNetwork(err) {
			return nil, eris.Wrapf(err, "override for %s", dealID)
		}
		e.notice("underwriting API unreachable; using the last known override for %s", dealID)
		return e.Store.GetOverride(ctx, dealID)
	}

	o := summary.Override.ToOverride()
	mirror := model.Override{Status: model.OverrideClear}
	if o.Active() {
		mirror = *o
	}
	if err := e.Store.SetOverride(ctx, dealID, mirror); err != nil {
		zap.L().Warn("mirror server override", zap.String("deal_id", dealID), zap.Error(err))
	}
	return o, nil
}

// loadRun returns the named run, or the latest one when runID is empty. The
// latest of an empty history is nil.
func (e *appEnv) loadRun(ctx context.Context, dealID, runID string) (*model.Run, error) {
	if runID != "" {
		return e.Source.GetRun(ctx, dealID, runID)
	}
	runs, err := e.Source.ListRuns(ctx, dealID)
	if err != nil {
		return nil, err
	}
	latest := model.LatestRun(runs)
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

// applyOverride validates and records an override. With an API client the
// override is sent first and mirrored locally only once accepted.
func (e *appEnv) applyOverride(ctx context.Context, dealID string, o model.Override) error {
	if st, ok := model.ParseOverrideStatus(string(o.Status)); ok {
		o.Status = st
	}
	if err := gate.ValidateOverride(o); err != nil {
		return err
	}
	if e.Client != nil {
		if err := e.Client.OverrideGate(ctx, dealID, o); err != nil {
			return err
		}
	}
	if err := e.Store.SetOverride(ctx, dealID, o); err != nil {
		return err
	}
	zap.L().Info("gate override applied",
		zap.String("deal_id", dealID),
		zap.String("status", string(o.Status)),
		zap.String("by", o.By),
	)
	return nil
}
