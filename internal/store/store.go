// Package store caches last-known-good BOE runs, local gate overrides and the
// gate transition audit trail.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = eris.New("store: not found")

// Store defines the local persistence interface.
type Store interface {
	// Runs
	SaveRun(ctx context.Context, run model.Run) error
	SaveRuns(ctx context.Context, runs []model.Run) error
	GetRun(ctx context.Context, dealID, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, dealID string) ([]model.Run, error)

	// Gate transitions. RecordTransition writes a row only when the state
	// differs from the last recorded one and reports whether it did.
	RecordTransition(ctx context.Context, dealID, runID string, to model.GateState) (*model.GateTransition, bool, error)
	ListTransitions(ctx context.Context, dealID string) ([]model.GateTransition, error)

	// Local overrides
	SetOverride(ctx context.Context, dealID string, o model.Override) error
	GetOverride(ctx context.Context, dealID string) (*model.Override, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// lastState returns the state a new transition starts from.
func lastState(prev *model.GateState) model.GateState {
	if prev == nil || *prev == "" {
		return model.GateStateNoRun
	}
	return *prev
}
