// Package monitoring watches deal gate states and alerts on changes.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// Snapshot holds the gate activity observed since the previous check.
type Snapshot struct {
	DealsChecked int                    `json:"deals_checked"`
	SourceErrors int                    `json:"source_errors"`
	Transitions  []model.GateTransition `json:"transitions"`
	Since        time.Time              `json:"since"`
	CollectedAt  time.Time              `json:"collected_at"`
}

// DealLister lists the deals to watch.
type DealLister interface {
	Deals() []model.Deal
}

// RunLister refreshes a deal's runs. Sources backed by the run cache record
// gate transitions as a side effect.
type RunLister interface {
	ListRuns(ctx context.Context, dealID string) ([]model.Run, error)
}

// TransitionLister reads the recorded gate transitions of a deal.
type TransitionLister interface {
	ListTransitions(ctx context.Context, dealID string) ([]model.GateTransition, error)
}

// Collector refreshes each watched deal and gathers its new transitions.
type Collector struct {
	deals       DealLister
	source      RunLister
	transitions TransitionLister
}

// NewCollector creates a collector. source may be nil to only read what is
// already recorded.
func NewCollector(deals DealLister, source RunLister, transitions TransitionLister) *Collector {
	return &Collector{deals: deals, source: source, transitions: transitions}
}

// Collect refreshes every deal and returns the transitions recorded after
// since. A deal whose runs cannot be refreshed is counted in SourceErrors
// and its recorded transitions are still read.
func (c *Collector) Collect(ctx context.Context, since time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		Since:       since,
		CollectedAt: time.Now().UTC(),
	}

	for _, d := range c.deals.Deals() {
		snap.DealsChecked++

		if c.source != nil {
			if _, err := c.source.ListRuns(ctx, d.ID); err != nil {
				if ctx.Err() != nil {
					return nil, eris.Wrap(ctx.Err(), "monitoring: collect")
				}
				snap.SourceErrors++
				zap.L().Debug("monitoring: refresh runs failed", zap.String("deal_id", d.ID), zap.Error(err))
			}
		}

		list, err := c.transitions.ListTransitions(ctx, d.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list transitions %s", d.ID)
		}
		for _, t := range list {
			if t.CreatedAt.After(since) {
				snap.Transitions = append(snap.Transitions, t)
			}
		}
	}

	return snap, nil
}
