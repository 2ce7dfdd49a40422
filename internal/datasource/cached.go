package datasource

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/resilience"
)

// RunCache is the part of the store the cache layer needs.
type RunCache interface {
	SaveRun(ctx context.Context, run model.Run) error
	SaveRuns(ctx context.Context, runs []model.Run) error
	ListRuns(ctx context.Context, dealID string) ([]model.Run, error)
	GetRun(ctx context.Context, dealID, runID string) (*model.Run, error)
	RecordTransition(ctx context.Context, dealID, runID string, to model.GateState) (*model.GateTransition, bool, error)
}

// Cached records every successful fetch as the last-known-good copy and
// serves that copy when the wrapped source fails with a network error.
// Cache write failures are logged and never fail the read.
type Cached struct {
	Source  DataSource
	Cache   RunCache
	OnStale func(dealID string, err error)
}

func (c *Cached) Name() string { return c.Source.Name() + "+cache" }

func (c *Cached) ListRuns(ctx context.Context, dealID string) ([]model.Run, error) {
	runs, err := c.Source.ListRuns(ctx, dealID)
	if err == nil {
		c.remember(ctx, dealID, runs)
		return runs, nil
	}
	if !resilience.IsNetwork(err) {
		return nil, err
	}

	cached, cerr := c.Cache.ListRuns(ctx, dealID)
	if cerr != nil || len(cached) == 0 {
		if cerr != nil {
			zap.L().Warn("datasource: cache read failed", zap.String("deal_id", dealID), zap.Error(cerr))
		}
		return nil, err
	}
	c.stale(dealID, err)
	return cached, nil
}

func (c *Cached) GetRun(ctx context.Context, dealID, runID string) (*model.Run, error) {
	run, err := c.Source.GetRun(ctx, dealID, runID)
	if err == nil {
		if serr := c.Cache.SaveRun(ctx, *run); serr != nil {
			zap.L().Warn("datasource: cache write failed",
				zap.String("deal_id", dealID), zap.String("run_id", runID), zap.Error(serr))
		}
		return run, nil
	}
	if !resilience.IsNetwork(err) {
		return nil, err
	}

	cached, cerr := c.Cache.GetRun(ctx, dealID, runID)
	if cerr != nil {
		return nil, err
	}
	c.stale(dealID, err)
	return cached, nil
}

func (c *Cached) remember(ctx context.Context, dealID string, runs []model.Run) {
	log := zap.L().With(zap.String("deal_id", dealID))
	if err := c.Cache.SaveRuns(ctx, runs); err != nil {
		log.Warn("datasource: cache write failed", zap.Error(err))
	}

	latest := model.LatestRun(runs)
	var runID string
	if latest != nil {
		runID = latest.ID
	}
	tr, changed, err := c.Cache.RecordTransition(ctx, dealID, runID, gate.StateForLatest(latest))
	switch {
	case err != nil:
		log.Warn("datasource: record gate transition failed", zap.Error(err))
	case changed:
		log.Info("gate state changed",
			zap.String("from", string(tr.From)),
			zap.String("to", string(tr.To)),
			zap.String("run_id", tr.RunID),
		)
	}
}

func (c *Cached) stale(dealID string, err error) {
	zap.L().Warn("datasource: serving cached runs",
		zap.String("deal_id", dealID), zap.Error(err))
	if c.OnStale != nil {
		c.OnStale(dealID, err)
	}
}
