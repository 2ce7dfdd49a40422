package datasource

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/resilience"
)

// Fallback answers from Primary and switches to Secondary only when Primary
// fails with a network error. Auth, not-found and validation failures are
// returned as they are.
type Fallback struct {
	Primary    DataSource
	Secondary  DataSource
	OnFallback func(op, dealID string, err error)
}

func (f *Fallback) Name() string { return f.Primary.Name() + ">" + f.Secondary.Name() }

func (f *Fallback) ListRuns(ctx context.Context, dealID string) ([]model.Run, error) {
	runs, err := f.Primary.ListRuns(ctx, dealID)
	if err == nil || !resilience.IsNetwork(err) {
		return runs, err
	}
	f.fellBack("list runs", dealID, err)
	return f.Secondary.ListRuns(ctx, dealID)
}

func (f *Fallback) GetRun(ctx context.Context, dealID, runID string) (*model.Run, error) {
	run, err := f.Primary.GetRun(ctx, dealID, runID)
	if err == nil || !resilience.IsNetwork(err) {
		return run, err
	}
	f.fellBack("get run", dealID, err)
	return f.Secondary.GetRun(ctx, dealID, runID)
}

func (f *Fallback) fellBack(op, dealID string, err error) {
	zap.L().Warn("datasource: remote unavailable, using "+f.Secondary.Name(),
		zap.String("op", op),
		zap.String("deal_id", dealID),
		zap.Error(err),
	)
	if f.OnFallback != nil {
		f.OnFallback(op, dealID, err)
	}
}
