package datasource

import (
	"context"

	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/pkg/underwriting"
)

// Remote reads runs from the underwriting API.
type Remote struct {
	Client underwriting.Client
}

// NewRemote wraps an API client.
func NewRemote(c underwriting.Client) *Remote {
	return &Remote{Client: c}
}

func (r *Remote) Name() string { return "remote" }

func (r *Remote) ListRuns(ctx context.Context, dealID string) ([]model.Run, error) {
	return r.Client.ListRuns(ctx, dealID)
}

func (r *Remote) GetRun(ctx context.Context, dealID, runID string) (*model.Run, error) {
	return r.Client.GetRun(ctx, dealID, runID)
}
