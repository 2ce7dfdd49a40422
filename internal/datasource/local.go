package datasource

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/datasource/fixtures"
	"github.com/sells-group/underwrite-cli/internal/model"
)

// LocalFallback serves deals and runs from the fixture catalog. It is built
// once and read-only afterwards, so it is safe for concurrent use.
type LocalFallback struct {
	deals []model.Deal
	index map[string]int
}

// NewLocal reshapes fixture deals into the model.
func NewLocal(src []fixtures.Deal) (*LocalFallback, error) {
	l := &LocalFallback{
		deals: make([]model.Deal, 0, len(src)),
		index: make(map[string]int, len(src)),
	}
	for _, fd := range src {
		d, err := fixtures.ToDeal(fd)
		if err != nil {
			return nil, eris.Wrap(err, "datasource: load local deals")
		}
		l.index[d.ID] = len(l.deals)
		l.deals = append(l.deals, d)
	}
	return l, nil
}

// LoadLocal reads the fixtures at path (the embedded catalog when empty).
func LoadLocal(path string) (*LocalFallback, error) {
	src, err := fixtures.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewLocal(src)
}

func (l *LocalFallback) Name() string { return "local" }

// Deals returns every fixture deal in catalog order. Callers must not modify
// the returned runs.
func (l *LocalFallback) Deals() []model.Deal {
	out := make([]model.Deal, len(l.deals))
	copy(out, l.deals)
	return out
}

// Deal returns a single fixture deal.
func (l *LocalFallback) Deal(id string) (model.Deal, error) {
	i, ok := l.index[id]
	if !ok {
		return model.Deal{}, eris.Wrapf(ErrDealNotFound, "deal %s", id)
	}
	return l.deals[i], nil
}

func (l *LocalFallback) ListRuns(_ context.Context, dealID string) ([]model.Run, error) {
	d, err := l.Deal(dealID)
	if err != nil {
		return nil, err
	}
	runs := make([]model.Run, len(d.Runs))
	copy(runs, d.Runs)
	return runs, nil
}

func (l *LocalFallback) GetRun(_ context.Context, dealID, runID string) (*model.Run, error) {
	d, err := l.Deal(dealID)
	if err != nil {
		return nil, err
	}
	r, ok := model.FindRun(d.Runs, runID)
	if !ok {
		return nil, eris.Wrapf(ErrRunNotFound, "deal %s run %s", dealID, runID)
	}
	cp := *r
	return &cp, nil
}
