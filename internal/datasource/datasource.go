// Package datasource provides BOE runs for a deal from the underwriting API,
// the local fixtures, or both, with an explicit policy deciding which one
// answers.
package datasource

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/underwrite-cli/internal/model"
)

// ErrDealNotFound is returned by sources that know their full deal catalog.
var ErrDealNotFound = eris.New("datasource: deal not found")

// ErrRunNotFound is returned when a deal exists but the run does not.
var ErrRunNotFound = eris.New("datasource: run not found")

// DataSource supplies runs for a deal. Runs are returned most recent first.
type DataSource interface {
	Name() string
	ListRuns(ctx context.Context, dealID string) ([]model.Run, error)
	GetRun(ctx context.Context, dealID, runID string) (*model.Run, error)
}

// Policy selects which source answers run requests.
type Policy string

const (
	// PolicyRemote only calls the underwriting API.
	PolicyRemote Policy = "remote"
	// PolicyLocal only reads the local fixtures.
	PolicyLocal Policy = "local"
	// PolicyPreferRemote calls the API and falls back to fixtures on network
	// failures.
	PolicyPreferRemote Policy = "prefer-remote"
)

// ParsePolicy normalizes a configured policy. Empty selects prefer-remote.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyPreferRemote, nil
	case PolicyRemote, PolicyLocal, PolicyPreferRemote:
		return p, nil
	default:
		return "", eris.Errorf("datasource: unknown policy %q (want remote, local or prefer-remote)", s)
	}
}

// NeedsRemote reports whether the policy calls the underwriting API.
func (p Policy) NeedsRemote() bool {
	return p != PolicyLocal
}

// Options assembles a DataSource.
type Options struct {
	Policy Policy
	// Remote is required unless Policy is local.
	Remote DataSource
	// Local is required unless Policy is remote.
	Local DataSource
	// Cache, when set, wraps the remote source with a last-known-good cache.
	Cache RunCache
	// OnFallback is called when prefer-remote answers from the local source.
	OnFallback func(op, dealID string, err error)
	// OnStale is called when a cached run list is served.
	OnStale func(dealID string, err error)
}

// New builds the source chain for the configured policy.
func New(opts Options) (DataSource, error) {
	var remote DataSource
	if opts.Policy.NeedsRemote() {
		if opts.Remote == nil {
			return nil, eris.Errorf("datasource: policy %s requires a remote source", opts.Policy)
		}
		remote = opts.Remote
		if opts.Cache != nil {
			remote = &Cached{Source: remote, Cache: opts.Cache, OnStale: opts.OnStale}
		}
	}

	switch opts.Policy {
	case PolicyRemote:
		return remote, nil
	case PolicyLocal, PolicyPreferRemote:
		if opts.Local == nil {
			return nil, eris.Errorf("datasource: policy %s requires a local source", opts.Policy)
		}
		if opts.Policy == PolicyLocal {
			return opts.Local, nil
		}
		return &Fallback{Primary: remote, Secondary: opts.Local, OnFallback: opts.OnFallback}, nil
	default:
		return nil, eris.Errorf("datasource: unknown policy %q", opts.Policy)
	}
}
