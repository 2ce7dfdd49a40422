package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/underwrite-cli/internal/config"
	"github.com/sells-group/underwrite-cli/internal/datasource"
	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/monitoring"
	"github.com/sells-group/underwrite-cli/internal/resilience"
	"github.com/sells-group/underwrite-cli/internal/store"
	"github.com/sells-group/underwrite-cli/pkg/underwriting"
)

// appEnv holds everything a command needs. Client is nil under the local
// policy.
type appEnv struct {
	Policy    datasource.Policy
	Client    underwriting.Client
	Local     *datasource.LocalFallback
	Store     store.Store
	Source    datasource.DataSource
	Evaluator gate.Evaluator

	// WorkspaceID scopes server-side deal summaries, the source of
	// overrides when a client is configured.
	WorkspaceID string

	// Notices receives non-blocking notices such as stale cache reads.
	Notices io.Writer
}

// Close releases the store.
func (e *appEnv) Close() {
	if e.Store != nil {
		if err := e.Store.Close(); err != nil {
			zap.L().Warn("close store", zap.Error(err))
		}
	}
}

// requireClient fails for commands that only make sense against the API.
func (e *appEnv) requireClient(op string) error {
	if e.Client == nil {
		return eris.Errorf("%s: requires the underwriting API (source policy is %s)", op, e.Policy)
	}
	return nil
}

// initEnv wires the client, fixtures, store and source chain from cfg.
func initEnv(ctx context.Context, c *config.Config) (*appEnv, error) {
	policy, err := datasource.ParsePolicy(c.Source.Policy)
	if err != nil {
		return nil, err
	}

	env := &appEnv{
		Policy:    policy,
		Evaluator: gate.Evaluator{Required: c.Gate.RequiredPassCount},
		Notices:   os.Stderr,
	}

	if env.Local, err = datasource.LoadLocal(c.Source.FixturesPath); err != nil {
		return nil, err
	}

	if env.Store, err = initStore(ctx, c.Store); err != nil {
		return nil, err
	}
	if err := env.Store.Migrate(ctx); err != nil {
		env.Close()
		return nil, err
	}

	var remote datasource.DataSource
	if policy.NeedsRemote() {
		env.Client, err = initClient(c)
		if err != nil {
			env.Close()
			return nil, err
		}
		remote = datasource.NewRemote(env.Client)
		env.WorkspaceID = c.API.WorkspaceID
		if env.WorkspaceID == "" {
			zap.L().Debug("no api.workspace_id; overrides are read from the local store")
		}
	}

	env.Source, err = datasource.New(datasource.Options{
		Policy: policy,
		Remote: remote,
		Local:  env.Local,
		Cache:  env.Store,
		OnFallback: func(op, dealID string, err error) {
			env.notice("underwriting API unreachable (%s %s); showing local fixture data", op, dealID)
		},
		OnStale: func(dealID string, err error) {
			env.notice("underwriting API unreachable; showing last cached runs for %s", dealID)
		},
	})
	if err != nil {
		env.Close()
		return nil, err
	}

	zap.L().Debug("environment ready",
		zap.String("policy", string(policy)),
		zap.String("source", env.Source.Name()),
		zap.String("store", c.Store.Driver),
	)
	return env, nil
}

// newChecker watches the catalogued deals through the source chain so
// refreshed runs record their gate transitions in the store.
func (e *appEnv) newChecker(mc config.MonitoringConfig) *monitoring.Checker {
	return monitoring.NewChecker(
		monitoring.NewCollector(e.Local, e.Source, e.Store),
		monitoring.NewAlerter(mc),
		mc,
	)
}

func (e *appEnv) notice(format string, args ...any) {
	if e.Notices == nil {
		return
	}
	_, _ = fmt.Fprintf(e.Notices, "notice: "+format+"\n", args...)
}

func initStore(ctx context.Context, sc config.StoreConfig) (store.Store, error) {
	switch sc.Driver {
	case "sqlite":
		dsn := sc.DatabaseURL
		if dsn == "" {
			dsn = "underwrite.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, sc.DatabaseURL, &store.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

func initClient(c *config.Config) (underwriting.Client, error) {
	if err := c.Validate("api"); err != nil {
		return nil, err
	}
	breaker := resilience.FromCircuitConfig(c.Circuit.FailureThreshold, c.Circuit.ResetTimeoutSecs)
	breaker.OnStateChange = resilience.LogStateChanges("underwriting-api")
	return underwriting.NewClient(
		underwriting.Config{BaseURL: c.API.BaseURL, Tokens: tokenProvider(c.API)},
		underwriting.WithTimeout(time.Duration(c.API.TimeoutSecs)*time.Second),
		underwriting.WithRateLimit(c.API.RatePerSec),
		underwriting.WithRetry(resilience.FromRetryConfig(c.Retry.MaxAttempts, c.Retry.InitialBackoffMs, c.Retry.MaxBackoffMs)),
		underwriting.WithCircuitBreaker(resilience.NewCircuitBreaker(breaker)),
	), nil
}

func tokenProvider(ac config.APIConfig) underwriting.TokenProvider {
	switch {
	case ac.TokenFile != "":
		return underwriting.FileToken(ac.TokenFile)
	case ac.TokenEnv != "":
		return underwriting.EnvToken(ac.TokenEnv)
	case ac.Token != "":
		return underwriting.StaticToken(ac.Token)
	default:
		return underwriting.StaticToken("")
	}
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
