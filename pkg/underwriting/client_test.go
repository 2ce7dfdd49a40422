package underwriting

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwrite-cli/internal/gate"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/resilience"
)

const runJSON = `{
  "id": "run-2",
  "deal_id": "d1",
  "version": 2,
  "inputs": {"asking_price": 10000000},
  "outputs": {"yield_on_cost": 0.071, "binding_label": "Yield"},
  "decision": "ADVANCE",
  "binding_constraint": "Yield on Cost",
  "hard_veto_ok": true,
  "pass_count": 5,
  "advance": true,
  "created_by": "u1",
  "created_at": "2026-02-10T12:00:00Z",
  "tests": [
    {"test_key": "yield_on_cost", "test_name": "Yield on Cost", "test_class": "hard", "threshold": 0.065, "actual": 0.071, "threshold_display": "6.50%", "actual_display": "7.10%", "result": "PASS", "note": null}
  ]
}`

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		Multiplier:     2,
	}
}

func newTestClient(srv *httptest.Server, opts ...Option) Client {
	opts = append([]Option{WithRetry(fastRetry()), WithRateLimit(0)}, opts...)
	return NewClient(Config{BaseURL: srv.URL + "/v1", Tokens: StaticToken("test-token")}, opts...)
}

func TestListRuns_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/deals/d1/boe/runs", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
		  {"id": "run-1", "deal_id": "d1", "version": 1, "created_at": "2026-02-01T12:00:00Z", "tests": []},
		  ` + runJSON + `
		]`))
	}))
	defer srv.Close()

	runs, err := newTestClient(srv).ListRuns(context.Background(), "d1")

	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID, "runs are most recent first")
	assert.Equal(t, "Yield on Cost", runs[0].Binding())
	assert.Equal(t, model.OutcomePass, runs[0].Tests[0].Result)
	require.NotNil(t, runs[0].Tests[0].Actual)
	assert.InDelta(t, 0.071, *runs[0].Tests[0].Actual, 1e-9)
	assert.Nil(t, runs[0].Tests[0].Note)
}

func TestListRuns_EmptyBody(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	runs, err := newTestClient(srv).ListRuns(context.Background(), "d1")
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)
}

func TestGetRun_NotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/v1/deals/d1/boe/runs/missing", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"run not found"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetRun(context.Background(), "d1", "missing")

	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.False(t, resilience.IsNetwork(err))
	assert.Contains(t, err.Error(), "run not found")
	assert.Equal(t, int32(1), calls.Load(), "4xx is not retried")
}

func TestGetRun_Unauthorized(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetRun(context.Background(), "d1", "r1")

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "underwriting: get run", se.Op)
}

func TestGetRun_RetriesServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(runJSON))
	}))
	defer srv.Close()

	run, err := newTestClient(srv).GetRun(context.Background(), "d1", "run-2")

	require.NoError(t, err)
	assert.Equal(t, "run-2", run.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetRun_ServerErrorExhaustsRetries(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`upstream down`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetRun(context.Background(), "d1", "r1")

	require.Error(t, err)
	assert.True(t, resilience.IsNetwork(err))
	var ne *resilience.NetworkError
	require.True(t, errors.As(err, &ne))
	assert.Equal(t, http.StatusBadGateway, ne.StatusCode)
}

func TestGetRun_ConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c := NewClient(Config{BaseURL: addr}, WithRetry(fastRetry()), WithRateLimit(0))
	_, err := c.GetRun(context.Background(), "d1", "r1")

	require.Error(t, err)
	assert.True(t, resilience.IsNetwork(err))
}

func TestGetRun_MalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetRun(context.Background(), "d1", "r1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
	assert.False(t, resilience.IsNetwork(err))
}

func TestCircuitOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	c := newTestClient(srv, WithRetry(resilience.RetryConfig{MaxAttempts: 1}), WithCircuitBreaker(cb))

	_, err := c.ListRuns(context.Background(), "d1")
	require.Error(t, err)
	_, err = c.ListRuns(context.Background(), "d1")
	require.Error(t, err)

	assert.True(t, errors.Is(err, resilience.ErrCircuitOpen))
	assert.True(t, resilience.IsNetwork(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCreateRun_PostsInputs(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/deals/d1/boe/runs", r.URL.Path)

		var body struct {
			Inputs map[string]float64 `json:"inputs"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.InDelta(t, 10000000, body.Inputs["asking_price"], 0.01)
		assert.NotContains(t, body.Inputs, "reserves")

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(runJSON))
	}))
	defer srv.Close()

	inputs := DraftToInputs(Draft{"asking_price": "10000000", "reserves": ""})
	run, err := newTestClient(srv).CreateRun(context.Background(), "d1", inputs)

	require.NoError(t, err)
	assert.Equal(t, 2, run.Version)
}

// dropAfterRead counts requests and closes the connection without answering,
// as if the server applied the write and the response was lost.
func dropAfterRead(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		calls.Add(1)
		hj, ok := w.(http.Hijacker)
		require.True(t, ok)
		conn, _, err := hj.Hijack()
		require.NoError(t, err)
		_ = conn.Close()
	}))
}

func TestWrites_NotRetriedAfterDroppedConnection(t *testing.T) {
	t.Parallel()

	cases := map[string]func(Client) error{
		"create run": func(c Client) error {
			_, err := c.CreateRun(context.Background(), "d1", map[string]float64{"asking_price": 1})
			return err
		},
		"post comment": func(c Client) error {
			return c.PostComment(context.Background(), "d1", "looks good")
		},
		"override gate": func(c Client) error {
			return c.OverrideGate(context.Background(), "d1", model.Override{Status: model.OverrideKill, Comment: "title"})
		},
	}
	for name, call := range cases {
		t.Run(name, func(t *testing.T) {
			var calls atomic.Int32
			srv := dropAfterRead(t, &calls)
			defer srv.Close()

			err := call(newTestClient(srv))
			require.Error(t, err)
			assert.True(t, resilience.IsNetwork(err))
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestCreateRun_ServerErrorSentOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).CreateRun(context.Background(), "d1", map[string]float64{"asking_price": 1})
	require.Error(t, err)
	assert.True(t, resilience.IsNetwork(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetRun_RetriedAfterDroppedConnection(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := dropAfterRead(t, &calls)
	defer srv.Close()

	_, err := newTestClient(srv).GetRun(context.Background(), "d1", "r1")
	require.Error(t, err)
	assert.True(t, resilience.IsNetwork(err))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestOverrideGate_ValidatesBeforeRequest(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestClient(srv).OverrideGate(context.Background(), "d1", model.Override{Status: model.OverrideAdvance, Comment: "   "})

	var ve *gate.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "comment required", ve.Message)
	assert.Equal(t, int32(0), calls.Load())
}

func TestOverrideGate_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/deals/d1/gate/override", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"status":"REVIEW","comment":"needs IC look"}`, string(b))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestClient(srv).OverrideGate(context.Background(), "d1", model.Override{Status: "review", Comment: " needs IC look "})
	require.NoError(t, err)
}

func TestOverrideGate_ClearWithoutComment(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv).OverrideGate(context.Background(), "d1", model.Override{Status: model.OverrideClear})
	require.NoError(t, err)
}

func TestWorkspaces(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/workspaces":
			_, _ = w.Write([]byte(`[{"id":"ws1","name":"Main","edition":"SYNDICATOR","capabilities":{"features":{"deals":true,"boe":true}},"is_admin":true,"created_at":"2026-01-01T00:00:00Z"}]`))
		case r.Method == http.MethodPatch && r.URL.Path == "/v1/workspaces/ws1/edition":
			b, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"edition":"FUND"}`, string(b))
			_, _ = w.Write([]byte(`{"id":"ws1","name":"Main","edition":"FUND","capabilities":{"features":{"fund_mode":true}},"is_admin":true,"created_at":"2026-01-01T00:00:00Z"}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ws, err := c.ListWorkspaces(context.Background())
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.True(t, ws[0].IsAdmin)
	assert.Equal(t, model.EditionSyndicator, ws[0].Edition)

	updated, err := c.UpdateWorkspaceEdition(context.Background(), "ws1", model.EditionFund)
	require.NoError(t, err)
	assert.True(t, updated.Capabilities.Features.FundMode)
}

func TestUpdateWorkspaceEdition_RejectsUnknown(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.UpdateWorkspaceEdition(context.Background(), "ws1", "ENTERPRISE")
	var ve *gate.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "edition", ve.Field)
}

func TestDealSummaryAndActivity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/workspaces/ws1/deals/d1/summary":
			_, _ = w.Write([]byte(`{
			  "deal_id": "d1", "workspace_id": "ws1", "deal_name": "Queens 24",
			  "gate_status": "KILL", "gate_status_effective": "ADVANCE", "ic_score": 70,
			  "override": {"status": "ADVANCE", "reason": "sponsor credit", "by": "admin@x", "at": null},
			  "capabilities": {"features": {"deals": true}}
			}`))
		case "/v1/deals/d1/activity":
			assert.Equal(t, "50", r.URL.Query().Get("limit"))
			_, _ = w.Write([]byte(`[{"id":"e1","type":"comment","created_at":"2026-02-01T00:00:00Z","actor":{"id":null,"email":"a@x","name":null},"summary":"hi","metadata":{}}]`))
		case "/v1/deals/d1/comments":
			b, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"body":"looks good"}`, string(b))
			w.WriteHeader(http.StatusCreated)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)

	s, err := c.GetDealSummary(context.Background(), "ws1", "d1")
	require.NoError(t, err)
	require.NotNil(t, s.ICScore)
	assert.Equal(t, 70, *s.ICScore)
	o := s.Override.ToOverride()
	require.NotNil(t, o)
	assert.Equal(t, model.OverrideAdvance, o.Status)
	assert.Equal(t, "sponsor credit", o.Comment)

	events, err := c.GetActivity(context.Background(), "d1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].Actor.ID)

	require.NoError(t, c.PostComment(context.Background(), "d1", "looks good"))
	assert.Error(t, c.PostComment(context.Background(), "d1", "  "))
}

func TestNoAuthorizationHeaderWithoutToken(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL}, WithRetry(fastRetry()))
	_, err := c.ListWorkspaces(context.Background())
	require.NoError(t, err)
}

func TestTokenProviderError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		t.Error("request should not be sent")
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Tokens: FileToken(filepath.Join(t.TempDir(), "missing"))}, WithRetry(fastRetry()))
	_, err := c.ListWorkspaces(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read token file")
}

func TestContextCancellation(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(srv).ListRuns(ctx, "d1")
	require.Error(t, err)
}

func TestNewClient_Defaults(t *testing.T) {
	t.Parallel()

	c := NewClient(Config{})
	hc := c.(*httpClient)
	assert.Equal(t, DefaultBaseURL, hc.baseURL)
	assert.Equal(t, 30*time.Second, hc.http.Timeout)
	assert.NotNil(t, hc.limiter)
	assert.NotNil(t, hc.breaker)
}

func TestNewClient_TrimsTrailingSlash(t *testing.T) {
	t.Parallel()

	hc := NewClient(Config{BaseURL: "https://api.example.com/v1/"}, WithTimeout(5*time.Second)).(*httpClient)
	assert.Equal(t, "https://api.example.com/v1", hc.baseURL)
	assert.Equal(t, 5*time.Second, hc.http.Timeout)
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	custom := &http.Client{}
	hc := NewClient(Config{}, WithHTTPClient(custom)).(*httpClient)
	assert.Equal(t, custom, hc.http)
}

func TestTokenProviders(t *testing.T) {
	ctx := context.Background()

	tok, err := StaticToken(" abc ").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	t.Setenv("UNDERWRITE_TEST_TOKEN", "from-env")
	tok, err = EnvToken("UNDERWRITE_TEST_TOKEN").Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-env", tok)

	_, err = EnvToken("UNDERWRITE_TEST_TOKEN_UNSET_XYZ").Token(ctx)
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("from-file\n"), 0o600))
	tok, err = FileToken(path).Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "from-file", tok)
}

func TestDraftToInputs(t *testing.T) {
	t.Parallel()

	got := DraftToInputs(Draft{
		"asking_price":  "10000000",
		"deposit_pct":   " 0.05 ",
		"reserves":      "",
		"interest_rate": "abc",
		"ltc":           "NaN",
	})
	assert.Equal(t, map[string]float64{"asking_price": 10000000, "deposit_pct": 0.05}, got)

	def := DraftToInputs(DefaultDraft())
	assert.Len(t, def, len(InputKeys))
	for _, k := range InputKeys {
		assert.Contains(t, def, k)
	}
}
