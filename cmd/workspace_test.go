//go:build !integration

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/underwrite-cli/internal/config"
	"github.com/sells-group/underwrite-cli/internal/datasource"
	"github.com/sells-group/underwrite-cli/internal/model"
)

func TestParseEdition(t *testing.T) {
	e, err := parseEdition(" fund ")
	require.NoError(t, err)
	assert.Equal(t, model.EditionFund, e)

	e, err = parseEdition("SYNDICATOR")
	require.NoError(t, err)
	assert.Equal(t, model.EditionSyndicator, e)

	_, err = parseEdition("enterprise")
	assert.Error(t, err)
}

func TestResolveWorkspace(t *testing.T) {
	origCfg, origFlag := cfg, workspaceID
	t.Cleanup(func() { cfg, workspaceID = origCfg, origFlag })

	cfg, workspaceID = &config.Config{}, ""
	_, err := resolveWorkspace()
	assert.Error(t, err)

	cfg.API.WorkspaceID = "ws-config"
	id, err := resolveWorkspace()
	require.NoError(t, err)
	assert.Equal(t, "ws-config", id)

	workspaceID = "ws-flag"
	id, err = resolveWorkspace()
	require.NoError(t, err)
	assert.Equal(t, "ws-flag", id)
}

func TestDealSummary_Concurrent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /workspaces/{ws}/deals/{deal}/summary", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusOK, model.DealWorkspaceSummary{
			DealID:              r.PathValue("deal"),
			WorkspaceID:         r.PathValue("ws"),
			DealName:            "Queens 24-Unit",
			GateStatus:          "ADVANCE",
			GateStatusEffective: "ADVANCE",
		})
	})
	mux.HandleFunc("GET /deals/{deal}/activity", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusOK, []model.ActivityEvent{{ID: "e1", Type: "comment", Summary: "looks good"}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env, _ := newTestEnv(t, remoteConfig(t, datasource.PolicyRemote, srv.URL))

	summary, events, err := env.dealSummary(context.Background(), "ws-1", "queens-24")
	require.NoError(t, err)
	assert.Equal(t, "ws-1", summary.WorkspaceID)
	assert.Equal(t, "Queens 24-Unit", summary.DealName)
	require.Len(t, events, 1)
	assert.Equal(t, "looks good", events[0].Summary)
}

func TestDealSummary_ErrorCancels(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /workspaces/{ws}/deals/{deal}/summary", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"forbidden"}`, http.StatusForbidden)
	})
	mux.HandleFunc("GET /deals/{deal}/activity", func(w http.ResponseWriter, r *http.Request) {
		writeJSONStatus(w, http.StatusOK, []model.ActivityEvent{})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	env, _ := newTestEnv(t, remoteConfig(t, datasource.PolicyRemote, srv.URL))

	_, _, err := env.dealSummary(context.Background(), "ws-1", "queens-24")
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, statusFor(err))
}
