package server

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKPIRoutesMeterWritesOnly(t *testing.T) {
	env := newTestEnv(t)
	creds := env.provision(t, "acme")
	memberID := env.addMember(t, creds)

	rec := env.do(t, http.MethodPost, "/v1/kpis", map[string]any{"name": "Revenue", "unit": "usd"}, creds.headers(memberID))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/kpis", map[string]any{"name": "Revenue", "unit": "usd"}, creds.headers(creds.AdminID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var def struct {
		ID string `json:"kpi_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &def))
	require.NotEmpty(t, def.ID)

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	pts := make([]map[string]any, 0, 1500)
	for i := 0; i < 1500; i++ {
		pts = append(pts, map[string]any{
			"ts":    start.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			"value": i,
		})
	}
	headers := creds.headers(creds.AdminID)
	headers[HeaderIdempotencyKey] = "ingest-1"
	rec = env.do(t, http.MethodPost, "/v1/kpis/"+def.ID+"/points", map[string]any{"points": pts}, headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"inserted":1500`)

	replay := env.do(t, http.MethodPost, "/v1/kpis/"+def.ID+"/points", map[string]any{"points": pts}, headers)
	require.Equal(t, http.StatusOK, replay.Code)
	assert.Equal(t, "true", replay.Header().Get(HeaderReplayed))

	totals := env.stack.Totals(t, creds.TenantID)
	assert.True(t, totals.CreditsUsed.Equal(decimal.RequireFromString("2")), totals.CreditsUsed.String())

	rec = env.do(t, http.MethodGet, "/v1/kpis/"+def.ID+"/latest", nil, creds.headers(memberID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"ts":"2025-03-02T00:59:00.000000Z"`)
	assert.Contains(t, rec.Body.String(), `"value":1499`)

	rec = env.do(t, http.MethodGet, "/v1/kpis?limit=10", nil, creds.headers(memberID))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), def.ID)

	rec = env.do(t, http.MethodGet, "/v1/kpis?limit=ten", nil, creds.headers(memberID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/kpis/missing/latest", nil, creds.headers(memberID))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.True(t, env.stack.Totals(t, creds.TenantID).CreditsUsed.Equal(totals.CreditsUsed))
}

func TestKPIIngestValidationIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	creds := env.provision(t, "acme")

	rec := env.do(t, http.MethodPost, "/v1/kpis/any/points", map[string]any{"points": []map[string]any{{"ts": "nope", "value": 1}}}, creds.headers(creds.AdminID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_kpi_timestamp")

	rec = env.do(t, http.MethodPost, "/v1/kpis/any/points", map[string]any{"points": []map[string]any{{"ts": "2025-03-01T00:00:00Z", "value": 1}}}, creds.headers(creds.AdminID))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	_, rows := env.stack.LedgerCredits(t, creds.TenantID)
	assert.Zero(t, rows)
}
