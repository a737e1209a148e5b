package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/replay"
)

const hourMs = int64(60 * 60 * 1000)

type stubRunner struct {
	mu   sync.Mutex
	errs map[int64]error
}

func (r *stubRunner) Run(ctx context.Context, symbol string, asOfMs int64, cfg engineconfig.PipelineConfig) (core.MarketState, error) {
	r.mu.Lock()
	err := r.errs[asOfMs]
	r.mu.Unlock()
	if err != nil {
		return core.MarketState{}, err
	}
	return core.MarketState{
		SchemaVersion:    core.StateSchemaVersion,
		ConfigVersion:    cfg.Version,
		Timestamp:        asOfMs,
		Symbol:           symbol,
		PrimaryTimeframe: core.Timeframe1h,
		Final: core.FinalDecision{
			Bias:        core.BiasWait,
			TradeStance: core.StanceAvoidTrading,
		},
		Regime: core.RegimeAssessment{Label: core.RegimeChop},
	}, nil
}

type memBatchStore struct {
	mu      sync.Mutex
	batches map[string]replay.Batch
}

func (s *memBatchStore) Create(_ context.Context, b replay.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
	return nil
}

func (s *memBatchStore) Get(_ context.Context, id string) (replay.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return replay.Batch{}, core.NewError(core.KindNotFound, "batch %s not found", id)
	}
	return b, nil
}

func (s *memBatchStore) Update(_ context.Context, b replay.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
	return nil
}

func (s *memBatchStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, id)
	return nil
}

type memStateStore struct {
	mu      sync.Mutex
	records []replay.StateRecord
}

func (s *memStateStore) Save(_ context.Context, rec replay.StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memStateStore) Exists(_ context.Context, symbol string, asOfMs int64, configVersion int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.Symbol == symbol && rec.Timestamp == asOfMs && rec.ConfigVersion == configVersion {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStateStore) ByBatch(_ context.Context, batchID string) ([]replay.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []replay.StateRecord
	for _, rec := range s.records {
		if rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *memStateStore) Labeled(_ context.Context, rec replay.StateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			s.records[i] = rec
			return nil
		}
	}
	return core.NewError(core.KindNotFound, "record %s not found", rec.ID)
}

func (s *memStateStore) DeleteByBatch(_ context.Context, batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	for _, rec := range s.records {
		if rec.BatchID != batchID {
			kept = append(kept, rec)
		}
	}
	s.records = kept
	return nil
}

func (s *memStateStore) AllLabeled(_ context.Context, symbol string) ([]replay.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []replay.StateRecord
	for _, rec := range s.records {
		if rec.OutcomeLabel == core.OutcomePending || rec.OutcomeLabel == "" {
			continue
		}
		if symbol != "" && rec.Symbol != symbol {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func newTestServer(t *testing.T) (*Server, *stubRunner, *memStateStore) {
	t.Helper()
	runner := &stubRunner{errs: make(map[int64]error)}
	configs := engineconfig.NewStore(nil)
	batches := &memBatchStore{batches: make(map[string]replay.Batch)}
	states := &memStateStore{}
	orch := replay.NewOrchestrator(runner, batches, states, configs, zerolog.Nop())

	s := NewServer(Config{
		Host:    "127.0.0.1",
		Port:    0,
		Runner:  runner,
		Configs: configs,
		Replay:  orch,
		States:  states,
	})
	return s, runner, states
}

func doJSON(s *Server, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeRequiresSymbol(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodGet, "/api/v1/analyze", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "symbol")
}

func TestAnalyzeReturnsState(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodGet, "/api/v1/analyze?symbol=BTCUSDT&as_of_ms=3600000", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var state core.MarketState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "BTCUSDT", state.Symbol)
	assert.Equal(t, core.StateSchemaVersion, state.SchemaVersion)
	assert.Equal(t, int64(3600000), state.Timestamp)
}

func TestAnalyzeMapsTimeoutTo504(t *testing.T) {
	s, runner, _ := newTestServer(t)
	runner.errs[hourMs] = core.NewError(core.KindTimeout, "venue unreachable")

	rec := doJSON(s, http.MethodGet, fmt.Sprintf("/api/v1/analyze?symbol=BTCUSDT&as_of_ms=%d", hourMs), nil)
	require.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, rec.Body.String(), "timeout")
}

func TestConfigUpdateStaleVersionConflicts(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodPut, "/api/v1/config", updateConfigRequest{
		Config:         engineconfig.Default(),
		BasedOnVersion: 99,
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var body struct {
		Kind    string         `json:"kind"`
		Context map[string]any `json:"context"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "version_conflict", body.Kind)
	assert.EqualValues(t, 1, body.Context["current_version"])
}

func TestConfigUpdateAndHistory(t *testing.T) {
	s, _, _ := newTestServer(t)

	proposed := engineconfig.Default()
	proposed.Gates.FundingZExtreme *= 1.05 // inside the 10% gate bound

	rec := doJSON(s, http.MethodPut, "/api/v1/config", updateConfigRequest{
		Config:         proposed,
		BasedOnVersion: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var applied engineconfig.PipelineConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	assert.Equal(t, 2, applied.Version)

	rec = doJSON(s, http.MethodGet, "/api/v1/config/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history struct {
		ActiveVersion int                          `json:"active_version"`
		History       []engineconfig.HistoryEntry  `json:"history"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Equal(t, 2, history.ActiveVersion)
	assert.Len(t, history.History, 2)
}

func TestConfigValidateEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/v1/config/validate", engineconfig.Default())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)

	broken := engineconfig.Default()
	broken.Weights.Signals[core.SignalStructure] = 0.9 // weight sum leaves 1.0

	rec = doJSON(s, http.MethodPost, "/api/v1/config/validate", broken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":false`)
	assert.Contains(t, rec.Body.String(), "sum to 1.0")
}

func TestConfigRollback(t *testing.T) {
	s, _, _ := newTestServer(t)

	proposed := engineconfig.Default()
	proposed.Gates.FundingZExtreme *= 1.05
	rec := doJSON(s, http.MethodPut, "/api/v1/config", updateConfigRequest{Config: proposed, BasedOnVersion: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(s, http.MethodPost, "/api/v1/config/rollback", rollbackRequest{Version: 1})
	require.Equal(t, http.StatusOK, rec.Code)

	var applied engineconfig.PipelineConfig
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &applied))
	assert.Equal(t, 3, applied.Version)

	rec = doJSON(s, http.MethodPost, "/api/v1/config/rollback", rollbackRequest{Version: 42})
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfigExportImportRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodGet, "/api/v1/config/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/config/import", bytes.NewReader(rec.Body.Bytes()))
	out := httptest.NewRecorder()
	s.router.ServeHTTP(out, req)
	require.Equal(t, http.StatusOK, out.Code)

	var result engineconfig.ImportResult
	require.NoError(t, json.Unmarshal(out.Body.Bytes(), &result))
	assert.False(t, result.Applied)
	assert.True(t, result.NoChanges)
}

func TestReplayBatchLifecycle(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/v1/replay/batch", replay.Request{
		Symbol:   "BTCUSDT",
		StartMs:  hourMs,
		EndMs:    4 * hourMs,
		StepSize: core.Timeframe1h,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var batch replay.Batch
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &batch))
	require.NotEmpty(t, batch.ID)
	assert.Equal(t, 4, batch.Total)

	require.Eventually(t, func() bool {
		status := doJSON(s, http.MethodGet, "/api/v1/replay/status/"+batch.ID, nil)
		if status.Code != http.StatusOK {
			return false
		}
		var b replay.Batch
		if err := json.Unmarshal(status.Body.Bytes(), &b); err != nil {
			return false
		}
		return b.Status == replay.StatusCompleted
	}, 5*time.Second, 5*time.Millisecond)

	results := doJSON(s, http.MethodGet, "/api/v1/replay/results/"+batch.ID, nil)
	require.Equal(t, http.StatusOK, results.Code)
	var body struct {
		Count   int                  `json:"count"`
		Results []replay.StateRecord `json:"results"`
	}
	require.NoError(t, json.Unmarshal(results.Body.Bytes(), &body))
	assert.Equal(t, 4, body.Count)
}

func TestReplayStatusUnknownBatchIs404(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodGet, "/api/v1/replay/status/nope", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReplaySingleRequiresPositiveAsOf(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodPost, "/api/v1/replay/single", singleReplayRequest{Symbol: "BTCUSDT"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScoreboardFiltersBySymbol(t *testing.T) {
	s, _, states := newTestServer(t)

	add := func(symbol string, label core.OutcomeLabel) {
		states.records = append(states.records, replay.StateRecord{
			ID: fmt.Sprintf("rec-%d", len(states.records)),
			LabeledState: core.LabeledState{
				MarketState: core.MarketState{
					Symbol: symbol,
					Final:  core.FinalDecision{Bias: core.BiasLong},
					Regime: core.RegimeAssessment{Label: core.RegimeHealthyBull},
				},
				OutcomeLabel: label,
			},
		})
	}
	add("BTCUSDT", core.OutcomeContinuation)
	add("BTCUSDT", core.OutcomeReversal)
	add("ETHUSDT", core.OutcomeContinuation)
	add("BTCUSDT", core.OutcomePending) // excluded

	rec := doJSON(s, http.MethodGet, "/api/v1/replay/scoreboard?symbol=BTCUSDT", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var board replay.Scoreboard
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &board))
	assert.Equal(t, 2, board.Samples)
	require.Len(t, board.ByBias, 1)
	assert.InDelta(t, 0.5, board.ByBias[0].HitRate, 1e-9)
}

func TestHealthzWithoutDatabase(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := doJSON(s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}
