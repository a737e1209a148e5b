package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/perpintel/internal/core"
)

func TestOutcomeMapsErrorKinds(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "timeout", Outcome(core.NewError(core.KindTimeout, "slow venue")))
	assert.Equal(t, "rate_limited", Outcome(core.NewError(core.KindRateLimited, "429")))
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	RecordPipelineRun("BTCUSDT", "LONG", 2, 120, nil)
	RecordReplaySample("completed")
	SetConfigVersion(3)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "perpintel_pipeline_runs_total")
	assert.Contains(t, body, "perpintel_replay_samples_total")
	assert.Contains(t, body, "perpintel_config_version 3")
}
