package divergence

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
)

func settings() engineconfig.DivergenceSettings {
	return engineconfig.Default().Divergence
}

func venue(ex core.Exchange, oiPct float64, cvd core.CVDDirection, strong bool, fundingZ float64) VenueSnapshot {
	return VenueSnapshot{Exchange: ex, OIChangePct: oiPct, CVD: cvd, CVDStrong: strong, FundingZ: fundingZ}
}

func TestAnalyzeScenarios(t *testing.T) {
	tests := []struct {
		name     string
		retail   VenueSnapshot
		whale    VenueSnapshot
		scenario core.DivergenceScenario
		bias     core.Bias
	}{
		{
			"whale distribution",
			venue(core.ExchangeBinance, 0.2, core.CVDBuying, false, 0.5),
			venue(core.ExchangeBybit, 2.5, core.CVDSelling, true, 0.2),
			core.ScenarioWhaleDistribution, core.BiasShort,
		},
		{
			"whale accumulation",
			venue(core.ExchangeBinance, -0.1, core.CVDSelling, false, -0.3),
			venue(core.ExchangeBybit, 2.0, core.CVDBuying, true, 0.1),
			core.ScenarioWhaleAccumulation, core.BiasLong,
		},
		{
			"retail fomo rally",
			venue(core.ExchangeBinance, 3.0, core.CVDBuying, true, 2.5),
			venue(core.ExchangeBybit, 0.3, core.CVDBuying, false, 0.4),
			core.ScenarioRetailFomoRally, core.BiasShort,
		},
		{
			"short squeeze setup",
			venue(core.ExchangeBinance, 2.8, core.CVDSelling, true, -1.0),
			venue(core.ExchangeBybit, 0.1, core.CVDSelling, false, -0.2),
			core.ScenarioShortSqueezeSetup, core.BiasLong,
		},
		{
			"synchronized bullish",
			venue(core.ExchangeBinance, 3.5, core.CVDBuying, true, 0.5),
			venue(core.ExchangeBybit, 1.2, core.CVDBuying, true, 0.4),
			core.ScenarioSyncBullish, core.BiasLong,
		},
		{
			"synchronized bearish",
			venue(core.ExchangeBinance, -3.0, core.CVDSelling, true, -0.5),
			venue(core.ExchangeBybit, -1.1, core.CVDSelling, true, -0.3),
			core.ScenarioSyncBearish, core.BiasShort,
		},
		{
			"binance noise mid band",
			venue(core.ExchangeBinance, 0.9, core.CVDBuying, false, 0.2),
			venue(core.ExchangeBybit, 0.1, core.CVDBuying, false, 0.1),
			core.ScenarioBinanceNoise, core.BiasWait,
		},
		{
			"bybit leading mid band",
			venue(core.ExchangeBinance, 0.1, core.CVDBuying, false, 0.2),
			venue(core.ExchangeBybit, 0.9, core.CVDBuying, false, 0.1),
			core.ScenarioBybitLeading, core.BiasWait,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Analyze(tt.retail, tt.whale, settings(), 2)
			assert.Equal(t, tt.scenario, got.Scenario)
			assert.Equal(t, tt.bias, got.Bias)
			if tt.bias == core.BiasWait {
				assert.LessOrEqual(t, got.Confidence, 4.0)
			} else {
				assert.GreaterOrEqual(t, got.Confidence, 5.0)
			}
		})
	}
}

func TestAnalyzeActivationFloor(t *testing.T) {
	// Venues within half a percent of each other carry no signal.
	retail := venue(core.ExchangeBinance, 0.3, core.CVDBuying, true, 0.5)
	whale := venue(core.ExchangeBybit, 0.1, core.CVDSelling, true, 0.2)

	got := Analyze(retail, whale, settings(), 2)

	assert.Equal(t, core.ScenarioUnclear, got.Scenario)
	assert.Equal(t, core.BiasWait, got.Bias)
	assert.NotEmpty(t, got.Warnings)
}

func TestAnalyzeNoDirectionalCallInsideFloor(t *testing.T) {
	// Whale selling hard but the oi delta is inside the activation floor:
	// the scenario must stay observational.
	retail := venue(core.ExchangeBinance, 0.2, core.CVDBuying, false, 0.3)
	whale := venue(core.ExchangeBybit, 1.0, core.CVDSelling, true, 0.1)

	got := Analyze(retail, whale, settings(), 2)

	assert.Equal(t, core.BiasWait, got.Bias)
	assert.Equal(t, core.ScenarioBybitLeading, got.Scenario)
}

func TestAnalyzeWhaleWithoutConvictionIsObservational(t *testing.T) {
	retail := venue(core.ExchangeBinance, 0.1, core.CVDBuying, false, 0.2)
	whale := venue(core.ExchangeBybit, 2.2, core.CVDBuying, false, 0.3)

	got := Analyze(retail, whale, settings(), 2)

	assert.Equal(t, core.ScenarioBybitLeading, got.Scenario)
	assert.Equal(t, core.BiasWait, got.Bias)
}
