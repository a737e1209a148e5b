package features

import (
	"github.com/quantfall/perpintel/internal/core"
)

// computeOI measures open-interest change over 24 periods and classifies
// its sign-alignment with price. A rally on falling OI (short covering)
// is a bearish divergence: the move is not backed by new positioning. A
// decline on falling OI (long liquidation flush) is a bullish divergence.
func computeOI(oi []core.Candle, closes []float64) OIFeatures {
	out := OIFeatures{Alignment: "aligned"}
	if len(oi) == 0 {
		return out
	}
	out.Current = oi[len(oi)-1].Close

	if len(oi) <= oiDeltaPeriods || len(closes) <= oiDeltaPeriods {
		return out
	}
	out.ChangePct = pctChange(oi[len(oi)-1-oiDeltaPeriods].Close, out.Current)
	priceChange := pctChange(closes[len(closes)-1-oiDeltaPeriods], closes[len(closes)-1])

	switch {
	case priceChange > 0 && out.ChangePct < 0:
		out.Alignment = "bearish_divergence"
	case priceChange < 0 && out.ChangePct < 0:
		out.Alignment = "bullish_divergence"
	}
	out.Computed = true

	return out
}

// computeFunding reports the latest rate and its z-score against the
// rolling series. Extremity classification happens in the signal layer
// where the config threshold lives.
func computeFunding(funding []core.FundingPoint) FundingFeatures {
	out := FundingFeatures{}
	if len(funding) == 0 {
		return out
	}
	rates := make([]float64, len(funding))
	for i, p := range funding {
		rates[i] = p.Rate
	}
	out.Current = rates[len(rates)-1]
	if len(rates) < 8 {
		return out
	}
	out.ZScore = zScore(rates)
	out.Computed = true
	return out
}
