// Package regime classifies market conditions into predictive labels. The
// label names what price is expected to do next, not what it just did:
// distribution means downside is expected even while price holds up.
package regime

import (
	"fmt"
	"sort"

	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
	"github.com/quantfall/perpintel/internal/features"
)

// Observation is the flattened condition vector one timeframe presents to
// the rule matrix.
type Observation struct {
	Price     string // up | down | sideways
	OI        string // rising | falling | flat
	CVD       string // buying | selling
	Funding   string // extreme_positive | extreme_negative | not_extreme
	Structure string // bos_up | bos_down | none
}

// Observe flattens a feature bundle into the predicate vocabulary the rule
// matrix is written in.
func Observe(f features.Features, th engineconfig.TimeframeThresholds, gates engineconfig.Gates) Observation {
	obs := Observation{Price: "sideways", OI: "flat", CVD: "", Funding: "not_extreme", Structure: "none"}

	switch {
	case f.Momentum.ChangePct > th.NoisePct:
		obs.Price = "up"
	case f.Momentum.ChangePct < -th.NoisePct:
		obs.Price = "down"
	}

	if f.OI.Computed {
		switch {
		case f.OI.ChangePct > th.OIQuietPct:
			obs.OI = "rising"
		case f.OI.ChangePct < -th.OIQuietPct:
			obs.OI = "falling"
		}
	}

	if f.CVD.Computed && f.CVD.Strong {
		obs.CVD = string(f.CVD.Direction)
	}

	if f.Funding.Computed {
		switch {
		case f.Funding.ZScore >= gates.FundingZExtreme:
			obs.Funding = "extreme_positive"
		case f.Funding.ZScore <= -gates.FundingZExtreme:
			obs.Funding = "extreme_negative"
		}
	}

	if f.Structure.Computed {
		switch f.Structure.BoS {
		case "bullish":
			obs.Structure = "bos_up"
		case "bearish":
			obs.Structure = "bos_down"
		}
	}

	return obs
}

// Classify runs the observation through the config rule matrix in priority
// order. The first rule whose predicates all match wins; no match means the
// market is unclear.
func Classify(obs Observation, rules []engineconfig.RegimeRule) core.RegimeAssessment {
	ordered := make([]engineconfig.RegimeRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })

	for _, r := range ordered {
		if !match(r.Price, obs.Price) ||
			!match(r.OI, obs.OI) ||
			!match(r.CVD, obs.CVD) ||
			!match(r.Funding, obs.Funding) ||
			!match(r.Structure, obs.Structure) {
			continue
		}
		return core.RegimeAssessment{
			Label:           r.Label,
			SubType:         r.SubType,
			Confidence:      ruleConfidence(r),
			Characteristics: characteristics(obs),
		}
	}

	return core.RegimeAssessment{
		Label:           core.RegimeUnclear,
		Confidence:      2,
		Characteristics: characteristics(obs),
	}
}

// match treats "any" as a wildcard. An empty observation value (the
// condition could not be measured) only matches "any".
func match(predicate, value string) bool {
	if predicate == "any" || predicate == "" {
		return true
	}
	return predicate == value
}

// ruleConfidence scores a matched rule by how specific it is: each concrete
// predicate adds conviction on top of a floor of 4.
func ruleConfidence(r engineconfig.RegimeRule) float64 {
	c := 4.0
	for _, p := range []string{r.Price, r.OI, r.CVD, r.Funding, r.Structure} {
		if p != "any" && p != "" {
			c += 0.8
		}
	}
	if c > 10 {
		c = 10
	}
	return c
}

func characteristics(obs Observation) []string {
	out := []string{
		fmt.Sprintf("price %s", obs.Price),
		fmt.Sprintf("oi %s", obs.OI),
	}
	if obs.CVD != "" {
		out = append(out, fmt.Sprintf("cvd %s", obs.CVD))
	}
	if obs.Funding != "not_extreme" {
		out = append(out, fmt.Sprintf("funding %s", obs.Funding))
	}
	if obs.Structure != "none" {
		out = append(out, fmt.Sprintf("structure %s", obs.Structure))
	}
	return out
}
