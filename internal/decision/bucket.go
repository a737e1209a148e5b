// Package decision aggregates per-timeframe assessments into bucket
// verdicts and applies the hierarchical permission contract to produce the
// final directional decision.
package decision

import (
	"github.com/quantfall/perpintel/internal/core"
	"github.com/quantfall/perpintel/internal/engineconfig"
)

// AggregateBuckets folds per-timeframe assessments into the three bucket
// verdicts. Each timeframe votes weight x confidence for its bias; a bucket
// whose directional scores are within the conflict ratio of each other is
// in conflict and reports WAIT.
func AggregateBuckets(perTF map[core.Timeframe]core.TimeframeAssessment, cfg engineconfig.PipelineConfig) core.BucketSet {
	return core.BucketSet{
		Macro:    aggregateBucket(core.BucketMacro, perTF, cfg),
		Micro:    aggregateBucket(core.BucketMicro, perTF, cfg),
		Scalping: aggregateBucket(core.BucketScalping, perTF, cfg),
	}
}

func aggregateBucket(b core.Bucket, perTF map[core.Timeframe]core.TimeframeAssessment, cfg engineconfig.PipelineConfig) core.BucketVerdict {
	v := core.BucketVerdict{Bias: core.BiasWait}

	totalWeight := 0.0
	for _, tf := range core.BucketTimeframes[b] {
		a, ok := perTF[tf]
		if !ok {
			continue
		}
		w := cfg.TimeframeWeights[tf]
		v.ContributingTimeframes = append(v.ContributingTimeframes, tf)
		totalWeight += w

		switch a.Bias {
		case core.BiasLong:
			v.LongScore += w * a.Confidence
		case core.BiasShort:
			v.ShortScore += w * a.Confidence
		default:
			v.WaitScore += w * a.Confidence
		}
	}
	if totalWeight == 0 {
		return v
	}

	winner, score := core.BiasLong, v.LongScore
	if v.ShortScore > v.LongScore {
		winner, score = core.BiasShort, v.ShortScore
	}
	if score == 0 {
		return v
	}

	// Both directions scoring close together means the bucket disagrees
	// with itself; report WAIT rather than picking a side.
	lesser := min(v.LongScore, v.ShortScore)
	if lesser > 0 && lesser/score > cfg.Penalties.ConflictRatio {
		return v
	}

	v.Bias = winner
	v.Confidence = score / totalWeight
	if v.Confidence > 10 {
		v.Confidence = 10
	}
	return v
}
