package replay

import (
	"sort"

	"github.com/quantfall/perpintel/internal/core"
)

// ScoreRow aggregates outcome labels for one grouping key.
type ScoreRow struct {
	Key          string  `json:"key"`
	Continuation int     `json:"continuation"`
	Reversal     int     `json:"reversal"`
	Noise        int     `json:"noise"`
	Total        int     `json:"total"`
	HitRate      float64 `json:"hit_rate"`
}

// Scoreboard summarizes labeled replay states: how often each regime label,
// divergence scenario, and bias was borne out.
type Scoreboard struct {
	Samples    int        `json:"samples"`
	ByRegime   []ScoreRow `json:"by_regime"`
	ByScenario []ScoreRow `json:"by_scenario"`
	ByBias     []ScoreRow `json:"by_bias"`
}

// BuildScoreboard folds labeled records into grouped hit rates. PENDING
// records are excluded. HitRate counts CONTINUATION over graded directional
// outcomes (continuation + reversal); an all-noise group scores zero.
func BuildScoreboard(records []StateRecord) Scoreboard {
	byRegime := make(map[string]*ScoreRow)
	byScenario := make(map[string]*ScoreRow)
	byBias := make(map[string]*ScoreRow)

	samples := 0
	for _, rec := range records {
		if rec.OutcomeLabel == core.OutcomePending || rec.OutcomeLabel == "" {
			continue
		}
		samples++
		tally(byRegime, string(rec.Regime.Label), rec.OutcomeLabel)
		tally(byScenario, string(rec.Divergence.Scenario), rec.OutcomeLabel)
		tally(byBias, string(rec.Final.Bias), rec.OutcomeLabel)
	}

	return Scoreboard{
		Samples:    samples,
		ByRegime:   finish(byRegime),
		ByScenario: finish(byScenario),
		ByBias:     finish(byBias),
	}
}

func tally(m map[string]*ScoreRow, key string, label core.OutcomeLabel) {
	row, ok := m[key]
	if !ok {
		row = &ScoreRow{Key: key}
		m[key] = row
	}
	row.Total++
	switch label {
	case core.OutcomeContinuation:
		row.Continuation++
	case core.OutcomeReversal:
		row.Reversal++
	case core.OutcomeNoise:
		row.Noise++
	}
}

func finish(m map[string]*ScoreRow) []ScoreRow {
	out := make([]ScoreRow, 0, len(m))
	for _, row := range m {
		if graded := row.Continuation + row.Reversal; graded > 0 {
			row.HitRate = float64(row.Continuation) / float64(graded)
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
