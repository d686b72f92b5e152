package scoring

// NeutralAlignment is reported when a workspace has no reference strategy yet.
// It means "no data", not "average performance".
const NeutralAlignment = 0.5

// Score is the drift/alignment pair for one contribution. Both fields are kept
// at full precision; call Rounded before presenting or storing display values.
type Score struct {
	Drift     float64
	Alignment float64
}

// Rounded returns a copy of s with both fields rounded to two decimals.
func (s Score) Rounded() Score {
	return Score{Drift: Round2(s.Drift), Alignment: Round2(s.Alignment)}
}

// Align scores content against the reference embedding. A nil or empty
// reference yields the neutral score.
func Align(content, reference []float32) (Score, error) {
	if len(reference) == 0 {
		return Score{Drift: 1 - NeutralAlignment, Alignment: NeutralAlignment}, nil
	}
	sim, err := CosineSimilarity(content, reference)
	if err != nil {
		return Score{}, err
	}
	drift := clamp(1-sim, 0, 1)
	return Score{Drift: drift, Alignment: 1 - drift}, nil
}

// ClampSentiment bounds a model-reported sentiment to [-1, 1].
func ClampSentiment(v float64) float64 {
	return clamp(v, -1, 1)
}
