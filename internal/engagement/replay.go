package engagement

import (
	"sort"
	"time"
)

// Sample is one scored contribution.
type Sample struct {
	Alignment float64   `yaml:"alignment" json:"alignment"`
	At        time.Time `yaml:"at" json:"at"`
}

// Replay rebuilds a member's state from scratch. Samples are folded in
// chronological order; ties keep their input order.
func Replay(samples []Sample, window time.Duration) State {
	ordered := make([]Sample, len(samples))
	copy(ordered, samples)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].At.Before(ordered[j].At)
	})

	s := Unscored()
	for _, smp := range ordered {
		s = s.Apply(smp.Alignment, smp.At, window)
	}
	return s
}
