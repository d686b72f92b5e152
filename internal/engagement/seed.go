package engagement

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Seed is a backfill file describing historical captures per member.
//
//	members:
//	  - user: alice
//	    workspace: acme
//	    captures:
//	      - at: 2025-01-06T09:00:00Z
//	        alignment: 0.8
type Seed struct {
	Members []SeedMember `yaml:"members"`
}

// SeedMember is one member's history inside a Seed.
type SeedMember struct {
	User      string   `yaml:"user"`
	Workspace string   `yaml:"workspace"`
	Captures  []Sample `yaml:"captures"`
}

// SeedResult is the replayed state for one seed member.
type SeedResult struct {
	User      string
	Workspace string
	State     State
}

// LoadSeed decodes a YAML seed file.
func LoadSeed(r io.Reader) (Seed, error) {
	var s Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		if err == io.EOF {
			return Seed{}, nil
		}
		return Seed{}, fmt.Errorf("decoding seed: %w", err)
	}
	for i, m := range s.Members {
		if m.User == "" || m.Workspace == "" {
			return Seed{}, fmt.Errorf("seed member %d: user and workspace are required", i)
		}
		for j, c := range m.Captures {
			if c.Alignment < 0 || c.Alignment > 1 {
				return Seed{}, fmt.Errorf("seed member %s capture %d: alignment %v out of [0,1]", m.User, j, c.Alignment)
			}
			if c.At.IsZero() {
				return Seed{}, fmt.Errorf("seed member %s capture %d: missing timestamp", m.User, j)
			}
		}
	}
	return s, nil
}

// ReplaySeed replays every member in the seed with the given streak window,
// normally SeedStreakWindow.
func ReplaySeed(s Seed, window time.Duration) []SeedResult {
	out := make([]SeedResult, 0, len(s.Members))
	for _, m := range s.Members {
		out = append(out, SeedResult{
			User:      m.User,
			Workspace: m.Workspace,
			State:     Replay(m.Captures, window),
		})
	}
	return out
}
