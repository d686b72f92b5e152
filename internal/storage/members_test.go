package storage

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kalambet/driftline/internal/engagement"
)

func TestEnsureMembership_Idempotent(t *testing.T) {
	s := openTestStore(t)
	m1, err := s.EnsureMembership(bg, "u1", "w1")
	if err != nil {
		t.Fatalf("EnsureMembership: %v", err)
	}
	if m1.State.IsScored() {
		t.Error("new membership should be unscored")
	}
	if err := s.SetMembershipState(bg, "u1", "w1", engagement.Scored(0.4, 3, t0)); err != nil {
		t.Fatalf("SetMembershipState: %v", err)
	}
	m2, err := s.EnsureMembership(bg, "u1", "w1")
	if err != nil {
		t.Fatalf("EnsureMembership: %v", err)
	}
	if m2.State.Streak != 3 {
		t.Errorf("EnsureMembership must not reset state, got %+v", m2.State)
	}
}

func TestMembership_ScoredZeroSurvivesRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.EnsureMembership(bg, "u1", "w1"); err != nil {
		t.Fatalf("EnsureMembership: %v", err)
	}
	if err := s.SetMembershipState(bg, "u1", "w1", engagement.Scored(0, 1, t0)); err != nil {
		t.Fatalf("SetMembershipState: %v", err)
	}
	m, err := s.GetMembership(bg, "u1", "w1")
	if err != nil {
		t.Fatalf("GetMembership: %v", err)
	}
	if !m.State.IsScored() {
		t.Error("a legitimately computed traction of 0 must stay scored")
	}
}

func TestMemberHistory_ReplayMatchesLiveState(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.EnsureMembership(bg, "u1", "w1"); err != nil {
		t.Fatalf("EnsureMembership: %v", err)
	}

	samples := []engagement.Sample{
		{Alignment: 0.8, At: t0},
		{Alignment: 0.4, At: t0.Add(10 * time.Hour)},
		{Alignment: 1.0, At: t0.Add(82 * time.Hour)},
	}
	for i, smp := range samples {
		id := string(rune('a' + i))
		saveCapture(t, s, "c"+id, "u1", "w1", smp.At)
		smp := smp
		_, err := s.CompleteCapture(bg, Artifact{ID: "a" + id, CaptureID: "c" + id, AlignmentScore: smp.Alignment, DriftScore: 1 - smp.Alignment, Synthesis: "x", CreatedAt: smp.At}, smp.At,
			func(st engagement.State, at time.Time) engagement.State { return st.Apply(smp.Alignment, at, engagement.LiveStreakWindow) })
		if err != nil {
			t.Fatalf("CompleteCapture: %v", err)
		}
	}
	// Another member's capture must not leak into the history.
	saveCapture(t, s, "other", "u2", "w1", t0)

	history, err := s.MemberHistory(bg, "u1", "w1")
	if err != nil {
		t.Fatalf("MemberHistory: %v", err)
	}
	if diff := cmp.Diff(samples, history); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	live, _ := s.GetMembership(bg, "u1", "w1")
	replayed := engagement.Replay(history, engagement.LiveStreakWindow)
	if replayed.Streak != live.State.Streak || replayed.Traction != live.State.Traction {
		t.Errorf("replay %+v != live %+v", replayed, live.State)
	}
	if live.State.Streak != 1 || live.State.DisplayTraction() != 0.78 {
		t.Errorf("live state = %+v, want streak 1 traction 0.78", live.State)
	}
}

func TestMemberHistory_OutOfOrderCompletions(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.EnsureMembership(bg, "u1", "w1"); err != nil {
		t.Fatalf("EnsureMembership: %v", err)
	}

	// Completions arrive with processing times that go backwards: the second
	// one is clamped to the first so LastAt never regresses.
	done := []time.Time{t0.Add(40 * time.Hour), t0, t0.Add(60 * time.Hour)}
	var last Completion
	for i, at := range done {
		id := string(rune('a' + i))
		saveCapture(t, s, "c"+id, "u1", "w1", t0)
		var err error
		last, err = s.CompleteCapture(bg, Artifact{ID: "a" + id, CaptureID: "c" + id, AlignmentScore: 0.5, DriftScore: 0.5, Synthesis: "x", CreatedAt: t0}, at,
			func(st engagement.State, at time.Time) engagement.State { return st.Apply(0.5, at, engagement.LiveStreakWindow) })
		if err != nil {
			t.Fatalf("CompleteCapture %d: %v", i, err)
		}
		if i == 1 && !last.ProcessedAt.Equal(done[0]) {
			t.Errorf("second completion ProcessedAt = %v, want clamped to %v", last.ProcessedAt, done[0])
		}
	}

	live, err := s.GetMembership(bg, "u1", "w1")
	if err != nil {
		t.Fatalf("GetMembership: %v", err)
	}
	if live.State.Streak != 3 || !live.State.LastAt.Equal(done[2]) {
		t.Errorf("live state = %+v, want streak 3 last %v", live.State, done[2])
	}

	history, err := s.MemberHistory(bg, "u1", "w1")
	if err != nil {
		t.Fatalf("MemberHistory: %v", err)
	}
	replayed := engagement.Replay(history, engagement.LiveStreakWindow)
	if replayed.Streak != live.State.Streak || replayed.Traction != live.State.Traction || !replayed.LastAt.Equal(live.State.LastAt) {
		t.Errorf("replay %+v != live %+v", replayed, live.State)
	}
}
