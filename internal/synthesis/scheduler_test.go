package synthesis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/usage"
)

type fakeScheduleStore struct {
	workspaces []string
	err        error
	mu         sync.Mutex
	usage      []storage.UsageRecord
	// signals overrides the pending count per workspace; the default is one.
	signals map[string]int
}

func (f *fakeScheduleStore) WorkspacesWithUnprocessedSignals(context.Context) ([]storage.PendingWorkspace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]storage.PendingWorkspace, 0, len(f.workspaces))
	for _, ws := range f.workspaces {
		n := 1
		if c, ok := f.signals[ws]; ok {
			n = c
		}
		out = append(out, storage.PendingWorkspace{WorkspaceID: ws, Signals: n, LatestAt: time.Date(2025, 3, 3, 9, n, 0, 0, time.UTC)})
	}
	return out, nil
}

func (f *fakeScheduleStore) LogUsage(_ context.Context, r storage.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, r)
	return nil
}

type fakeRunner struct {
	mu       sync.Mutex
	runs     []string
	triggers []string
	fail     map[string]bool
	noop     map[string]bool
}

func (f *fakeRunner) Run(ctx context.Context, ws, trigger string) (RunResult, usage.Metrics, error) {
	f.mu.Lock()
	f.runs = append(f.runs, ws)
	f.triggers = append(f.triggers, trigger)
	f.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return RunResult{}, usage.Metrics{}, errors.New("no deadline")
	}
	m := usage.Metrics{InputTokens: 100, OutputTokens: 10}
	if f.fail[ws] {
		return RunResult{}, m, &RunError{Stage: StagePropose, Retryable: true, Err: errors.New("timeout")}
	}
	if f.noop[ws] {
		return RunResult{Skipped: []SkippedOperation{{Reason: "document not found"}}}, m, nil
	}
	return RunResult{Commit: &storage.Commit{ID: "c-" + ws}}, m, nil
}

func TestScheduler_Tick(t *testing.T) {
	store := &fakeScheduleStore{workspaces: []string{"a", "b", "c"}}
	runner := &fakeRunner{fail: map[string]bool{"b": true}}
	s := NewScheduler(store, runner, time.Minute, 30*time.Second)

	if got := s.Tick(context.Background()); got != 2 {
		t.Errorf("Tick = %d commits, want 2", got)
	}
	if len(runner.runs) != 3 {
		t.Errorf("runs = %v, want all three workspaces", runner.runs)
	}
	for _, tr := range runner.triggers {
		if tr != storage.TriggerScheduled {
			t.Errorf("trigger = %q, want scheduled", tr)
		}
	}
	if len(store.usage) != 3 {
		t.Errorf("usage rows = %d, want 3", len(store.usage))
	}
	for _, u := range store.usage {
		if u.Operation != usage.OpSynthesis || u.InputTokens != 100 {
			t.Errorf("usage row = %+v", u)
		}
	}
}

func TestScheduler_SkipsUnchangedBatchWithoutCommit(t *testing.T) {
	store := &fakeScheduleStore{workspaces: []string{"a", "b", "c"}}
	runner := &fakeRunner{noop: map[string]bool{"a": true}, fail: map[string]bool{"b": true}}
	s := NewScheduler(store, runner, time.Minute, 30*time.Second)

	s.Tick(context.Background())
	s.Tick(context.Background())
	// a proposed nothing applicable and is left alone; b failed and is retried.
	want := []string{"a", "b", "c", "b", "c"}
	if diff := cmp.Diff(want, runner.runs); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}
	if len(store.usage) != 5 {
		t.Errorf("usage rows = %d, want 5", len(store.usage))
	}

	// A new signal in a changes its batch.
	store.mu.Lock()
	store.signals = map[string]int{"a": 2}
	store.mu.Unlock()
	runner.runs = nil
	s.Tick(context.Background())
	if diff := cmp.Diff([]string{"a", "b", "c"}, runner.runs); diff != "" {
		t.Errorf("runs after new signal mismatch (-want +got):\n%s", diff)
	}
}

func TestScheduler_DrainedWorkspaceForgotten(t *testing.T) {
	store := &fakeScheduleStore{workspaces: []string{"a"}}
	runner := &fakeRunner{noop: map[string]bool{"a": true}}
	s := NewScheduler(store, runner, time.Minute, time.Second)

	s.Tick(context.Background())
	store.mu.Lock()
	store.workspaces = nil
	store.mu.Unlock()
	s.Tick(context.Background())
	if len(s.settled) != 0 {
		t.Errorf("settled = %v, want empty once nothing is pending", s.settled)
	}

	// The same batch shape reappearing later is proposed again.
	store.mu.Lock()
	store.workspaces = []string{"a"}
	store.mu.Unlock()
	s.Tick(context.Background())
	if len(runner.runs) != 2 {
		t.Errorf("runs = %v, want a run before and after draining", runner.runs)
	}
}

type denyGate struct{ workspace string }

func (g denyGate) Check(_ context.Context, _, ws, op string) (usage.Decision, error) {
	if ws == g.workspace && op == usage.OpSynthesis {
		return usage.Decision{Reason: "daily budget reached"}, nil
	}
	return usage.Decision{Allowed: true}, nil
}

func TestScheduler_QuotaDeniedWorkspaceNotRun(t *testing.T) {
	store := &fakeScheduleStore{workspaces: []string{"a", "b"}}
	runner := &fakeRunner{}
	s := NewScheduler(store, runner, time.Minute, time.Second)
	s.SetQuota(denyGate{workspace: "a"})

	if got := s.Tick(context.Background()); got != 1 {
		t.Errorf("Tick = %d commits, want 1", got)
	}
	if diff := cmp.Diff([]string{"b"}, runner.runs); diff != "" {
		t.Errorf("runs mismatch (-want +got):\n%s", diff)
	}
	if _, ok := s.settled["a"]; ok {
		t.Error("a denied workspace must be retried once the quota allows it")
	}
}

func TestScheduler_TickListError(t *testing.T) {
	store := &fakeScheduleStore{err: errors.New("db closed")}
	runner := &fakeRunner{}
	if got := NewScheduler(store, runner, time.Minute, 0).Tick(context.Background()); got != 0 {
		t.Errorf("Tick = %d, want 0", got)
	}
	if len(runner.runs) != 0 {
		t.Errorf("runs = %v, want none", runner.runs)
	}
}

func TestScheduler_DisabledReturnsImmediately(t *testing.T) {
	s := NewScheduler(&fakeScheduleStore{}, &fakeRunner{}, 0, 0)
	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run with zero interval did not return")
	}
}

func TestScheduler_RunTicksUntilCancel(t *testing.T) {
	store := &fakeScheduleStore{workspaces: []string{"a"}}
	runner := &fakeRunner{}
	s := NewScheduler(store, runner, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		runner.mu.Lock()
		n := len(runner.runs)
		runner.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("scheduler never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
