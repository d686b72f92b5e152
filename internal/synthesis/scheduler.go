package synthesis

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kalambet/driftline/internal/storage"
	"github.com/kalambet/driftline/internal/usage"
)

// ScheduleStore lists pending work and records usage. *storage.Store satisfies it.
type ScheduleStore interface {
	WorkspacesWithUnprocessedSignals(ctx context.Context) ([]storage.PendingWorkspace, error)
	LogUsage(ctx context.Context, r storage.UsageRecord) error
}

// Runner runs synthesis for a workspace. *Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context, workspaceID, trigger string) (RunResult, usage.Metrics, error)
}

// Scheduler periodically runs synthesis for every workspace with
// unprocessed signals. A batch whose run committed nothing is not proposed
// again until its signals change.
type Scheduler struct {
	store    ScheduleStore
	runner   Runner
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	quota    usage.QuotaGate

	mu      sync.Mutex
	settled map[string]storage.PendingWorkspace
}

// NewScheduler creates a Scheduler. A positive timeout bounds each run.
func NewScheduler(store ScheduleStore, runner Runner, interval, timeout time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		runner:   runner,
		interval: interval,
		timeout:  timeout,
		logger:   slog.Default(),
		quota:    usage.AllowAll{},
		settled:  make(map[string]storage.PendingWorkspace),
	}
}

// SetQuota makes every scheduled run pass g first.
func (s *Scheduler) SetQuota(g usage.QuotaGate) {
	s.quota = g
}

// Run ticks until ctx is cancelled. It returns immediately when the interval
// is not positive.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduled pass and returns the number of commits written.
// Workspaces are processed one after another.
func (s *Scheduler) Tick(ctx context.Context) int {
	pending, err := s.store.WorkspacesWithUnprocessedSignals(ctx)
	if err != nil {
		s.logger.Error("listing workspaces with pending signals", "error", err)
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgetDrained(pending)

	commits := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			break
		}
		if prev, ok := s.settled[p.WorkspaceID]; ok && sameBatch(prev, p) {
			s.logger.Debug("skipping unchanged batch", "workspace_id", p.WorkspaceID, "signals", p.Signals)
			continue
		}
		delete(s.settled, p.WorkspaceID)
		if !s.allowed(ctx, p.WorkspaceID) {
			continue
		}
		committed, ok := s.runOne(ctx, p.WorkspaceID)
		switch {
		case committed:
			commits++
		case ok:
			s.settled[p.WorkspaceID] = p
		}
	}
	return commits
}

func (s *Scheduler) allowed(ctx context.Context, workspaceID string) bool {
	d, err := s.quota.Check(ctx, "", workspaceID, usage.OpSynthesis)
	if err != nil {
		s.logger.Warn("quota check failed", "workspace_id", workspaceID, "error", err)
		return false
	}
	if !d.Allowed {
		s.logger.Info("scheduled synthesis denied", "workspace_id", workspaceID, "reason", d.Reason)
	}
	return d.Allowed
}

func sameBatch(a, b storage.PendingWorkspace) bool {
	return a.Signals == b.Signals && a.LatestAt.Equal(b.LatestAt)
}

// forgetDrained drops markers for workspaces that no longer have pending
// signals.
func (s *Scheduler) forgetDrained(pending []storage.PendingWorkspace) {
	live := make(map[string]bool, len(pending))
	for _, p := range pending {
		live[p.WorkspaceID] = true
	}
	for ws := range s.settled {
		if !live[ws] {
			delete(s.settled, ws)
		}
	}
}

// runOne reports whether the run committed and whether it finished without
// error.
func (s *Scheduler) runOne(ctx context.Context, workspaceID string) (committed, ok bool) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, m, err := s.runner.Run(ctx, workspaceID, storage.TriggerScheduled)
	if m.InputTokens > 0 || m.OutputTokens > 0 {
		if uErr := usage.Record(ctx, s.store, workspaceID, "", usage.OpSynthesis, m); uErr != nil {
			s.logger.Error("recording usage", "workspace_id", workspaceID, "error", uErr)
		}
	}
	if err != nil {
		s.logger.Warn("scheduled synthesis failed", "workspace_id", workspaceID, "error", err)
		return false, false
	}
	return res.Commit != nil, true
}
