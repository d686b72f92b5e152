package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/driftline/internal/config"
	"github.com/kalambet/driftline/internal/engagement"
	"github.com/kalambet/driftline/internal/storage"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Recompute engagement from capture history",
	Long: `Recompute engagement from capture history.

With --workspace and --user, the member's processed captures are folded from
scratch using the live streak window and the stored traction and streak are
overwritten. With --seed, members in a YAML backfill file are replayed using
the seed streak window; --apply writes the results to the store.

This command opens the database directly; stop the server first.

Examples:
  driftline replay --workspace acme --user ana
  driftline replay --seed history.yaml --apply`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		seedPath, _ := cmd.Flags().GetString("seed")
		apply, _ := cmd.Flags().GetBool("apply")

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		if seedPath != "" {
			f, err := os.Open(seedPath)
			if err != nil {
				return err
			}
			defer f.Close()
			seed, err := engagement.LoadSeed(f)
			if err != nil {
				return err
			}
			results := engagement.ReplaySeed(seed, cfg.Replay.SeedStreakWindow)
			printSeedResults(os.Stdout, results)
			if apply {
				if err := applySeedResults(cmd.Context(), store, results); err != nil {
					return err
				}
				printSuccess("Wrote %d memberships", len(results))
			}
			return nil
		}

		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		user, err := requireFlag(cmd, "user")
		if err != nil {
			return err
		}
		before, after, n, err := replayMember(cmd.Context(), store, user, ws, cfg.Capture.StreakWindow)
		if err != nil {
			return err
		}
		printStatus("Captures", "%d", n)
		printStatus("Before", "%s", describeState(before))
		printStatus("After", "%s", describeState(after))
		return nil
	},
}

func init() {
	replayCmd.Flags().String("workspace", "", "workspace ID")
	replayCmd.Flags().String("user", "", "member's user ID")
	replayCmd.Flags().String("seed", "", "YAML seed file to replay instead of stored history")
	replayCmd.Flags().Bool("apply", false, "write replayed seed states to the store")
}

// replayMember folds the member's stored history and overwrites the
// membership row with the result.
func replayMember(ctx context.Context, store *storage.Store, user, ws string, window time.Duration) (before, after engagement.State, n int, err error) {
	m, err := store.GetMembership(ctx, user, ws)
	if err != nil {
		return before, after, 0, fmt.Errorf("member %s in %s: %w", user, ws, err)
	}
	samples, err := store.MemberHistory(ctx, user, ws)
	if err != nil {
		return before, after, 0, err
	}
	after = engagement.Replay(samples, window)
	if err := store.SetMembershipState(ctx, user, ws, after); err != nil {
		return before, after, 0, err
	}
	return m.State, after, len(samples), nil
}

func applySeedResults(ctx context.Context, store *storage.Store, results []engagement.SeedResult) error {
	for _, r := range results {
		if _, err := store.EnsureMembership(ctx, r.User, r.Workspace); err != nil {
			return err
		}
		if err := store.SetMembershipState(ctx, r.User, r.Workspace, r.State); err != nil {
			return err
		}
	}
	return nil
}

func describeState(st engagement.State) string {
	if !st.IsScored() {
		return "unscored"
	}
	return fmt.Sprintf("traction %.4f, streak %d, last %s", st.Traction, st.Streak, st.LastAt.Format(time.RFC3339))
}

func printSeedResults(w io.Writer, results []engagement.SeedResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKSPACE\tUSER\tTRACTION\tSTREAK")
	for _, r := range results {
		if !r.State.IsScored() {
			fmt.Fprintf(tw, "%s\t%s\t-\t0\n", r.Workspace, r.User)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%.4f\t%d\n", r.Workspace, r.User, r.State.Traction, r.State.Streak)
	}
	tw.Flush()
}
