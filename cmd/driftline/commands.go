package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/driftline/internal/canon"
	"github.com/kalambet/driftline/internal/config"
)

// Response shapes decoded from the API.

type artifactResult struct {
	ID             string  `json:"id"`
	AlignmentScore float64 `json:"alignment_score"`
	DriftScore     float64 `json:"drift_score"`
	SentimentScore float64 `json:"sentiment_score"`
	Synthesis      string  `json:"synthesis"`
	ActionItems    []struct {
		Task   string `json:"task"`
		Status string `json:"status"`
	} `json:"action_items"`
	Feedback string `json:"feedback"`
}

type engagementResult struct {
	Member   bool    `json:"member"`
	Scored   bool    `json:"scored"`
	Traction float64 `json:"traction_score"`
	Streak   int     `json:"streak_count"`
}

type captureResult struct {
	Capture struct {
		ID string `json:"id"`
	} `json:"capture"`
	Artifact   *artifactResult   `json:"artifact"`
	Engagement *engagementResult `json:"engagement"`
	Usage      *struct {
		InputTokens  int     `json:"input_tokens"`
		OutputTokens int     `json:"output_tokens"`
		CostUSD      float64 `json:"cost_usd"`
	} `json:"usage"`
	JobID string `json:"job_id"`
}

type commitResult struct {
	ID          string    `json:"id"`
	Seq         int       `json:"seq"`
	ParentID    string    `json:"parent_id"`
	Summary     string    `json:"summary"`
	Trigger     string    `json:"trigger"`
	SignalCount int       `json:"signal_count"`
	CreatedAt   time.Time `json:"created_at"`
}

type versionResult struct {
	DocumentID string    `json:"document_id"`
	CommitID   string    `json:"commit_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	ChangeType string    `json:"change_type"`
	CreatedAt  time.Time `json:"created_at"`
}

type commitDetailResult struct {
	commitResult
	Versions  []versionResult `json:"versions"`
	SignalIDs []string        `json:"signal_ids"`
}

type runResult struct {
	Summary    string        `json:"summary"`
	Commit     *commitResult `json:"commit"`
	Operations []struct {
		Action     string `json:"action"`
		ChangeType string `json:"change_type"`
		Title      string `json:"title"`
	} `json:"operations"`
	Skipped []struct {
		Operation struct {
			Action string `json:"action"`
			Title  string `json:"title"`
		} `json:"operation"`
		Reason string `json:"reason"`
	} `json:"skipped"`
	PriorityRecommendations []struct {
		SignalID string `json:"signalId"`
		Priority string `json:"priority"`
	} `json:"priority_recommendations"`
	SignalsConsumed int `json:"signals_consumed"`
}

type signalResult struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	AIPriority    string    `json:"ai_priority"`
	HumanPriority string    `json:"human_priority"`
	CommitID      string    `json:"commit_id"`
	CreatedAt     time.Time `json:"created_at"`
}

type documentResult struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

type hitResult struct {
	ID      string  `json:"id"`
	Kind    string  `json:"kind"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// readContent returns --text, or the contents of --file. PDF files are
// converted to text.
func readContent(cmd *cobra.Command) (string, error) {
	text, _ := cmd.Flags().GetString("text")
	file, _ := cmd.Flags().GetString("file")
	switch {
	case text != "" && file != "":
		return "", fmt.Errorf("--text and --file are mutually exclusive")
	case text != "":
		return text, nil
	case file != "":
		return canon.ReadFile(file)
	default:
		return "", fmt.Errorf("one of --text or --file is required")
	}
}

func addContentFlags(cmd *cobra.Command, what string) {
	cmd.Flags().String("text", "", what+" text")
	cmd.Flags().String("file", "", "read "+what+" from a text or PDF file")
}

// --- capture ---

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Submit an update for alignment scoring",
	Long: `Submit an update for alignment scoring.

Examples:
  driftline capture --workspace acme --user ana --text "Closed the SSO deal with Globex"
  driftline capture --workspace acme --user ana --file standup.txt --async`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		user, err := requireFlag(cmd, "user")
		if err != nil {
			return err
		}
		text, err := readContent(cmd)
		if err != nil {
			return err
		}
		source, _ := cmd.Flags().GetString("source")
		async, _ := cmd.Flags().GetBool("async")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := submitCapture(cmd.Context(), client, map[string]any{
			"workspace_id": ws,
			"user_id":      user,
			"text":         text,
			"source":       source,
		}, async)
		if err != nil {
			return err
		}
		printCapture(os.Stdout, res)
		return nil
	},
}

func init() {
	captureCmd.Flags().String("workspace", "", "workspace ID")
	captureCmd.Flags().String("user", "", "author's user ID")
	captureCmd.Flags().String("source", "web", "capture source: web or voice")
	captureCmd.Flags().Bool("async", false, "queue the capture and return immediately")
	addContentFlags(captureCmd, "update")
}

func submitCapture(ctx context.Context, c *apiClient, body map[string]any, async bool) (captureResult, error) {
	path := "/captures"
	if async {
		path += "?async=true"
	}
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return captureResult{}, err
	}
	var res captureResult
	if err := decodeJSON(resp, &res); err != nil {
		return captureResult{}, err
	}
	return res, nil
}

func printCapture(w io.Writer, res captureResult) {
	if res.JobID != "" {
		fmt.Fprintf(w, "Queued capture %s (job %s)\n", res.Capture.ID, res.JobID)
		return
	}
	fmt.Fprintf(w, "Capture %s\n", res.Capture.ID)
	if a := res.Artifact; a != nil {
		fmt.Fprintf(w, "  Alignment: %s\n", score(a.AlignmentScore))
		fmt.Fprintf(w, "  Sentiment: %.2f\n", a.SentimentScore)
		fmt.Fprintf(w, "  Synthesis: %s\n", a.Synthesis)
		for _, item := range a.ActionItems {
			fmt.Fprintf(w, "    [%s] %s\n", item.Status, item.Task)
		}
		if a.Feedback != "" {
			fmt.Fprintf(w, "  Feedback:  %s\n", a.Feedback)
		}
	}
	if e := res.Engagement; e != nil {
		if e.Member {
			fmt.Fprintf(w, "  Traction:  %s (streak %d)\n", score(e.Traction), e.Streak)
		} else {
			fmt.Fprintln(w, "  Traction:  not a workspace member")
		}
	}
	if u := res.Usage; u != nil {
		fmt.Fprintf(w, "  Usage:     %d in / %d out tokens, $%.6f\n", u.InputTokens, u.OutputTokens, u.CostUSD)
	}
}

// --- member ---

var memberCmd = &cobra.Command{
	Use:   "member",
	Short: "Enrol members and show engagement",
}

var memberShowCmd = &cobra.Command{
	Use:   "show <user>",
	Short: "Show a member's traction and streak",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return memberRequest(cmd, args[0], false)
	},
}

var memberEnrolCmd = &cobra.Command{
	Use:   "enrol <user>",
	Short: "Enrol a user as a workspace member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return memberRequest(cmd, args[0], true)
	},
}

func memberRequest(cmd *cobra.Command, user string, enrol bool) error {
	ws, err := requireFlag(cmd, "workspace")
	if err != nil {
		return err
	}
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	path := workspacePath(ws, "/members/"+url.PathEscape(user))
	var resp *http.Response
	if enrol {
		resp, err = client.post(cmd.Context(), path, nil)
	} else {
		resp, err = client.get(cmd.Context(), path)
	}
	if err != nil {
		return err
	}
	var m engagementResult
	if err := decodeJSON(resp, &m); err != nil {
		return err
	}
	if !m.Scored {
		printStatus(user, "no captures scored yet")
		return nil
	}
	printStatus(user, "traction %s, streak %d", score(m.Traction), m.Streak)
	return nil
}

func init() {
	memberCmd.PersistentFlags().String("workspace", "", "workspace ID")
	memberCmd.AddCommand(memberShowCmd)
	memberCmd.AddCommand(memberEnrolCmd)
}

// --- canon ---

var canonCmd = &cobra.Command{
	Use:   "canon",
	Short: "Manage the workspace reference strategy",
}

var canonSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the reference strategy captures are scored against",
	Long: `Set the reference strategy captures are scored against. Earlier
strategies are kept; the newest one is used for scoring.

Examples:
  driftline canon set --workspace acme --file strategy.pdf
  driftline canon set --workspace acme --text "Win the mid-market with self-serve onboarding"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		text, err := readContent(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), workspacePath(ws, "/canon"), map[string]any{"content": text})
		if err != nil {
			return err
		}
		var res struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Reference strategy %s set for %s", res.ID, ws)
		return nil
	},
}

func init() {
	canonSetCmd.Flags().String("workspace", "", "workspace ID")
	addContentFlags(canonSetCmd, "strategy")
	canonCmd.AddCommand(canonSetCmd)
}

// --- signals ---

var signalsCmd = &cobra.Command{
	Use:   "signals",
	Short: "Add, review and list synthesis signals",
}

var signalsAddCmd = &cobra.Command{
	Use:   "add <content>",
	Short: "Record a signal for the next synthesis run",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		priority, _ := cmd.Flags().GetString("priority")
		conversation, _ := cmd.Flags().GetString("conversation")
		message, _ := cmd.Flags().GetString("message")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), workspacePath(ws, "/signals"), map[string]any{
			"content":         strings.Join(args, " "),
			"priority":        priority,
			"conversation_id": conversation,
			"message_id":      message,
		})
		if err != nil {
			return err
		}
		var sig signalResult
		if err := decodeJSON(resp, &sig); err != nil {
			return err
		}
		printSuccess("Added signal %s (%s)", sig.ID, sig.AIPriority)
		return nil
	},
}

var signalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List signals",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		pending, _ := cmd.Flags().GetBool("pending")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		path := workspacePath(ws, "/signals")
		if pending {
			path += "?unprocessed=true"
		}
		sigs, err := listSignals(cmd.Context(), client, path)
		if err != nil {
			return err
		}
		printSignals(os.Stdout, sigs)
		return nil
	},
}

var signalsPrioritizeCmd = &cobra.Command{
	Use:   "prioritize <id> <low|medium|high|critical>",
	Short: "Set a human-reviewed priority on a signal",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), workspacePath(ws, "/signals/"+url.PathEscape(args[0])), map[string]any{"priority": args[1]})
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Signal %s priority set to %s", args[0], args[1])
		return nil
	},
}

var signalsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a signal that has not been synthesized yet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), workspacePath(ws, "/signals/"+url.PathEscape(args[0])))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted signal %s", args[0])
		return nil
	},
}

func init() {
	signalsCmd.PersistentFlags().String("workspace", "", "workspace ID")
	signalsAddCmd.Flags().String("priority", "medium", "initial priority: low, medium, high or critical")
	signalsAddCmd.Flags().String("conversation", "", "source conversation ID")
	signalsAddCmd.Flags().String("message", "", "source message ID")
	signalsListCmd.Flags().Bool("pending", false, "only signals not yet synthesized")
	signalsCmd.AddCommand(signalsAddCmd)
	signalsCmd.AddCommand(signalsListCmd)
	signalsCmd.AddCommand(signalsPrioritizeCmd)
	signalsCmd.AddCommand(signalsRemoveCmd)
}

func listSignals(ctx context.Context, c *apiClient, path string) ([]signalResult, error) {
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var sigs []signalResult
	if err := decodeJSON(resp, &sigs); err != nil {
		return nil, err
	}
	return sigs, nil
}

func printSignals(w io.Writer, sigs []signalResult) {
	if len(sigs) == 0 {
		fmt.Fprintln(w, "No signals.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPRIORITY\tSTATE\tCONTENT")
	for _, s := range sigs {
		priority := s.AIPriority
		if s.HumanPriority != "" {
			priority = s.HumanPriority + "*"
		}
		state := "pending"
		if s.CommitID != "" {
			state = "synthesized"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, priority, state, preview(s.Content, 60))
	}
	tw.Flush()
}

// --- synthesize ---

var synthesizeCmd = &cobra.Command{
	Use:   "synthesize",
	Short: "Fold pending signals into the knowledge base",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		run, err := runSynthesis(cmd.Context(), client, ws)
		if err != nil {
			return err
		}
		printRun(os.Stdout, run)
		return nil
	},
}

func init() {
	synthesizeCmd.Flags().String("workspace", "", "workspace ID")
}

func runSynthesis(ctx context.Context, c *apiClient, ws string) (runResult, error) {
	resp, err := c.post(ctx, workspacePath(ws, "/synthesis/runs"), nil)
	if err != nil {
		return runResult{}, err
	}
	var run runResult
	if err := decodeJSON(resp, &run); err != nil {
		return runResult{}, err
	}
	return run, nil
}

func printRun(w io.Writer, run runResult) {
	if run.Commit == nil {
		if len(run.Skipped) == 0 {
			fmt.Fprintln(w, "Nothing to synthesize.")
		} else {
			fmt.Fprintln(w, "No applicable changes; nothing committed.")
		}
	} else {
		fmt.Fprintf(w, "Commit %s (#%d): %s\n", run.Commit.ID, run.Commit.Seq, run.Summary)
		fmt.Fprintf(w, "  %d signals consumed\n", run.SignalsConsumed)
		for _, op := range run.Operations {
			fmt.Fprintf(w, "  %-9s %s\n", op.ChangeType, op.Title)
		}
	}
	for _, s := range run.Skipped {
		fmt.Fprintf(w, "  skipped %s %q: %s\n", s.Operation.Action, s.Operation.Title, s.Reason)
	}
	for _, r := range run.PriorityRecommendations {
		fmt.Fprintf(w, "  recommend %s -> %s\n", r.SignalID, r.Priority)
	}
}

// --- commits ---

var commitsCmd = &cobra.Command{
	Use:   "commits",
	Short: "Show the workspace synthesis history",
}

var commitsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List commits, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), workspacePath(ws, fmt.Sprintf("/commits?limit=%d", limit)))
		if err != nil {
			return err
		}
		var commits []commitResult
		if err := decodeJSON(resp, &commits); err != nil {
			return err
		}
		printCommits(os.Stdout, commits)
		return nil
	},
}

var commitsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a commit with its document versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/commits/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var d commitDetailResult
		if err := decodeJSON(resp, &d); err != nil {
			return err
		}
		fmt.Printf("Commit %s (#%d, %s) %s\n", d.ID, d.Seq, d.Trigger, d.CreatedAt.Format(time.RFC3339))
		if d.ParentID != "" {
			fmt.Printf("Parent %s\n", d.ParentID)
		}
		fmt.Printf("\n    %s\n\n", d.Summary)
		for _, v := range d.Versions {
			fmt.Printf("  %-9s %s (%s)\n", v.ChangeType, v.Title, v.DocumentID)
		}
		if len(d.SignalIDs) > 0 {
			fmt.Printf("\n  signals: %s\n", strings.Join(d.SignalIDs, ", "))
		}
		return nil
	},
}

func init() {
	commitsListCmd.Flags().String("workspace", "", "workspace ID")
	commitsListCmd.Flags().Int("limit", 20, "maximum number of commits")
	commitsCmd.AddCommand(commitsListCmd)
	commitsCmd.AddCommand(commitsShowCmd)
}

func printCommits(w io.Writer, commits []commitResult) {
	if len(commits) == 0 {
		fmt.Fprintln(w, "No commits.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tID\tTRIGGER\tSIGNALS\tCREATED\tSUMMARY")
	for _, c := range commits {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", c.Seq, c.ID, c.Trigger, c.SignalCount, c.CreatedAt.Format(time.RFC3339), preview(c.Summary, 50))
	}
	tw.Flush()
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Browse and edit synthesis documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), workspacePath(ws, "/documents"))
		if err != nil {
			return err
		}
		var docs []documentResult
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}
		if len(docs) == 0 {
			fmt.Println("No documents.")
			return nil
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tUPDATED\tCONTENT")
		for _, d := range docs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Title, d.UpdatedAt.Format(time.RFC3339), preview(d.Content, 50))
		}
		return tw.Flush()
	},
}

var docsHistoryCmd = &cobra.Command{
	Use:   "history <id>",
	Short: "Show every version of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/documents/"+url.PathEscape(args[0])+"/history")
		if err != nil {
			return err
		}
		var versions []versionResult
		if err := decodeJSON(resp, &versions); err != nil {
			return err
		}
		printHistory(os.Stdout, versions)
		return nil
	},
}

var docsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a document as a manual commit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		title, err := requireFlag(cmd, "title")
		if err != nil {
			return err
		}
		content, err := readContent(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), workspacePath(ws, "/documents"), map[string]any{"title": title, "content": content})
		return reportEdit(resp, err)
	},
}

var docsEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Replace a document's content as a manual commit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		content, err := readContent(cmd)
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.put(cmd.Context(), "/documents/"+url.PathEscape(args[0]), map[string]any{"title": title, "content": content})
		return reportEdit(resp, err)
	},
}

var docsRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a document as a manual commit; its history is kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/documents/"+url.PathEscape(args[0]))
		return reportEdit(resp, err)
	},
}

func init() {
	docsListCmd.Flags().String("workspace", "", "workspace ID")
	docsCreateCmd.Flags().String("workspace", "", "workspace ID")
	docsCreateCmd.Flags().String("title", "", "document title")
	addContentFlags(docsCreateCmd, "document")
	docsEditCmd.Flags().String("title", "", "new title (default: keep current)")
	addContentFlags(docsEditCmd, "document")
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsHistoryCmd)
	docsCmd.AddCommand(docsCreateCmd)
	docsCmd.AddCommand(docsEditCmd)
	docsCmd.AddCommand(docsRemoveCmd)
}

func reportEdit(resp *http.Response, err error) error {
	if err != nil {
		return err
	}
	var d commitDetailResult
	if err := decodeJSON(resp, &d); err != nil {
		return err
	}
	for _, v := range d.Versions {
		printSuccess("%s %q in commit %s (#%d)", v.ChangeType, v.Title, d.ID, d.Seq)
	}
	return nil
}

func printHistory(w io.Writer, versions []versionResult) {
	for i, v := range versions {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s  %s  commit %s\n", colorize(colorBold, v.ChangeType), v.CreatedAt.Format(time.RFC3339), v.CommitID)
		fmt.Fprintf(w, "  %s\n", v.Title)
		if v.Content != "" {
			fmt.Fprintf(w, "  %s\n", preview(v.Content, 120))
		}
	}
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantically search documents or signals",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := requireFlag(cmd, "workspace")
		if err != nil {
			return err
		}
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		q := url.Values{}
		q.Set("q", strings.Join(args, " "))
		q.Set("kind", kind)
		q.Set("limit", fmt.Sprintf("%d", limit))
		resp, err := client.get(cmd.Context(), workspacePath(ws, "/search?"+q.Encode()))
		if err != nil {
			return err
		}
		var hits []hitResult
		if err := decodeJSON(resp, &hits); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, hits)
		}
		if len(hits) == 0 {
			fmt.Println("No results.")
			return nil
		}
		for i, h := range hits {
			label := h.Title
			if label == "" {
				label = h.ID
			}
			fmt.Printf("%d. [%.2f] %s\n", i+1, h.Score, colorize(colorBold, label))
			fmt.Printf("   %s\n", preview(h.Content, 120))
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("workspace", "", "workspace ID")
	searchCmd.Flags().String("kind", "documents", "documents or signals")
	searchCmd.Flags().Int("limit", 5, "maximum number of results")
	searchCmd.Flags().Bool("json", false, "print results as JSON")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s  %s\n", colorize(colorBold, k.Key), k.Value, colorize(colorCyan, "$"+k.EnvVar))
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the config file. Secrets (the OpenAI API key
and the API token) are read from the environment or the secrets file and
cannot be set here.

Valid keys: ` + strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
