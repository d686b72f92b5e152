package api

import (
	"time"

	"github.com/kalambet/driftline/internal/engagement"
	"github.com/kalambet/driftline/internal/scoring"
	"github.com/kalambet/driftline/internal/storage"
)

// Wire shapes. Scores leave the service rounded to two decimals.

type captureView struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	AuthorID    string     `json:"author_id"`
	Content     string     `json:"content"`
	Source      string     `json:"source"`
	AudioURL    string     `json:"audio_url,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

func newCaptureView(c storage.Capture) captureView {
	return captureView{
		ID:          c.ID,
		WorkspaceID: c.WorkspaceID,
		AuthorID:    c.AuthorID,
		Content:     c.Content,
		Source:      c.Source,
		AudioURL:    c.AudioURL,
		CreatedAt:   c.CreatedAt,
		ProcessedAt: c.ProcessedAt,
	}
}

type artifactView struct {
	ID             string               `json:"id"`
	CaptureID      string               `json:"capture_id"`
	CanonID        string               `json:"canon_id,omitempty"`
	DriftScore     float64              `json:"drift_score"`
	AlignmentScore float64              `json:"alignment_score"`
	SentimentScore float64              `json:"sentiment_score"`
	Synthesis      string               `json:"synthesis"`
	ActionItems    []storage.ActionItem `json:"action_items"`
	Feedback       string               `json:"feedback"`
	CreatedAt      time.Time            `json:"created_at"`
}

func newArtifactView(a storage.Artifact) artifactView {
	items := a.ActionItems
	if items == nil {
		items = []storage.ActionItem{}
	}
	return artifactView{
		ID:             a.ID,
		CaptureID:      a.CaptureID,
		CanonID:        a.CanonID,
		DriftScore:     scoring.Round2(a.DriftScore),
		AlignmentScore: scoring.Round2(a.AlignmentScore),
		SentimentScore: scoring.Round2(a.SentimentScore),
		Synthesis:      a.Synthesis,
		ActionItems:    items,
		Feedback:       a.Feedback,
		CreatedAt:      a.CreatedAt,
	}
}

type engagementView struct {
	Member   bool       `json:"member"`
	Scored   bool       `json:"scored"`
	Traction float64    `json:"traction_score"`
	Streak   int        `json:"streak_count"`
	LastAt   *time.Time `json:"last_capture_at"`
}

func newEngagementView(member bool, st engagement.State) engagementView {
	v := engagementView{Member: member, Scored: st.IsScored()}
	if st.IsScored() {
		v.Traction = st.DisplayTraction()
		v.Streak = st.Streak
		at := st.LastAt
		v.LastAt = &at
	}
	return v
}

type signalView struct {
	ID             string     `json:"id"`
	WorkspaceID    string     `json:"workspace_id"`
	ConversationID string     `json:"conversation_id,omitempty"`
	MessageID      string     `json:"message_id,omitempty"`
	Content        string     `json:"content"`
	AIPriority     string     `json:"ai_priority"`
	HumanPriority  string     `json:"human_priority,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	CommitID       string     `json:"commit_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newSignalView(s storage.Signal) signalView {
	return signalView{
		ID:             s.ID,
		WorkspaceID:    s.WorkspaceID,
		ConversationID: s.ConversationID,
		MessageID:      s.MessageID,
		Content:        s.Content,
		AIPriority:     s.AIPriority,
		HumanPriority:  s.HumanPriority,
		ReviewedAt:     s.ReviewedAt,
		CommitID:       s.CommitID,
		CreatedAt:      s.CreatedAt,
	}
}

func newSignalViews(sigs []storage.Signal) []signalView {
	out := make([]signalView, len(sigs))
	for i, s := range sigs {
		out[i] = newSignalView(s)
	}
	return out
}

type documentView struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func newDocumentViews(docs []storage.Document) []documentView {
	out := make([]documentView, len(docs))
	for i, d := range docs {
		out[i] = documentView{
			ID:          d.ID,
			WorkspaceID: d.WorkspaceID,
			Title:       d.Title,
			Content:     d.Content,
			CreatedAt:   d.CreatedAt,
			UpdatedAt:   d.UpdatedAt,
			DeletedAt:   d.DeletedAt,
		}
	}
	return out
}

type commitView struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspace_id"`
	Seq         int       `json:"seq"`
	ParentID    string    `json:"parent_id,omitempty"`
	Summary     string    `json:"summary"`
	Trigger     string    `json:"trigger"`
	SignalCount int       `json:"signal_count"`
	CreatedAt   time.Time `json:"created_at"`
}

func newCommitView(c storage.Commit) commitView {
	return commitView{
		ID:          c.ID,
		WorkspaceID: c.WorkspaceID,
		Seq:         c.Seq,
		ParentID:    c.ParentID,
		Summary:     c.Summary,
		Trigger:     c.Trigger,
		SignalCount: c.SignalCount,
		CreatedAt:   c.CreatedAt,
	}
}

type versionView struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	CommitID   string    `json:"commit_id"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	ChangeType string    `json:"change_type"`
	CreatedAt  time.Time `json:"created_at"`
}

func newVersionViews(vs []storage.DocumentVersion) []versionView {
	out := make([]versionView, len(vs))
	for i, v := range vs {
		out[i] = versionView{
			ID:         v.ID,
			DocumentID: v.DocumentID,
			CommitID:   v.CommitID,
			Title:      v.Title,
			Content:    v.Content,
			ChangeType: v.ChangeType,
			CreatedAt:  v.CreatedAt,
		}
	}
	return out
}

type commitDetailView struct {
	commitView
	Versions  []versionView `json:"versions"`
	SignalIDs []string      `json:"signal_ids"`
}

func newCommitDetailView(d storage.CommitDetail) commitDetailView {
	ids := d.SignalIDs
	if ids == nil {
		ids = []string{}
	}
	return commitDetailView{
		commitView: newCommitView(d.Commit),
		Versions:   newVersionViews(d.Versions),
		SignalIDs:  ids,
	}
}
