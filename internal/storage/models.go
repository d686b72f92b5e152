package storage

import (
	"errors"
	"time"

	"github.com/kalambet/driftline/internal/engagement"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrEmptyCommit is returned when a commit would record no document versions.
	ErrEmptyCommit = errors.New("commit has no document versions")
	// ErrHeadMoved is returned when another writer appended to the workspace
	// chain after the caller read its head.
	ErrHeadMoved = errors.New("workspace head moved")
	// ErrSignalConsumed is returned when a signal is already linked to a commit.
	ErrSignalConsumed = errors.New("signal already consumed by a commit")
	// ErrTitleTaken is returned when a live document with the same title exists.
	ErrTitleTaken = errors.New("document title already in use")
)

// Capture sources.
const (
	SourceWeb   = "web"
	SourceVoice = "voice"
)

type Capture struct {
	ID          string
	WorkspaceID string
	AuthorID    string
	Content     string
	AudioURL    string
	Source      string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// Canon is a workspace's reference strategy. The most recent one wins.
type Canon struct {
	ID          string
	WorkspaceID string
	Content     string
	Embedding   []float32
	CreatedAt   time.Time
}

type ActionItem struct {
	Task   string `json:"task"`
	Status string `json:"status"`
}

// Artifact is the scored output of one capture. Scores are stored at full
// precision.
type Artifact struct {
	ID             string
	CaptureID      string
	CanonID        string // empty when scored without a canon
	DriftScore     float64
	AlignmentScore float64
	SentimentScore float64
	Synthesis      string
	ActionItems    []ActionItem
	Feedback       string
	Embedding      []float32
	CreatedAt      time.Time
}

type Membership struct {
	UserID      string
	WorkspaceID string
	State       engagement.State
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Signal struct {
	ID             string
	WorkspaceID    string
	ConversationID string
	MessageID      string
	Content        string
	Embedding      []float32
	AIPriority     string
	HumanPriority  string
	ReviewedAt     *time.Time
	CreatedAt      time.Time
	CommitID       string // set once consumed by a synthesis commit
}

// Document is the live projection of a synthesis document.
type Document struct {
	ID          string
	WorkspaceID string
	Title       string
	Content     string
	Embedding   []float32
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

// Commit triggers.
const (
	TriggerManual       = "manual"
	TriggerScheduled    = "scheduled"
	TriggerSynthesisRun = "synthesis-run"
)

type Commit struct {
	ID          string
	WorkspaceID string
	Seq         int
	ParentID    string // empty for the first commit in a workspace
	Summary     string
	Trigger     string
	SignalCount int
	CreatedAt   time.Time
}

// Document version change types.
const (
	ChangeCreated  = "created"
	ChangeModified = "modified"
	ChangeDeleted  = "deleted"
)

type DocumentVersion struct {
	ID         string
	DocumentID string
	CommitID   string
	Title      string
	Content    string
	ChangeType string
	CreatedAt  time.Time
}

// CommitDetail is a commit with everything recorded under it.
type CommitDetail struct {
	Commit
	Versions  []DocumentVersion
	SignalIDs []string
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

type UsageRecord struct {
	ID           string
	WorkspaceID  string
	UserID       string
	Operation    string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	CreatedAt    time.Time
}
