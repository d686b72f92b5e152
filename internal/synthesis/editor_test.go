package synthesis

import (
	"errors"
	"testing"

	"github.com/kalambet/driftline/internal/retrieval"
	"github.com/kalambet/driftline/internal/storage"
)

func TestEditor_EachEditIsOneManualCommit(t *testing.T) {
	store := openTestStore(t)
	e := NewEditor(store, &stubEmbedder{}, nil)

	created, err := e.Create(bg, "ws", "  Pricing  ", "v1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	docID := created.Versions[0].DocumentID
	if created.Versions[0].Title != "Pricing" {
		t.Errorf("title = %q, want trimmed", created.Versions[0].Title)
	}

	modified, err := e.Modify(bg, docID, "", "v2")
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	deleted, err := e.Delete(bg, docID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, c := range []storage.CommitDetail{created, modified, deleted} {
		if c.Trigger != storage.TriggerManual || len(c.Versions) != 1 || c.SignalCount != 0 {
			t.Errorf("commit %d = %+v, want one manual version", c.Seq, c)
		}
	}
	if modified.ParentID != created.ID || deleted.ParentID != modified.ID {
		t.Error("manual commits not chained")
	}
	if modified.Versions[0].Title != "Pricing" || modified.Versions[0].ChangeType != storage.ChangeModified {
		t.Errorf("modified version = %+v", modified.Versions[0])
	}
	if deleted.Versions[0].ChangeType != storage.ChangeDeleted || deleted.Versions[0].Content != "v2" {
		t.Errorf("deleted version = %+v", deleted.Versions[0])
	}

	history, err := store.DocumentHistory(bg, docID)
	if err != nil {
		t.Fatalf("DocumentHistory: %v", err)
	}
	if len(history) != 3 {
		t.Errorf("history has %d versions, want 3", len(history))
	}
}

func TestEditor_ModifyDeletedDocument(t *testing.T) {
	store := openTestStore(t)
	e := NewEditor(store, &stubEmbedder{}, nil)
	created, err := e.Create(bg, "ws", "Gone", "x")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	docID := created.Versions[0].DocumentID
	if _, err := e.Delete(bg, docID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := e.Modify(bg, docID, "", "y"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Modify = %v, want ErrNotFound", err)
	}
	if _, err := e.Delete(bg, docID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete = %v, want ErrNotFound", err)
	}
	if _, err := e.Modify(bg, "no-such-doc", "", "y"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Modify(missing) = %v, want ErrNotFound", err)
	}
}

func TestEditor_TitleTaken(t *testing.T) {
	store := openTestStore(t)
	e := NewEditor(store, &stubEmbedder{}, nil)
	if _, err := e.Create(bg, "ws", "Roadmap", "a"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := e.Create(bg, "ws", "Roadmap", "b"); !errors.Is(err, storage.ErrTitleTaken) {
		t.Errorf("second Create = %v, want ErrTitleTaken", err)
	}
	commits, _ := store.ListCommits(bg, "ws", 0)
	if len(commits) != 1 {
		t.Errorf("got %d commits, want 1", len(commits))
	}
}

func TestEditor_RejectsEmptyTitle(t *testing.T) {
	emb := &stubEmbedder{}
	e := NewEditor(openTestStore(t), emb, nil)
	if _, err := e.Create(bg, "ws", "   ", "content"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Create = %v, want ErrInvalidInput", err)
	}
	if len(emb.limits) != 0 {
		t.Error("embedder called for an invalid edit")
	}
}

func TestEditor_EmbedsWithDocumentLimit(t *testing.T) {
	emb := &stubEmbedder{}
	e := NewEditor(openTestStore(t), emb, nil)
	if _, err := e.Create(bg, "ws", "T", "c"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(emb.limits) != 1 || emb.limits[0] != retrieval.LongInputLimit {
		t.Errorf("limits = %v", emb.limits)
	}
}
