package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/engram-memory/engram/internal/storage"
	"github.com/engram-memory/engram/pkg/types"
)

// newTestStore creates an in-memory SQLite store. Open runs the full schema,
// so no additional DDL is required in tests.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testNote(id, ownerID, content string) *types.AtomicNote {
	now := time.Now().UTC().Truncate(time.Second)
	return &types.AtomicNote{
		ID:                 id,
		OwnerID:            ownerID,
		Content:            content,
		NoteType:           "fact:biography",
		Confidence:         0.9,
		OriginalConfidence: 0.9,
		Importance:         0.9,
		Mutability:         types.MutabilityMutable,
		LastValidated:      now,
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestCreateAndGetNote(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note := testNote("note:1", "alice", "The user was born in Lisbon")
	note.Keywords = []string{"lisbon", "birthplace"}
	note.Tags = []string{"biography"}
	note.ContextualDescription = "Where the user was born"
	note.SourceTurnID = "turn:1"
	note.Mutability = types.MutabilityImmutable

	if err := store.CreateNote(ctx, note); err != nil {
		t.Fatalf("CreateNote() failed: %v", err)
	}

	got, err := store.GetNote(ctx, note.ID)
	if err != nil {
		t.Fatalf("GetNote() failed: %v", err)
	}
	if got.Content != note.Content {
		t.Errorf("Content: got %q, want %q", got.Content, note.Content)
	}
	if got.NoteType != "fact:biography" {
		t.Errorf("NoteType: got %q, want %q", got.NoteType, "fact:biography")
	}
	if got.Mutability != types.MutabilityImmutable {
		t.Errorf("Mutability: got %q, want %q", got.Mutability, types.MutabilityImmutable)
	}
	if got.SourceTurnID != "turn:1" {
		t.Errorf("SourceTurnID: got %q, want %q", got.SourceTurnID, "turn:1")
	}
	if len(got.Keywords) != 2 || got.Keywords[0] != "lisbon" {
		t.Errorf("Keywords: got %v, want [lisbon birthplace]", got.Keywords)
	}
	if !got.Active {
		t.Error("Active: got false, want true")
	}
}

func TestGetNoteNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetNote(context.Background(), "note:missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetNote(missing): got %v, want ErrNotFound", err)
	}
}

func TestCreateNoteRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note := testNote("note:bad", "alice", "   ")
	if err := store.CreateNote(ctx, note); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("CreateNote(empty content): got %v, want ErrInvalidInput", err)
	}

	note = testNote("note:bad2", "alice", "valid content")
	note.Confidence = 1.5
	if err := store.CreateNote(ctx, note); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("CreateNote(confidence 1.5): got %v, want ErrInvalidInput", err)
	}
}

func TestContentExistsIsExactAndCaseSensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note := testNote("note:1", "alice", "The user prefers tea")
	if err := store.CreateNote(ctx, note); err != nil {
		t.Fatalf("CreateNote() failed: %v", err)
	}

	exists, err := store.ContentExists(ctx, "alice", "The user prefers tea")
	if err != nil {
		t.Fatalf("ContentExists() failed: %v", err)
	}
	if !exists {
		t.Error("exact content: got false, want true")
	}

	exists, _ = store.ContentExists(ctx, "alice", "the user prefers tea")
	if exists {
		t.Error("different case: got true, want false")
	}

	exists, _ = store.ContentExists(ctx, "bob", "The user prefers tea")
	if exists {
		t.Error("different owner: got true, want false")
	}
}

func TestContentExistsIgnoresInactiveNotes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note := testNote("note:1", "alice", "The user prefers tea")
	if err := store.CreateNote(ctx, note); err != nil {
		t.Fatalf("CreateNote() failed: %v", err)
	}
	if err := store.DeactivateNote(ctx, note.ID); err != nil {
		t.Fatalf("DeactivateNote() failed: %v", err)
	}

	exists, err := store.ContentExists(ctx, "alice", "The user prefers tea")
	if err != nil {
		t.Fatalf("ContentExists() failed: %v", err)
	}
	if exists {
		t.Error("deactivated note: got true, want false")
	}
}

func TestDeactivateRestorePurge(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	note := testNote("note:1", "alice", "The user plays the piano")
	if err := store.CreateNote(ctx, note); err != nil {
		t.Fatalf("CreateNote() failed: %v", err)
	}

	if err := store.DeactivateNote(ctx, note.ID); err != nil {
		t.Fatalf("DeactivateNote() failed: %v", err)
	}
	got, _ := store.GetNote(ctx, note.ID)
	if got.Active {
		t.Error("after deactivate: Active = true, want false")
	}

	if err := store.RestoreNote(ctx, note.ID); err != nil {
		t.Fatalf("RestoreNote() failed: %v", err)
	}
	got, _ = store.GetNote(ctx, note.ID)
	if !got.Active {
		t.Error("after restore: Active = false, want true")
	}

	if err := store.PurgeNote(ctx, note.ID); err != nil {
		t.Fatalf("PurgeNote() failed: %v", err)
	}
	if _, err := store.GetNote(ctx, note.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("after purge: got %v, want ErrNotFound", err)
	}
	if err := store.PurgeNote(ctx, note.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second purge: got %v, want ErrNotFound", err)
	}
}

func TestListNotesFiltersAndPaginates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i, spec := range []struct {
		id, owner, noteType string
		active              bool
	}{
		{"note:1", "alice", "preference:food", true},
		{"note:2", "alice", "fact:biography", true},
		{"note:3", "alice", "preference:food", false},
		{"note:4", "bob", "preference:food", true},
	} {
		note := testNote(spec.id, spec.owner, "content number "+spec.id)
		note.NoteType = spec.noteType
		note.Active = spec.active
		note.CreatedAt = note.CreatedAt.Add(time.Duration(i) * time.Second)
		if err := store.CreateNote(ctx, note); err != nil {
			t.Fatalf("CreateNote(%s) failed: %v", spec.id, err)
		}
	}

	result, err := store.ListNotes(ctx, storage.ListOptions{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("ListNotes() failed: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("active alice notes: got %d, want 2", result.Total)
	}

	result, err = store.ListNotes(ctx, storage.ListOptions{OwnerID: "alice", IncludeInactive: true})
	if err != nil {
		t.Fatalf("ListNotes(IncludeInactive) failed: %v", err)
	}
	if result.Total != 3 {
		t.Errorf("all alice notes: got %d, want 3", result.Total)
	}

	result, err = store.ListNotes(ctx, storage.ListOptions{OwnerID: "alice", NoteType: "preference:food"})
	if err != nil {
		t.Fatalf("ListNotes(NoteType) failed: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("alice food preferences: got %d, want 1", result.Total)
	}

	result, err = store.ListNotes(ctx, storage.ListOptions{OwnerID: "alice", Limit: 1, Page: 1})
	if err != nil {
		t.Fatalf("ListNotes(paged) failed: %v", err)
	}
	if len(result.Items) != 1 {
		t.Errorf("page size: got %d items, want 1", len(result.Items))
	}
	if !result.HasMore {
		t.Error("HasMore: got false, want true")
	}
}

func TestListOwners(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, spec := range []struct {
		id, owner string
		active    bool
	}{
		{"note:1", "bob", true},
		{"note:2", "alice", true},
		{"note:3", "carol", false},
	} {
		note := testNote(spec.id, spec.owner, "content "+spec.id)
		note.Active = spec.active
		if err := store.CreateNote(ctx, note); err != nil {
			t.Fatalf("CreateNote(%s) failed: %v", spec.id, err)
		}
	}

	owners, err := store.ListOwners(ctx)
	if err != nil {
		t.Fatalf("ListOwners() failed: %v", err)
	}
	if len(owners) != 2 || owners[0] != "alice" || owners[1] != "bob" {
		t.Errorf("ListOwners(): got %v, want [alice bob]", owners)
	}
}

func TestTurnLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turn := &types.DialogueTurn{
		ID:            "turn:1",
		OwnerID:       "alice",
		SessionID:     "session-1",
		TurnNumber:    3,
		UserText:      "I moved to Berlin last month",
		AssistantText: "Congratulations on the move!",
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
	if err := store.CreateTurn(ctx, turn); err != nil {
		t.Fatalf("CreateTurn() failed: %v", err)
	}

	got, err := store.GetTurn(ctx, turn.ID)
	if err != nil {
		t.Fatalf("GetTurn() failed: %v", err)
	}
	if got.UserText != turn.UserText || got.TurnNumber != 3 || got.Extracted {
		t.Errorf("GetTurn(): got %+v", got)
	}

	unextracted, err := store.ListUnextracted(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnextracted() failed: %v", err)
	}
	if len(unextracted) != 1 || unextracted[0].ID != turn.ID {
		t.Errorf("ListUnextracted(): got %d turns, want 1", len(unextracted))
	}

	if err := store.MarkExtracted(ctx, turn.ID); err != nil {
		t.Fatalf("MarkExtracted() failed: %v", err)
	}
	got, _ = store.GetTurn(ctx, turn.ID)
	if !got.Extracted {
		t.Error("after MarkExtracted: Extracted = false, want true")
	}
	unextracted, _ = store.ListUnextracted(ctx, 10)
	if len(unextracted) != 0 {
		t.Errorf("after MarkExtracted: got %d unextracted turns, want 0", len(unextracted))
	}

	if err := store.ResetExtraction(ctx, turn.ID); err != nil {
		t.Fatalf("ResetExtraction() failed: %v", err)
	}
	got, _ = store.GetTurn(ctx, turn.ID)
	if got.Extracted {
		t.Error("after ResetExtraction: Extracted = true, want false")
	}
}

func TestMarkExtractedMissingTurn(t *testing.T) {
	store := newTestStore(t)

	err := store.MarkExtracted(context.Background(), "turn:missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("MarkExtracted(missing): got %v, want ErrNotFound", err)
	}
}

func TestOwnerSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.GetOwnerSettings(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetOwnerSettings(unset): got %v, want ErrNotFound", err)
	}

	doc := []byte(`{"retrieval_top_k":5}`)
	if err := store.PutOwnerSettings(ctx, "alice", doc); err != nil {
		t.Fatalf("PutOwnerSettings() failed: %v", err)
	}
	got, err := store.GetOwnerSettings(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOwnerSettings() failed: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("settings doc: got %s, want %s", got, doc)
	}

	// Replace.
	doc = []byte(`{"retrieval_top_k":20}`)
	if err := store.PutOwnerSettings(ctx, "alice", doc); err != nil {
		t.Fatalf("PutOwnerSettings(replace) failed: %v", err)
	}
	got, _ = store.GetOwnerSettings(ctx, "alice")
	if string(got) != string(doc) {
		t.Errorf("replaced settings doc: got %s, want %s", got, doc)
	}

	if err := store.DeleteOwnerSettings(ctx, "alice"); err != nil {
		t.Fatalf("DeleteOwnerSettings() failed: %v", err)
	}
	if _, err := store.GetOwnerSettings(ctx, "alice"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetOwnerSettings(deleted): got %v, want ErrNotFound", err)
	}
}
