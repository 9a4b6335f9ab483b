package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSavePerson_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &database.Person{ID: "p1", DisplayName: "Jana Nováková", Attributes: map[string]string{"age": "31"}}
	created, err := s.SavePerson(ctx, p)
	if err != nil || !created {
		t.Fatalf("first SavePerson() = %v, %v; want created", created, err)
	}

	created, err = s.SavePerson(ctx, &database.Person{ID: "p1", DisplayName: "Someone Else"})
	if err != nil {
		t.Fatalf("second SavePerson() error: %v", err)
	}
	if created {
		t.Error("second SavePerson() should not create")
	}

	got, err := s.GetPerson(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPerson() error: %v", err)
	}
	if got.DisplayName != "Jana Nováková" {
		t.Errorf("existing person was overwritten: %q", got.DisplayName)
	}
	if got.Attributes["age"] != "31" {
		t.Errorf("attributes not persisted: %v", got.Attributes)
	}

	missing, err := s.GetPerson(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetPerson(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestAppendEmbedding_IdempotentOnSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.SavePerson(ctx, &database.Person{ID: "p1", DisplayName: "A"})

	first, err := s.AppendEmbedding(ctx, "p1", []float32{1, 0, 0}, "p1/a.jpg")
	if err != nil {
		t.Fatalf("AppendEmbedding() error: %v", err)
	}
	again, err := s.AppendEmbedding(ctx, "p1", []float32{0, 1, 0}, "p1/a.jpg")
	if err != nil {
		t.Fatalf("repeat AppendEmbedding() error: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("repeat append returned id %d, want %d", again.ID, first.ID)
	}
	if again.Vector[0] != 1 {
		t.Error("repeat append must not modify the stored vector")
	}

	if _, err := s.AppendEmbedding(ctx, "p1", []float32{0, 1, 0}, "p1/b.jpg"); err != nil {
		t.Fatalf("AppendEmbedding() error: %v", err)
	}

	list, err := s.ListFor(ctx, "p1")
	if err != nil {
		t.Fatalf("ListFor() error: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("expected 2 embeddings, got %d", len(list))
	}
}

func TestListCandidates_GroupFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		_, _ = s.SavePerson(ctx, &database.Person{ID: id, DisplayName: id})
		if _, err := s.AppendEmbedding(ctx, id, []float32{1, 0}, id+"/x.jpg"); err != nil {
			t.Fatalf("AppendEmbedding() error: %v", err)
		}
	}
	if err := s.SaveGroup(ctx, &database.Group{ID: "g1", Name: "Morning", Members: []string{"a", "c"}}); err != nil {
		t.Fatalf("SaveGroup() error: %v", err)
	}

	all, err := s.ListCandidates(ctx, "")
	if err != nil {
		t.Fatalf("ListCandidates() error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 candidates, got %d", len(all))
	}

	scoped, err := s.ListCandidates(ctx, "g1")
	if err != nil {
		t.Fatalf("ListCandidates(g1) error: %v", err)
	}
	if len(scoped) != 2 {
		t.Fatalf("expected 2 scoped candidates, got %d", len(scoped))
	}
	for _, c := range scoped {
		if c.PersonID == "b" {
			t.Error("non-member returned for group filter")
		}
		if len(c.Vector) != 2 {
			t.Errorf("vector not decoded: %v", c.Vector)
		}
	}
}

func TestDeletePerson_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _ = s.SavePerson(ctx, &database.Person{ID: "p1", DisplayName: "A"})
	_, _ = s.AppendEmbedding(ctx, "p1", []float32{1}, "p1/a.jpg")
	_, _ = s.AppendEmbedding(ctx, "p1", []float32{1}, "p1/b.jpg")
	_ = s.SaveGroup(ctx, &database.Group{ID: "g", Name: "G", Members: []string{"p1"}})

	refs, err := s.DeletePerson(ctx, "p1")
	if err != nil {
		t.Fatalf("DeletePerson() error: %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("expected 2 photo refs, got %v", refs)
	}

	n, _ := s.CountEmbeddings(ctx)
	if n != 0 {
		t.Errorf("expected embeddings removed, %d left", n)
	}
	g, _ := s.GetGroup(ctx, "g")
	if len(g.Members) != 0 {
		t.Errorf("expected membership removed, got %v", g.Members)
	}

	if _, err := s.DeletePerson(ctx, "p1"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("second DeletePerson() error = %v, want ErrNotFound", err)
	}
}

func TestDeleteBySource_RemovesExactlyOnePhoto(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _ = s.SavePerson(ctx, &database.Person{ID: "p1", DisplayName: "A"})
	_, _ = s.AppendEmbedding(ctx, "p1", []float32{1}, "p1/a.jpg")
	_, _ = s.AppendEmbedding(ctx, "p1", []float32{1}, "p1/b.jpg")

	n, err := s.DeleteBySource(ctx, "p1", "p1/a.jpg")
	if err != nil {
		t.Fatalf("DeleteBySource() error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deleted, got %d", n)
	}
	left, _ := s.ListFor(ctx, "p1")
	if len(left) != 1 || left[0].SourceRef != "p1/b.jpg" {
		t.Errorf("unexpected remaining embeddings: %+v", left)
	}
}

func TestPendingTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &database.PendingEnrollment{
		ID:        "e1",
		PersonID:  "p1",
		Fields:    map[string]string{"name": "A"},
		PhotoRefs: []string{"p1/a.jpg"},
	}
	if err := s.SavePending(ctx, p); err != nil {
		t.Fatalf("SavePending() error: %v", err)
	}

	result := &database.ApprovalResult{PersonID: "p1", EmbeddingCount: 1}
	if err := s.MarkApproved(ctx, "e1", result); err != nil {
		t.Fatalf("MarkApproved() error: %v", err)
	}
	if err := s.MarkApproved(ctx, "e1", result); !errors.Is(err, database.ErrStatusConflict) {
		t.Errorf("second MarkApproved() error = %v, want ErrStatusConflict", err)
	}
	if err := s.MarkRejected(ctx, "e1"); !errors.Is(err, database.ErrStatusConflict) {
		t.Errorf("MarkRejected() after approve error = %v, want ErrStatusConflict", err)
	}
	if err := s.MarkRejected(ctx, "missing"); !errors.Is(err, database.ErrNotFound) {
		t.Errorf("MarkRejected(missing) error = %v, want ErrNotFound", err)
	}

	got, err := s.GetPending(ctx, "e1")
	if err != nil {
		t.Fatalf("GetPending() error: %v", err)
	}
	if got.Status != database.StatusApproved {
		t.Errorf("status = %s, want approved", got.Status)
	}
	if got.Result == nil || got.Result.EmbeddingCount != 1 {
		t.Errorf("result not persisted: %+v", got.Result)
	}
	if got.DecidedAt == nil {
		t.Error("decided_at not set")
	}

	pending, _ := s.ListPending(ctx, database.StatusPending)
	if len(pending) != 0 {
		t.Errorf("expected no pending rows, got %d", len(pending))
	}
	all, _ := s.ListPending(ctx, "")
	if len(all) != 1 {
		t.Errorf("expected 1 row overall, got %d", len(all))
	}
}

func TestClear(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _ = s.SavePerson(ctx, &database.Person{ID: "p1", DisplayName: "A"})
	_, _ = s.AppendEmbedding(ctx, "p1", []float32{1}, "p1/a.jpg")
	_ = s.SaveGroup(ctx, &database.Group{ID: "g", Name: "G", Members: []string{"p1"}})
	_ = s.SavePending(ctx, &database.PendingEnrollment{ID: "e1", PersonID: "p2"})

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}

	persons, _ := s.ListPersons(ctx)
	groups, _ := s.ListGroups(ctx)
	pending, _ := s.ListPending(ctx, "")
	n, _ := s.CountEmbeddings(ctx)
	if len(persons)+len(groups)+len(pending)+n != 0 {
		t.Errorf("store not empty after Clear: %d persons, %d groups, %d pending, %d embeddings",
			len(persons), len(groups), len(pending), n)
	}
}

func TestRegistered(t *testing.T) {
	found := false
	for _, d := range database.Drivers() {
		if d == "sqlite" {
			found = true
		}
	}
	if !found {
		t.Error("sqlite backend not registered")
	}
}
