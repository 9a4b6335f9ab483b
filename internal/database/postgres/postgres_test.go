//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database"
)

func setupTestContainer(t *testing.T) (*Store, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "pgvector/pgvector:pg16",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Docker not available or container failed to start, skipping integration test: %v", err)
		return nil, func() {}
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &config.DatabaseConfig{
		URL:          fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port()),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to create pool: %v", err)
	}
	if err := pool.Migrate(ctx); err != nil {
		_ = pool.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		_ = pool.Close()
		_ = container.Terminate(ctx)
	}
	return NewStore(pool), cleanup
}

func unitVector(dim, hot int) []float32 {
	v := make([]float32, dim)
	v[hot] = 1
	return v
}

func TestStore(t *testing.T) {
	store, cleanup := setupTestContainer(t)
	if store == nil {
		return
	}
	defer cleanup()

	ctx := context.Background()

	t.Run("MigrationsRecorded", func(t *testing.T) {
		version, err := store.pool.SchemaVersion(ctx)
		if err != nil {
			t.Fatalf("SchemaVersion() error: %v", err)
		}
		if version < 1 {
			t.Errorf("SchemaVersion() = %d, want at least 1", version)
		}
		// A second run is a no-op.
		if err := store.pool.Migrate(ctx); err != nil {
			t.Errorf("repeat Migrate() error: %v", err)
		}
		if again, _ := store.pool.SchemaVersion(ctx); again != version {
			t.Errorf("schema version moved from %d to %d on a repeat run", version, again)
		}
	})

	t.Run("SavePersonIdempotent", func(t *testing.T) {
		created, err := store.SavePerson(ctx, &database.Person{
			ID: "p1", DisplayName: "Jana", Attributes: map[string]string{"room": "12"},
		})
		if err != nil || !created {
			t.Fatalf("SavePerson() = %v, %v; want created", created, err)
		}
		created, err = store.SavePerson(ctx, &database.Person{ID: "p1", DisplayName: "Other"})
		if err != nil || created {
			t.Fatalf("repeat SavePerson() = %v, %v; want not created", created, err)
		}
		got, err := store.GetPerson(ctx, "p1")
		if err != nil {
			t.Fatalf("GetPerson() error: %v", err)
		}
		if got.DisplayName != "Jana" || got.Attributes["room"] != "12" {
			t.Errorf("unexpected person: %+v", got)
		}
	})

	t.Run("AppendEmbeddingIdempotent", func(t *testing.T) {
		first, err := store.AppendEmbedding(ctx, "p1", unitVector(512, 0), "p1/a.jpg")
		if err != nil {
			t.Fatalf("AppendEmbedding() error: %v", err)
		}
		again, err := store.AppendEmbedding(ctx, "p1", unitVector(512, 1), "p1/a.jpg")
		if err != nil {
			t.Fatalf("repeat AppendEmbedding() error: %v", err)
		}
		if again.ID != first.ID {
			t.Errorf("repeat append id = %d, want %d", again.ID, first.ID)
		}
		if len(again.Vector) != 512 || again.Vector[0] != 1 {
			t.Error("stored vector changed on repeat append")
		}
	})

	t.Run("CandidatesByGroup", func(t *testing.T) {
		_, _ = store.SavePerson(ctx, &database.Person{ID: "p2", DisplayName: "Petr"})
		if _, err := store.AppendEmbedding(ctx, "p2", unitVector(512, 2), "p2/a.jpg"); err != nil {
			t.Fatalf("AppendEmbedding() error: %v", err)
		}
		if err := store.SaveGroup(ctx, &database.Group{ID: "g1", Name: "Trip", Members: []string{"p2"}}); err != nil {
			t.Fatalf("SaveGroup() error: %v", err)
		}

		all, err := store.ListCandidates(ctx, "")
		if err != nil {
			t.Fatalf("ListCandidates() error: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("expected 2 candidates, got %d", len(all))
		}
		scoped, err := store.ListCandidates(ctx, "g1")
		if err != nil {
			t.Fatalf("ListCandidates(g1) error: %v", err)
		}
		if len(scoped) != 1 || scoped[0].PersonID != "p2" {
			t.Errorf("unexpected scoped candidates: %+v", scoped)
		}

		if err := store.AddMember(ctx, "missing", "p1"); !errors.Is(err, database.ErrNotFound) {
			t.Errorf("AddMember(missing group) error = %v, want ErrNotFound", err)
		}
	})

	t.Run("PendingTransitions", func(t *testing.T) {
		if err := store.SavePending(ctx, &database.PendingEnrollment{
			ID: "e1", PersonID: "p3", Fields: map[string]string{"name": "Eva"}, PhotoRefs: []string{"p3/a.jpg"},
		}); err != nil {
			t.Fatalf("SavePending() error: %v", err)
		}
		if err := store.MarkRejected(ctx, "e1"); err != nil {
			t.Fatalf("MarkRejected() error: %v", err)
		}
		if err := store.MarkApproved(ctx, "e1", &database.ApprovalResult{}); !errors.Is(err, database.ErrStatusConflict) {
			t.Errorf("MarkApproved() after reject error = %v, want ErrStatusConflict", err)
		}
		got, err := store.GetPending(ctx, "e1")
		if err != nil {
			t.Fatalf("GetPending() error: %v", err)
		}
		if got.Status != database.StatusRejected || got.DecidedAt == nil {
			t.Errorf("unexpected pending row: %+v", got)
		}
		if len(got.PhotoRefs) != 1 || got.Fields["name"] != "Eva" {
			t.Errorf("fields not round-tripped: %+v", got)
		}
	})

	t.Run("DeletePersonAndClear", func(t *testing.T) {
		refs, err := store.DeletePerson(ctx, "p2")
		if err != nil {
			t.Fatalf("DeletePerson() error: %v", err)
		}
		if len(refs) != 1 || refs[0] != "p2/a.jpg" {
			t.Errorf("unexpected refs: %v", refs)
		}
		g, _ := store.GetGroup(ctx, "g1")
		if g == nil || len(g.Members) != 0 {
			t.Errorf("membership not removed: %+v", g)
		}

		if err := store.Clear(ctx); err != nil {
			t.Fatalf("Clear() error: %v", err)
		}
		n, _ := store.CountEmbeddings(ctx)
		if n != 0 {
			t.Errorf("expected empty store, %d embeddings left", n)
		}
	})
}
