package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/enrollment"
	"github.com/kozaktomas/face-attendance/internal/events"
)

// enrolled stores a person with two photos and returns the photo refs.
func enrolled(t *testing.T, f *fixture, id, name string) []string {
	t.Helper()
	res, err := f.pipeline.EnrollPhotos(context.Background(),
		enrollment.Info{PersonID: id, DisplayName: name},
		[]enrollment.Photo{{Data: grayPNG(t, 200)}, {Data: grayPNG(t, 220)}})
	if err != nil {
		t.Fatalf("EnrollPhotos() error: %v", err)
	}
	return res.Refs
}

func TestPersons_ListSearchIgnoresDiacritics(t *testing.T) {
	f := newFixture(t)
	enrolled(t, f, "p1", "Jana Nováková")
	enrolled(t, f, "p2", "Petr Svoboda")

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/persons", nil))
	assertStatusCode(t, rec, http.StatusOK)
	var all []PersonResponse
	parseJSONResponse(t, rec, &all)
	if len(all) != 2 {
		t.Fatalf("expected 2 persons, got %d", len(all))
	}

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/persons?q=novakova", nil))
	var found []PersonResponse
	parseJSONResponse(t, rec, &found)
	if len(found) != 1 || found[0].ID != "p1" || found[0].EmbeddingCount != 2 {
		t.Errorf("unexpected search result: %+v", found)
	}
}

func TestPersons_GetAndPhoto(t *testing.T) {
	f := newFixture(t)
	refs := enrolled(t, f, "p1", "Jana")

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/persons/p1", nil))
	assertStatusCode(t, rec, http.StatusOK)
	var p PersonResponse
	parseJSONResponse(t, rec, &p)
	if len(p.Photos) != 2 {
		t.Fatalf("expected 2 photos, got %v", p.Photos)
	}

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/persons/"+refs[0], nil))
	assertStatusCode(t, rec, http.StatusNotFound)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/persons/p1/photos/"+strings.TrimPrefix(refs[0], "p1/"), nil))
	assertStatusCode(t, rec, http.StatusOK)
	assertContentType(t, rec, "image/png")
	if rec.Body.Len() == 0 {
		t.Error("empty photo body")
	}

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/persons/nobody", nil))
	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestPersons_DeletePhoto(t *testing.T) {
	f := newFixture(t)
	refs := enrolled(t, f, "p1", "Jana")
	ch := f.bus.Subscribe()
	defer f.bus.Unsubscribe(ch)

	path := "/persons/p1/photos/" + strings.TrimPrefix(refs[0], "p1/")
	rec := f.do(t, httptest.NewRequest(http.MethodDelete, path, nil))
	assertStatusCode(t, rec, http.StatusOK)

	left, _ := f.store.ListFor(context.Background(), "p1")
	if len(left) != 1 || left[0].SourceRef != refs[1] {
		t.Errorf("unexpected remaining embeddings: %+v", left)
	}
	if ok, _ := f.blobs.Exists(context.Background(), refs[0]); ok {
		t.Error("photo blob not deleted")
	}
	if ev := <-ch; ev.Type != events.PhotoDeleted {
		t.Errorf("event = %s, want %s", ev.Type, events.PhotoDeleted)
	}

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, path, nil))
	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestPersons_Delete(t *testing.T) {
	f := newFixture(t)
	refs := enrolled(t, f, "p1", "Jana")

	rec := f.do(t, httptest.NewRequest(http.MethodDelete, "/persons/p1", nil))
	assertStatusCode(t, rec, http.StatusOK)
	for _, ref := range refs {
		if ok, _ := f.blobs.Exists(context.Background(), ref); ok {
			t.Errorf("photo %s not deleted", ref)
		}
	}
	if n, _ := f.store.CountEmbeddings(context.Background()); n != 0 {
		t.Errorf("expected no embeddings, got %d", n)
	}

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/persons/p1", nil))
	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestGroups_CRUD(t *testing.T) {
	f := newFixture(t)
	enrolled(t, f, "p1", "Jana")

	rec := f.do(t, jsonRequest(t, http.MethodPost, "/groups", GroupRequest{ID: "g1", Name: "Morning"}))
	assertStatusCode(t, rec, http.StatusCreated)
	rec = f.do(t, jsonRequest(t, http.MethodPost, "/groups", GroupRequest{ID: "g1", Name: "Again"}))
	assertStatusCode(t, rec, http.StatusConflict)
	rec = f.do(t, jsonRequest(t, http.MethodPost, "/groups", GroupRequest{}))
	assertStatusCode(t, rec, http.StatusBadRequest)

	rec = f.do(t, httptest.NewRequest(http.MethodPut, "/groups/g1/members/p1", nil))
	assertStatusCode(t, rec, http.StatusOK)
	var g GroupResponse
	parseJSONResponse(t, rec, &g)
	if len(g.Members) != 1 || g.Members[0] != "p1" {
		t.Errorf("unexpected members: %v", g.Members)
	}

	rec = f.do(t, httptest.NewRequest(http.MethodPut, "/groups/g1/members/ghost", nil))
	assertStatusCode(t, rec, http.StatusNotFound)
	rec = f.do(t, httptest.NewRequest(http.MethodPut, "/groups/missing/members/p1", nil))
	assertStatusCode(t, rec, http.StatusNotFound)

	rec = f.do(t, jsonRequest(t, http.MethodPut, "/groups/g1", GroupRequest{Name: "Evening"}))
	assertStatusCode(t, rec, http.StatusOK)
	g = GroupResponse{}
	parseJSONResponse(t, rec, &g)
	if g.Name != "Evening" || len(g.Members) != 1 {
		t.Errorf("unexpected group after update: %+v", g)
	}

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/groups/g1/members/p1", nil))
	assertStatusCode(t, rec, http.StatusOK)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/groups", nil))
	var list []GroupResponse
	parseJSONResponse(t, rec, &list)
	if len(list) != 1 || len(list[0].Members) != 0 {
		t.Errorf("unexpected group list: %+v", list)
	}

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/groups/g1", nil))
	assertStatusCode(t, rec, http.StatusOK)
	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/groups/g1", nil))
	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestAdmin_StatsAndClear(t *testing.T) {
	f := newFixture(t)
	refs := enrolled(t, f, "p1", "Jana")
	submitPending(t, f, "Eva", grayPNG(t, 200))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/stats", nil))
	var stats StatsResponse
	parseJSONResponse(t, rec, &stats)
	if stats.Persons != 1 || stats.Embeddings != 2 || stats.Pending != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/clear", nil))
	assertStatusCode(t, rec, http.StatusOK)
	if f.store.PersonCount() != 0 {
		t.Error("persons left after clear")
	}
	if ok, _ := f.blobs.Exists(context.Background(), refs[0]); ok {
		t.Error("photos left after clear")
	}
	pending, _ := f.store.ListPending(context.Background(), "")
	if len(pending) != 0 {
		t.Error("pending enrollments left after clear")
	}
}
