package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/face-attendance/internal/enrollment"
)

func startSession(t *testing.T, f *fixture, mode string) enrollment.Status {
	t.Helper()
	rec := f.do(t, jsonRequest(t, http.MethodPost, "/enroll", StartRequest{Mode: mode}))
	assertStatusCode(t, rec, http.StatusCreated)
	var st enrollment.Status
	parseJSONResponse(t, rec, &st)
	return st
}

func setInfo(t *testing.T, f *fixture, id string, info enrollment.Info) {
	t.Helper()
	rec := f.do(t, jsonRequest(t, http.MethodPut, "/enroll/"+id+"/info", info))
	assertStatusCode(t, rec, http.StatusOK)
}

func postFrame(t *testing.T, f *fixture, id string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/enroll/"+id+"/photo", bytes.NewReader(data))
	req.Header.Set("Content-Type", "image/png")
	return f.do(t, req)
}

func TestEnroll_CameraFlow(t *testing.T) {
	f := newFixture(t)
	st := startSession(t, f, "camera")
	if st.State != enrollment.StateCapturingInfo {
		t.Fatalf("state = %s, want capturing_info", st.State)
	}
	setInfo(t, f, st.ID, enrollment.Info{PersonID: "p1", DisplayName: "Jana"})

	rec := postFrame(t, f, st.ID, grayPNG(t, 200))
	assertStatusCode(t, rec, http.StatusOK)
	var res submitResponse
	parseJSONResponse(t, rec, &res)
	if !res.Accepted || res.Pose != "center" || res.NextPose != "left" {
		t.Errorf("unexpected first frame result: %+v", res.SubmitResult)
	}

	// A rejected frame keeps the session on the same pose.
	rec = postFrame(t, f, st.ID, grayPNG(t, 40))
	assertStatusCode(t, rec, http.StatusUnprocessableEntity)
	res = submitResponse{}
	parseJSONResponse(t, rec, &res)
	if res.Accepted || res.NextPose != "left" || len(res.Reasons) == 0 {
		t.Errorf("unexpected rejected frame result: %+v reasons=%v", res.SubmitResult, res.Reasons)
	}

	rec = postFrame(t, f, st.ID, grayPNG(t, 220))
	assertStatusCode(t, rec, http.StatusOK)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/enroll/"+st.ID+"/commit", nil))
	assertStatusCode(t, rec, http.StatusOK)
	var result enrollment.Result
	parseJSONResponse(t, rec, &result)
	if result.PersonID != "p1" || result.EmbeddingCount != 2 || !result.Created {
		t.Errorf("unexpected result: %+v", result)
	}
	if f.store.PersonCount() != 1 {
		t.Errorf("expected 1 person stored, got %d", f.store.PersonCount())
	}

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/enroll/"+st.ID, nil))
	var final enrollment.Status
	parseJSONResponse(t, rec, &final)
	if final.State != enrollment.StateComplete {
		t.Errorf("state = %s, want complete", final.State)
	}
}

func TestEnroll_UploadFlow(t *testing.T) {
	f := newFixture(t)
	st := startSession(t, f, "upload")
	setInfo(t, f, st.ID, enrollment.Info{DisplayName: "Petr", Attributes: map[string]string{"age": "40"}})

	rec := f.do(t, multipartRequest(t, "/enroll/"+st.ID+"/photos", "files", nil,
		grayPNG(t, 200), grayPNG(t, 30), grayPNG(t, 230)))
	assertStatusCode(t, rec, http.StatusAccepted)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/enroll/"+st.ID+"/commit", nil))
	assertStatusCode(t, rec, http.StatusOK)
	var result enrollment.Result
	parseJSONResponse(t, rec, &result)
	if result.EmbeddingCount != 2 {
		t.Errorf("embeddings = %d, want 2", result.EmbeddingCount)
	}
	if result.PersonID == "" {
		t.Error("person id should be generated")
	}
}

func TestEnroll_CommitNeedsMorePhotos(t *testing.T) {
	f := newFixture(t)
	st := startSession(t, f, "upload")
	setInfo(t, f, st.ID, enrollment.Info{PersonID: "p2", DisplayName: "Eva"})

	rec := f.do(t, multipartRequest(t, "/enroll/"+st.ID+"/photos", "files", nil, grayPNG(t, 200), grayPNG(t, 10)))
	assertStatusCode(t, rec, http.StatusAccepted)

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/enroll/"+st.ID+"/commit", nil))
	assertStatusCode(t, rec, http.StatusConflict)
	var body errorResponse
	parseJSONResponse(t, rec, &body)
	if body.Have != 1 || body.Need != 2 {
		t.Errorf("have/need = %d/%d, want 1/2", body.Have, body.Need)
	}
	if f.store.PersonCount() != 0 {
		t.Error("nothing should be stored")
	}
}

func TestEnroll_PhotoBeforeInfo(t *testing.T) {
	f := newFixture(t)
	st := startSession(t, f, "camera")
	rec := postFrame(t, f, st.ID, grayPNG(t, 200))
	assertStatusCode(t, rec, http.StatusConflict)
}

func TestEnroll_InvalidInput(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, jsonRequest(t, http.MethodPost, "/enroll", StartRequest{Mode: "telepathy"}))
	assertStatusCode(t, rec, http.StatusBadRequest)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/enroll/nope", nil))
	assertStatusCode(t, rec, http.StatusNotFound)

	st := startSession(t, f, "camera")
	rec = f.do(t, jsonRequest(t, http.MethodPut, "/enroll/"+st.ID+"/info", enrollment.Info{PersonID: "../x", DisplayName: "X"}))
	assertStatusCode(t, rec, http.StatusBadRequest)
}

func TestEnroll_CancelAndList(t *testing.T) {
	f := newFixture(t)
	a := startSession(t, f, "camera")
	startSession(t, f, "upload")

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/enroll", nil))
	var list []enrollment.Status
	parseJSONResponse(t, rec, &list)
	if len(list) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list))
	}

	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/enroll/"+a.ID, nil))
	assertStatusCode(t, rec, http.StatusOK)
	rec = f.do(t, httptest.NewRequest(http.MethodDelete, "/enroll/"+a.ID, nil))
	assertStatusCode(t, rec, http.StatusNotFound)
}

func TestEnrollHandler_StatusUnknownSession(t *testing.T) {
	f := newFixture(t)
	h := NewEnrollHandler(f.sessions, f.pipeline)

	req := requestWithChiParams(httptest.NewRequest(http.MethodGet, "/enroll/missing", nil), map[string]string{"id": "missing"})
	recorder := httptest.NewRecorder()
	h.Status(recorder, req)

	assertStatusCode(t, recorder, http.StatusNotFound)
	assertJSONError(t, recorder, enrollment.ErrSessionNotFound.Error())
}
