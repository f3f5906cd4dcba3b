package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"foodsafe-workflow/internal/config"
	"foodsafe-workflow/internal/models"
	"foodsafe-workflow/internal/store"
	"foodsafe-workflow/internal/workflow"
)

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewMemory()
	clock := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	eng := workflow.NewEngineWithClock(st, zap.NewNop(), func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	return New(config.Config{}, eng, nil, nil, nil, zap.NewNop()).Router()
}

func doJSON(t *testing.T, h http.Handler, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestActorHeaderRequired(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/capas", "", map[string]string{"title": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing header status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/capas", "System", map[string]string{"title": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("System actor status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "reserved") {
		t.Fatalf("System actor body = %q", rec.Body.String())
	}
}

func TestNonConformanceFlow(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/nonconformances", "qa.lee", map[string]any{
		"title":            "Swollen cans, lot 88",
		"quantity":         400,
		"quantity_on_hold": 400,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	nc := decode[models.NonConformance](t, rec)
	if string(nc.Status) != "On Hold" {
		t.Fatalf("initial status = %s", nc.Status)
	}

	// Closing straight from hold is refused with the rule in the body.
	rec = doJSON(t, h, http.MethodPost, "/nonconformances/"+nc.ID+"/transition", "qa.lee", map[string]string{"status": "Closed"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("illegal transition status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "reviewed or released") {
		t.Fatalf("illegal transition body = %q", rec.Body.String())
	}

	// Legacy spelling in the request body still works.
	rec = doJSON(t, h, http.MethodPost, "/nonconformances/"+nc.ID+"/transition", "qa.lee", map[string]string{"status": "Under_Review"})
	if rec.Code != http.StatusOK {
		t.Fatalf("legal transition status = %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[models.NonConformance](t, rec)
	if string(got.Status) != "Under Review" {
		t.Fatalf("status after transition = %s", got.Status)
	}

	// Generating the CAPA is idempotent at the HTTP layer too.
	rec = doJSON(t, h, http.MethodPost, "/nonconformances/"+nc.ID+"/capa", "qa.lee", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("generate status = %d: %s", rec.Code, rec.Body.String())
	}
	first := decode[models.CAPA](t, rec)
	rec = doJSON(t, h, http.MethodPost, "/nonconformances/"+nc.ID+"/capa", "qa.kim", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("regenerate status = %d", rec.Code)
	}
	second := decode[models.CAPA](t, rec)
	if first.ID != second.ID {
		t.Fatalf("generate not idempotent: %s vs %s", first.ID, second.ID)
	}
	if string(first.Priority) != "High" {
		t.Fatalf("priority = %s, want High for NC under review", first.Priority)
	}

	// The audit trail is readable in both directions.
	rec = doJSON(t, h, http.MethodGet, "/records/"+nc.ID+"/activities", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("activities status = %d", rec.Code)
	}
	trail := decode[struct {
		Activities []models.Activity `json:"activities"`
	}](t, rec)
	if len(trail.Activities) != 3 { // created, transition, capa generated
		t.Fatalf("activities = %d, want 3", len(trail.Activities))
	}
	rec = doJSON(t, h, http.MethodGet, "/records/"+nc.ID+"/activities?order=desc", "", nil)
	reversed := decode[struct {
		Activities []models.Activity `json:"activities"`
	}](t, rec)
	if reversed.Activities[0].ID != trail.Activities[2].ID {
		t.Fatalf("desc order should reverse asc order")
	}
}

func TestTransitionRejectsUnknownStatus(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/documents", "qa.lee", map[string]string{"title": "HACCP plan rev 3"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	d := decode[models.Document](t, rec)
	for _, to := range []string{"Pending Approval", "Rejected"} {
		rec = doJSON(t, h, http.MethodPost, "/documents/"+d.ID+"/transition", "qa.lee", map[string]string{"status": to})
		if rec.Code != http.StatusOK {
			t.Fatalf("transition to %s status = %d: %s", to, rec.Code, rec.Body.String())
		}
	}

	// An unrecognized target must be refused outright, not silently
	// normalized to Draft (which Rejected may legally move to).
	rec = doJSON(t, h, http.MethodPost, "/documents/"+d.ID+"/transition", "qa.lee", map[string]string{"status": "Banana"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown status code = %d, want 400: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "unknown document status") {
		t.Fatalf("unknown status body = %q", rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodGet, "/documents/"+d.ID, "", nil)
	got := decode[models.Document](t, rec)
	if string(got.Status) != "Rejected" {
		t.Fatalf("status after refused transition = %s, want Rejected", got.Status)
	}

	rec = doJSON(t, h, http.MethodPost, "/capas", "qa.lee", map[string]string{"title": "Re-train sanitation crew"})
	c := decode[models.CAPA](t, rec)
	rec = doJSON(t, h, http.MethodPost, "/capas/"+c.ID+"/transition", "qa.lee", map[string]string{"status": "in progress"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("misspelled CAPA status code = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unknown CAPA status") {
		t.Fatalf("misspelled CAPA status body = %q", rec.Body.String())
	}
}

func TestGetCAPA_IncludesDerivedOverdue(t *testing.T) {
	h := newTestServer(t)

	due := time.Now().UTC().Add(-24 * time.Hour)
	rec := doJSON(t, h, http.MethodPost, "/capas", "qa.lee", map[string]any{
		"title":    "Replace worn belts",
		"due_date": due,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	c := decode[models.CAPA](t, rec)

	rec = doJSON(t, h, http.MethodGet, "/capas/"+c.ID, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	resp := decode[struct {
		CAPA      models.CAPA `json:"capa"`
		IsOverdue bool        `json:"is_overdue"`
	}](t, rec)
	if !resp.IsOverdue {
		t.Fatal("past-due open CAPA should read as overdue")
	}
	if string(resp.CAPA.Status) != "Open" {
		t.Fatalf("stored status = %s; the derived flag must not rewrite it", resp.CAPA.Status)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/capas/nope", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing capa status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/documents", "qa.lee", map[string]string{"title": "SOP-12"})
	d := decode[models.Document](t, rec)
	rec = doJSON(t, h, http.MethodPost, "/documents/"+d.ID+"/checkout", "qa.lee", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("checkout status = %d", rec.Code)
	}
	rec = doJSON(t, h, http.MethodPost, "/documents/"+d.ID+"/checkout", "qa.kim", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double checkout status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/capas", "qa.lee", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing title status = %d, want 400", rec.Code)
	}

	// Unconfigured collaborators answer 501 rather than panicking.
	rec = doJSON(t, h, http.MethodPost, "/sweeps/run", "", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("sweeps status = %d, want 501", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}
}
