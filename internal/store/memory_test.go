package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"foodsafe-workflow/internal/models"
	"foodsafe-workflow/internal/status"
)

func seedCAPA(t *testing.T, m *Memory, id string, st status.CAPAStatus, mod func(*models.CAPA)) {
	t.Helper()
	c := models.CAPA{
		ID:        id,
		Title:     "CAPA " + id,
		Status:    st,
		Priority:  status.PriorityMedium,
		Source:    status.SourceInternal,
		CreatedBy: "qa.lee",
		CreatedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	}
	if mod != nil {
		mod(&c)
	}
	if err := m.InsertCAPA(context.Background(), c); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestMemory_GetCAPA_NotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetCAPA(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMemory_InsertCAPA_DuplicateID(t *testing.T) {
	m := NewMemory()
	seedCAPA(t, m, "a", status.CAPAOpen, nil)
	err := m.InsertCAPA(context.Background(), models.CAPA{ID: "a"})
	if err == nil {
		t.Fatal("duplicate insert should fail")
	}
}

func TestMemory_ListCAPAs_Filters(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 4, 15, 12, 0, 0, 0, time.UTC)

	past := now.Add(-24 * time.Hour)
	soon := now.Add(48 * time.Hour)
	far := now.Add(240 * time.Hour)

	seedCAPA(t, m, "a", status.CAPAOpen, func(c *models.CAPA) { c.DueDate = &past })
	seedCAPA(t, m, "b", status.CAPAInProgress, func(c *models.CAPA) { c.DueDate = &soon })
	seedCAPA(t, m, "c", status.CAPAOpen, func(c *models.CAPA) { c.DueDate = &far })
	seedCAPA(t, m, "d", status.CAPAClosed, func(c *models.CAPA) {
		closed := now.Add(-31 * 24 * time.Hour)
		c.CompletionDate = &closed
	})
	seedCAPA(t, m, "e", status.CAPAClosed, func(c *models.CAPA) {
		closed := now.Add(-31 * 24 * time.Hour)
		c.CompletionDate = &closed
		c.EffectivenessVerified = true
	})
	seedCAPA(t, m, "f", status.CAPAOpen, nil) // no due date

	// Past-due working CAPAs.
	got, err := m.ListCAPAs(ctx, CAPAFilter{
		Statuses:  []status.CAPAStatus{status.CAPAOpen, status.CAPAInProgress},
		DueBefore: &now,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("past-due = %v", ids(got))
	}

	// Due inside a window.
	horizon := now.Add(72 * time.Hour)
	got, _ = m.ListCAPAs(ctx, CAPAFilter{DueAfter: &now, DueBefore: &horizon})
	if len(got) != 1 || got[0].ID != "b" {
		t.Fatalf("window = %v", ids(got))
	}

	// Closed long enough ago and still unverified.
	threshold := now.Add(-30 * 24 * time.Hour)
	got, _ = m.ListCAPAs(ctx, CAPAFilter{
		Statuses:     []status.CAPAStatus{status.CAPAClosed},
		ClosedBefore: &threshold,
		Unverified:   true,
	})
	if len(got) != 1 || got[0].ID != "d" {
		t.Fatalf("review-due = %v", ids(got))
	}
}

func TestMemory_ListCAPAs_Pagination(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "e", "b", "d"} {
		seedCAPA(t, m, id, status.CAPAOpen, nil)
	}

	page, err := m.ListCAPAs(ctx, CAPAFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"a", "b"}; !equal(ids(page), want) {
		t.Fatalf("page 1 = %v, want %v", ids(page), want)
	}

	page, _ = m.ListCAPAs(ctx, CAPAFilter{Limit: 2, AfterID: "b"})
	if want := []string{"c", "d"}; !equal(ids(page), want) {
		t.Fatalf("page 2 = %v, want %v", ids(page), want)
	}

	page, _ = m.ListCAPAs(ctx, CAPAFilter{Limit: 2, AfterID: "d"})
	if want := []string{"e"}; !equal(ids(page), want) {
		t.Fatalf("page 3 = %v, want %v", ids(page), want)
	}
}

func TestMemory_MarkCAPAOverdue_Conditional(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	seedCAPA(t, m, "open", status.CAPAOpen, nil)
	seedCAPA(t, m, "working", status.CAPAInProgress, nil)
	seedCAPA(t, m, "closed", status.CAPAClosed, nil)

	for _, id := range []string{"open", "working"} {
		flagged, err := m.MarkCAPAOverdue(ctx, id)
		if err != nil {
			t.Fatalf("mark %s: %v", id, err)
		}
		if !flagged {
			t.Fatalf("%s should flag", id)
		}
	}
	flagged, err := m.MarkCAPAOverdue(ctx, "closed")
	if err != nil {
		t.Fatalf("mark closed: %v", err)
	}
	if flagged {
		t.Fatal("closed must not flag")
	}
	c, _ := m.GetCAPA(ctx, "closed")
	if c.Status != status.CAPAClosed {
		t.Fatalf("closed status = %s", c.Status)
	}
	if _, err := m.MarkCAPAOverdue(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err = %v", err)
	}
}

func TestMemory_ActivitiesOrdering(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 4, 15, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		err := m.AppendActivity(ctx, models.Activity{
			ID:          string(rune('a' + i)),
			RecordID:    "rec-1",
			ActionType:  models.ActionStatusChange,
			PerformedBy: "qa.lee",
			PerformedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	asc, err := m.ListActivities(ctx, "rec-1", OrderAsc)
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if asc[0].ID != "a" || asc[2].ID != "c" {
		t.Fatalf("asc order = %v", activityIDs(asc))
	}
	desc, _ := m.ListActivities(ctx, "rec-1", OrderDesc)
	if desc[0].ID != "c" || desc[2].ID != "a" {
		t.Fatalf("desc order = %v", activityIDs(desc))
	}

	// Unknown record yields an empty trail, not an error.
	none, err := m.ListActivities(ctx, "rec-2", OrderAsc)
	if err != nil || len(none) != 0 {
		t.Fatalf("unknown record: %v, %v", none, err)
	}
}

func ids(cs []models.CAPA) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func activityIDs(as []models.Activity) []string {
	out := make([]string, len(as))
	for i, a := range as {
		out[i] = a.ID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
