package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"foodsafe-workflow/internal/models"
	"foodsafe-workflow/internal/status"
	"foodsafe-workflow/internal/store"
)

func TestGenerateCAPA_FromNC(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	nc, err := eng.CreateNC(ctx, CreateNCParams{Title: "Seal failure on lot 4417", Description: "Vacuum loss on 12 cases", Actor: "qa.lee"})
	require.NoError(t, err)

	c, err := eng.GenerateCAPA(ctx, status.EntityNonConformance, nc.ID, "qa.lee", false)
	require.NoError(t, err)
	require.Equal(t, status.CAPAOpen, c.Status)
	require.Equal(t, status.SourceNonConformance, c.Source)
	require.NotNil(t, c.SourceID)
	require.Equal(t, nc.ID, *c.SourceID)
	require.Equal(t, "CAPA for non-conformance: Seal failure on lot 4417", c.Title)
	require.Equal(t, status.PriorityMedium, c.Priority)
	require.NotNil(t, c.DueDate)
	require.Equal(t, 30*24*time.Hour, c.DueDate.Sub(c.CreatedAt))

	// Back-reference wired.
	got, err := eng.GetNC(ctx, nc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CAPAID)
	require.Equal(t, c.ID, *got.CAPAID)

	// Both records carry the generation event.
	ncActs, err := eng.Activities(ctx, nc.ID, store.OrderAsc)
	require.NoError(t, err)
	capaActs, err := eng.Activities(ctx, c.ID, store.OrderAsc)
	require.NoError(t, err)
	require.NotEmpty(t, capaActs)
	foundOnNC := false
	for _, a := range ncActs {
		if a.ActionType == models.ActionCAPAGenerated {
			foundOnNC = true
		}
	}
	require.True(t, foundOnNC, "non-conformance trail should record the generation")
}

func TestGenerateCAPA_Idempotent(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	nc, err := eng.CreateNC(ctx, CreateNCParams{Title: "Label mismatch", Actor: "qa.lee"})
	require.NoError(t, err)

	first, err := eng.GenerateCAPA(ctx, status.EntityNonConformance, nc.ID, "qa.lee", false)
	require.NoError(t, err)
	second, err := eng.GenerateCAPA(ctx, status.EntityNonConformance, nc.ID, "qa.kim", false)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	all, err := st.ListCAPAs(ctx, store.CAPAFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

// A crash between the CAPA insert and the back-reference write leaves the
// row without its link. A retry must find the orphan and repair the
// reference instead of inserting a second CAPA.
func TestGenerateCAPA_RepairsMissingBackReference(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	nc, err := eng.CreateNC(ctx, CreateNCParams{Title: "Torn liners", Actor: "qa.lee"})
	require.NoError(t, err)

	// Seed the orphan row the failed call would have left behind: a CAPA
	// pointing at the non-conformance with no back-reference on it.
	now := eng.Clock()().UTC()
	due := now.Add(30 * 24 * time.Hour)
	orphan := models.CAPA{
		ID:        "orphan-capa",
		Title:     "CAPA for non-conformance: Torn liners",
		Status:    status.CAPAOpen,
		Priority:  status.PriorityMedium,
		Source:    status.SourceNonConformance,
		SourceID:  &nc.ID,
		CreatedBy: "qa.lee",
		DueDate:   &due,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, st.InsertCAPA(ctx, orphan))

	got, err := eng.GenerateCAPA(ctx, status.EntityNonConformance, nc.ID, "qa.lee", false)
	require.NoError(t, err)
	require.Equal(t, orphan.ID, got.ID)

	repaired, err := st.GetNC(ctx, nc.ID)
	require.NoError(t, err)
	require.NotNil(t, repaired.CAPAID)
	require.Equal(t, orphan.ID, *repaired.CAPAID)

	all, err := st.ListCAPAs(ctx, store.CAPAFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGenerateCAPA_PriorityDerivation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	// NC under review generates High.
	nc, err := eng.CreateNC(ctx, CreateNCParams{Title: "Foreign matter found", Actor: "qa.lee"})
	require.NoError(t, err)
	_, err = eng.TransitionNC(ctx, nc.ID, status.NCUnderReview, "qa.lee")
	require.NoError(t, err)
	c, err := eng.GenerateCAPA(ctx, status.EntityNonConformance, nc.ID, "qa.lee", false)
	require.NoError(t, err)
	require.Equal(t, status.PriorityHigh, c.Priority)

	// Food safety complaint generates Critical.
	cp, err := eng.CreateComplaint(ctx, CreateComplaintParams{Title: "Illness reported", Category: status.CategoryFoodSafety, Actor: "cs.ray"})
	require.NoError(t, err)
	c, err = eng.GenerateCAPA(ctx, status.EntityComplaint, cp.ID, "qa.lee", false)
	require.NoError(t, err)
	require.Equal(t, status.PriorityCritical, c.Priority)
	require.Equal(t, status.SourceComplaint, c.Source)

	// Foreign material complaint generates High.
	cp, err = eng.CreateComplaint(ctx, CreateComplaintParams{Title: "Plastic fragment", Category: status.CategoryForeignMaterial, Actor: "cs.ray"})
	require.NoError(t, err)
	c, err = eng.GenerateCAPA(ctx, status.EntityComplaint, cp.ID, "qa.lee", false)
	require.NoError(t, err)
	require.Equal(t, status.PriorityHigh, c.Priority)

	// Everything else generates Medium.
	cp, err = eng.CreateComplaint(ctx, CreateComplaintParams{Title: "Late delivery", Category: status.CategoryDelivery, Actor: "cs.ray"})
	require.NoError(t, err)
	c, err = eng.GenerateCAPA(ctx, status.EntityComplaint, cp.ID, "qa.lee", false)
	require.NoError(t, err)
	require.Equal(t, status.PriorityMedium, c.Priority)
}

func TestGenerateCAPA_AutomaticUsesSystemActor(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	nc, err := eng.CreateNC(ctx, CreateNCParams{Title: "Temperature excursion", Actor: "qa.lee"})
	require.NoError(t, err)

	c, err := eng.GenerateCAPA(ctx, status.EntityNonConformance, nc.ID, "", true)
	require.NoError(t, err)
	require.Equal(t, "System", c.CreatedBy)
}

func TestGenerateCAPA_UnsupportedSource(t *testing.T) {
	eng, _ := newTestEngine(t)
	_, err := eng.GenerateCAPA(context.Background(), status.EntityDocument, "doc-1", "qa.lee", false)
	require.True(t, IsValidation(err))
}

func TestLinkCAPA(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	capa, err := eng.CreateCAPA(ctx, CreateCAPAParams{Title: "Supplier audit followup", Actor: "qa.lee"})
	require.NoError(t, err)
	nc, err := eng.CreateNC(ctx, CreateNCParams{Title: "Same root cause, new lot", Actor: "qa.lee"})
	require.NoError(t, err)

	require.NoError(t, eng.LinkCAPA(ctx, nc.ID, capa.ID, "qa.lee"))

	got, err := eng.GetNC(ctx, nc.ID)
	require.NoError(t, err)
	require.Equal(t, capa.ID, *got.CAPAID)

	// Re-linking the same pair is a no-op; a different CAPA conflicts.
	require.NoError(t, eng.LinkCAPA(ctx, nc.ID, capa.ID, "qa.lee"))
	other, err := eng.CreateCAPA(ctx, CreateCAPAParams{Title: "Unrelated CAPA", Actor: "qa.lee"})
	require.NoError(t, err)
	err = eng.LinkCAPA(ctx, nc.ID, other.ID, "qa.lee")
	require.True(t, IsConflict(err))
}

func TestLinkCAPA_RefusesClosed(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	capa, err := eng.CreateCAPA(ctx, CreateCAPAParams{Title: "Completed corrective work", Actor: "qa.lee"})
	require.NoError(t, err)
	_, err = eng.TransitionCAPA(ctx, capa.ID, status.CAPAInProgress, "qa.lee")
	require.NoError(t, err)
	_, err = eng.TransitionCAPA(ctx, capa.ID, status.CAPAClosed, "qa.lee")
	require.NoError(t, err)

	nc, err := eng.CreateNC(ctx, CreateNCParams{Title: "New deviation", Actor: "qa.lee"})
	require.NoError(t, err)
	err = eng.LinkCAPA(ctx, nc.ID, capa.ID, "qa.lee")
	require.True(t, IsConflict(err))

	got, err := eng.GetNC(ctx, nc.ID)
	require.NoError(t, err)
	require.Nil(t, got.CAPAID)
}
