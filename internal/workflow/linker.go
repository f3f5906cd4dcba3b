package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"foodsafe-workflow/internal/models"
	"foodsafe-workflow/internal/status"
	"foodsafe-workflow/internal/store"
	"foodsafe-workflow/internal/telemetry"
)

// generatedCAPADueDays is the default corrective window for a generated
// CAPA when the source carries no due date of its own.
const generatedCAPADueDays = 30

// GenerateCAPA creates a CAPA from a non-conformance or complaint and wires
// the bidirectional reference. The call is idempotent: a second invocation
// for the same source returns the existing CAPA instead of creating another,
// which also makes it safe to retry after a partial failure (duplicate user
// clicks and re-run automation hit the same path).
func (e *Engine) GenerateCAPA(ctx context.Context, sourceType status.EntityType, sourceID, actor string, automatic bool) (models.CAPA, error) {
	if automatic && actor == "" {
		actor = models.SystemActor
	}

	switch sourceType {
	case status.EntityNonConformance:
		return e.generateFromNC(ctx, sourceID, actor)
	case status.EntityComplaint:
		return e.generateFromComplaint(ctx, sourceID, actor)
	default:
		return models.CAPA{}, &ValidationError{Entity: sourceType, Reason: fmt.Sprintf("a CAPA cannot be generated from entity type %q", sourceType)}
	}
}

func (e *Engine) generateFromNC(ctx context.Context, ncID, actor string) (models.CAPA, error) {
	nc, err := e.store.GetNC(ctx, ncID)
	if err != nil {
		return models.CAPA{}, classify(status.EntityNonConformance, ncID, "get non-conformance", err)
	}
	if nc.CAPAID != nil {
		existing, err := e.store.GetCAPA(ctx, *nc.CAPAID)
		if err != nil {
			return models.CAPA{}, classify(status.EntityCAPA, *nc.CAPAID, "get capa", err)
		}
		return existing, nil
	}
	// A CAPA row without the back-reference means a previous call failed
	// between the two writes. Repair the reference instead of inserting a
	// second row.
	if existing, err := e.store.FindCAPABySource(ctx, status.SourceNonConformance, ncID); err == nil {
		if err := e.store.SetNCCAPARef(ctx, ncID, existing.ID); err != nil {
			return models.CAPA{}, classify(status.EntityNonConformance, ncID, "set capa reference", err)
		}
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.CAPA{}, &TransportError{Op: "find capa by source", Err: err}
	}

	priority := status.PriorityMedium
	if nc.Status == status.NCUnderReview {
		priority = status.PriorityHigh
	}
	c, err := e.insertGeneratedCAPA(ctx, generatedCAPA{
		title:       fmt.Sprintf("CAPA for non-conformance: %s", nc.Title),
		description: nc.Description,
		source:      status.SourceNonConformance,
		sourceID:    ncID,
		priority:    priority,
		actor:       actor,
	})
	if err != nil {
		return models.CAPA{}, err
	}
	if err := e.store.SetNCCAPARef(ctx, ncID, c.ID); err != nil {
		// The CAPA row exists; the retry path above repairs the reference.
		return models.CAPA{}, classify(status.EntityNonConformance, ncID, "set capa reference", err)
	}
	e.appendActivity(ctx, ncID, models.ActionCAPAGenerated,
		fmt.Sprintf("CAPA %s generated from this non-conformance", c.ID), actor, nil, nil,
		map[string]any{"capa_id": c.ID})
	return c, nil
}

func (e *Engine) generateFromComplaint(ctx context.Context, complaintID, actor string) (models.CAPA, error) {
	cp, err := e.store.GetComplaint(ctx, complaintID)
	if err != nil {
		return models.CAPA{}, classify(status.EntityComplaint, complaintID, "get complaint", err)
	}
	if cp.CAPAID != nil {
		existing, err := e.store.GetCAPA(ctx, *cp.CAPAID)
		if err != nil {
			return models.CAPA{}, classify(status.EntityCAPA, *cp.CAPAID, "get capa", err)
		}
		return existing, nil
	}
	if existing, err := e.store.FindCAPABySource(ctx, status.SourceComplaint, complaintID); err == nil {
		if err := e.store.SetComplaintCAPARef(ctx, complaintID, existing.ID); err != nil {
			return models.CAPA{}, classify(status.EntityComplaint, complaintID, "set capa reference", err)
		}
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return models.CAPA{}, &TransportError{Op: "find capa by source", Err: err}
	}

	priority := status.PriorityMedium
	switch cp.Category {
	case status.CategoryFoodSafety:
		priority = status.PriorityCritical
	case status.CategoryForeignMaterial:
		priority = status.PriorityHigh
	}
	c, err := e.insertGeneratedCAPA(ctx, generatedCAPA{
		title:       fmt.Sprintf("CAPA for complaint: %s", cp.Title),
		description: cp.Description,
		source:      status.SourceComplaint,
		sourceID:    complaintID,
		priority:    priority,
		actor:       actor,
	})
	if err != nil {
		return models.CAPA{}, err
	}
	if err := e.store.SetComplaintCAPARef(ctx, complaintID, c.ID); err != nil {
		return models.CAPA{}, classify(status.EntityComplaint, complaintID, "set capa reference", err)
	}
	e.appendActivity(ctx, complaintID, models.ActionCAPAGenerated,
		fmt.Sprintf("CAPA %s generated from this complaint", c.ID), actor, nil, nil,
		map[string]any{"capa_id": c.ID})
	return c, nil
}

type generatedCAPA struct {
	title       string
	description string
	source      status.CAPASource
	sourceID    string
	priority    status.CAPAPriority
	actor       string
}

func (e *Engine) insertGeneratedCAPA(ctx context.Context, g generatedCAPA) (models.CAPA, error) {
	now := e.now().UTC()
	due := now.Add(generatedCAPADueDays * 24 * time.Hour)
	c := models.CAPA{
		ID:          uuid.New().String(),
		Title:       g.title,
		Description: g.description,
		Status:      status.CAPAOpen,
		Priority:    g.priority,
		Source:      g.source,
		SourceID:    &g.sourceID,
		CreatedBy:   g.actor,
		DueDate:     &due,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.InsertCAPA(ctx, c); err != nil {
		return models.CAPA{}, &TransportError{Op: "insert capa", Err: err}
	}
	telemetry.CAPAsGenerated.Inc()
	e.log.Info("capa generated",
		zap.String("capa_id", c.ID),
		zap.String("source", string(g.source)),
		zap.String("source_id", g.sourceID))
	e.appendActivity(ctx, c.ID, models.ActionCAPAGenerated,
		fmt.Sprintf("CAPA generated from %s %s", g.source, g.sourceID), g.actor, nil, strPtr(string(c.Status)),
		map[string]any{"source": string(g.source), "source_id": g.sourceID})
	return c, nil
}

// LinkCAPA associates an existing CAPA with a non-conformance, for reusing
// one CAPA across related deviations. A closed CAPA cannot take on new
// corrective work without being reopened, so that link is refused.
func (e *Engine) LinkCAPA(ctx context.Context, ncID, capaID, actor string) error {
	nc, err := e.store.GetNC(ctx, ncID)
	if err != nil {
		return classify(status.EntityNonConformance, ncID, "get non-conformance", err)
	}
	c, err := e.store.GetCAPA(ctx, capaID)
	if err != nil {
		return classify(status.EntityCAPA, capaID, "get capa", err)
	}
	if c.Status == status.CAPAClosed || c.Status == status.CAPAPendingVerification {
		return &ConflictError{Reason: fmt.Sprintf("cannot link CAPA %s: it is %s; reopen it before attaching new corrective work", capaID, c.Status)}
	}
	if nc.CAPAID != nil {
		if *nc.CAPAID == capaID {
			return nil // already linked
		}
		return &ConflictError{Reason: fmt.Sprintf("non-conformance %s is already linked to CAPA %s", ncID, *nc.CAPAID)}
	}
	if err := e.store.SetNCCAPARef(ctx, ncID, capaID); err != nil {
		return classify(status.EntityNonConformance, ncID, "set capa reference", err)
	}
	e.appendActivity(ctx, ncID, models.ActionCAPALinked,
		fmt.Sprintf("Linked to existing CAPA %s", capaID), actor, nil, nil,
		map[string]any{"capa_id": capaID})
	e.appendActivity(ctx, capaID, models.ActionCAPALinked,
		fmt.Sprintf("Non-conformance %s linked to this CAPA", ncID), actor, nil, nil,
		map[string]any{"non_conformance_id": ncID})
	return nil
}
