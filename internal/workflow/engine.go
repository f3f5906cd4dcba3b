// Package workflow implements the compliance workflow engine: status
// transition validation, cross-entity CAPA linking, and the append-only
// activity trail behind every change. All record mutation funnels through
// the Engine; nothing writes a status field directly.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"foodsafe-workflow/internal/models"
	"foodsafe-workflow/internal/status"
	"foodsafe-workflow/internal/store"
	"foodsafe-workflow/internal/telemetry"
)

// Engine applies workflow rules against the record store.
type Engine struct {
	store store.Store
	log   *zap.Logger
	now   func() time.Time
}

// NewEngine constructs an engine on the real clock.
func NewEngine(st store.Store, log *zap.Logger) *Engine {
	return NewEngineWithClock(st, log, time.Now)
}

// NewEngineWithClock constructs an engine with an injected clock for tests.
func NewEngineWithClock(st store.Store, log *zap.Logger, now func() time.Time) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: st, log: log, now: now}
}

// Clock exposes the engine's time source so sweeps share it.
func (e *Engine) Clock() func() time.Time { return e.now }

// CreateCAPAParams collects inputs for a user-created CAPA. Source defaults
// to internal; generated CAPAs go through GenerateCAPA instead.
type CreateCAPAParams struct {
	Title       string
	Description string
	Priority    status.CAPAPriority
	Source      status.CAPASource
	AssignedTo  *string
	DueDate     *time.Time
	Actor       string
}

// CreateCAPA inserts a new open CAPA and records its creation.
func (e *Engine) CreateCAPA(ctx context.Context, p CreateCAPAParams) (models.CAPA, error) {
	if p.Title == "" {
		return models.CAPA{}, &ValidationError{Entity: status.EntityCAPA, Reason: "title is required"}
	}
	if p.Priority == "" {
		p.Priority = status.PriorityMedium
	}
	if p.Source == "" {
		p.Source = status.SourceInternal
	}
	now := e.now().UTC()
	c := models.CAPA{
		ID:          uuid.New().String(),
		Title:       p.Title,
		Description: p.Description,
		Status:      status.CAPAOpen,
		Priority:    p.Priority,
		Source:      p.Source,
		CreatedBy:   p.Actor,
		AssignedTo:  p.AssignedTo,
		DueDate:     p.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.InsertCAPA(ctx, c); err != nil {
		return models.CAPA{}, &TransportError{Op: "insert capa", Err: err}
	}
	e.appendActivity(ctx, c.ID, models.ActionCreated, "CAPA created", p.Actor, nil, strPtr(string(c.Status)), nil)
	return c, nil
}

// CreateNCParams collects inputs for a new non-conformance.
type CreateNCParams struct {
	Title          string
	Description    string
	Quantity       float64
	QuantityOnHold float64
	AssignedTo     *string
	DueDate        *time.Time
	Actor          string
}

// CreateNC inserts a new non-conformance on hold.
func (e *Engine) CreateNC(ctx context.Context, p CreateNCParams) (models.NonConformance, error) {
	if p.Title == "" {
		return models.NonConformance{}, &ValidationError{Entity: status.EntityNonConformance, Reason: "title is required"}
	}
	now := e.now().UTC()
	nc := models.NonConformance{
		ID:             uuid.New().String(),
		Title:          p.Title,
		Description:    p.Description,
		Status:         status.NCOnHold,
		Quantity:       p.Quantity,
		QuantityOnHold: p.QuantityOnHold,
		CreatedBy:      p.Actor,
		AssignedTo:     p.AssignedTo,
		DueDate:        p.DueDate,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.InsertNC(ctx, nc); err != nil {
		return models.NonConformance{}, &TransportError{Op: "insert non-conformance", Err: err}
	}
	e.appendActivity(ctx, nc.ID, models.ActionCreated, "Non-conformance created", p.Actor, nil, strPtr(string(nc.Status)), nil)
	return nc, nil
}

// CreateComplaintParams collects inputs for a new complaint.
type CreateComplaintParams struct {
	Title       string
	Description string
	Category    status.ComplaintCategory
	AssignedTo  *string
	DueDate     *time.Time
	Actor       string
}

// CreateComplaint inserts a new complaint.
func (e *Engine) CreateComplaint(ctx context.Context, p CreateComplaintParams) (models.Complaint, error) {
	if p.Title == "" {
		return models.Complaint{}, &ValidationError{Entity: status.EntityComplaint, Reason: "title is required"}
	}
	if p.Category == "" {
		p.Category = status.CategoryOther
	}
	now := e.now().UTC()
	c := models.Complaint{
		ID:          uuid.New().String(),
		Title:       p.Title,
		Description: p.Description,
		Status:      status.ComplaintNew,
		Category:    p.Category,
		CreatedBy:   p.Actor,
		AssignedTo:  p.AssignedTo,
		DueDate:     p.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.InsertComplaint(ctx, c); err != nil {
		return models.Complaint{}, &TransportError{Op: "insert complaint", Err: err}
	}
	e.appendActivity(ctx, c.ID, models.ActionCreated, "Complaint created", p.Actor, nil, strPtr(string(c.Status)), nil)
	return c, nil
}

// CreateDocumentParams collects inputs for a new controlled document.
type CreateDocumentParams struct {
	Title      string
	ExpiryDate *time.Time
	Actor      string
}

// CreateDocument inserts a new draft document at version 1.
func (e *Engine) CreateDocument(ctx context.Context, p CreateDocumentParams) (models.Document, error) {
	if p.Title == "" {
		return models.Document{}, &ValidationError{Entity: status.EntityDocument, Reason: "title is required"}
	}
	now := e.now().UTC()
	d := models.Document{
		ID:             uuid.New().String(),
		Title:          p.Title,
		Status:         status.DocumentDraft,
		CheckoutStatus: status.CheckoutAvailable,
		Version:        1,
		ExpiryDate:     p.ExpiryDate,
		CreatedBy:      p.Actor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.InsertDocument(ctx, d); err != nil {
		return models.Document{}, &TransportError{Op: "insert document", Err: err}
	}
	e.appendActivity(ctx, d.ID, models.ActionCreated, "Document created", p.Actor, nil, strPtr(string(d.Status)), nil)
	return d, nil
}

// GetCAPA loads a CAPA, classifying store errors.
func (e *Engine) GetCAPA(ctx context.Context, id string) (models.CAPA, error) {
	c, err := e.store.GetCAPA(ctx, id)
	if err != nil {
		return models.CAPA{}, classify(status.EntityCAPA, id, "get capa", err)
	}
	return c, nil
}

// GetNC loads a non-conformance, classifying store errors.
func (e *Engine) GetNC(ctx context.Context, id string) (models.NonConformance, error) {
	nc, err := e.store.GetNC(ctx, id)
	if err != nil {
		return models.NonConformance{}, classify(status.EntityNonConformance, id, "get non-conformance", err)
	}
	return nc, nil
}

// GetComplaint loads a complaint, classifying store errors.
func (e *Engine) GetComplaint(ctx context.Context, id string) (models.Complaint, error) {
	c, err := e.store.GetComplaint(ctx, id)
	if err != nil {
		return models.Complaint{}, classify(status.EntityComplaint, id, "get complaint", err)
	}
	return c, nil
}

// GetDocument loads a document, classifying store errors.
func (e *Engine) GetDocument(ctx context.Context, id string) (models.Document, error) {
	d, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return models.Document{}, classify(status.EntityDocument, id, "get document", err)
	}
	return d, nil
}

// TransitionNC moves a non-conformance to a new status, appending exactly
// one activity on success.
func (e *Engine) TransitionNC(ctx context.Context, id string, to status.NCStatus, actor string) (models.NonConformance, error) {
	nc, err := e.store.GetNC(ctx, id)
	if err != nil {
		return models.NonConformance{}, classify(status.EntityNonConformance, id, "get non-conformance", err)
	}
	if d := ValidateNCTransition(nc.Status, to); !d.Legal {
		telemetry.TransitionsRejected.Inc()
		return models.NonConformance{}, &ValidationError{Entity: status.EntityNonConformance, From: string(nc.Status), To: string(to), Reason: d.Reason}
	}
	if err := e.store.UpdateNCStatus(ctx, id, to); err != nil {
		return models.NonConformance{}, classify(status.EntityNonConformance, id, "update non-conformance status", err)
	}
	e.recordTransition(ctx, id, string(nc.Status), string(to), actor)
	nc.Status = to
	return nc, nil
}

// TransitionCAPA moves a CAPA to a new status. Closing stamps the
// completion date, which starts the 30-day effectiveness review clock.
func (e *Engine) TransitionCAPA(ctx context.Context, id string, to status.CAPAStatus, actor string) (models.CAPA, error) {
	c, err := e.store.GetCAPA(ctx, id)
	if err != nil {
		return models.CAPA{}, classify(status.EntityCAPA, id, "get capa", err)
	}
	if d := ValidateCAPATransition(c.Status, to); !d.Legal {
		telemetry.TransitionsRejected.Inc()
		return models.CAPA{}, &ValidationError{Entity: status.EntityCAPA, From: string(c.Status), To: string(to), Reason: d.Reason}
	}
	var completion *time.Time
	if to == status.CAPAClosed {
		now := e.now().UTC()
		completion = &now
	}
	if err := e.store.UpdateCAPAStatus(ctx, id, to, completion); err != nil {
		return models.CAPA{}, classify(status.EntityCAPA, id, "update capa status", err)
	}
	e.recordTransition(ctx, id, string(c.Status), string(to), actor)
	c.Status = to
	if completion != nil {
		c.CompletionDate = completion
	}
	return c, nil
}

// TransitionComplaint moves a complaint to a new status, including the
// escalation exception path.
func (e *Engine) TransitionComplaint(ctx context.Context, id string, to status.ComplaintStatus, actor string) (models.Complaint, error) {
	c, err := e.store.GetComplaint(ctx, id)
	if err != nil {
		return models.Complaint{}, classify(status.EntityComplaint, id, "get complaint", err)
	}
	if d := ValidateComplaintTransition(c.Status, to); !d.Legal {
		telemetry.TransitionsRejected.Inc()
		return models.Complaint{}, &ValidationError{Entity: status.EntityComplaint, From: string(c.Status), To: string(to), Reason: d.Reason}
	}
	if err := e.store.UpdateComplaintStatus(ctx, id, to); err != nil {
		return models.Complaint{}, classify(status.EntityComplaint, id, "update complaint status", err)
	}
	e.recordTransition(ctx, id, string(c.Status), string(to), actor)
	c.Status = to
	return c, nil
}

// TransitionDocument moves a document to a new primary status. The checkout
// sub-state is untouched; use CheckoutDocument and CheckinDocument for it.
func (e *Engine) TransitionDocument(ctx context.Context, id string, to status.DocumentStatus, actor string) (models.Document, error) {
	d, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return models.Document{}, classify(status.EntityDocument, id, "get document", err)
	}
	if dec := ValidateDocumentTransition(d.Status, to); !dec.Legal {
		telemetry.TransitionsRejected.Inc()
		return models.Document{}, &ValidationError{Entity: status.EntityDocument, From: string(d.Status), To: string(to), Reason: dec.Reason}
	}
	if err := e.store.UpdateDocumentStatus(ctx, id, to); err != nil {
		return models.Document{}, classify(status.EntityDocument, id, "update document status", err)
	}
	e.recordTransition(ctx, id, string(d.Status), string(to), actor)
	d.Status = to
	return d, nil
}

// SetEffectivenessRating records a post-closure effectiveness rating on a
// Closed or Pending Verification CAPA; the rating scale is 1..5. Pending
// Verification has no further transitions, so rating is its exit.
func (e *Engine) SetEffectivenessRating(ctx context.Context, id string, rating int, actor string) (models.CAPA, error) {
	if rating < 1 || rating > 5 {
		return models.CAPA{}, &ValidationError{Entity: status.EntityCAPA, Reason: "effectiveness rating must be between 1 and 5"}
	}
	c, err := e.store.GetCAPA(ctx, id)
	if err != nil {
		return models.CAPA{}, classify(status.EntityCAPA, id, "get capa", err)
	}
	if c.Status != status.CAPAClosed && c.Status != status.CAPAPendingVerification {
		return models.CAPA{}, &ValidationError{Entity: status.EntityCAPA, Reason: fmt.Sprintf("effectiveness can only be rated once the CAPA is closed (current status %s)", c.Status)}
	}
	verifiedAt := e.now().UTC()
	if err := e.store.SetCAPAEffectiveness(ctx, id, rating, verifiedAt); err != nil {
		return models.CAPA{}, classify(status.EntityCAPA, id, "set capa effectiveness", err)
	}
	e.appendActivity(ctx, id, models.ActionEffectivenessRated,
		fmt.Sprintf("Effectiveness rated %d/5", rating), actor, nil, nil,
		map[string]any{"rating": rating})
	c.EffectivenessRating = &rating
	c.EffectivenessVerified = true
	c.VerificationDate = &verifiedAt
	return c, nil
}

// CheckoutDocument claims exclusive editing of a document.
func (e *Engine) CheckoutDocument(ctx context.Context, id, actor string) (models.Document, error) {
	d, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return models.Document{}, classify(status.EntityDocument, id, "get document", err)
	}
	if d.CheckoutStatus == status.CheckoutCheckedOut {
		who := "another user"
		if d.CheckedOutBy != nil {
			who = *d.CheckedOutBy
		}
		return models.Document{}, &ConflictError{Reason: fmt.Sprintf("document is already checked out by %s", who)}
	}
	if err := e.store.SetDocumentCheckout(ctx, id, status.CheckoutCheckedOut, &actor, d.Version); err != nil {
		return models.Document{}, classify(status.EntityDocument, id, "set document checkout", err)
	}
	e.appendActivity(ctx, id, models.ActionCheckout, "Document checked out", actor, nil, nil, nil)
	d.CheckoutStatus = status.CheckoutCheckedOut
	d.CheckedOutBy = &actor
	return d, nil
}

// CheckinDocument releases a checkout and bumps the version. Only the
// holder of the checkout may check in.
func (e *Engine) CheckinDocument(ctx context.Context, id, actor string) (models.Document, error) {
	d, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return models.Document{}, classify(status.EntityDocument, id, "get document", err)
	}
	if d.CheckoutStatus != status.CheckoutCheckedOut {
		return models.Document{}, &ConflictError{Reason: "document is not checked out"}
	}
	if d.CheckedOutBy != nil && *d.CheckedOutBy != actor {
		return models.Document{}, &ConflictError{Reason: fmt.Sprintf("document is checked out by %s", *d.CheckedOutBy)}
	}
	version := d.Version + 1
	if err := e.store.SetDocumentCheckout(ctx, id, status.CheckoutAvailable, nil, version); err != nil {
		return models.Document{}, classify(status.EntityDocument, id, "set document checkout", err)
	}
	e.appendActivity(ctx, id, models.ActionCheckin,
		fmt.Sprintf("Document checked in as version %d", version), actor, nil, nil,
		map[string]any{"version": version})
	d.CheckoutStatus = status.CheckoutAvailable
	d.CheckedOutBy = nil
	d.Version = version
	return d, nil
}

// RecordEvidence notes an attached evidence file on a complaint's audit
// trail. Storage already happened; this only verifies the complaint exists
// and appends the activity.
func (e *Engine) RecordEvidence(ctx context.Context, complaintID, actor, key, thumbnailKey string) error {
	if _, err := e.store.GetComplaint(ctx, complaintID); err != nil {
		return classify(status.EntityComplaint, complaintID, "get complaint", err)
	}
	e.appendActivity(ctx, complaintID, models.ActionEvidenceAttached,
		"Evidence attached", actor, nil, nil,
		map[string]any{"key": key, "thumbnail_key": thumbnailKey})
	return nil
}

// Activities returns a record's audit trail in the requested direction.
func (e *Engine) Activities(ctx context.Context, recordID string, order store.Order) ([]models.Activity, error) {
	out, err := e.store.ListActivities(ctx, recordID, order)
	if err != nil {
		return nil, &TransportError{Op: "list activities", Err: err}
	}
	return out, nil
}

// IsOverdue is the on-read overdue check: a CAPA past its due date and still
// being worked is logically overdue regardless of the stored status field.
// The batch sweep writes the stored Overdue status from this same predicate
// so the two views always agree.
func IsOverdue(c models.CAPA, now time.Time) bool {
	if c.DueDate == nil {
		return false
	}
	if c.Status != status.CAPAOpen && c.Status != status.CAPAInProgress {
		return false
	}
	return c.DueDate.Before(now)
}

func (e *Engine) recordTransition(ctx context.Context, recordID, from, to, actor string) {
	telemetry.TransitionsApplied.Inc()
	e.appendActivity(ctx, recordID, models.ActionStatusChange,
		fmt.Sprintf("Status changed from %s to %s", from, to), actor, &from, &to, nil)
}

// appendActivity writes one immutable audit entry. A failed append is logged
// and surfaced through metrics rather than rolling back the state change;
// the store write already committed.
func (e *Engine) appendActivity(ctx context.Context, recordID, action, description, actor string, oldStatus, newStatus *string, metadata map[string]any) {
	a := models.Activity{
		ID:          uuid.New().String(),
		RecordID:    recordID,
		ActionType:  action,
		Description: description,
		PerformedBy: actor,
		OldStatus:   oldStatus,
		NewStatus:   newStatus,
		Metadata:    metadata,
		PerformedAt: e.now().UTC(),
	}
	if err := e.store.AppendActivity(ctx, a); err != nil {
		telemetry.ActivityAppendFailures.Inc()
		e.log.Error("append activity failed",
			zap.String("record_id", recordID),
			zap.String("action", action),
			zap.Error(err))
	}
}

func strPtr(s string) *string { return &s }
