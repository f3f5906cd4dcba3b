// Package store is the persistence boundary for workflow records. The
// workflow engine and sweeps program against the Store interface; Postgres
// backs it in production and Memory backs it in tests.
package store

import (
	"context"
	"errors"
	"time"

	"foodsafe-workflow/internal/models"
	"foodsafe-workflow/internal/status"
)

// ErrNotFound reports that a referenced record does not exist. Callers use
// errors.Is to tell it apart from transport failures.
var ErrNotFound = errors.New("record not found")

// Order selects activity timeline direction. Always explicit; the old
// dashboards disagreed between views because the direction was implicit.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// CAPAFilter narrows ListCAPAs. Zero values mean "no constraint". AfterID and
// Limit page through the set in id order so sweeps can checkpoint.
type CAPAFilter struct {
	Statuses     []status.CAPAStatus
	DueBefore    *time.Time
	DueAfter     *time.Time
	ClosedBefore *time.Time
	Unverified   bool
	AfterID      string
	Limit        int
}

// Store is the persistence collaborator contract.
type Store interface {
	InsertCAPA(ctx context.Context, c models.CAPA) error
	GetCAPA(ctx context.Context, id string) (models.CAPA, error)
	UpdateCAPAStatus(ctx context.Context, id string, st status.CAPAStatus, completion *time.Time) error
	SetCAPAEffectiveness(ctx context.Context, id string, rating int, verifiedAt time.Time) error
	ListCAPAs(ctx context.Context, f CAPAFilter) ([]models.CAPA, error)
	FindCAPABySource(ctx context.Context, source status.CAPASource, sourceID string) (models.CAPA, error)
	// MarkCAPAOverdue conditionally flags a CAPA overdue. The write only
	// lands while the CAPA is still Open or In Progress, so a racing user
	// transition (for example to Closed) is never regressed. Returns true
	// when the flag was applied.
	MarkCAPAOverdue(ctx context.Context, id string) (bool, error)

	InsertNC(ctx context.Context, nc models.NonConformance) error
	GetNC(ctx context.Context, id string) (models.NonConformance, error)
	UpdateNCStatus(ctx context.Context, id string, st status.NCStatus) error
	SetNCCAPARef(ctx context.Context, id, capaID string) error

	InsertComplaint(ctx context.Context, c models.Complaint) error
	GetComplaint(ctx context.Context, id string) (models.Complaint, error)
	UpdateComplaintStatus(ctx context.Context, id string, st status.ComplaintStatus) error
	SetComplaintCAPARef(ctx context.Context, id, capaID string) error

	InsertDocument(ctx context.Context, d models.Document) error
	GetDocument(ctx context.Context, id string) (models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, st status.DocumentStatus) error
	SetDocumentCheckout(ctx context.Context, id string, st status.CheckoutStatus, by *string, version int) error

	AppendActivity(ctx context.Context, a models.Activity) error
	ListActivities(ctx context.Context, recordID string, order Order) ([]models.Activity, error)
}
