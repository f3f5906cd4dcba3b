package models

import (
	"time"

	"foodsafe-workflow/internal/status"
)

// SystemActor is the sentinel performed_by value for automation-driven
// activity. Only the sweep scheduler may write it; user-facing code paths
// always carry a real actor id.
const SystemActor = "System"

// Activity action types.
const (
	ActionCreated            = "created"
	ActionStatusChange       = "status_change"
	ActionCAPAGenerated      = "capa_generated"
	ActionCAPALinked         = "capa_linked"
	ActionEffectivenessRated = "effectiveness_rated"
	ActionReviewDue          = "effectiveness_review_due"
	ActionDeadlineWarning    = "deadline_warning"
	ActionOverdueFlagged     = "overdue_flagged"
	ActionCheckout           = "checked_out"
	ActionCheckin            = "checked_in"
	ActionEvidenceAttached   = "evidence_attached"
)

// CAPA is a corrective and preventive action record.
type CAPA struct {
	ID                    string              `json:"id"`
	Title                 string              `json:"title"`
	Description           string              `json:"description"`
	Status                status.CAPAStatus   `json:"status"`
	Priority              status.CAPAPriority `json:"priority"`
	Source                status.CAPASource   `json:"source"`
	SourceID              *string             `json:"source_id,omitempty"`
	CreatedBy             string              `json:"created_by"`
	AssignedTo            *string             `json:"assigned_to,omitempty"`
	DueDate               *time.Time          `json:"due_date,omitempty"`
	CompletionDate        *time.Time          `json:"completion_date,omitempty"`
	VerificationDate      *time.Time          `json:"verification_date,omitempty"`
	EffectivenessRating   *int                `json:"effectiveness_rating,omitempty"`
	EffectivenessVerified bool                `json:"effectiveness_verified"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// NonConformance is a logged deviation from specification, usually holding
// physical inventory until dispositioned.
type NonConformance struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Status         status.NCStatus `json:"status"`
	Quantity       float64         `json:"quantity"`
	QuantityOnHold float64         `json:"quantity_on_hold"`
	CAPAID         *string         `json:"capa_id,omitempty"`
	CreatedBy      string          `json:"created_by"`
	AssignedTo     *string         `json:"assigned_to,omitempty"`
	DueDate        *time.Time      `json:"due_date,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Complaint is a customer complaint record.
type Complaint struct {
	ID          string                   `json:"id"`
	Title       string                   `json:"title"`
	Description string                   `json:"description"`
	Status      status.ComplaintStatus   `json:"status"`
	Category    status.ComplaintCategory `json:"category"`
	CAPAID      *string                  `json:"capa_id,omitempty"`
	CreatedBy   string                   `json:"created_by"`
	AssignedTo  *string                  `json:"assigned_to,omitempty"`
	DueDate     *time.Time               `json:"due_date,omitempty"`
	CreatedAt   time.Time                `json:"created_at"`
	UpdatedAt   time.Time                `json:"updated_at"`
}

// Document is a controlled document with an orthogonal checkout sub-state.
type Document struct {
	ID             string                `json:"id"`
	Title          string                `json:"title"`
	Status         status.DocumentStatus `json:"status"`
	CheckoutStatus status.CheckoutStatus `json:"checkout_status"`
	CheckedOutBy   *string               `json:"checked_out_by,omitempty"`
	Version        int                   `json:"version"`
	ExpiryDate     *time.Time            `json:"expiry_date,omitempty"`
	CreatedBy      string                `json:"created_by"`
	CreatedAt      time.Time             `json:"created_at"`
	UpdatedAt      time.Time             `json:"updated_at"`
}

// Activity is one immutable entry in a record's audit trail. Rows are only
// ever appended; there is no update or delete path.
type Activity struct {
	ID          string         `json:"id"`
	RecordID    string         `json:"record_id"`
	ActionType  string         `json:"action_type"`
	Description string         `json:"description"`
	PerformedBy string         `json:"performed_by"`
	OldStatus   *string        `json:"old_status,omitempty"`
	NewStatus   *string        `json:"new_status,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	PerformedAt time.Time      `json:"performed_at"`
}
