package workflow

import (
	"fmt"

	"foodsafe-workflow/internal/status"
)

// Decision is the outcome of a transition check. Reason is set whenever
// Legal is false and names the violated rule for user-facing messages.
type Decision struct {
	Legal  bool
	Reason string
}

func legal() Decision { return Decision{Legal: true} }

func illegal(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Per-entity transition tables. A missing source state has no legal exits
// (terminal). Escalation and automation paths are handled outside the table.
var (
	ncTransitions = map[status.NCStatus][]status.NCStatus{
		status.NCOnHold:      {status.NCUnderReview, status.NCReleased},
		status.NCUnderReview: {status.NCResolved, status.NCRejected},
		status.NCReleased:    {status.NCDisposed, status.NCClosed},
		status.NCDisposed:    {status.NCClosed},
		status.NCResolved:    {status.NCClosed},
		status.NCRejected:    {status.NCClosed},
	}

	capaTransitions = map[status.CAPAStatus][]status.CAPAStatus{
		status.CAPAOpen:       {status.CAPAInProgress},
		status.CAPAInProgress: {status.CAPAClosed},
		status.CAPAClosed:     {status.CAPAPendingVerification},
		// Automation flags a CAPA overdue; users resume or close it.
		status.CAPAOverdue: {status.CAPAInProgress, status.CAPAClosed},
	}

	complaintTransitions = map[status.ComplaintStatus][]status.ComplaintStatus{
		status.ComplaintNew:                {status.ComplaintUnderInvestigation},
		status.ComplaintUnderInvestigation: {status.ComplaintPendingResponse, status.ComplaintResolved},
		status.ComplaintPendingResponse:    {status.ComplaintResolved},
		status.ComplaintResolved:           {status.ComplaintClosed},
		status.ComplaintEscalated:          {status.ComplaintUnderInvestigation, status.ComplaintResolved},
	}

	documentTransitions = map[status.DocumentStatus][]status.DocumentStatus{
		status.DocumentDraft:           {status.DocumentPendingApproval},
		status.DocumentPendingApproval: {status.DocumentApproved, status.DocumentRejected},
		status.DocumentApproved:        {status.DocumentPublished},
		status.DocumentRejected:        {status.DocumentDraft},
		status.DocumentPublished:       {status.DocumentPendingReview, status.DocumentArchived, status.DocumentExpired},
		status.DocumentPendingReview:   {status.DocumentPublished, status.DocumentArchived},
		status.DocumentExpired:         {status.DocumentPendingReview},
	}
)

func contains[S comparable](set []S, v S) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// ValidateNCTransition checks a non-conformance status change.
func ValidateNCTransition(from, to status.NCStatus) Decision {
	if from == to {
		return illegal("non-conformance is already %s", from)
	}
	if from == status.NCOnHold && to == status.NCClosed {
		return illegal("cannot close a non-conformance directly from On Hold; it must be reviewed or released first")
	}
	if from == status.NCClosed {
		return illegal("non-conformance is closed; no further transitions are allowed")
	}
	if contains(ncTransitions[from], to) {
		return legal()
	}
	return illegal("non-conformance cannot move from %s to %s", from, to)
}

// ValidateCAPATransition checks a user-driven CAPA status change. The
// Overdue flag is automation-only and is rejected here.
func ValidateCAPATransition(from, to status.CAPAStatus) Decision {
	if from == to {
		return illegal("CAPA is already %s", from)
	}
	if to == status.CAPAOverdue {
		return illegal("Overdue is applied by automation from the due date; it cannot be set manually")
	}
	if from == status.CAPAPendingVerification {
		return illegal("CAPA is pending verification; record an effectiveness rating instead")
	}
	if contains(capaTransitions[from], to) {
		return legal()
	}
	return illegal("CAPA cannot move from %s to %s", from, to)
}

// ValidateComplaintTransition checks a complaint status change. Escalation
// is an exception path: legal from any state that is not already closed or
// escalated.
func ValidateComplaintTransition(from, to status.ComplaintStatus) Decision {
	if from == to {
		return illegal("complaint is already %s", from)
	}
	if to == status.ComplaintEscalated {
		if from == status.ComplaintClosed {
			return illegal("a closed complaint cannot be escalated")
		}
		return legal()
	}
	if from == status.ComplaintClosed {
		return illegal("complaint is closed; no further transitions are allowed")
	}
	if contains(complaintTransitions[from], to) {
		return legal()
	}
	return illegal("complaint cannot move from %s to %s", from, to)
}

// ValidateDocumentTransition checks a document status change. Checkout is an
// orthogonal sub-state and never part of this table.
func ValidateDocumentTransition(from, to status.DocumentStatus) Decision {
	if from == to {
		return illegal("document is already %s", from)
	}
	if from == status.DocumentArchived {
		return illegal("document is archived; no further transitions are allowed")
	}
	if contains(documentTransitions[from], to) {
		return legal()
	}
	return illegal("document cannot move from %s to %s", from, to)
}

// ValidateTransition is the string-boundary form used by the HTTP layer.
// From and to strings normalize through the status registry before the
// typed tables apply.
func ValidateTransition(entity status.EntityType, from, to string) Decision {
	switch entity {
	case status.EntityNonConformance:
		return ValidateNCTransition(status.ParseNC(from), status.ParseNC(to))
	case status.EntityCAPA:
		return ValidateCAPATransition(status.ParseCAPA(from), status.ParseCAPA(to))
	case status.EntityComplaint:
		return ValidateComplaintTransition(status.ParseComplaint(from), status.ParseComplaint(to))
	case status.EntityDocument:
		return ValidateDocumentTransition(status.ParseDocument(from), status.ParseDocument(to))
	default:
		return illegal("unknown entity type %q", entity)
	}
}
