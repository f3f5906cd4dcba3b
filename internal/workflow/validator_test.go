package workflow

import (
	"testing"

	"foodsafe-workflow/internal/status"
)

func TestValidateNCTransition(t *testing.T) {
	cases := []struct {
		name  string
		from  status.NCStatus
		to    status.NCStatus
		legal bool
	}{
		{"hold to review", status.NCOnHold, status.NCUnderReview, true},
		{"hold to released", status.NCOnHold, status.NCReleased, true},
		{"hold directly closed", status.NCOnHold, status.NCClosed, false},
		{"hold to resolved skips review", status.NCOnHold, status.NCResolved, false},
		{"review to resolved", status.NCUnderReview, status.NCResolved, true},
		{"review to rejected", status.NCUnderReview, status.NCRejected, true},
		{"review back to hold", status.NCUnderReview, status.NCOnHold, false},
		{"released to disposed", status.NCReleased, status.NCDisposed, true},
		{"released to closed", status.NCReleased, status.NCClosed, true},
		{"resolved to closed", status.NCResolved, status.NCClosed, true},
		{"rejected to closed", status.NCRejected, status.NCClosed, true},
		{"disposed to closed", status.NCDisposed, status.NCClosed, true},
		{"closed is terminal", status.NCClosed, status.NCOnHold, false},
		{"no self transition", status.NCUnderReview, status.NCUnderReview, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := ValidateNCTransition(tc.from, tc.to)
			if d.Legal != tc.legal {
				t.Fatalf("%s -> %s: legal=%v, want %v (reason %q)", tc.from, tc.to, d.Legal, tc.legal, d.Reason)
			}
			if !d.Legal && d.Reason == "" {
				t.Fatalf("%s -> %s: rejected without a reason", tc.from, tc.to)
			}
		})
	}
}

func TestValidateNCTransition_OnHoldClosedReason(t *testing.T) {
	d := ValidateNCTransition(status.NCOnHold, status.NCClosed)
	if d.Legal {
		t.Fatal("On Hold -> Closed must be illegal")
	}
	if d.Reason != "cannot close a non-conformance directly from On Hold; it must be reviewed or released first" {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
}

func TestValidateCAPATransition(t *testing.T) {
	cases := []struct {
		name  string
		from  status.CAPAStatus
		to    status.CAPAStatus
		legal bool
	}{
		{"open to in progress", status.CAPAOpen, status.CAPAInProgress, true},
		{"open directly closed", status.CAPAOpen, status.CAPAClosed, false},
		{"in progress to closed", status.CAPAInProgress, status.CAPAClosed, true},
		{"closed to pending verification", status.CAPAClosed, status.CAPAPendingVerification, true},
		{"closed back to open", status.CAPAClosed, status.CAPAOpen, false},
		{"manual overdue", status.CAPAOpen, status.CAPAOverdue, false},
		{"overdue resumed", status.CAPAOverdue, status.CAPAInProgress, true},
		{"overdue closed", status.CAPAOverdue, status.CAPAClosed, true},
		{"pending verification is terminal", status.CAPAPendingVerification, status.CAPAOpen, false},
		{"no self transition", status.CAPAOpen, status.CAPAOpen, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := ValidateCAPATransition(tc.from, tc.to)
			if d.Legal != tc.legal {
				t.Fatalf("%s -> %s: legal=%v, want %v (reason %q)", tc.from, tc.to, d.Legal, tc.legal, d.Reason)
			}
		})
	}
}

func TestValidateComplaintTransition(t *testing.T) {
	cases := []struct {
		name  string
		from  status.ComplaintStatus
		to    status.ComplaintStatus
		legal bool
	}{
		{"new to investigation", status.ComplaintNew, status.ComplaintUnderInvestigation, true},
		{"new directly resolved", status.ComplaintNew, status.ComplaintResolved, false},
		{"investigation to pending response", status.ComplaintUnderInvestigation, status.ComplaintPendingResponse, true},
		{"investigation to resolved", status.ComplaintUnderInvestigation, status.ComplaintResolved, true},
		{"pending response to resolved", status.ComplaintPendingResponse, status.ComplaintResolved, true},
		{"resolved to closed", status.ComplaintResolved, status.ComplaintClosed, true},
		{"new escalated", status.ComplaintNew, status.ComplaintEscalated, true},
		{"pending response escalated", status.ComplaintPendingResponse, status.ComplaintEscalated, true},
		{"resolved escalated", status.ComplaintResolved, status.ComplaintEscalated, true},
		{"closed escalated", status.ComplaintClosed, status.ComplaintEscalated, false},
		{"escalated back to investigation", status.ComplaintEscalated, status.ComplaintUnderInvestigation, true},
		{"escalated to resolved", status.ComplaintEscalated, status.ComplaintResolved, true},
		{"escalated directly closed", status.ComplaintEscalated, status.ComplaintClosed, false},
		{"closed is terminal", status.ComplaintClosed, status.ComplaintNew, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := ValidateComplaintTransition(tc.from, tc.to)
			if d.Legal != tc.legal {
				t.Fatalf("%s -> %s: legal=%v, want %v (reason %q)", tc.from, tc.to, d.Legal, tc.legal, d.Reason)
			}
		})
	}
}

func TestValidateDocumentTransition(t *testing.T) {
	cases := []struct {
		name  string
		from  status.DocumentStatus
		to    status.DocumentStatus
		legal bool
	}{
		{"draft to pending approval", status.DocumentDraft, status.DocumentPendingApproval, true},
		{"draft directly published", status.DocumentDraft, status.DocumentPublished, false},
		{"pending approval approved", status.DocumentPendingApproval, status.DocumentApproved, true},
		{"pending approval rejected", status.DocumentPendingApproval, status.DocumentRejected, true},
		{"approved to published", status.DocumentApproved, status.DocumentPublished, true},
		{"rejected back to draft", status.DocumentRejected, status.DocumentDraft, true},
		{"published to pending review", status.DocumentPublished, status.DocumentPendingReview, true},
		{"published to archived", status.DocumentPublished, status.DocumentArchived, true},
		{"published to expired", status.DocumentPublished, status.DocumentExpired, true},
		{"pending review republished", status.DocumentPendingReview, status.DocumentPublished, true},
		{"pending review archived", status.DocumentPendingReview, status.DocumentArchived, true},
		{"expired to pending review", status.DocumentExpired, status.DocumentPendingReview, true},
		{"expired republished directly", status.DocumentExpired, status.DocumentPublished, false},
		{"archived is terminal", status.DocumentArchived, status.DocumentPublished, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := ValidateDocumentTransition(tc.from, tc.to)
			if d.Legal != tc.legal {
				t.Fatalf("%s -> %s: legal=%v, want %v (reason %q)", tc.from, tc.to, d.Legal, tc.legal, d.Reason)
			}
		})
	}
}

// The string-boundary form must normalize legacy spellings before checking,
// so a row stored as "Pending_Approval" accepts the same transitions as one
// stored as "Pending Approval".
func TestValidateTransition_StringBoundary(t *testing.T) {
	if d := ValidateTransition(status.EntityDocument, "Pending_Approval", "Approved"); !d.Legal {
		t.Fatalf("underscore spelling rejected: %q", d.Reason)
	}
	if d := ValidateTransition(status.EntityNonConformance, "On_Hold", "Under Review"); !d.Legal {
		t.Fatalf("underscore spelling rejected: %q", d.Reason)
	}
	if d := ValidateTransition(status.EntityCAPA, "Verified", "Open"); d.Legal {
		t.Fatal("legacy Verified must behave as Pending Verification (terminal)")
	}
	if d := ValidateTransition("widget", "A", "B"); d.Legal {
		t.Fatal("unknown entity type must be rejected")
	}
}
