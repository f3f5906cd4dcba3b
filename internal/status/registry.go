// Package status is the single source of truth for record status enums and
// their textual forms at the storage boundary. The hosted database the
// original dashboards were built on stored the same logical status under
// more than one spelling ("Pending Approval" vs "Pending_Approval"), so all
// parsing and comparison goes through this package; nothing else in the
// codebase compares status strings directly.
package status

import "strings"

// EntityType identifies which workflow a record belongs to.
type EntityType string

const (
	EntityCAPA           EntityType = "capa"
	EntityNonConformance EntityType = "non_conformance"
	EntityComplaint      EntityType = "complaint"
	EntityDocument       EntityType = "document"
)

// CAPAStatus enumerates CAPA lifecycle states. The constant value is the
// canonical storage form.
type CAPAStatus string

const (
	CAPAOpen                CAPAStatus = "Open"
	CAPAInProgress          CAPAStatus = "In Progress"
	CAPAClosed              CAPAStatus = "Closed"
	CAPAPendingVerification CAPAStatus = "Pending Verification"
	CAPAOverdue             CAPAStatus = "Overdue"
)

// NCStatus enumerates non-conformance lifecycle states.
type NCStatus string

const (
	NCOnHold      NCStatus = "On Hold"
	NCUnderReview NCStatus = "Under Review"
	NCReleased    NCStatus = "Released"
	NCDisposed    NCStatus = "Disposed"
	NCResolved    NCStatus = "Resolved"
	NCRejected    NCStatus = "Rejected"
	NCClosed      NCStatus = "Closed"
)

// ComplaintStatus enumerates complaint lifecycle states.
type ComplaintStatus string

const (
	ComplaintNew                ComplaintStatus = "New"
	ComplaintUnderInvestigation ComplaintStatus = "Under Investigation"
	ComplaintPendingResponse    ComplaintStatus = "Pending Response"
	ComplaintResolved           ComplaintStatus = "Resolved"
	ComplaintClosed             ComplaintStatus = "Closed"
	ComplaintEscalated          ComplaintStatus = "Escalated"
)

// DocumentStatus enumerates document lifecycle states.
type DocumentStatus string

const (
	DocumentDraft           DocumentStatus = "Draft"
	DocumentPendingApproval DocumentStatus = "Pending Approval"
	DocumentPendingReview   DocumentStatus = "Pending Review"
	DocumentApproved        DocumentStatus = "Approved"
	DocumentPublished       DocumentStatus = "Published"
	DocumentRejected        DocumentStatus = "Rejected"
	DocumentArchived        DocumentStatus = "Archived"
	DocumentExpired         DocumentStatus = "Expired"
)

// CheckoutStatus is the orthogonal document checkout sub-state.
type CheckoutStatus string

const (
	CheckoutAvailable  CheckoutStatus = "Available"
	CheckoutCheckedOut CheckoutStatus = "Checked Out"
)

// CAPAPriority enumerates CAPA priorities.
type CAPAPriority string

const (
	PriorityCritical CAPAPriority = "Critical"
	PriorityHigh     CAPAPriority = "High"
	PriorityMedium   CAPAPriority = "Medium"
	PriorityLow      CAPAPriority = "Low"
)

// CAPASource enumerates where a CAPA originated.
type CAPASource string

const (
	SourceNonConformance CAPASource = "non_conformance"
	SourceComplaint      CAPASource = "complaint"
	SourceAudit          CAPASource = "audit"
	SourceInternal       CAPASource = "internal"
	SourceSupplier       CAPASource = "supplier"
	SourceHACCP          CAPASource = "haccp"
	SourceTraceability   CAPASource = "traceability"
	SourceOther          CAPASource = "other"
)

// ComplaintCategory enumerates complaint categories.
type ComplaintCategory string

const (
	CategoryProductQuality  ComplaintCategory = "Product Quality"
	CategoryFoodSafety      ComplaintCategory = "Food Safety"
	CategoryForeignMaterial ComplaintCategory = "Foreign Material"
	CategoryPackaging       ComplaintCategory = "Packaging"
	CategoryDelivery        ComplaintCategory = "Delivery"
	CategoryService         ComplaintCategory = "Service"
	CategoryLabeling        ComplaintCategory = "Labeling"
	CategoryOther           ComplaintCategory = "Other"
)

// variants maps every historically observed spelling to its canonical form.
// Only exact known variants are accepted; there is no fuzzy matching. The
// underscore forms come from rows written through the legacy REST layer, the
// space forms from the newer dashboard writes.
var (
	capaVariants = map[string]CAPAStatus{
		"Open":                 CAPAOpen,
		"In Progress":          CAPAInProgress,
		"In_Progress":          CAPAInProgress,
		"Closed":               CAPAClosed,
		"Pending Verification": CAPAPendingVerification,
		"Pending_Verification": CAPAPendingVerification,
		// Legacy UI label for a CAPA awaiting its effectiveness check.
		"Verified": CAPAPendingVerification,
		"Overdue":  CAPAOverdue,
	}

	ncVariants = map[string]NCStatus{
		"On Hold":      NCOnHold,
		"On_Hold":      NCOnHold,
		"Under Review": NCUnderReview,
		"Under_Review": NCUnderReview,
		"Released":     NCReleased,
		"Disposed":     NCDisposed,
		"Resolved":     NCResolved,
		"Rejected":     NCRejected,
		"Closed":       NCClosed,
	}

	complaintVariants = map[string]ComplaintStatus{
		"New":                 ComplaintNew,
		"Under Investigation": ComplaintUnderInvestigation,
		"Under_Investigation": ComplaintUnderInvestigation,
		"Pending Response":    ComplaintPendingResponse,
		"Pending_Response":    ComplaintPendingResponse,
		"Resolved":            ComplaintResolved,
		"Closed":              ComplaintClosed,
		"Escalated":           ComplaintEscalated,
	}

	documentVariants = map[string]DocumentStatus{
		"Draft":            DocumentDraft,
		"Pending Approval": DocumentPendingApproval,
		"Pending_Approval": DocumentPendingApproval,
		"Pending Review":   DocumentPendingReview,
		"Pending_Review":   DocumentPendingReview,
		"Approved":         DocumentApproved,
		"Published":        DocumentPublished,
		"Rejected":         DocumentRejected,
		"Archived":         DocumentArchived,
		"Expired":          DocumentExpired,
	}

	checkoutVariants = map[string]CheckoutStatus{
		"Available":   CheckoutAvailable,
		"Checked Out": CheckoutCheckedOut,
		"Checked_Out": CheckoutCheckedOut,
	}

	priorityVariants = map[string]CAPAPriority{
		"Critical": PriorityCritical,
		"High":     PriorityHigh,
		"Medium":   PriorityMedium,
		"Low":      PriorityLow,
	}

	categoryVariants = map[string]ComplaintCategory{
		"Product Quality":  CategoryProductQuality,
		"Product_Quality":  CategoryProductQuality,
		"Food Safety":      CategoryFoodSafety,
		"Food_Safety":      CategoryFoodSafety,
		"Foreign Material": CategoryForeignMaterial,
		"Foreign_Material": CategoryForeignMaterial,
		"Packaging":        CategoryPackaging,
		"Delivery":         CategoryDelivery,
		"Service":          CategoryService,
		"Labeling":         CategoryLabeling,
		"Other":            CategoryOther,
	}

	sourceVariants = map[string]CAPASource{
		"non_conformance": SourceNonConformance,
		"complaint":       SourceComplaint,
		"audit":           SourceAudit,
		"internal":        SourceInternal,
		"supplier":        SourceSupplier,
		"haccp":           SourceHACCP,
		"traceability":    SourceTraceability,
		"other":           SourceOther,
	}
)

// ParseCAPA normalizes a stored CAPA status string. Unknown or empty input
// falls back to Open; malformed upstream data must not take down a caller.
func ParseCAPA(s string) CAPAStatus {
	if v, ok := capaVariants[strings.TrimSpace(s)]; ok {
		return v
	}
	return CAPAOpen
}

// ParseNC normalizes a stored non-conformance status string, defaulting to
// On Hold (every NC enters the system holding affected inventory).
func ParseNC(s string) NCStatus {
	if v, ok := ncVariants[strings.TrimSpace(s)]; ok {
		return v
	}
	return NCOnHold
}

// ParseComplaint normalizes a stored complaint status, defaulting to New.
func ParseComplaint(s string) ComplaintStatus {
	if v, ok := complaintVariants[strings.TrimSpace(s)]; ok {
		return v
	}
	return ComplaintNew
}

// ParseDocument normalizes a stored document status, defaulting to Draft.
func ParseDocument(s string) DocumentStatus {
	if v, ok := documentVariants[strings.TrimSpace(s)]; ok {
		return v
	}
	return DocumentDraft
}

// ParseCheckout normalizes a stored checkout status, defaulting to Available.
func ParseCheckout(s string) CheckoutStatus {
	if v, ok := checkoutVariants[strings.TrimSpace(s)]; ok {
		return v
	}
	return CheckoutAvailable
}

// ParsePriority normalizes a stored CAPA priority, defaulting to Medium.
func ParsePriority(s string) CAPAPriority {
	if v, ok := priorityVariants[strings.TrimSpace(s)]; ok {
		return v
	}
	return PriorityMedium
}

// ParseCategory normalizes a stored complaint category, defaulting to Other.
func ParseCategory(s string) ComplaintCategory {
	if v, ok := categoryVariants[strings.TrimSpace(s)]; ok {
		return v
	}
	return CategoryOther
}

// ParseSource normalizes a stored CAPA source, defaulting to other.
func ParseSource(s string) CAPASource {
	if v, ok := sourceVariants[strings.TrimSpace(s)]; ok {
		return v
	}
	return SourceOther
}

// Strict variants for user-supplied input. The lenient Parse functions exist
// so malformed *stored* rows cannot take down a reader; a request target that
// falls back to the default would silently ask for a transition the caller
// never named, so request handling rejects unknown spellings instead.

// ParseCAPAStrict normalizes a requested CAPA status, reporting whether the
// spelling is known.
func ParseCAPAStrict(s string) (CAPAStatus, bool) {
	v, ok := capaVariants[strings.TrimSpace(s)]
	return v, ok
}

// ParseNCStrict normalizes a requested non-conformance status, reporting
// whether the spelling is known.
func ParseNCStrict(s string) (NCStatus, bool) {
	v, ok := ncVariants[strings.TrimSpace(s)]
	return v, ok
}

// ParseComplaintStrict normalizes a requested complaint status, reporting
// whether the spelling is known.
func ParseComplaintStrict(s string) (ComplaintStatus, bool) {
	v, ok := complaintVariants[strings.TrimSpace(s)]
	return v, ok
}

// ParseDocumentStrict normalizes a requested document status, reporting
// whether the spelling is known.
func ParseDocumentStrict(s string) (DocumentStatus, bool) {
	v, ok := documentVariants[strings.TrimSpace(s)]
	return v, ok
}

// ToStorage returns the canonical string written to the store. One form goes
// out; many come back in through the Parse functions.
func ToStorage[S ~string](v S) string { return string(v) }

// CAPAEquals reports whether a stored string denotes the given status.
func CAPAEquals(stored string, v CAPAStatus) bool { return ParseCAPA(stored) == v }

// NCEquals reports whether a stored string denotes the given status.
func NCEquals(stored string, v NCStatus) bool { return ParseNC(stored) == v }

// ComplaintEquals reports whether a stored string denotes the given status.
func ComplaintEquals(stored string, v ComplaintStatus) bool { return ParseComplaint(stored) == v }

// DocumentEquals reports whether a stored string denotes the given status.
func DocumentEquals(stored string, v DocumentStatus) bool { return ParseDocument(stored) == v }
