package domain

import (
	"strings"
	"time"
)

// LeadStatus captures the sales pipeline stage of a lead.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "New"
	LeadStatusContacted LeadStatus = "Contacted"
	LeadStatusQualified LeadStatus = "Qualified"
	LeadStatusLost      LeadStatus = "Lost"
)

// Canonical CRM fields that uploaded columns can be mapped onto.
const (
	FieldFullName = "full_name"
	FieldEmail    = "email"
	FieldPhone    = "phone"
	FieldSource   = "source"
)

// CRMFields lists the canonical field catalog in display order.
var CRMFields = []string{FieldFullName, FieldEmail, FieldPhone, FieldSource}

// IsCRMField reports whether name is part of the canonical field catalog.
func IsCRMField(name string) bool {
	for _, field := range CRMFields {
		if field == name {
			return true
		}
	}
	return false
}

// Lead is a stored CRM lead.
type Lead struct {
	ID        int64      `json:"id"`
	FullName  string     `json:"full_name"`
	Email     string     `json:"email"`
	Phone     *string    `json:"phone,omitempty"`
	Source    *string    `json:"source,omitempty"`
	Status    LeadStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LeadRef is the compact identity of an existing lead used in duplicate reports.
type LeadRef struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
	Email    string `json:"email"`
}

// Ref returns the compact identity of the lead.
func (l Lead) Ref() LeadRef {
	return LeadRef{ID: l.ID, FullName: l.FullName, Email: l.Email}
}

// NormalizedLead is the canonical shape of an import row after mapping.
type NormalizedLead struct {
	FullName string  `json:"full_name"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone,omitempty"`
	Source   *string `json:"source,omitempty"`
}

// ToLead builds a new lead from the normalized row.
func (n NormalizedLead) ToLead() Lead {
	return Lead{
		FullName: n.FullName,
		Email:    n.Email,
		Phone:    copyString(n.Phone),
		Source:   copyString(n.Source),
		Status:   LeadStatusNew,
	}
}

// LeadPatch holds the fields an import row overwrites on an existing lead.
// Nil fields are left untouched.
type LeadPatch struct {
	FullName *string
	Email    *string
	Phone    *string
	Source   *string
}

// Patch returns the fields present in the normalized row.
func (n NormalizedLead) Patch() LeadPatch {
	patch := LeadPatch{Phone: copyString(n.Phone), Source: copyString(n.Source)}
	if strings.TrimSpace(n.FullName) != "" {
		name := n.FullName
		patch.FullName = &name
	}
	if strings.TrimSpace(n.Email) != "" {
		email := n.Email
		patch.Email = &email
	}
	return patch
}

// IsEmpty reports whether the patch carries no changes.
func (p LeadPatch) IsEmpty() bool {
	return p.FullName == nil && p.Email == nil && p.Phone == nil && p.Source == nil
}

// Apply returns a copy of the lead with the patch applied.
func (p LeadPatch) Apply(lead Lead) Lead {
	if p.FullName != nil {
		lead.FullName = *p.FullName
	}
	if p.Email != nil {
		lead.Email = *p.Email
	}
	if p.Phone != nil {
		lead.Phone = copyString(p.Phone)
	}
	if p.Source != nil {
		lead.Source = copyString(p.Source)
	}
	return lead
}

// CanonicalEmail lowercases and trims an address for identity comparison.
func CanonicalEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyString(value *string) *string {
	if value == nil {
		return nil
	}
	v := *value
	return &v
}
