package ontology

import (
	"time"
)

// ContactRecord is the flat set of fields a caregiver fills in for a breeder,
// groomer, boarding facility or clinic. Empty strings mean the field was not given.
type ContactRecord struct {
	ID               string `json:"id,omitempty"`
	Name             string `json:"name" validate:"required,max=255"`
	Kind             string `json:"kind,omitempty" validate:"omitempty,oneof=breeder groomer boarding clinic"`
	Email            string `json:"email,omitempty" validate:"omitempty,email"`
	Website          string `json:"website,omitempty"`
	Phone            string `json:"phone,omitempty"`
	Address          string `json:"address,omitempty"`
	City             string `json:"city,omitempty"`
	Country          string `json:"country,omitempty"`
	PostalCode       string `json:"postalCode,omitempty"`
	SubjectReference string `json:"subjectReference,omitempty"`
}

// Display is the flattened organization used by read-only detail screens.
type Display struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	URL     string `json:"url"`
	Address string `json:"address"`
	City    string `json:"city"`
}

// StoredOrganization is the row metadata kept next to a stored resource.
type StoredOrganization struct {
	OrgID     string    `json:"org_id" db:"org_id"`
	Name      string    `json:"name" db:"name"`
	Kind      string    `json:"kind,omitempty" db:"kind"`
	Subject   string    `json:"subject,omitempty" db:"subject"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type OrganizationFilter struct {
	Subject string `json:"subject,omitempty"`
	Kind    string `json:"kind,omitempty" validate:"omitempty,oneof=breeder groomer boarding clinic"`
}
