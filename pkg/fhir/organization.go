package fhir

import (
	"strconv"
	"strings"
	"time"

	"pawcare-contacts/pkg/ontology"
)

const (
	ResourceTypeOrganization = "Organization"

	// IDPrefix starts every identifier synthesized for a record that arrived without one.
	IDPrefix = "org-"

	// SubjectPrefix is prepended to the pet identifier in a subject reference.
	SubjectPrefix = "patient/"
)

// Contact point systems.
const (
	SystemPhone = "phone"
	SystemEmail = "email"
	SystemURL   = "url"
)

// Organization is the normalized record exchanged with the backend. Optional
// parts are omitted from the JSON form rather than sent as null or "". The
// telecom list is always present, possibly empty.
type Organization struct {
	ResourceType string         `json:"resourceType" validate:"required,eq=Organization"`
	ID           string         `json:"id"`
	Name         string         `json:"name" validate:"required,max=255"`
	Subject      *Reference     `json:"subject,omitempty"`
	Telecom      []ContactPoint `json:"telecom" validate:"max=3,dive"`
	Address      []Address      `json:"address"`
}

type Reference struct {
	Reference string `json:"reference"`
}

type ContactPoint struct {
	System string `json:"system" validate:"oneof=phone email url"`
	Value  string `json:"value" validate:"required"`
}

type Address struct {
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

// SubjectID returns the pet identifier behind the subject reference, or "".
func (o *Organization) SubjectID() string {
	if o == nil || o.Subject == nil {
		return ""
	}
	return strings.TrimPrefix(o.Subject.Reference, SubjectPrefix)
}

// Builder turns caregiver-entered contact records into Organization records.
// Now is consulted only when an identifier has to be synthesized.
type Builder struct {
	Now func() time.Time
}

var defaultBuilder = Builder{Now: time.Now}

// BuildOrganization builds a record using the wall clock for synthesized ids.
func BuildOrganization(rec ontology.ContactRecord) *Organization {
	return defaultBuilder.Build(rec)
}

// NewID returns an identifier made of IDPrefix and the current Unix milliseconds.
func NewID() string {
	return defaultBuilder.newID()
}

func (b Builder) newID() string {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	return IDPrefix + strconv.FormatInt(now().UnixMilli(), 10)
}

func (b Builder) Build(rec ontology.ContactRecord) *Organization {
	id := rec.ID
	if id == "" {
		id = b.newID()
	}

	org := &Organization{
		ResourceType: ResourceTypeOrganization,
		ID:           id,
		Name:         rec.Name,
		Telecom:      []ContactPoint{},
	}

	if rec.SubjectReference != "" {
		org.Subject = &Reference{Reference: SubjectPrefix + rec.SubjectReference}
	}

	// Order is fixed: phone, email, url.
	channels := []ContactPoint{
		{System: SystemPhone, Value: rec.Phone},
		{System: SystemEmail, Value: rec.Email},
		{System: SystemURL, Value: rec.Website},
	}
	for _, c := range channels {
		if c.Value != "" {
			org.Telecom = append(org.Telecom, c)
		}
	}

	var addr Address
	if rec.Address != "" {
		addr.Line = []string{rec.Address}
	}
	addr.City = rec.City
	addr.PostalCode = rec.PostalCode
	addr.Country = rec.Country
	org.Address = []Address{addr}

	return org
}
