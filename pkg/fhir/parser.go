package fhir

import (
	"strings"

	"github.com/tidwall/gjson"

	"pawcare-contacts/pkg/ontology"
)

// AddressSeparator joins the parts of a display address.
const AddressSeparator = ", "

// ParseOrganizations flattens records for display. Nil entries are dropped and
// the order of the remaining ones is kept. The result is never nil.
func ParseOrganizations(orgs []*Organization) []ontology.Display {
	out := make([]ontology.Display, 0, len(orgs))
	for _, org := range orgs {
		if org == nil {
			continue
		}
		out = append(out, ToDisplay(org))
	}
	return out
}

// ToDisplay flattens a single record. Missing parts become empty strings.
func ToDisplay(org *Organization) ontology.Display {
	var addr Address
	if len(org.Address) > 0 {
		addr = org.Address[0]
	}

	parts := make([]string, 0, len(addr.Line)+3)
	parts = append(parts, addr.Line...)
	parts = append(parts, addr.City, addr.PostalCode, addr.Country)

	return ontology.Display{
		ID:      org.ID,
		Name:    org.Name,
		Phone:   findTelecom(org.Telecom, SystemPhone),
		Email:   findTelecom(org.Telecom, SystemEmail),
		URL:     findTelecom(org.Telecom, SystemURL),
		Address: joinNonEmpty(parts),
		City:    addr.City,
	}
}

// ParseOrganizationsJSON parses a raw JSON array of records. Input that is not
// an array yields an empty result. Entries are read leniently: a non-object
// entry contributes a display record with empty fields.
func ParseOrganizationsJSON(data []byte) []ontology.Display {
	return ParseOrganizations(DecodeOrganizations(data))
}

// ParseResponse parses the array held under the "data" key of a response body.
func ParseResponse(body []byte) []ontology.Display {
	if !gjson.ValidBytes(body) {
		return []ontology.Display{}
	}
	return ParseOrganizations(decodeArray(gjson.GetBytes(body, "data")))
}

// DecodeOrganizations reads a raw JSON array into records, keeping nil for
// null entries so that the caller sees the original positions. Input that is
// not a JSON array yields nil.
func DecodeOrganizations(data []byte) []*Organization {
	if !gjson.ValidBytes(data) {
		return nil
	}
	return decodeArray(gjson.ParseBytes(data))
}

func decodeArray(result gjson.Result) []*Organization {
	if !result.IsArray() {
		return nil
	}

	entries := result.Array()
	orgs := make([]*Organization, 0, len(entries))
	for _, entry := range entries {
		if entry.Type == gjson.Null {
			orgs = append(orgs, nil)
			continue
		}
		orgs = append(orgs, decodeOrganization(entry))
	}
	return orgs
}

func decodeOrganization(entry gjson.Result) *Organization {
	org := &Organization{
		ResourceType: stringField(entry, "resourceType"),
		ID:           stringField(entry, "id"),
		Name:         stringField(entry, "name"),
	}

	if ref := entry.Get("subject.reference"); ref.Type == gjson.String {
		org.Subject = &Reference{Reference: ref.Str}
	}

	for _, tp := range arrayField(entry, "telecom") {
		org.Telecom = append(org.Telecom, ContactPoint{
			System: stringField(tp, "system"),
			Value:  stringField(tp, "value"),
		})
	}

	for _, a := range arrayField(entry, "address") {
		addr := Address{
			City:       stringField(a, "city"),
			PostalCode: stringField(a, "postalCode"),
			Country:    stringField(a, "country"),
		}
		for _, line := range arrayField(a, "line") {
			if line.Type == gjson.String {
				addr.Line = append(addr.Line, line.Str)
			}
		}
		org.Address = append(org.Address, addr)
	}

	return org
}

// arrayField returns nothing for values that are not JSON arrays. gjson's
// Array would otherwise wrap a lone object or string in a one-element slice.
func arrayField(r gjson.Result, path string) []gjson.Result {
	v := r.Get(path)
	if !v.IsArray() {
		return nil
	}
	return v.Array()
}

// stringField ignores values that are not JSON strings, so a null or a number
// never turns into "null" or "42" in display text.
func stringField(r gjson.Result, path string) string {
	v := r.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}

func findTelecom(points []ContactPoint, system string) string {
	for _, p := range points {
		if p.System == system {
			return p.Value
		}
	}
	return ""
}

func joinNonEmpty(parts []string) string {
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, AddressSeparator)
}
