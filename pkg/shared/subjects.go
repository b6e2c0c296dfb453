package shared

import (
	"fmt"
	"strings"
)

// NATS Subject patterns
const (
	SubjectPrefix = "pawcare"

	// Organization subjects
	SubjectOrganizations        = SubjectPrefix + ".organizations"
	SubjectOrganizationsAll     = SubjectOrganizations + ".>"
	SubjectOrganizationEvent    = SubjectOrganizations + ".%s"    // event type
	SubjectOrganizationSubjects = SubjectOrganizations + ".%s.%s" // event type, pet id

	// Audit subjects
	SubjectAudit      = SubjectPrefix + ".audit"
	SubjectAuditAll   = SubjectAudit + ".>"
	SubjectAuditEvent = SubjectAudit + ".%s" // event type
)

// Stream names
const (
	StreamOrganizations = "PAWCARE_ORGANIZATIONS"
	StreamAudit         = "PAWCARE_AUDIT"
)

// Consumer names
const (
	ConsumerAuditProcessor        = "audit-processor"
	ConsumerNotificationProcessor = "notification-processor"
)

// OrganizationEventSubject returns the subject an organization event is
// published on. Events about records tied to a pet carry the pet id as a
// trailing token so consumers can filter per pet.
func OrganizationEventSubject(eventType, petID string) string {
	if petID == "" {
		return fmt.Sprintf(SubjectOrganizationEvent, eventType)
	}
	return fmt.Sprintf(SubjectOrganizationSubjects, eventType, subjectToken(petID))
}

var tokenReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

// subjectToken keeps a caller-supplied id from splitting or wildcarding a subject.
func subjectToken(id string) string {
	return tokenReplacer.Replace(id)
}

func AuditEventSubject(eventType string) string {
	return fmt.Sprintf(SubjectAuditEvent, eventType)
}
