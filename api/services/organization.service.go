package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"pawcare-contacts/db"
	"pawcare-contacts/pkg/fhir"
	"pawcare-contacts/pkg/metrics"
	"pawcare-contacts/pkg/ontology"
	"pawcare-contacts/pkg/shared"
)

var (
	ErrOrganizationNotFound = errors.New("organization not found")
	ErrOrganizationExists   = errors.New("organization already exists")
	ErrInvalidOrganization  = errors.New("invalid organization")
)

// Publisher is the slice of the embedded NATS client the service needs.
type Publisher interface {
	PublishWithDedup(subject string, data []byte, msgID string) error
}

type OrganizationService struct {
	db        *sql.DB
	publisher Publisher
	logger    *zap.Logger
}

func NewOrganizationService(db *sql.DB, publisher Publisher, logger *zap.Logger) *OrganizationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrganizationService{
		db:        db,
		publisher: publisher,
		logger:    logger.Named("organization-service"),
	}
}

func (s *OrganizationService) DB() *sql.DB {
	return s.db
}

// CreateFromContact builds an organization from a caregiver contact record and stores it.
func (s *OrganizationService) CreateFromContact(ctx context.Context, rec *ontology.ContactRecord) (*fhir.Organization, error) {
	org := fhir.BuildOrganization(*rec)
	metrics.OrganizationsBuiltTotal.Inc()
	return s.CreateOrganization(ctx, org, rec.Kind)
}

func (s *OrganizationService) CreateOrganization(ctx context.Context, org *fhir.Organization, kind string) (*fhir.Organization, error) {
	if err := checkOrganization(org); err != nil {
		return nil, err
	}
	if org.ID == "" {
		org.ID = fhir.NewID()
	}
	normalize(org)

	resource, err := json.Marshal(org)
	if err != nil {
		return nil, fmt.Errorf("failed to encode organization: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO organizations (org_id, name, kind, subject, resource, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		org.ID, org.Name, kind, org.SubjectID(), string(resource), now, now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return nil, fmt.Errorf("%w: %s", ErrOrganizationExists, org.ID)
		}
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	s.publishOrganizationEvent(org, kind, shared.EventTypeCreated)

	return org, nil
}

func (s *OrganizationService) ListOrganizations(ctx context.Context, filter ontology.OrganizationFilter) ([]*fhir.Organization, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource FROM organizations
		 WHERE (? = '' OR subject = ?) AND (? = '' OR kind = ?)
		 ORDER BY rowid`,
		filter.Subject, filter.Subject, filter.Kind, filter.Kind,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query organizations: %w", err)
	}
	defer rows.Close()

	orgs := []*fhir.Organization{}
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read organizations: %w", err)
	}

	return orgs, nil
}

// ListDisplays returns the flattened form of ListOrganizations.
func (s *OrganizationService) ListDisplays(ctx context.Context, filter ontology.OrganizationFilter) ([]ontology.Display, error) {
	orgs, err := s.ListOrganizations(ctx, filter)
	if err != nil {
		return nil, err
	}

	displays := fhir.ParseOrganizations(orgs)
	metrics.OrganizationsParsedTotal.Add(float64(len(displays)))
	return displays, nil
}

func (s *OrganizationService) GetOrganization(ctx context.Context, orgID string) (*fhir.Organization, error) {
	row := s.db.QueryRowContext(ctx, `SELECT resource FROM organizations WHERE org_id = ?`, orgID)

	org, err := scanOrganization(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, orgID)
	}
	if err != nil {
		return nil, err
	}

	return org, nil
}

// GetStored returns the row metadata kept alongside a resource.
func (s *OrganizationService) GetStored(ctx context.Context, orgID string) (*ontology.StoredOrganization, error) {
	var stored ontology.StoredOrganization
	var createdAt, updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT org_id, name, kind, subject, created_at, updated_at FROM organizations WHERE org_id = ?`,
		orgID,
	).Scan(&stored.OrgID, &stored.Name, &stored.Kind, &stored.Subject, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query organization: %w", err)
	}

	if stored.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at for organization %s: %w", orgID, err)
	}
	if stored.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return nil, fmt.Errorf("invalid updated_at for organization %s: %w", orgID, err)
	}
	return &stored, nil
}

// UpdateOrganization replaces the stored resource. The path id wins over any
// id in the body; an empty kind keeps the stored one.
func (s *OrganizationService) UpdateOrganization(ctx context.Context, orgID string, org *fhir.Organization, kind string) (*fhir.Organization, error) {
	if err := checkOrganization(org); err != nil {
		return nil, err
	}
	org.ID = orgID
	normalize(org)

	resource, err := json.Marshal(org)
	if err != nil {
		return nil, fmt.Errorf("failed to encode organization: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE organizations
		 SET name = ?, kind = COALESCE(NULLIF(?, ''), kind), subject = ?, resource = ?, updated_at = ?
		 WHERE org_id = ?`,
		org.Name, kind, org.SubjectID(), string(resource), time.Now().UTC().Format(time.RFC3339), orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update organization: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, orgID)
	}

	stored, err := s.GetStored(ctx, orgID)
	if err != nil {
		return nil, err
	}
	s.publishOrganizationEvent(org, stored.Kind, shared.EventTypeUpdated)

	return org, nil
}

// DeleteOrganization reads and removes the row in one transaction so the
// deleted event carries the record that was actually removed.
func (s *OrganizationService) DeleteOrganization(ctx context.Context, orgID string) error {
	var org *fhir.Organization
	var kind string

	err := db.Transaction(ctx, s.db, func(tx *sql.Tx) error {
		var resource string
		err := tx.QueryRowContext(ctx,
			`SELECT resource, kind FROM organizations WHERE org_id = ?`, orgID,
		).Scan(&resource, &kind)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrOrganizationNotFound, orgID)
		}
		if err != nil {
			return fmt.Errorf("failed to query organization: %w", err)
		}

		if org, err = decodeResource(resource); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM organizations WHERE org_id = ?", orgID); err != nil {
			return fmt.Errorf("failed to delete organization: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publishOrganizationEvent(org, kind, shared.EventTypeDeleted)

	return nil
}

// publishOrganizationEvent is best effort: the write already succeeded.
func (s *OrganizationService) publishOrganizationEvent(org *fhir.Organization, kind, eventType string) {
	if s.publisher == nil {
		s.logger.Debug("no publisher configured, event dropped", zap.String("type", eventType))
		return
	}

	event := shared.Event{
		ID:      uuid.New().String(),
		Type:    eventType,
		Subject: shared.OrganizationEventSubject(eventType, org.SubjectID()),
		Data: map[string]interface{}{
			"org_id":  org.ID,
			"name":    org.Name,
			"kind":    kind,
			"subject": org.SubjectID(),
		},
		Timestamp: time.Now().UTC(),
		Source:    "organization-service",
	}

	if eventType == shared.EventTypeCreated || eventType == shared.EventTypeUpdated {
		event.Data["organization"] = org
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("failed to marshal organization event", zap.Error(err))
		metrics.EventsPublishedTotal.WithLabelValues(eventType, "error").Inc()
		return
	}

	msgID := fmt.Sprintf("%s-%s-%d", org.ID, eventType, time.Now().UnixNano())

	if err := s.publisher.PublishWithDedup(event.Subject, data, msgID); err != nil {
		s.logger.Error("failed to publish organization event",
			zap.String("subject", event.Subject), zap.Error(err))
		metrics.EventsPublishedTotal.WithLabelValues(eventType, "error").Inc()
		return
	}

	metrics.EventsPublishedTotal.WithLabelValues(eventType, "ok").Inc()
	s.logger.Debug("published organization event",
		zap.String("type", eventType), zap.String("subject", event.Subject))
}

func checkOrganization(org *fhir.Organization) error {
	if org == nil {
		return fmt.Errorf("%w: empty body", ErrInvalidOrganization)
	}
	if org.ResourceType != fhir.ResourceTypeOrganization {
		return fmt.Errorf("%w: resourceType must be %s", ErrInvalidOrganization, fhir.ResourceTypeOrganization)
	}
	if org.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidOrganization)
	}
	return nil
}

// normalize gives stored records the shape the builder produces: a telecom
// list, possibly empty, and a single address entry.
func normalize(org *fhir.Organization) {
	if org.Telecom == nil {
		org.Telecom = []fhir.ContactPoint{}
	}
	if len(org.Address) == 0 {
		org.Address = []fhir.Address{{}}
	}
}

func scanOrganization(scanner interface{ Scan(...interface{}) error }) (*fhir.Organization, error) {
	var resource string
	if err := scanner.Scan(&resource); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan organization: %w", err)
	}
	return decodeResource(resource)
}

func decodeResource(resource string) (*fhir.Organization, error) {
	var org fhir.Organization
	if err := json.Unmarshal([]byte(resource), &org); err != nil {
		return nil, fmt.Errorf("failed to decode organization: %w", err)
	}
	return &org, nil
}
