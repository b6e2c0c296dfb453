package services

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pawcare-contacts/db"
	"pawcare-contacts/pkg/fhir"
	"pawcare-contacts/pkg/ontology"
	"pawcare-contacts/pkg/shared"
)

type published struct {
	subject string
	event   shared.Event
	msgID   string
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (f *fakePublisher) PublishWithDedup(subject string, data []byte, msgID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	var ev shared.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	f.msgs = append(f.msgs, published{subject: subject, event: ev, msgID: msgID})
	return nil
}

func newTestService(t *testing.T) (*OrganizationService, *fakePublisher) {
	t.Helper()
	cfg := db.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "pawcare.db")

	dbService, err := db.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dbService.Close() })

	pub := &fakePublisher{}
	return NewOrganizationService(dbService.GetDB(), pub, nil), pub
}

func TestCreateFromContact(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	org, err := svc.CreateFromContact(ctx, &ontology.ContactRecord{
		Name:             "Happy Paws",
		Kind:             shared.KindGroomer,
		Email:            "hi@paws.com",
		City:             "Austin",
		Country:          "USA",
		SubjectReference: "pet-42",
	})
	require.NoError(t, err)
	assert.Contains(t, org.ID, fhir.IDPrefix)

	got, err := svc.GetOrganization(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, org, got)

	stored, err := svc.GetStored(ctx, org.ID)
	require.NoError(t, err)
	assert.Equal(t, shared.KindGroomer, stored.Kind)
	assert.Equal(t, "pet-42", stored.Subject)

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "pawcare.organizations.created.pet-42", pub.msgs[0].subject)
	assert.Equal(t, shared.EventTypeCreated, pub.msgs[0].event.Type)
	assert.Equal(t, org.ID, pub.msgs[0].event.Data["org_id"])
	assert.Contains(t, pub.msgs[0].event.Data, "organization")
}

func TestCreateOrganizationRejectsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrganization(ctx, &fhir.Organization{ResourceType: "Patient", Name: "x"}, "")
	assert.ErrorIs(t, err, ErrInvalidOrganization)

	_, err = svc.CreateOrganization(ctx, &fhir.Organization{ResourceType: fhir.ResourceTypeOrganization}, "")
	assert.ErrorIs(t, err, ErrInvalidOrganization)

	_, err = svc.CreateOrganization(ctx, nil, "")
	assert.ErrorIs(t, err, ErrInvalidOrganization)
}

func TestCreateOrganizationDuplicateID(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	org := fhir.BuildOrganization(ontology.ContactRecord{ID: "org-dup", Name: "Twin"})
	_, err := svc.CreateOrganization(ctx, org, "")
	require.NoError(t, err)

	_, err = svc.CreateOrganization(ctx, fhir.BuildOrganization(ontology.ContactRecord{ID: "org-dup", Name: "Twin"}), "")
	assert.ErrorIs(t, err, ErrOrganizationExists)
}

func TestCreateOrganizationNormalizesAddress(t *testing.T) {
	svc, _ := newTestService(t)

	org, err := svc.CreateOrganization(context.Background(), &fhir.Organization{
		ResourceType: fhir.ResourceTypeOrganization,
		Name:         "Bare",
	}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, org.ID)
	assert.Len(t, org.Address, 1)
}

func TestListOrganizationsFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for _, rec := range []ontology.ContactRecord{
		{ID: "org-a", Name: "A", Kind: shared.KindBreeder, SubjectReference: "pet-1", City: "Oslo"},
		{ID: "org-b", Name: "B", Kind: shared.KindClinic, SubjectReference: "pet-1", Phone: "123"},
		{ID: "org-c", Name: "C", Kind: shared.KindClinic, SubjectReference: "pet-2"},
	} {
		rec := rec
		_, err := svc.CreateFromContact(ctx, &rec)
		require.NoError(t, err)
	}

	all, err := svc.ListOrganizations(ctx, ontology.OrganizationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"org-a", "org-b", "org-c"}, []string{all[0].ID, all[1].ID, all[2].ID})

	pet1, err := svc.ListOrganizations(ctx, ontology.OrganizationFilter{Subject: "pet-1"})
	require.NoError(t, err)
	assert.Len(t, pet1, 2)

	clinics, err := svc.ListOrganizations(ctx, ontology.OrganizationFilter{Subject: "pet-1", Kind: shared.KindClinic})
	require.NoError(t, err)
	require.Len(t, clinics, 1)
	assert.Equal(t, "org-b", clinics[0].ID)

	none, err := svc.ListOrganizations(ctx, ontology.OrganizationFilter{Subject: "pet-9"})
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	displays, err := svc.ListDisplays(ctx, ontology.OrganizationFilter{Subject: "pet-1"})
	require.NoError(t, err)
	require.Len(t, displays, 2)
	assert.Equal(t, ontology.Display{ID: "org-a", Name: "A", Address: "Oslo", City: "Oslo"}, displays[0])
	assert.Equal(t, "123", displays[1].Phone)
}

func TestUpdateOrganization(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateFromContact(ctx, &ontology.ContactRecord{ID: "org-u", Name: "Old", Kind: shared.KindBoarding})
	require.NoError(t, err)

	replacement := fhir.BuildOrganization(ontology.ContactRecord{ID: "ignored", Name: "New", SubjectReference: "pet-5"})
	updated, err := svc.UpdateOrganization(ctx, "org-u", replacement, "")
	require.NoError(t, err)
	assert.Equal(t, "org-u", updated.ID)

	stored, err := svc.GetStored(ctx, "org-u")
	require.NoError(t, err)
	assert.Equal(t, "New", stored.Name)
	assert.Equal(t, shared.KindBoarding, stored.Kind)
	assert.Equal(t, "pet-5", stored.Subject)

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, shared.EventTypeUpdated, pub.msgs[1].event.Type)
	assert.Equal(t, shared.KindBoarding, pub.msgs[1].event.Data["kind"])

	_, err = svc.UpdateOrganization(ctx, "org-missing", fhir.BuildOrganization(ontology.ContactRecord{Name: "X"}), "")
	assert.ErrorIs(t, err, ErrOrganizationNotFound)
}

func TestDeleteOrganization(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateFromContact(ctx, &ontology.ContactRecord{ID: "org-d", Name: "Gone", SubjectReference: "pet-3"})
	require.NoError(t, err)

	require.NoError(t, svc.DeleteOrganization(ctx, "org-d"))

	_, err = svc.GetOrganization(ctx, "org-d")
	assert.ErrorIs(t, err, ErrOrganizationNotFound)

	assert.ErrorIs(t, svc.DeleteOrganization(ctx, "org-d"), ErrOrganizationNotFound)

	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "pawcare.organizations.deleted.pet-3", pub.msgs[1].subject)
	assert.NotContains(t, pub.msgs[1].event.Data, "organization")
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	svc, pub := newTestService(t)
	pub.err = errors.New("nats down")

	org, err := svc.CreateFromContact(context.Background(), &ontology.ContactRecord{Name: "Resilient"})
	require.NoError(t, err)

	_, err = svc.GetOrganization(context.Background(), org.ID)
	require.NoError(t, err)
}

func TestCreateOrganizationStoresEmptyTelecom(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateOrganization(ctx, &fhir.Organization{ResourceType: fhir.ResourceTypeOrganization, ID: "org-t", Name: "Bare"}, "")
	require.NoError(t, err)

	var resource string
	require.NoError(t, svc.DB().QueryRowContext(ctx, `SELECT resource FROM organizations WHERE org_id = 'org-t'`).Scan(&resource))
	assert.Contains(t, resource, `"telecom":[]`)

	got, err := svc.GetOrganization(ctx, "org-t")
	require.NoError(t, err)
	assert.NotNil(t, got.Telecom)
	assert.Empty(t, got.Telecom)
}

func TestGetStoredRejectsCorruptTimestamp(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.DB().ExecContext(ctx,
		`INSERT INTO organizations (org_id, name, kind, subject, resource, created_at, updated_at)
		 VALUES ('org-bad', 'Bad', '', '', '{}', 'yesterday', '2026-01-02T03:04:05Z')`)
	require.NoError(t, err)

	stored, err := svc.GetStored(ctx, "org-bad")
	require.Error(t, err)
	assert.Nil(t, stored)
	assert.Contains(t, err.Error(), "created_at")
}

func TestDeleteOrganizationRollsBackOnCorruptResource(t *testing.T) {
	svc, pub := newTestService(t)
	ctx := context.Background()

	_, err := svc.DB().ExecContext(ctx,
		`INSERT INTO organizations (org_id, name, kind, subject, resource, created_at, updated_at)
		 VALUES ('org-x', 'Broken', '', '', 'not json', '2026-01-02T03:04:05Z', '2026-01-02T03:04:05Z')`)
	require.NoError(t, err)

	err = svc.DeleteOrganization(ctx, "org-x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOrganizationNotFound)

	var n int
	require.NoError(t, svc.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations WHERE org_id = 'org-x'`).Scan(&n))
	assert.Equal(t, 1, n)
	assert.Empty(t, pub.msgs)
}
