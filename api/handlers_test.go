package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pawcare-contacts/api/services"
	"pawcare-contacts/db"
	"pawcare-contacts/pkg/fhir"
	"pawcare-contacts/pkg/ontology"
	"pawcare-contacts/pkg/shared"
)

const testToken = "test-token"

type fakeNATS struct{ err error }

func (f fakeNATS) HealthCheck() error { return f.err }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *shared.Error   `json:"error"`
}

func newTestServer(t *testing.T, nats HealthChecker) http.Handler {
	t.Helper()
	cfg := db.DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "pawcare.db")
	dbService, err := db.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { dbService.Close() })

	svc := services.NewOrganizationService(dbService.GetDB(), nil, nil)
	return NewHandlers(svc, nats, nil).Routes(testToken)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func TestRequiresToken(t *testing.T) {
	h := newTestServer(t, fakeNATS{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/organizations", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestContactLifecycle(t *testing.T) {
	h := newTestServer(t, fakeNATS{})

	rec, env := do(t, h, http.MethodPost, "/api/v1/contacts", ontology.ContactRecord{
		Name:             "Happy Paws",
		Kind:             shared.KindBoarding,
		Email:            "hi@paws.com",
		City:             "Austin",
		Country:          "USA",
		SubjectReference: "pet-42",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created fhir.Organization
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "patient/pet-42", created.Subject.Reference)

	rec, env = do(t, h, http.MethodGet, "/api/v1/organizations/display?subject=pet-42", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var displays []ontology.Display
	require.NoError(t, json.Unmarshal(env.Data, &displays))
	require.Len(t, displays, 1)
	assert.Equal(t, ontology.Display{
		ID:      created.ID,
		Name:    "Happy Paws",
		Email:   "hi@paws.com",
		Address: "Austin, USA",
		City:    "Austin",
	}, displays[0])

	rec, env = do(t, h, http.MethodGet, "/api/v1/organizations?kind=boarding", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, fhir.DecodeOrganizations(env.Data), 1)
	assert.Equal(t, displays, fhir.ParseResponse(rec.Body.Bytes()))

	rec, _ = do(t, h, http.MethodGet, "/api/v1/organizations/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	replacement := fhir.BuildOrganization(ontology.ContactRecord{Name: "Happier Paws", Phone: "555"})
	rec, env = do(t, h, http.MethodPut, "/api/v1/organizations/"+created.ID, replacement)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var updated fhir.Organization
	require.NoError(t, json.Unmarshal(env.Data, &updated))
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "Happier Paws", updated.Name)

	rec, _ = do(t, h, http.MethodDelete, "/api/v1/organizations/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = do(t, h, http.MethodGet, "/api/v1/organizations/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, shared.CodeNotFound, env.Error.Code)
}

func TestCreateOrganizationFromBuilderPayload(t *testing.T) {
	h := newTestServer(t, fakeNATS{})
	org := fhir.BuildOrganization(ontology.ContactRecord{ID: "org-77", Name: "Vet Clinic", Website: "https://vet.example"})

	rec, _ := do(t, h, http.MethodPost, "/api/v1/organizations?kind=clinic", org)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := do(t, h, http.MethodPost, "/api/v1/organizations", org)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, shared.CodeConflict, env.Error.Code)
}

func TestValidationErrors(t *testing.T) {
	h := newTestServer(t, fakeNATS{})

	cases := []struct {
		name   string
		path   string
		body   interface{}
		substr string
	}{
		{"missing name", "/api/v1/contacts", ontology.ContactRecord{City: "Oslo"}, "name is required"},
		{"bad email", "/api/v1/contacts", ontology.ContactRecord{Name: "A", Email: "nope"}, "email is not a valid email"},
		{"bad kind", "/api/v1/contacts", ontology.ContactRecord{Name: "A", Kind: "zoo"}, "kind must be one of"},
		{"wrong resource", "/api/v1/organizations", map[string]interface{}{"resourceType": "Patient", "name": "A"}, "resourceType must be Organization"},
		{"bad telecom", "/api/v1/organizations", map[string]interface{}{
			"resourceType": "Organization", "name": "A",
			"telecom": []map[string]string{{"system": "fax", "value": "1"}},
		}, "system must be one of"},
		{"bad query kind", "/api/v1/organizations?kind=zoo", fhir.BuildOrganization(ontology.ContactRecord{Name: "A"}), "kind must be one of"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := do(t, h, http.MethodPost, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, env.Error)
			assert.Equal(t, shared.CodeValidationFailed, env.Error.Code)
			assert.Contains(t, env.Error.Message, tc.substr)
		})
	}

	rec, env := do(t, h, http.MethodPost, "/api/v1/contacts", `{"name":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, shared.CodeInvalidRequest, env.Error.Code)
}

func TestHealthCheck(t *testing.T) {
	rec, env := do(t, newTestServer(t, fakeNATS{}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	rec, _ = do(t, newTestServer(t, fakeNATS{err: errors.New("down")}), http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUnknownRoute(t *testing.T) {
	rec, env := do(t, newTestServer(t, fakeNATS{}), http.MethodGet, "/api/v2/nothing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, env.Success)
}
