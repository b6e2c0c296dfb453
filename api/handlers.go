package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pawcare-contacts/api/middleware"
	"pawcare-contacts/api/services"
	"pawcare-contacts/pkg/fhir"
	"pawcare-contacts/pkg/metrics"
	"pawcare-contacts/pkg/ontology"
	"pawcare-contacts/pkg/shared"
)

const maxBodyBytes = 1 << 20

// HealthChecker is implemented by the embedded NATS server.
type HealthChecker interface {
	HealthCheck() error
}

type Handlers struct {
	orgService *services.OrganizationService
	nats       HealthChecker
	validate   *validator.Validate
	logger     *zap.Logger
	started    time.Time
}

func NewHandlers(orgService *services.OrganizationService, nats HealthChecker, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		orgService: orgService,
		nats:       nats,
		validate:   newValidator(),
		logger:     logger,
		started:    time.Now(),
	}
}

// CreateOrganization stores a normalized organization record.
func (h *Handlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	var org fhir.Organization
	if !h.decodeAndValidate(w, r, &org) {
		return
	}

	kind := r.URL.Query().Get("kind")
	if err := h.validate.Var(kind, "omitempty,oneof=breeder groomer boarding clinic"); err != nil {
		sendError(w, http.StatusBadRequest, shared.CodeValidationFailed, "kind must be one of breeder, groomer, boarding, clinic")
		return
	}

	created, err := h.orgService.CreateOrganization(r.Context(), &org, kind)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusCreated, created)
}

// CreateContact builds an organization record from caregiver-entered fields and stores it.
func (h *Handlers) CreateContact(w http.ResponseWriter, r *http.Request) {
	var rec ontology.ContactRecord
	if !h.decodeAndValidate(w, r, &rec) {
		return
	}

	created, err := h.orgService.CreateFromContact(r.Context(), &rec)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusCreated, created)
}

func (h *Handlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filterFromQuery(w, r)
	if !ok {
		return
	}

	orgs, err := h.orgService.ListOrganizations(r.Context(), filter)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, orgs)
}

func (h *Handlers) ListDisplays(w http.ResponseWriter, r *http.Request) {
	filter, ok := h.filterFromQuery(w, r)
	if !ok {
		return
	}

	displays, err := h.orgService.ListDisplays(r.Context(), filter)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, displays)
}

func (h *Handlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	org, err := h.orgService.GetOrganization(r.Context(), chi.URLParam(r, "orgID"))
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, org)
}

func (h *Handlers) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	var org fhir.Organization
	if !h.decodeAndValidate(w, r, &org) {
		return
	}

	kind := r.URL.Query().Get("kind")
	if err := h.validate.Var(kind, "omitempty,oneof=breeder groomer boarding clinic"); err != nil {
		sendError(w, http.StatusBadRequest, shared.CodeValidationFailed, "kind must be one of breeder, groomer, boarding, clinic")
		return
	}

	updated, err := h.orgService.UpdateOrganization(r.Context(), chi.URLParam(r, "orgID"), &org, kind)
	if err != nil {
		h.sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, updated)
}

func (h *Handlers) DeleteOrganization(w http.ResponseWriter, r *http.Request) {
	if err := h.orgService.DeleteOrganization(r.Context(), chi.URLParam(r, "orgID")); err != nil {
		h.sendServiceError(w, err)
		return
	}

	sendSuccess(w, http.StatusOK, map[string]string{"message": "Organization deleted successfully"})
}

// Health check
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := shared.HealthStatus{
		Status:    "healthy",
		Service:   shared.ServiceName,
		Uptime:    time.Since(h.started),
		Timestamp: time.Now(),
		Details:   make(map[string]string),
	}

	if err := h.orgService.DB().PingContext(r.Context()); err != nil {
		health.Status = "unhealthy"
		health.Details["database"] = "unhealthy: " + err.Error()
	} else {
		health.Details["database"] = "healthy"
	}

	if h.nats == nil {
		health.Status = "unhealthy"
		health.Details["nats"] = "unhealthy: not configured"
	} else if err := h.nats.HealthCheck(); err != nil {
		health.Status = "unhealthy"
		health.Details["nats"] = "unhealthy: " + err.Error()
	} else {
		health.Details["nats"] = "healthy"
	}

	statusCode := http.StatusOK
	if health.Status == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}

	sendSuccess(w, statusCode, health)
}

// newValidator reports json field names instead of Go field names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handlers) filterFromQuery(w http.ResponseWriter, r *http.Request) (ontology.OrganizationFilter, bool) {
	filter := ontology.OrganizationFilter{
		Subject: r.URL.Query().Get("subject"),
		Kind:    r.URL.Query().Get("kind"),
	}
	if err := h.validate.Struct(filter); err != nil {
		sendValidationError(w, err)
		return filter, false
	}
	return filter, true
}

func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		sendError(w, http.StatusBadRequest, shared.CodeInvalidRequest, err.Error())
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		sendValidationError(w, err)
		return false
	}
	return true
}

func (h *Handlers) sendServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrOrganizationNotFound):
		sendError(w, http.StatusNotFound, shared.CodeNotFound, err.Error())
	case errors.Is(err, services.ErrOrganizationExists):
		sendError(w, http.StatusConflict, shared.CodeConflict, err.Error())
	case errors.Is(err, services.ErrInvalidOrganization):
		sendError(w, http.StatusBadRequest, shared.CodeValidationFailed, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		sendError(w, http.StatusInternalServerError, shared.CodeInternal, "internal error")
	}
}

func sendValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		sendError(w, http.StatusBadRequest, shared.CodeValidationFailed, ValidatorErrorToUser(verrs))
		return
	}
	sendError(w, http.StatusBadRequest, shared.CodeValidationFailed, err.Error())
}

// Helper functions
func sendSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(shared.Response{
		Success: true,
		Data:    data,
	})
}

func sendError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(shared.Response{
		Success: false,
		Error: &shared.Error{
			Code:    code,
			Message: message,
		},
	})
}

// Routes builds the HTTP handler. Everything under /api/v1 requires the bearer token.
func (h *Handlers) Routes(token string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.CORS)
	r.Use(middleware.RequestLogger(h.logger))
	r.Use(metrics.Middleware)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, http.StatusNotFound, shared.CodeNotFound, "route not found")
	})

	r.Get("/health", h.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.BearerAuth(token))

		r.Post("/contacts", h.CreateContact)

		r.Route("/organizations", func(r chi.Router) {
			r.Post("/", h.CreateOrganization)
			r.Get("/", h.ListOrganizations)
			r.Get("/display", h.ListDisplays)
			r.Get("/{orgID}", h.GetOrganization)
			r.Put("/{orgID}", h.UpdateOrganization)
			r.Delete("/{orgID}", h.DeleteOrganization)
		})
	})

	return r
}
