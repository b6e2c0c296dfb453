package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-resty/resty/v2"

	"pawcare-contacts/pkg/fhir"
	"pawcare-contacts/pkg/ontology"
	"pawcare-contacts/pkg/shared"
)

var ErrUnexpectedStatus = errors.New("unexpected response status")

// APIError carries the error envelope returned by the service.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrUnexpectedStatus
}

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// MaxRetries bounds retries of idempotent reads; 0 disables them.
	MaxRetries uint64

	// InitialInterval is the first backoff delay between retries.
	InitialInterval time.Duration
}

// Client talks to the organization service on behalf of the app.
type Client struct {
	rest    *resty.Client
	config  Config
	builder fhir.Builder
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}

	rest := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", shared.ServiceName+"-client/1.0")
	if cfg.Token != "" {
		rest.SetAuthToken(cfg.Token)
	}

	return &Client{
		rest:    rest,
		config:  cfg,
		builder: fhir.Builder{Now: time.Now},
	}
}

// HTTPClient exposes the underlying transport, mainly for tests.
func (c *Client) HTTPClient() *http.Client {
	return c.rest.GetClient()
}

// SubmitContact builds an organization record from the form fields and sends it.
func (c *Client) SubmitContact(ctx context.Context, rec ontology.ContactRecord) (*fhir.Organization, error) {
	org := c.builder.Build(rec)

	var env struct {
		Data fhir.Organization `json:"data"`
	}
	req := c.rest.R().SetContext(ctx).SetBody(org).SetResult(&env)
	if rec.Kind != "" {
		req.SetQueryParam("kind", rec.Kind)
	}

	resp, err := req.Post("/api/v1/organizations")
	if err != nil {
		return nil, fmt.Errorf("failed to submit organization: %w", err)
	}
	if resp.IsError() {
		return nil, apiError(resp)
	}

	return &env.Data, nil
}

// ListOrganizations fetches the organizations matching filter and flattens
// them for display.
func (c *Client) ListOrganizations(ctx context.Context, filter ontology.OrganizationFilter) ([]ontology.Display, error) {
	params := map[string]string{}
	if filter.Subject != "" {
		params["subject"] = filter.Subject
	}
	if filter.Kind != "" {
		params["kind"] = filter.Kind
	}

	resp, err := c.get(ctx, "/api/v1/organizations", params)
	if err != nil {
		return nil, err
	}

	return fhir.ParseResponse(resp.Body()), nil
}

func (c *Client) GetOrganization(ctx context.Context, orgID string) (*fhir.Organization, error) {
	resp, err := c.get(ctx, "/api/v1/organizations/"+orgID, nil)
	if err != nil {
		return nil, err
	}

	var env struct {
		Data *fhir.Organization `json:"data"`
	}
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, fmt.Errorf("failed to decode organization: %w", err)
	}
	if env.Data == nil {
		return nil, fmt.Errorf("%w: empty data", ErrUnexpectedStatus)
	}
	return env.Data, nil
}

func (c *Client) DeleteOrganization(ctx context.Context, orgID string) error {
	resp, err := c.rest.R().SetContext(ctx).Delete("/api/v1/organizations/" + orgID)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if resp.IsError() {
		return apiError(resp)
	}
	return nil
}

// get retries transport errors and 5xx responses with exponential backoff.
func (c *Client) get(ctx context.Context, path string, params map[string]string) (*resty.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxElapsedTime = 0

	var resp *resty.Response
	err := backoff.Retry(func() error {
		var err error
		resp, err = c.rest.R().SetContext(ctx).SetQueryParams(params).Get(path)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("failed to get %s: %w", path, err)
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return apiError(resp)
		}
		if resp.IsError() {
			return backoff.Permanent(apiError(resp))
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx))
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, permanent.Err
		}
		return nil, err
	}

	return resp, nil
}

func apiError(resp *resty.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode(), Code: http.StatusText(resp.StatusCode())}

	var env shared.Response
	if err := json.Unmarshal(resp.Body(), &env); err == nil && env.Error != nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
	}
	return apiErr
}
