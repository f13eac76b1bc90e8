// Package upstream talks to the admin REST backends on behalf of a desk user.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/transport"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	BackendMyusta = "myusta"
	BackendChat   = "chat"

	myustaAPIPrefix = "/api/admin"
	chatAPIPrefix   = "/api/v1/admin"
	authPrefix      = "/api/auth"

	defaultPage     = 1
	defaultPageSize = 10

	userAgent = "deskadmin/1.0"
)

// MaxPageSize caps the page size sent to a backend.
const MaxPageSize = 500

// APIPrefix returns the admin route prefix of a known backend.
func APIPrefix(backend string) string {
	if backend == BackendChat {
		return chatAPIPrefix
	}
	return myustaAPIPrefix
}

// RecordQuery selects one page of records.
type RecordQuery struct {
	Page      int               `json:"page"`
	Size      int               `json:"size"`
	Search    string            `json:"search,omitempty"`
	SortBy    string            `json:"sortBy,omitempty"`
	SortOrder string            `json:"sortOrder,omitempty"`
	Filters   map[string]string `json:"filters,omitempty"`
}

// Normalized fills paging defaults and canonicalises the sort order.
func (q RecordQuery) Normalized() RecordQuery {
	if q.Page < 1 {
		q.Page = defaultPage
	}
	if q.Size < 1 {
		q.Size = defaultPageSize
	}
	if q.Size > MaxPageSize {
		q.Size = MaxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
	q.SortBy = strings.TrimSpace(q.SortBy)
	switch strings.ToUpper(strings.TrimSpace(q.SortOrder)) {
	case "":
		q.SortOrder = ""
	case "DESC":
		q.SortOrder = "DESC"
	default:
		q.SortOrder = "ASC"
	}
	return q
}

func (q RecordQuery) params() (map[string]string, error) {
	params := map[string]string{
		"page": pageParam(q.Page),
		"size": pageParam(q.Size),
	}
	if q.Search != "" {
		params["search"] = q.Search
	}
	if q.SortBy != "" {
		params["sortBy"] = q.SortBy
		if q.SortOrder != "" {
			params["sortOrder"] = q.SortOrder
		}
	}
	if len(q.Filters) > 0 {
		encoded, err := json.Marshal(q.Filters)
		if err != nil {
			return nil, err
		}
		params["filters"] = string(encoded)
	}
	return params, nil
}

// ClientConfig configures a Client for one backend.
type ClientConfig struct {
	Backend   string
	BaseURL   string
	APIPrefix string
	Timeout   time.Duration
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Client issues JSON requests against one backend. It never retries.
type Client struct {
	backend string
	prefix  string
	resty   *resty.Client
	logger  *zap.Logger
}

// NewClient builds a Client for cfg.Backend.
func NewClient(cfg ClientConfig) (*Client, error) {
	backend := strings.TrimSpace(cfg.Backend)
	if backend == "" {
		return nil, errors.New("upstream client requires a backend name")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.New("upstream client requires an absolute base url")
	}
	prefix := cfg.APIPrefix
	if prefix == "" {
		prefix = APIPrefix(backend)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	restyClient := resty.New().
		SetBaseURL(baseURL).
		SetRetryCount(0).
		SetLogger(logger.Sugar()).
		SetDisableWarn(true).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)
	if cfg.Timeout > 0 {
		restyClient.SetTimeout(cfg.Timeout)
	}
	if cfg.Transport != nil {
		restyClient.SetTransport(cfg.Transport)
	}

	return &Client{
		backend: backend,
		prefix:  strings.TrimRight(prefix, "/"),
		resty:   restyClient,
		logger:  logger,
	}, nil
}

// Backend returns the backend name this client targets.
func (c *Client) Backend() string {
	return c.backend
}

// ListModels fetches the model listing.
func (c *Client) ListModels(ctx context.Context, token string) ([]Model, error) {
	response, err := c.do(ctx, token, http.MethodGet, c.prefix+"/models", nil, nil)
	if err != nil {
		return nil, err
	}
	models, decodeErr := decodeModels(response.Body())
	if decodeErr != nil {
		return nil, c.invalid(response, decodeErr)
	}
	return models, nil
}

// GetRecords fetches one page of records of model name.
func (c *Client) GetRecords(ctx context.Context, token string, name string, query RecordQuery) (RecordPage, error) {
	query = query.Normalized()
	params, err := query.params()
	if err != nil {
		return RecordPage{}, err
	}
	response, err := c.do(ctx, token, http.MethodGet, c.modelPath(name)+"/records", params, nil)
	if err != nil {
		return RecordPage{}, err
	}
	page, decodeErr := decodeRecordPage(response.Body(), query)
	if decodeErr != nil {
		return RecordPage{}, c.invalid(response, decodeErr)
	}
	return page, nil
}

// GetSchema fetches attribute and association metadata of model name.
func (c *Client) GetSchema(ctx context.Context, token string, name string) (Schema, error) {
	response, err := c.do(ctx, token, http.MethodGet, c.modelPath(name)+"/schema", nil, nil)
	if err != nil {
		return Schema{}, err
	}
	schema, decodeErr := decodeSchema(response.Body(), name)
	if decodeErr != nil {
		return Schema{}, c.invalid(response, decodeErr)
	}
	return schema, nil
}

// UpdateRecord replaces the given fields of one record and returns the stored record.
func (c *Client) UpdateRecord(ctx context.Context, token string, name string, id string, fields map[string]any) (map[string]any, error) {
	response, err := c.do(ctx, token, http.MethodPut, c.recordPath(name, id), nil, fields)
	if err != nil {
		return nil, err
	}
	record, decodeErr := decodeRecord(response.Body())
	if decodeErr != nil {
		return nil, c.invalid(response, decodeErr)
	}
	return record, nil
}

// DeleteRecord removes one record.
func (c *Client) DeleteRecord(ctx context.Context, token string, name string, id string) error {
	_, err := c.do(ctx, token, http.MethodDelete, c.recordPath(name, id), nil, nil)
	return err
}

// Login exchanges credentials for an upstream bearer token.
func (c *Client) Login(ctx context.Context, email string, password string) (LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	response, err := c.do(ctx, "", http.MethodPost, authPrefix+"/login", nil, body)
	if err != nil {
		return LoginResult{}, err
	}
	result, decodeErr := decodeLogin(response.Body())
	if decodeErr != nil {
		return LoginResult{}, c.invalid(response, decodeErr)
	}
	return result, nil
}

// Logout invalidates token upstream.
func (c *Client) Logout(ctx context.Context, token string) error {
	_, err := c.do(ctx, token, http.MethodPost, authPrefix+"/logout", nil, nil)
	return err
}

// Refresh trades token for a fresh one.
func (c *Client) Refresh(ctx context.Context, token string) (LoginResult, error) {
	response, err := c.do(ctx, token, http.MethodPost, authPrefix+"/refresh", nil, nil)
	if err != nil {
		return LoginResult{}, err
	}
	result, decodeErr := decodeLogin(response.Body())
	if decodeErr != nil {
		return LoginResult{}, c.invalid(response, decodeErr)
	}
	return result, nil
}

// Validate returns the user token belongs to.
func (c *Client) Validate(ctx context.Context, token string) (AuthUser, error) {
	response, err := c.do(ctx, token, http.MethodGet, authPrefix+"/validate", nil, nil)
	if err != nil {
		return AuthUser{}, err
	}
	user, decodeErr := decodeUser(response.Body())
	if errors.Is(decodeErr, ErrUnauthorized) {
		return AuthUser{}, classifyStatus(c.backend, http.StatusUnauthorized, nil)
	}
	if decodeErr != nil {
		return AuthUser{}, c.invalid(response, decodeErr)
	}
	return user, nil
}

func (c *Client) modelPath(name string) string {
	return c.prefix + "/models/" + url.PathEscape(name)
}

func (c *Client) recordPath(name string, id string) string {
	return c.modelPath(name) + "/records/" + url.PathEscape(id)
}

func (c *Client) do(ctx context.Context, token string, method string, path string, params map[string]string, body any) (*resty.Response, error) {
	request := c.resty.R().SetContext(transport.WithBackend(ctx, c.backend))
	if token != "" {
		request.SetAuthToken(token)
	}
	if len(params) > 0 {
		request.SetQueryParams(params)
	}
	if body != nil {
		request.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	response, err := request.Execute(method, path)
	if err != nil {
		classified := classifyTransportError(c.backend, err)
		c.logger.Info("upstream call failed",
			zap.String("backend", c.backend),
			zap.String("path", path),
			zap.String("error_type", string(classified.Type)),
			zap.Error(err),
		)
		return nil, classified
	}
	if response.StatusCode() < 200 || response.StatusCode() >= 300 {
		classified := classifyStatus(c.backend, response.StatusCode(), response.Body())
		c.logger.Info("upstream call rejected",
			zap.String("backend", c.backend),
			zap.String("path", path),
			zap.Int("status", response.StatusCode()),
			zap.String("message", classified.Message),
		)
		return nil, classified
	}
	return response, nil
}

func (c *Client) invalid(response *resty.Response, err error) error {
	c.logger.Warn("upstream payload rejected",
		zap.String("backend", c.backend),
		zap.String("url", response.Request.URL),
		zap.String("content_type", response.Header().Get("Content-Type")),
		zap.Error(err),
	)
	return invalidPayload(c.backend, response.StatusCode(), err)
}
