package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	adminUsersPath      = "/auth/v1/admin/users"
	passwordGrantPath   = "/auth/v1/token"
	defaultListPageSize = 200
	defaultHTTPTimeout  = 15 * time.Second
	maxErrorBodyBytes   = 4096
)

var (
	errMissingBaseURL      = errors.New("base url configuration required")
	errMissingServiceKey   = errors.New("service key configuration required")
	ErrInvalidClientConfig = errors.New("identity: invalid admin client config")
)

// AdminClientConfig bundles configuration for the hosted auth admin API client.
type AdminClientConfig struct {
	BaseURL    string
	ServiceKey string
	HTTPClient *http.Client
	PageSize   int
	Logger     *zap.Logger
}

// AdminClient implements Store against a hosted auth service using its admin
// endpoints and the elevated service credential.
type AdminClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	pageSize   int
	logger     *zap.Logger
}

// APIError reports a non-success response from the hosted auth service.
type APIError struct {
	Status    int
	ErrorCode string
	Message   string
}

func (e *APIError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("identity api: status %d (%s): %s", e.Status, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("identity api: status %d: %s", e.Status, e.Message)
}

// NewAdminClient constructs a client with validated configuration.
func NewAdminClient(cfg AdminClientConfig) (*AdminClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingBaseURL)
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, err)
	}
	serviceKey := strings.TrimSpace(cfg.ServiceKey)
	if serviceKey == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingServiceKey)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultListPageSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AdminClient{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: httpClient,
		pageSize:   pageSize,
		logger:     logger,
	}, nil
}

type remoteUser struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	UserMetadata     map[string]any `json:"user_metadata"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (u remoteUser) account() Account {
	return Account{
		ID:               u.ID,
		Email:            normalizeEmail(u.Email),
		Metadata:         u.UserMetadata,
		EmailConfirmedAt: u.EmailConfirmedAt,
		CreatedAt:        u.CreatedAt,
		UpdatedAt:        u.UpdatedAt,
	}
}

type createUserPayload struct {
	Email        string         `json:"email"`
	Password     string         `json:"password"`
	EmailConfirm bool           `json:"email_confirm"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

type updateUserPayload struct {
	Password     string         `json:"password,omitempty"`
	EmailConfirm bool           `json:"email_confirm,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

type listUsersResponse struct {
	Users []remoteUser `json:"users"`
}

type passwordGrantPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordGrantResponse struct {
	User remoteUser `json:"user"`
}

type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *AdminClient) Create(ctx context.Context, params CreateParams) (Account, error) {
	email := normalizeEmail(params.Email)
	if email == "" || params.Password == "" {
		return Account{}, ErrInvalidInput
	}
	var created remoteUser
	err := c.do(ctx, http.MethodPost, adminUsersPath, nil, createUserPayload{
		Email:        email,
		Password:     params.Password,
		EmailConfirm: params.ConfirmEmail,
		UserMetadata: params.Metadata,
	}, &created)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && isEmailTaken(apiErr) {
			return Account{}, fmt.Errorf("%w: %s", ErrEmailTaken, apiErr.Message)
		}
		return Account{}, err
	}
	return created.account(), nil
}

func (c *AdminClient) Update(ctx context.Context, id string, params UpdateParams) (Account, error) {
	var updated remoteUser
	err := c.do(ctx, http.MethodPut, adminUsersPath+"/"+url.PathEscape(id), nil, updateUserPayload{
		Password:     params.Password,
		EmailConfirm: params.ConfirmEmail,
		UserMetadata: params.Metadata,
	}, &updated)
	if err != nil {
		return Account{}, translateNotFound(err, id)
	}
	return updated.account(), nil
}

func (c *AdminClient) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrInvalidInput
	}
	if err := c.do(ctx, http.MethodDelete, adminUsersPath+"/"+url.PathEscape(id), nil, nil, nil); err != nil {
		return translateNotFound(err, id)
	}
	return nil
}

func (c *AdminClient) List(ctx context.Context) ([]Account, error) {
	var accounts []Account
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("page", strconv.Itoa(page))
		query.Set("per_page", strconv.Itoa(c.pageSize))

		var response listUsersResponse
		if err := c.do(ctx, http.MethodGet, adminUsersPath, query, nil, &response); err != nil {
			return nil, err
		}
		for _, user := range response.Users {
			accounts = append(accounts, user.account())
		}
		if len(response.Users) < c.pageSize {
			return accounts, nil
		}
	}
}

// FindByEmail scans the admin listing; the admin API has no email lookup.
func (c *AdminClient) FindByEmail(ctx context.Context, email string) (Account, error) {
	target := normalizeEmail(email)
	accounts, err := c.List(ctx)
	if err != nil {
		return Account{}, err
	}
	for _, account := range accounts {
		if account.Email == target {
			return account, nil
		}
	}
	return Account{}, fmt.Errorf("%w: %s", ErrNotFound, target)
}

func (c *AdminClient) Authenticate(ctx context.Context, email, password string) (Account, error) {
	query := url.Values{}
	query.Set("grant_type", "password")
	var response passwordGrantResponse
	err := c.do(ctx, http.MethodPost, passwordGrantPath, query, passwordGrantPayload{
		Email:    normalizeEmail(email),
		Password: password,
	}, &response)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.Status == http.StatusBadRequest || apiErr.Status == http.StatusUnauthorized) {
			return Account{}, ErrInvalidCredentials
		}
		return Account{}, err
	}
	if response.User.ID == "" {
		return Account{}, ErrInvalidCredentials
	}
	return response.User.account(), nil
}

func (c *AdminClient) do(ctx context.Context, method, path string, query url.Values, payload any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	request.Header.Set("apikey", c.serviceKey)
	request.Header.Set("Authorization", "Bearer "+c.serviceKey)
	request.Header.Set("Accept", "application/json")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Warn("identity api request failed", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return err
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return decodeAPIError(response)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, response.Body)
		return nil
	}
	return json.NewDecoder(response.Body).Decode(out)
}

func decodeAPIError(response *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	apiErr := &APIError{Status: response.StatusCode}

	var decoded errorResponse
	if err := json.Unmarshal(raw, &decoded); err == nil {
		apiErr.ErrorCode = decoded.ErrorCode
		for _, candidate := range []string{decoded.Msg, decoded.Message, decoded.ErrorDescription, decoded.Error} {
			if strings.TrimSpace(candidate) != "" {
				apiErr.Message = candidate
				break
			}
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(response.StatusCode)
	}
	return apiErr
}

func isEmailTaken(apiErr *APIError) bool {
	if apiErr.ErrorCode == "email_exists" || apiErr.ErrorCode == "user_already_exists" {
		return true
	}
	if apiErr.Status != http.StatusUnprocessableEntity && apiErr.Status != http.StatusConflict {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "already been registered")
}

func translateNotFound(err error, id string) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
