package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/agentworkforce/nexusvault/internal/catalog"
)

// HTTPError is a non-2xx response from the vault server. It matches the
// catalog sentinel that produced it on the server side.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == catalog.ErrInvalidInput
	case http.StatusNotFound:
		return target == catalog.ErrNotFound
	case http.StatusUnprocessableEntity:
		return target == catalog.ErrCorruptData
	}
	return false
}

type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zerolog.Logger
	// MaxRetries bounds retries of reads. Writes are never retried.
	MaxRetries int
}

// HTTPClient talks to the vault REST API and satisfies syncengine.Remote.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	log        zerolog.Logger
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(opts Options) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8000"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.Token),
		httpClient: httpClient,
		log:        logger.With().Str("component", "client").Logger(),
		maxRetries: maxRetries,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) BaseURL() string { return c.baseURL }

func (c *HTTPClient) FetchState(ctx context.Context) (catalog.AppState, error) {
	var out catalog.AppState
	err := c.doJSON(ctx, http.MethodGet, "/api/state", nil, &out)
	return out, err
}

func (c *HTTPClient) SaveState(ctx context.Context, state catalog.AppState) error {
	return c.doJSON(ctx, http.MethodPost, "/api/state", state, nil)
}

func (c *HTTPClient) CreateCategory(ctx context.Context, category catalog.Category) (catalog.Category, error) {
	var out catalog.Category
	err := c.doJSON(ctx, http.MethodPost, "/api/categories", category, &out)
	return out, err
}

func (c *HTTPClient) UpdateCategory(ctx context.Context, id string, patch catalog.CategoryPatch) (catalog.Category, error) {
	var out catalog.Category
	err := c.doJSON(ctx, http.MethodPut, "/api/categories/"+url.PathEscape(id), patch, &out)
	return out, err
}

func (c *HTTPClient) DeleteCategory(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/categories/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) FetchItems(ctx context.Context, query catalog.ItemQuery) ([]catalog.Item, error) {
	q := url.Values{}
	if len(query.CategoryIDs) > 0 {
		q.Set("categories", strings.Join(query.CategoryIDs, ","))
	}
	if query.Search != "" {
		q.Set("search", query.Search)
	}
	path := "/api/items"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}
	var out []catalog.Item
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *HTTPClient) CreateItem(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	var out catalog.Item
	err := c.doJSON(ctx, http.MethodPost, "/api/items", item, &out)
	return out, err
}

func (c *HTTPClient) UpdateItem(ctx context.Context, id string, patch catalog.ItemPatch) (catalog.Item, error) {
	var out catalog.Item
	err := c.doJSON(ctx, http.MethodPut, "/api/items/"+url.PathEscape(id), patch, &out)
	return out, err
}

func (c *HTTPClient) DeleteItem(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/items/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) UploadItem(ctx context.Context, item catalog.Item) (catalog.Item, error) {
	var out catalog.Item
	err := c.doJSON(ctx, http.MethodPost, "/api/upload", item, &out)
	return out, err
}

type itemsCategoryBody struct {
	ItemIDs     []string `json:"itemIds"`
	CategoryID  string   `json:"categoryId,omitempty"`
	CategoryIDs []string `json:"categoryIds,omitempty"`
}

func (c *HTTPClient) BatchAddTags(ctx context.Context, itemIDs []string, categoryID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/batch/add-tags", itemsCategoryBody{ItemIDs: itemIDs, CategoryID: categoryID}, nil)
}

func (c *HTTPClient) BatchEdit(ctx context.Context, req catalog.BatchEditRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/api/batch/edit", req, nil)
}

func (c *HTTPClient) BatchDelete(ctx context.Context, itemIDs []string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/batch/delete", itemsCategoryBody{ItemIDs: itemIDs}, nil)
}

func (c *HTTPClient) BatchRemoveCategories(ctx context.Context, itemIDs, categoryIDs []string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/batch/remove-categories", itemsCategoryBody{ItemIDs: itemIDs, CategoryIDs: categoryIDs}, nil)
}

func (c *HTTPClient) ToggleCategory(ctx context.Context, itemIDs []string, categoryID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/items/toggle-category", itemsCategoryBody{ItemIDs: itemIDs, CategoryID: categoryID}, nil)
}

func (c *HTTPClient) RemoveCategoryFromItem(ctx context.Context, itemID, categoryID string) (catalog.Item, error) {
	var out catalog.Item
	body := map[string]string{"categoryId": categoryID}
	err := c.doJSON(ctx, http.MethodPut, "/api/items/"+url.PathEscape(itemID)+"/remove-category", body, &out)
	return out, err
}

func (c *HTTPClient) FetchVersions(ctx context.Context) ([]catalog.Version, error) {
	var out []catalog.Version
	err := c.doJSON(ctx, http.MethodGet, "/api/versions", nil, &out)
	return out, err
}

func (c *HTTPClient) CreateVersion(ctx context.Context, label string, data catalog.AppState) (catalog.Version, error) {
	var out catalog.Version
	body := struct {
		Label string           `json:"label"`
		State catalog.AppState `json:"state"`
	}{Label: label, State: data}
	err := c.doJSON(ctx, http.MethodPost, "/api/versions", body, &out)
	return out, err
}

func (c *HTTPClient) DeleteVersion(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/versions/"+url.PathEscape(id), nil, nil)
}

func (c *HTTPClient) FetchSettings(ctx context.Context) (catalog.Settings, error) {
	var out catalog.Settings
	err := c.doJSON(ctx, http.MethodGet, "/api/settings", nil, &out)
	return out, err
}

func (c *HTTPClient) UpdateSettings(ctx context.Context, settings catalog.Settings) (catalog.Settings, error) {
	var out catalog.Settings
	err := c.doJSON(ctx, http.MethodPut, "/api/settings", settings, &out)
	return out, err
}

func (c *HTTPClient) Export(ctx context.Context) (catalog.AppState, error) {
	var out catalog.AppState
	err := c.doJSON(ctx, http.MethodGet, "/api/export", nil, &out)
	return out, err
}

// Import sends raw unchanged so the server validates the caller's bytes.
func (c *HTTPClient) Import(ctx context.Context, raw []byte) error {
	return c.do(ctx, http.MethodPost, "/api/import", raw, nil)
}

func (c *HTTPClient) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	return c.do(ctx, method, requestPath, bodyBytes, out)
}

func (c *HTTPClient) do(ctx context.Context, method, requestPath string, bodyBytes []byte, out any) error {
	retryable := method == http.MethodGet
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", correlationID())
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if retryable && attempt < c.maxRetries {
				c.log.Debug().Err(err).Str("path", requestPath).Int("attempt", attempt+1).Msg("retrying request")
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if retryable && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) && attempt < c.maxRetries {
			c.log.Debug().Int("status", resp.StatusCode).Str("path", requestPath).Int("attempt", attempt+1).Msg("retrying request")
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func correlationID() string {
	return "nexus_" + uuid.NewString()
}

func (c *HTTPClient) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
