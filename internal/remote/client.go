package remote

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

	"taller/internal/config"
	"taller/internal/domain"
	"taller/internal/logging"
	"taller/internal/models"
	"taller/internal/worker"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// Client talks to the REST API that owns the entity collections.
// Collections live under <base_url>/api/<entity_type>.
type Client struct {
	baseURL    string
	apiKey     string
	apiExtra   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zerolog.Logger
}

// NewClient constructs a client from the remote config section.
func NewClient(cfg config.RemoteConfig, logger *zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	burst := cfg.RateLimit.Burst
	if cfg.RateLimit.RPS > 0 {
		limit = rate.Limit(cfg.RateLimit.RPS)
		if burst <= 0 {
			burst = 1
		}
	}
	l := logging.Component(logger, "remote")
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		apiExtra:   cfg.APIExtra,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		logger:     l,
	}
}

// Handler returns the handler replaying mutations of entityType.
func (c *Client) Handler(entityType models.EntityType) *EntityHandler {
	return &EntityHandler{client: c, entityType: entityType}
}

// Registry registers a handler for each entity type.
func (c *Client) Registry(entityTypes ...models.EntityType) *worker.Registry {
	reg := worker.NewRegistry()
	for _, t := range entityTypes {
		reg.Register(t, c.Handler(t))
	}
	return reg
}

// FetchCollection downloads the current remote snapshot of entityType for the offline cache.
func (c *Client) FetchCollection(ctx context.Context, entityType models.EntityType) ([]models.CachedEntity, error) {
	var items []json.RawMessage
	raw, err := c.do(ctx, http.MethodGet, c.collectionURL(entityType), nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(unwrap(raw), &items); err != nil {
		return nil, domain.Permanent(fmt.Errorf("decode %s collection: %w", entityType, err))
	}

	now := time.Now().UTC()
	out := make([]models.CachedEntity, 0, len(items))
	for _, item := range items {
		id := extractID(item)
		if id == "" {
			c.logger.Warn().Str("entity_type", string(entityType)).Msg("Skipping remote record without id")
			continue
		}
		out = append(out, models.CachedEntity{
			EntityType: entityType,
			ID:         id,
			Data:       item,
			UpdatedAt:  now,
		})
	}
	return out, nil
}

func (c *Client) collectionURL(entityType models.EntityType) string {
	return fmt.Sprintf("%s/api/%s", c.baseURL, url.PathEscape(string(entityType)))
}

func (c *Client) entityURL(entityType models.EntityType, id string) string {
	return fmt.Sprintf("%s/%s", c.collectionURL(entityType), url.PathEscape(id))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body json.RawMessage) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, domain.Permanent(err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	c.addHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Remote call")

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &domain.RemoteError{
			Status:  resp.StatusCode,
			Method:  method,
			URL:     endpoint,
			Message: errorMessage(msg),
		}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: read body: %w", method, endpoint, err)
	}
	return raw, nil
}

func (c *Client) addHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}
	if c.apiExtra != "" {
		req.Header.Set("x-api-extra", c.apiExtra)
	}
}

// EntityHandler replays create/update/delete of one collection over REST.
type EntityHandler struct {
	client     *Client
	entityType models.EntityType
}

func (h *EntityHandler) Create(ctx context.Context, payload json.RawMessage) (*models.RemoteEntity, error) {
	raw, err := h.client.do(ctx, http.MethodPost, h.client.collectionURL(h.entityType), payload)
	if err != nil {
		return nil, err
	}
	return toEntity(raw, ""), nil
}

func (h *EntityHandler) Update(ctx context.Context, id string, payload json.RawMessage) (*models.RemoteEntity, error) {
	raw, err := h.client.do(ctx, http.MethodPut, h.client.entityURL(h.entityType, id), payload)
	if err != nil {
		return nil, err
	}
	return toEntity(raw, id), nil
}

func (h *EntityHandler) Delete(ctx context.Context, id string) error {
	_, err := h.client.do(ctx, http.MethodDelete, h.client.entityURL(h.entityType, id), nil)
	return err
}

// toEntity reads the server record from a response body. Empty bodies keep fallbackID.
func toEntity(raw json.RawMessage, fallbackID string) *models.RemoteEntity {
	data := unwrap(raw)
	if len(bytes.TrimSpace(data)) == 0 || !json.Valid(data) {
		return &models.RemoteEntity{ID: fallbackID}
	}
	id := extractID(data)
	if id == "" {
		id = fallbackID
	}
	return &models.RemoteEntity{ID: id, Data: data}
}

// unwrap strips a {"data": ...} envelope. Records that carry their own id are left alone.
func unwrap(raw json.RawMessage) json.RawMessage {
	var env struct {
		ID   json.RawMessage `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err == nil && len(env.ID) == 0 && len(env.Data) > 0 {
		return env.Data
	}
	return raw
}

func extractID(raw json.RawMessage) string {
	var rec struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil || len(rec.ID) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(rec.ID, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(rec.ID, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return n.String()
	}
	return ""
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return strings.TrimSpace(string(body))
}
