package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"presence-service/internal/domain"
	"presence-service/internal/metrics"
)

// PresenceSample is one entity's raw state label and when it was observed
type PresenceSample struct {
	Label      string
	ObservedAt int64
}

// PresenceBatch is the result of one fetch for a roster of entities
type PresenceBatch struct {
	ObservedAt int64
	Presences  map[string]PresenceSample
	NotFound   []string
}

// PresenceSource fetches the current presence of a set of entities
type PresenceSource interface {
	// FetchPresence returns ErrAuthorizationExpired when the source rejects
	// the credentials and ErrTransientIO for any other failure.
	FetchPresence(ctx context.Context, entityIDs []string) (*PresenceBatch, error)
}

// source error codes that mean the token must be renewed
var authErrorCodes = map[string]bool{
	"invalid_auth":     true,
	"not_authed":       true,
	"token_revoked":    true,
	"token_expired":    true,
	"account_inactive": true,
}

const notFoundErrorCode = "users_not_found"

type batchRequest struct {
	IDs []string `json:"ids"`
}

type batchResponse struct {
	OK        bool              `json:"ok"`
	Error     string            `json:"error,omitempty"`
	Presences map[string]string `json:"presences"`
	NotFound  []string          `json:"not_found"`
}

type singleResponse struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Presence string `json:"presence"`
}

// HTTPPresenceClient talks to the presence source over HTTP with a bearer token
type HTTPPresenceClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	clock      quartz.Clock
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// NewHTTPPresenceClient creates a new presence source client
func NewHTTPPresenceClient(baseURL, token string, timeout time.Duration, clock quartz.Clock, logger *zap.Logger, m *metrics.Metrics) *HTTPPresenceClient {
	return &HTTPPresenceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		clock:   clock,
		logger:  logger,
		metrics: m,
	}
}

// FetchPresence fetches every entity in one POST {baseURL}/presence/batch call
func (c *HTTPPresenceClient) FetchPresence(ctx context.Context, entityIDs []string) (*PresenceBatch, error) {
	endpoint := c.baseURL + "/presence/batch"

	jsonBody, err := json.Marshal(batchRequest{IDs: entityIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal presence request: %w", err)
	}

	observedAt := c.clock.Now().Unix()
	body, err := c.do(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}

	var resp batchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode presence batch: %v", domain.ErrTransientIO, err)
	}
	if !resp.OK {
		return nil, classifyErrorCode(resp.Error)
	}

	batch := &PresenceBatch{
		ObservedAt: observedAt,
		Presences:  make(map[string]PresenceSample, len(resp.Presences)),
		NotFound:   resp.NotFound,
	}
	for id, label := range resp.Presences {
		batch.Presences[id] = PresenceSample{Label: label, ObservedAt: observedAt}
	}
	return batch, nil
}

// FetchOne fetches a single entity with GET {baseURL}/presence/{id}
func (c *HTTPPresenceClient) FetchOne(ctx context.Context, entityID string) (PresenceSample, error) {
	endpoint := c.baseURL + "/presence/" + url.PathEscape(entityID)

	observedAt := c.clock.Now().Unix()
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PresenceSample{}, err
	}

	var resp singleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return PresenceSample{}, fmt.Errorf("%w: failed to decode presence: %v", domain.ErrTransientIO, err)
	}
	if !resp.OK {
		return PresenceSample{}, classifyErrorCode(resp.Error)
	}
	return PresenceSample{Label: resp.Presence, ObservedAt: observedAt}, nil
}

func (c *HTTPPresenceClient) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.metrics.RecordExternalAPICall(endpoint, method, statusCode, duration, err)

	if err != nil {
		c.logger.Warn("Presence source request failed",
			zap.String("method", method),
			zap.Error(err),
			zap.Duration("duration", duration),
		)
		return nil, fmt.Errorf("%w: %s %s: %v", domain.ErrTransientIO, method, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", domain.ErrTransientIO, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: presence source returned %d", domain.ErrAuthorizationExpired, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: presence source returned 404", domain.ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: presence source returned %d: %s", domain.ErrTransientIO, resp.StatusCode, string(data))
	}
	return data, nil
}

func classifyErrorCode(code string) error {
	switch {
	case authErrorCodes[code]:
		return fmt.Errorf("%w: %s", domain.ErrAuthorizationExpired, code)
	case code == notFoundErrorCode:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, code)
	default:
		return fmt.Errorf("%w: presence source error %q", domain.ErrTransientIO, code)
	}
}
