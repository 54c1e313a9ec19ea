package syncclient

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

	"github.com/bennah995/quoterelay/internal/quote"
)

var ErrConflict = errors.New("revision conflict")

type ConflictError struct {
	QuoteID int64
}

func (e *ConflictError) Error() string {
	if e.QuoteID == 0 {
		return "revision conflict"
	}
	return fmt.Sprintf("revision conflict for quote %d", e.QuoteID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

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

// RemoteQuote is a server-side quote record plus its revision tag.
type RemoteQuote struct {
	quote.Quote
	Revision string `json:"revision"`
}

type QuotePage struct {
	Items      []RemoteQuote `json:"items"`
	NextCursor *string       `json:"nextCursor"`
}

type RemoteEvent struct {
	EventID   string `json:"eventId"`
	Type      string `json:"type"`
	QuoteID   int64  `json:"quoteId"`
	Revision  string `json:"revision"`
	Origin    string `json:"origin,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type EventFeed struct {
	Events     []RemoteEvent `json:"events"`
	NextCursor *string       `json:"nextCursor"`
}

type WriteResult struct {
	TargetRevision string `json:"targetRevision"`
}

type RemoteClient interface {
	ListQuotes(ctx context.Context, workspaceID, cursor string, limit int) (QuotePage, error)
	ListEvents(ctx context.Context, workspaceID, cursor string, limit int) (EventFeed, error)
	GetQuote(ctx context.Context, workspaceID string, quoteID int64) (RemoteQuote, error)
	PutQuote(ctx context.Context, workspaceID string, q quote.Quote, baseRevision string) (WriteResult, error)
}

type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPClient{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

func (c *HTTPClient) ListQuotes(ctx context.Context, workspaceID, cursor string, limit int) (QuotePage, error) {
	q := url.Values{}
	if strings.TrimSpace(cursor) != "" {
		q.Set("cursor", strings.TrimSpace(cursor))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	requestPath := fmt.Sprintf("/v1/workspaces/%s/quotes", url.PathEscape(workspaceID))
	if encoded := q.Encode(); encoded != "" {
		requestPath += "?" + encoded
	}
	var out QuotePage
	err := c.doJSON(ctx, http.MethodGet, requestPath, nil, nil, &out)
	return out, err
}

func (c *HTTPClient) ListEvents(ctx context.Context, workspaceID, cursor string, limit int) (EventFeed, error) {
	q := url.Values{}
	if strings.TrimSpace(cursor) != "" {
		q.Set("cursor", strings.TrimSpace(cursor))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	requestPath := fmt.Sprintf("/v1/workspaces/%s/events", url.PathEscape(workspaceID))
	if encoded := q.Encode(); encoded != "" {
		requestPath += "?" + encoded
	}
	var out EventFeed
	err := c.doJSON(ctx, http.MethodGet, requestPath, nil, nil, &out)
	return out, err
}

func (c *HTTPClient) GetQuote(ctx context.Context, workspaceID string, quoteID int64) (RemoteQuote, error) {
	var out RemoteQuote
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/workspaces/%s/quotes/%d", url.PathEscape(workspaceID), quoteID), nil, nil, &out)
	return out, err
}

func (c *HTTPClient) PutQuote(ctx context.Context, workspaceID string, q quote.Quote, baseRevision string) (WriteResult, error) {
	if baseRevision == "" {
		baseRevision = "0"
	}
	headers := map[string]string{
		"If-Match": baseRevision,
	}
	body := map[string]any{
		"text":     q.Text,
		"category": q.Category,
	}
	var out WriteResult
	err := c.doJSON(ctx, http.MethodPut, fmt.Sprintf("/v1/workspaces/%s/quotes/%d", url.PathEscape(workspaceID), q.ID), headers, body, &out)
	if errors.Is(err, ErrConflict) {
		return out, &ConflictError{QuoteID: q.ID}
	}
	return out, err
}

func (c *HTTPClient) doJSON(
	ctx context.Context,
	method, requestPath string,
	headers map[string]string,
	body any,
	out any,
) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
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

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
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
		if resp.StatusCode == http.StatusConflict {
			return &ConflictError{}
		}
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
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
	if delay > maxDelay {
		return maxDelay
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
	if ts, err := time.Parse(time.RFC1123, header); err == nil {
		delta := time.Until(ts)
		if delta > 0 {
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

func correlationID() string {
	return fmt.Sprintf("sync_%d", time.Now().UnixNano())
}
