package recordstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/shop-scanner/internal/scan"
)

// HTTP implements scan.RecordStore against a remote document service that
// serves documents at {base}/collections/{collection}/documents/{key}
type HTTP struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTP creates a new HTTP record store. token is sent as a bearer token when set.
func NewHTTP(baseURL, token string, timeout time.Duration) (*HTTP, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("record store url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parsing record store url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Get fetches a single document
func (h *HTTP) Get(ctx context.Context, collection, key string) (scan.FieldMap, error) {
	u := fmt.Sprintf("%s/collections/%s/documents/%s", h.baseURL, url.PathEscape(collection), url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling record store: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, scan.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("record store error (status %d): %s", resp.StatusCode, string(body))
	}

	var fields scan.FieldMap
	if err := json.NewDecoder(resp.Body).Decode(&fields); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, scan.ErrNotFound)
	}
	return fields, nil
}

// Close releases idle connections
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}
