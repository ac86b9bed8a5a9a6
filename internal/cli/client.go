package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gns-pkulkarni/chatbot-saas/internal/models"
)

// Client talks to a running chatbot server on behalf of one tenant.
type Client struct {
	BaseURL  string
	TenantID string
	HTTP     *http.Client
}

// NewClient returns a client with a 2 minute timeout.
func NewClient(baseURL, tenantID string) *Client {
	return &Client{BaseURL: baseURL, TenantID: tenantID, HTTP: &http.Client{Timeout: 2 * time.Minute}}
}

// Search runs GET /api/v1/search.
func (c *Client) Search(query, mode string, limit int, fuzzy bool) (*models.SearchResponse, error) {
	v := url.Values{}
	v.Set("q", query)
	if mode != "" {
		v.Set("mode", mode)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if fuzzy {
		v.Set("fuzzy", "true")
	}
	var out models.SearchResponse
	if err := c.do(http.MethodGet, "/api/v1/search?"+v.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ask runs POST /api/v1/chat.
func (c *Client) Ask(message string) (*models.QueryResponse, error) {
	var out models.QueryResponse
	if err := c.do(http.MethodPost, "/api/v1/chat", &models.QueryRequest{Message: message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status runs GET /api/v1/status and returns the raw document.
func (c *Client) Status() (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := c.do(http.MethodGet, "/api/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.TenantID != "" {
		req.Header.Set("X-Tenant-ID", c.TenantID)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
