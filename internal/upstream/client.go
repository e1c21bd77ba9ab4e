// Package upstream is the client for the web API that owns uploads,
// organizations, and users. It also handles authentication token
// acquisition and refresh for the worker identity.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hydrosense/importworker/internal/jsoncodec"
	"github.com/hydrosense/importworker/internal/logging"
	"github.com/hydrosense/importworker/internal/model"
)

const defaultTimeout = 30 * time.Second

// Config holds the web API connection settings.
type Config struct {
	// URL is the API base URL, e.g. "https://api.example.org/v2".
	URL string

	// Email and Password are the worker's local-strategy credentials.
	Email    string
	Password string

	// Timeout bounds each request. Zero uses the default.
	Timeout time.Duration
}

// Client is a JSON REST client for the upstream service. It caches the
// access token between calls; GetAuthUser refreshes it when needed.
type Client struct {
	baseURL    string
	email      string
	password   string
	httpClient *http.Client
	logger     logging.ServiceLogger

	tokenMu sync.RWMutex
	token   string
}

// NewClient builds a client from cfg.
func NewClient(cfg Config, logger logging.ServiceLogger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		email:      cfg.Email,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// GetUpload fetches one upload by id.
func (c *Client) GetUpload(ctx context.Context, id string) (*model.Upload, error) {
	var upload model.Upload
	if err := c.do(ctx, http.MethodGet, "/uploads/"+url.PathEscape(id), nil, &upload); err != nil {
		return nil, err
	}
	return &upload, nil
}

// PatchUploadResult writes the finalized import result onto an upload.
// The request body keeps the service's update-operator shape, so the
// write replaces result and nothing else.
func (c *Client) PatchUploadResult(ctx context.Context, id string, result *model.ImportResult) error {
	body := map[string]any{
		"$set": map[string]any{"result": result},
	}
	return c.do(ctx, http.MethodPatch, "/uploads/"+url.PathEscape(id), body, nil)
}

// GetOrganization fetches one organization by id.
func (c *Client) GetOrganization(ctx context.Context, id string) (*model.Organization, error) {
	var org model.Organization
	if err := c.do(ctx, http.MethodGet, "/organizations/"+url.PathEscape(id), nil, &org); err != nil {
		return nil, err
	}
	return &org, nil
}

// GetUser fetches one user by id.
func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) currentToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := jsoncodec.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upstream %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(message)))
	}

	if out == nil {
		return nil
	}
	return jsoncodec.Decode(resp.Body, out)
}
