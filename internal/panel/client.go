package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const pageSize = 100

// Client is an authenticated HTTP client for the panel API
type Client struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client

	mu           sync.Mutex
	accessToken  string
	tokenExpires time.Time
}

// NewClient creates a new panel API client
func NewClient(baseURL, username, password string) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ensureToken makes sure a valid access token is available, refreshing it
// five minutes before expiry.
func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpires.Add(-5*time.Minute)) {
		return c.accessToken, nil
	}

	return c.authenticate(ctx)
}

// authenticate fetches a new access token. Caller must hold c.mu.
func (c *Client) authenticate(ctx context.Context) (string, error) {
	form := url.Values{
		"username":   {c.username},
		"password":   {c.password},
		"grant_type": {"password"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/admin/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth failed %d: %s", resp.StatusCode, string(data))
	}

	var token tokenResponse
	if err := json.Unmarshal(data, &token); err != nil {
		return "", fmt.Errorf("unmarshal token: %w", err)
	}

	c.accessToken = token.AccessToken
	c.tokenExpires = time.Now().Add(24 * time.Hour)
	return c.accessToken, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string) ([]byte, error) {
	token, err := c.ensureToken(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Token revoked server-side, force a refresh and retry once
		c.mu.Lock()
		c.accessToken = ""
		token, err = c.authenticate(ctx)
		c.mu.Unlock()
		if err != nil {
			return nil, err
		}

		req.Header.Set("Authorization", "Bearer "+token)
		resp, err = c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close()

		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, string(data))
	}

	return data, nil
}

// GetAdmins returns one page of admins
func (c *Client) GetAdmins(ctx context.Context, offset, limit int) (*AdminsResponse, error) {
	path := fmt.Sprintf("/api/admins?offset=%d&limit=%d", offset, limit)
	data, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var resp AdminsResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &resp, nil
}

// GetAllAdmins returns all admins, following pagination
func (c *Client) GetAllAdmins(ctx context.Context) ([]Admin, error) {
	var all []Admin
	for offset := 0; ; offset += pageSize {
		resp, err := c.GetAdmins(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}

		all = append(all, resp.Admins...)
		if offset+pageSize >= resp.Total || len(resp.Admins) < pageSize {
			break
		}
	}

	return all, nil
}

// GetUsers returns one page of users
func (c *Client) GetUsers(ctx context.Context, offset, limit int) (*UsersResponse, error) {
	path := fmt.Sprintf("/api/users?offset=%d&limit=%d", offset, limit)
	data, err := c.doRequest(ctx, http.MethodGet, path)
	if err != nil {
		return nil, err
	}

	var resp UsersResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &resp, nil
}

// GetAllUsers returns all users, following pagination
func (c *Client) GetAllUsers(ctx context.Context) ([]User, error) {
	var all []User
	for offset := 0; ; offset += pageSize {
		resp, err := c.GetUsers(ctx, offset, pageSize)
		if err != nil {
			return nil, err
		}

		all = append(all, resp.Users...)
		if offset+pageSize >= resp.Total || len(resp.Users) < pageSize {
			break
		}
	}

	return all, nil
}

// GetCurrentAdmin returns the authenticated admin's own record
func (c *Client) GetCurrentAdmin(ctx context.Context) (*Admin, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/admin")
	if err != nil {
		return nil, err
	}

	var admin Admin
	if err := json.Unmarshal(data, &admin); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &admin, nil
}
