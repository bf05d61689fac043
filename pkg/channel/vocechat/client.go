package vocechat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Every outbound call carries the same fixed timeout; failures are never
// retried automatically.
const requestTimeout = 10 * time.Second

const maxErrorExcerpt = 200

// client wraps the VoceChat bot REST API with a shared pooled connection.
type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *slog.Logger
}

func newClient(serverURL, apiKey string, log *slog.Logger) *client {
	return &client{
		baseURL: strings.TrimRight(strings.TrimSpace(serverURL), "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
		log:     log,
	}
}

// statusError reports a non-success HTTP status from the platform.
type statusError struct {
	Code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// userInfo is the subset of the user-info response probed for a display
// name, in priority order.
type userInfo struct {
	Name       string `json:"name"`
	UserDetail struct {
		Name string `json:"name"`
	} `json:"user_detail"`
	Username string `json:"username"`
}

// userInfoURL keeps the literal {uid} path segment. The platform resolves
// the user from the query parameter, not the path.
func (c *client) userInfoURL(userID string) string {
	return c.baseURL + "/api/bot/user/{uid}?uid=" + url.QueryEscape(userID)
}

func (c *client) fetchUser(ctx context.Context, userID string) (userInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userInfoURL(userID), nil)
	if err != nil {
		return userInfo{}, fmt.Errorf("build user info request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return userInfo{}, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return userInfo{}, &statusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return userInfo{}, fmt.Errorf("read user info response: %w", err)
	}

	var info userInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return userInfo{}, fmt.Errorf("parse user info response: %w", err)
	}

	return info, nil
}

// downloadFile fetches a platform resource by its server-side path.
func (c *client) downloadFile(ctx context.Context, filePath string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	fileURL := c.baseURL + "/api/resource/file?file_path=" + url.QueryEscape(filePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build file request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{Code: resp.StatusCode}
	}

	return io.ReadAll(resp.Body)
}

// post sends one message body to a send endpoint. 200 and 201 both count as
// success.
func (c *client) post(ctx context.Context, sendURL, contentType string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
		return fmt.Errorf("send status %d: %s", resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	return nil
}

// close releases the pooled connections. Called last during shutdown, after
// the webhook listener is down.
func (c *client) close() {
	c.http.CloseIdleConnections()
}
