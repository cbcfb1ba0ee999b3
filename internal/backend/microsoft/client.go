package microsoft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/model"
)

const defaultAPIBase = "https://graph.microsoft.com/v1.0"

// client issues authenticated JSON requests against Microsoft Graph.
type client struct {
	base   string
	tokens TokenSource
	http   *http.Client
}

func newClient(tokens TokenSource) *client {
	return &client{
		base:   defaultAPIBase,
		tokens: tokens,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *client) post(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPost, path, in, out)
}

func (c *client) patch(ctx context.Context, path string, in, out any) error {
	return c.do(ctx, http.MethodPatch, path, in, out)
}

// delete returns true when the resource is gone, including a 404.
func (c *client) delete(ctx context.Context, path string) (bool, error) {
	err := c.do(ctx, http.MethodDelete, path, nil, nil)
	if err != nil {
		var gone *notFoundError
		if errors.As(err, &gone) {
			return true, nil
		}
		return false, err
	}
	return true, nil
}

type notFoundError struct{ path string }

func (e *notFoundError) Error() string {
	return fmt.Sprintf("graph: %s not found", e.path)
}

// relativePath trims an @odata.nextLink down to the path-and-query part
// below the API base, so pagination stays on the same client.
func relativePath(nextLink string) string {
	if nextLink == "" {
		return ""
	}
	idx := strings.Index(nextLink, "/v1.0")
	if idx < 0 {
		return ""
	}
	return nextLink[idx+len("/v1.0"):]
}

func (c *client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return &backend.AuthError{Backend: model.BackendMicrosoft, Message: err.Error()}
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response of %s %s: %w", method, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &backend.AuthError{Backend: model.BackendMicrosoft, Message: fmt.Sprintf("HTTP %d from graph", resp.StatusCode)}
	case resp.StatusCode == http.StatusNotFound:
		return &notFoundError{path: path}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, truncate(data, 200))
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decoding response of %s %s: %w", method, path, err)
		}
	}
	return nil
}

func truncate(data []byte, n int) string {
	if len(data) > n {
		return string(data[:n]) + "..."
	}
	return string(data)
}
