package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/webforge-ai/webforge/internal/sandbox"
)

// dataPlanePort is the per-sandbox agent port serving /files and /commands.
const dataPlanePort = 49983

// client speaks both halves of the cloud sandbox API: the control plane at
// apiBase and each sandbox's own data plane at https://{port}-{id}.{domain}.
type client struct {
	apiBase string
	apiKey  string
	http    *http.Client

	// dataBase, when non-empty, replaces the per-sandbox data plane URL.
	// Used by tests to point both planes at one server.
	dataBase string
}

// apiError is a non-2xx response from either plane.
type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("sandbox API error (status %d): %s", e.Status, e.Body)
}

func asAPIError(err error, target **apiError) bool {
	return errors.As(err, target)
}

type createRequest struct {
	TemplateID string            `json:"templateID"`
	Timeout    int               `json:"timeout"` // seconds
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type createResponse struct {
	SandboxID string `json:"sandboxID"`
	Domain    string `json:"domain,omitempty"`
}

type connectRequest struct {
	Timeout int `json:"timeout"`
}

type timeoutRequest struct {
	Timeout int `json:"timeout"`
}

type sandboxState struct {
	SandboxID string `json:"sandboxID"`
	State     string `json:"state"` // "running" or "paused"
}

// controlPlane makes an authenticated request to the control plane API.
func (c *client) controlPlane(ctx context.Context, method, path string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &apiError{Status: resp.StatusCode, Body: string(data)}
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// dataPlaneURL returns the base URL of the sandbox's agent API.
func (c *client) dataPlaneURL(s *session) string {
	if c.dataBase != "" {
		return c.dataBase
	}
	return fmt.Sprintf("https://%d-%s.%s", dataPlanePort, s.id, s.domain)
}

// readFile fetches file content via the data plane /files endpoint.
func (c *client) readFile(ctx context.Context, s *session, path string) (string, error) {
	u := fmt.Sprintf("%s/files?path=%s", c.dataPlaneURL(s), url.QueryEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", &apiError{Status: resp.StatusCode, Body: string(data)}
	}
	return string(data), nil
}

// writeFile uploads file content via the data plane /files endpoint as
// multipart form data.
func (c *client) writeFile(ctx context.Context, s *session, path, content string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", path)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(part, content); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	u := fmt.Sprintf("%s/files?path=%s", c.dataPlaneURL(s), url.QueryEscape(path))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return &apiError{Status: resp.StatusCode, Body: string(data)}
	}
	return nil
}

// runCommand executes a shell command via the data plane /commands/run
// endpoint. Non-zero exit codes are reported in the result.
func (c *client) runCommand(ctx context.Context, s *session, command string) (*sandbox.CommandResult, error) {
	body, err := json.Marshal(map[string]any{
		"cmd":  "/bin/bash",
		"args": []string{"-l", "-c", command},
	})
	if err != nil {
		return nil, err
	}

	u := c.dataPlaneURL(s) + "/commands/run"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, &apiError{Status: resp.StatusCode, Body: string(data)}
	}

	var out struct {
		Stdout   string `json:"stdout"`
		Stderr   string `json:"stderr"`
		ExitCode int    `json:"exitCode"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode command result: %w", err)
	}

	return &sandbox.CommandResult{
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Success:  out.ExitCode == 0,
	}, nil
}
