// Package artifact talks to the context-artifact service: a per-user
// profile document uploaded for the agent layer, addressed by an opaque
// file id.
package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Config holds artifact service configuration. An empty APIKey disables
// the client: Sync returns an empty id without calling out.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client uploads and deletes user context files.
type Client struct {
	logger  *slog.Logger
	baseURL string
	apiKey  string
	http    *http.Client
}

type fileResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// New creates an artifact client.
func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		logger:  logger.With("component", "artifact"),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether the collaborator is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != "" && c.baseURL != ""
}

// Sync renders the profile into a document and uploads it, returning the
// assigned file id. Callers treat any error as "no artifact".
func (c *Client) Sync(ctx context.Context, waid string, profile map[string]string) (string, error) {
	if !c.Enabled() {
		return "", nil
	}

	payload := map[string]any{
		"name":    fmt.Sprintf("user-context-%s.txt", waid),
		"purpose": "assistants",
		"content": renderProfile(profile),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal artifact payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/files", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build artifact request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload artifact: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read artifact response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("artifact service status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var fr fileResponse
	if err := json.Unmarshal(raw, &fr); err != nil {
		return "", fmt.Errorf("decode artifact response: %w", err)
	}
	if fr.ID == "" {
		return "", fmt.Errorf("artifact service returned no id")
	}

	c.logger.Debug("context artifact synced", "waid", waid, "file_id", fr.ID)
	return fr.ID, nil
}

// Delete removes a previously uploaded context file.
func (c *Client) Delete(ctx context.Context, fileID string) error {
	if !c.Enabled() || fileID == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/files/"+fileID, nil)
	if err != nil {
		return fmt.Errorf("build artifact delete: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("artifact delete status %d", resp.StatusCode)
	}
	return nil
}

func renderProfile(profile map[string]string) string {
	keys := make([]string, 0, len(profile))
	for k, v := range profile {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(profile[k])
		b.WriteString("\n")
	}
	return b.String()
}
