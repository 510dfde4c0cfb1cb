// Package urlconf persists the public base URL of the service.
//
// The bot webhook and the website widget must agree on one externally
// reachable base URL. It is stored as a single JSON record on disk, written
// by the update-webhook tool and read by the API server, so both surfaces
// always derive their endpoints from the same value.
package urlconf

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Default configuration constants
const (
	// DefaultFileName is the base-URL record file inside the state directory.
	DefaultFileName = "webhook_url.json"
	// DefaultNgrokAPI is the local ngrok agent inspection endpoint.
	DefaultNgrokAPI = "http://localhost:4040/api/tunnels"
)

// record is the on-disk shape of the persisted base URL.
type record struct {
	BaseURL   string    `json:"base_url"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and writes the persisted base URL.
type Store struct {
	path string
}

// NewStore creates a store rooted at dir. The directory is created on the
// first Save, not here.
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, DefaultFileName)}
}

// Path returns the record file path.
func (s *Store) Path() string {
	return s.path
}

// Save persists baseURL, replacing any previous record. The write goes
// through a temp file and a rename so readers never observe a partial record.
func (s *Store) Save(baseURL string) error {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return fmt.Errorf("base URL is empty")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(record{BaseURL: baseURL, UpdatedAt: time.Now()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal base URL record: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write base URL record: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace base URL record: %w", err)
	}

	slog.Info("urlconf.Save: base URL persisted", "baseURL", baseURL, "path", s.path)
	return nil
}

// Load returns the persisted base URL. A missing record is an error; callers
// treat it as "webhook not registered yet".
func (s *Store) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", fmt.Errorf("failed to read base URL record: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return "", fmt.Errorf("failed to parse base URL record: %w", err)
	}
	if rec.BaseURL == "" {
		return "", fmt.Errorf("base URL record is empty")
	}
	return rec.BaseURL, nil
}

// tunnelsResponse mirrors the ngrok agent's tunnel listing.
type tunnelsResponse struct {
	Tunnels []struct {
		PublicURL string `json:"public_url"`
		Proto     string `json:"proto"`
	} `json:"tunnels"`
}

// DiscoverNgrok queries the local ngrok agent for the first https tunnel,
// retrying while the agent is still starting up. attempts bounds the number
// of queries; delay separates them.
func DiscoverNgrok(ctx context.Context, apiURL string, attempts int, delay time.Duration) (string, error) {
	if apiURL == "" {
		apiURL = DefaultNgrokAPI
	}
	if attempts <= 0 {
		attempts = 1
	}
	client := &http.Client{Timeout: 5 * time.Second}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		url, err := queryTunnels(ctx, client, apiURL)
		if err == nil {
			slog.Info("urlconf.DiscoverNgrok: tunnel found", "url", url, "attempt", attempt)
			return url, nil
		}
		lastErr = err
		slog.Debug("urlconf.DiscoverNgrok: tunnel not ready", "error", err, "attempt", attempt)

		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}
	return "", fmt.Errorf("no https ngrok tunnel after %d attempts: %w", attempts, lastErr)
}

func queryTunnels(ctx context.Context, client *http.Client, apiURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build tunnels request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to query ngrok agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ngrok agent returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read tunnels response: %w", err)
	}

	var tunnels tunnelsResponse
	if err := json.Unmarshal(body, &tunnels); err != nil {
		return "", fmt.Errorf("failed to parse tunnels response: %w", err)
	}
	for _, t := range tunnels.Tunnels {
		if t.Proto == "https" && strings.HasPrefix(t.PublicURL, "https://") {
			return t.PublicURL, nil
		}
	}
	return "", fmt.Errorf("no https tunnel among %d tunnels", len(tunnels.Tunnels))
}
