// Package gist stores JSON documents in a private GitHub gist.
package gist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"polycopy/config"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultBaseURL = "https://api.github.com"

var (
	// ErrDisabled is returned when no token is configured.
	ErrDisabled = errors.New("gist client not configured")
	// ErrNoGist is returned by Load before any gist exists.
	ErrNoGist = errors.New("no gist ID configured")
	// ErrFileNotFound is returned when the gist or the file is missing.
	ErrFileNotFound = errors.New("gist file not found")
)

// Storage is the interface for gist storage operations.
type Storage interface {
	IsEnabled() bool
	Load(ctx context.Context, filename string) (string, error)
	Save(ctx context.Context, filename, content string) error
	LoadJSON(ctx context.Context, filename string, dest any) error
	SaveJSON(ctx context.Context, filename string, data any) error
	GetGistID() string
}

var _ Storage = (*Client)(nil)

// Client is a GitHub Gist API client.
type Client struct {
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	token      string

	mu     sync.RWMutex
	gistID string // created on first Save when empty
}

// GistFile represents a file in a gist.
type GistFile struct {
	Filename string `json:"filename,omitempty"`
	Content  string `json:"content"`
}

// Gist represents a GitHub gist.
type Gist struct {
	ID          string              `json:"id"`
	Description string              `json:"description"`
	Public      bool                `json:"public"`
	Files       map[string]GistFile `json:"files"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type gistRequest struct {
	Description string              `json:"description,omitempty"`
	Public      bool                `json:"public"`
	Files       map[string]GistFile `json:"files"`
}

// NewClient creates a new GitHub Gist client.
func NewClient(logger *zap.Logger, cfg *config.Config) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	token := cfg.Gist.Token
	if token == "" {
		logger.Warn("GITHUB_TOKEN not set, settings persistence disabled")
	}

	return &Client{
		logger: logger,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL: defaultBaseURL,
		token:   token,
		gistID:  cfg.Gist.GistID,
	}
}

// IsEnabled returns true if the client has a token.
func (c *Client) IsEnabled() bool {
	return c.token != ""
}

// GetGistID returns the current gist ID.
func (c *Client) GetGistID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gistID
}

// SaveJSON writes data as indented JSON.
func (c *Client) SaveJSON(ctx context.Context, filename string, data any) error {
	if !c.IsEnabled() {
		return ErrDisabled
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return c.Save(ctx, filename, string(raw))
}

// LoadJSON reads filename and decodes it into dest.
func (c *Client) LoadJSON(ctx context.Context, filename string, dest any) error {
	if !c.IsEnabled() {
		return ErrDisabled
	}
	content, err := c.Load(ctx, filename)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(content), dest); err != nil {
		return fmt.Errorf("unmarshal json: %w", err)
	}
	return nil
}

// Save writes content to filename, updating the configured gist or
// creating a new private one.
func (c *Client) Save(ctx context.Context, filename, content string) error {
	if !c.IsEnabled() {
		return ErrDisabled
	}

	body, err := json.Marshal(gistRequest{
		Description: "polycopy settings",
		Files:       map[string]GistFile{filename: {Content: content}},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	gistID := c.GetGistID()
	method, path := http.MethodPost, "/gists"
	if gistID != "" {
		method, path = http.MethodPatch, "/gists/"+gistID
	}

	var gist Gist
	if err := c.do(ctx, method, path, body, &gist); err != nil {
		return err
	}

	if gistID == "" && gist.ID != "" {
		c.mu.Lock()
		c.gistID = gist.ID
		c.mu.Unlock()
		c.logger.Info("created new gist", zap.String("id", gist.ID))
	}

	c.logger.Debug("saved to gist",
		zap.String("filename", filename),
		zap.Int("bytes", len(content)),
	)
	return nil
}

// Load returns the content of filename.
func (c *Client) Load(ctx context.Context, filename string) (string, error) {
	if !c.IsEnabled() {
		return "", ErrDisabled
	}
	gistID := c.GetGistID()
	if gistID == "" {
		return "", ErrNoGist
	}

	var gist Gist
	if err := c.do(ctx, http.MethodGet, "/gists/"+gistID, nil, &gist); err != nil {
		return "", err
	}

	file, ok := gist.Files[filename]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, filename)
	}

	c.logger.Debug("loaded from gist",
		zap.String("filename", filename),
		zap.Int("bytes", len(file.Content)),
	)
	return file.Content, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, dest any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.baseURL, "/")+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrFileNotFound
	}
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("api error status=%d body=%s", resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
