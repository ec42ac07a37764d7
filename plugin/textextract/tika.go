// Package textextract pulls plain text out of PDF and Office documents through an
// Apache Tika server.
package textextract

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/plugin/ai/timeout"
)

// Supported MIME types for text extraction
var SupportedMimeTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/rtf",
	"text/rtf",
}

// extension fallbacks for hosts without a full mime.types table.
var extensionTypes = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".rtf":  "application/rtf",
}

// Config holds the text extraction configuration
type Config struct {
	// TikaServerURL is the URL of the Tika server (e.g., http://localhost:9998)
	TikaServerURL string
	// Timeout is the HTTP timeout for Tika server requests
	Timeout time.Duration
}

// DefaultConfig returns the default text extraction configuration
func DefaultConfig() *Config {
	return &Config{
		TikaServerURL: "http://localhost:9998",
		Timeout:       timeout.TextExtractTimeout,
	}
}

// ConfigFromProfile builds the extraction config from a profile.
func ConfigFromProfile(p *profile.Profile) *Config {
	config := DefaultConfig()
	if p.TikaServerURL != "" {
		config.TikaServerURL = strings.TrimRight(p.TikaServerURL, "/")
	}
	return config
}

// Client provides text extraction functionality
type Client struct {
	config     *Config
	httpClient *http.Client
}

// NewClient creates a new text extraction client
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Result represents the extraction result with metadata
type Result struct {
	Text        string `json:"text"`
	ContentType string `json:"content_type"`
	Title       string `json:"title,omitempty"`
	PageCount   int    `json:"page_count,omitempty"`
}

// ExtractText extracts text from a document
func (c *Client) ExtractText(ctx context.Context, data []byte, contentType string) (*Result, error) {
	if !c.IsSupported(contentType) {
		return nil, errors.Errorf("unsupported content type: %s", contentType)
	}
	if c.config.TikaServerURL == "" {
		return nil, errors.New("tika server url not configured")
	}

	body, err := c.put(ctx, "/tika", "text/plain", data, contentType)
	if err != nil {
		return nil, err
	}
	result := &Result{
		Text:        strings.TrimSpace(string(body)),
		ContentType: contentType,
	}

	// Metadata is best effort.
	if meta, err := c.metadata(ctx, data, contentType); err != nil {
		slog.Debug("tika metadata unavailable", "error", err)
	} else {
		result.Title = meta["dc:title"]
		if n, err := strconv.Atoi(meta["xmpTPg:NPages"]); err == nil {
			result.PageCount = n
		}
	}
	return result, nil
}

func (c *Client) put(ctx context.Context, path, accept string, data []byte, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.config.TikaServerURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", accept)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "tika server request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("tika server returned status %d: %s", resp.StatusCode, truncate(string(body), timeout.MaxTruncateLength))
	}
	return body, nil
}

func (c *Client) metadata(ctx context.Context, data []byte, contentType string) (map[string]string, error) {
	body, err := c.put(ctx, "/meta", "application/json", data, contentType)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.Wrap(err, "failed to decode metadata")
	}
	meta := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			meta[k] = val
		case []any:
			if len(val) > 0 {
				if s, ok := val[0].(string); ok {
					meta[k] = s
				}
			}
		}
	}
	return meta, nil
}

// IsAvailable checks whether the Tika server answers.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.config.TikaServerURL == "" {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.TikaServerURL+"/version", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// IsSupported checks if a content type is supported
func (c *Client) IsSupported(contentType string) bool {
	return IsSupported(contentType)
}

// IsSupported reports whether contentType is one Tika is asked to handle.
func IsSupported(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	mediaType = strings.ToLower(mediaType)
	for _, supported := range SupportedMimeTypes {
		if mediaType == supported {
			return true
		}
	}
	return false
}

// DetectContentType guesses a content type from the file name, falling back to sniffing data.
func DetectContentType(name string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
