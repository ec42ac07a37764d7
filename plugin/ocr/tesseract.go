// Package ocr runs Tesseract to turn images into text. The recognized text can
// stand in for a generated description when no vision model is configured.
package ocr

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/tagcache/internal/profile"
	"github.com/hrygo/tagcache/plugin/ai"
	"github.com/hrygo/tagcache/plugin/ai/timeout"
)

// Supported image MIME types for OCR
var SupportedMimeTypes = []string{
	"image/png",
	"image/jpeg",
	"image/jpg",
	"image/gif",
	"image/bmp",
	"image/webp",
}

// Config holds the OCR configuration
type Config struct {
	// TesseractPath is the path to the tesseract executable
	TesseractPath string
	// DataPath is the path to the tessdata directory (optional)
	DataPath string
	// Languages are the languages to use for OCR (e.g., "chi_sim+eng")
	Languages string
	// MaxConcurrency bounds parallel tesseract processes
	MaxConcurrency int
}

// DefaultConfig returns the default OCR configuration
func DefaultConfig() *Config {
	return &Config{
		TesseractPath:  "tesseract",
		Languages:      "chi_sim+eng", // Chinese Simplified + English
		MaxConcurrency: 2,
	}
}

// ConfigFromProfile builds the OCR configuration from a profile.
func ConfigFromProfile(p *profile.Profile) *Config {
	config := DefaultConfig()
	if p.TesseractPath != "" {
		config.TesseractPath = p.TesseractPath
	}
	config.DataPath = p.TessdataPath
	if p.OCRLanguages != "" {
		config.Languages = p.OCRLanguages
	}
	if p.MaxConcurrency > 0 {
		config.MaxConcurrency = p.MaxConcurrency
	}
	return config
}

// Client provides OCR functionality
type Client struct {
	config *Config
}

var _ ai.ImageDescriber = (*Client)(nil)

// NewClient creates a new OCR client
func NewClient(config *Config) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &Client{config: config}
}

// ExtractText extracts text from an image using Tesseract OCR
func (c *Client) ExtractText(ctx context.Context, image []byte, mimeType string) (string, error) {
	if !c.IsSupported(mimeType) {
		return "", errors.Errorf("unsupported MIME type: %s", mimeType)
	}

	dir, err := os.MkdirTemp("", "ocr_")
	if err != nil {
		return "", errors.Wrap(err, "failed to create temp dir")
	}
	defer os.RemoveAll(dir)

	imgPath := filepath.Join(dir, "input"+extensionFor(mimeType))
	if err := os.WriteFile(imgPath, image, 0o600); err != nil {
		return "", errors.Wrap(err, "failed to write temp file")
	}
	// tesseract appends .txt to the output base
	outBase := filepath.Join(dir, "output")

	args := []string{imgPath, outBase}
	if c.config.Languages != "" {
		args = append(args, "-l", c.config.Languages)
	}
	if c.config.DataPath != "" {
		args = append(args, "--tessdata-dir", c.config.DataPath)
	}

	cmd := exec.CommandContext(ctx, c.config.TesseractPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		slog.Warn("tesseract command failed", "error", err, "stderr", stderr.String())
		return "", errors.Wrap(err, "tesseract command failed")
	}

	text, err := os.ReadFile(outBase + ".txt")
	if err != nil {
		return "", errors.Wrap(err, "failed to read OCR output")
	}
	return strings.TrimSpace(string(text)), nil
}

// DescribeBatch implements ai.ImageDescriber using the recognized text as description.
// Images without recognizable text yield nil.
func (c *Client) DescribeBatch(ctx context.Context, reqs []ai.DescribeRequest) ([]*ai.DescribeResponse, error) {
	return ai.FanOut(ctx, reqs, c.config.MaxConcurrency, nil, func(ctx context.Context, req ai.DescribeRequest) (*ai.DescribeResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout.OCRTimeout)
		defer cancel()

		text, err := c.ExtractText(ctx, req.Data, req.MIME)
		if err != nil {
			return nil, errors.Wrapf(err, "ocr failed for %s", req.Ref)
		}
		if text == "" {
			return nil, nil
		}
		return &ai.DescribeResponse{Description: "图片中的文字：" + text}, nil
	}), nil
}

// IsAvailable checks if Tesseract is available
func (c *Client) IsAvailable(ctx context.Context) bool {
	cmd := exec.CommandContext(ctx, c.config.TesseractPath, "--version")
	return cmd.Run() == nil
}

// IsSupported checks if a MIME type is supported
func (c *Client) IsSupported(mimeType string) bool {
	for _, supported := range SupportedMimeTypes {
		if strings.EqualFold(mimeType, supported) {
			return true
		}
	}
	return false
}

func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/bmp":
		return ".bmp"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
