// Package vision describes images with a multimodal chat model so that image
// content can be tagged like text.
package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	terrors "github.com/hrygo/tagcache/internal/errors"
	"github.com/hrygo/tagcache/plugin/ai"
	"github.com/hrygo/tagcache/plugin/ai/timeout"
)

const (
	// DefaultMaxEdge bounds the longer side of the image sent to the model.
	DefaultMaxEdge = 1024

	jpegQuality = 85
	// maxDescriptionRunes caps what is stored per image.
	maxDescriptionRunes = 600
)

const describePrompt = `请用简体中文客观描述这张图片，150 字以内。
依次说明：图片类型（照片、截图、图表、插画等）、主要内容与场景、图中可辨认的文字要点。
不要猜测拍摄者意图，不要输出 Markdown 标题或列表。`

// Describer implements ai.ImageDescriber on top of a vision-capable LLM.
type Describer struct {
	llmService     ai.LLMService
	maxConcurrency int
	limiter        *rate.Limiter
	maxEdge        int
	timeout        time.Duration
}

var _ ai.ImageDescriber = (*Describer)(nil)

// Option configures a Describer.
type Option func(*Describer)

// WithMaxEdge sets the resize bound in pixels.
func WithMaxEdge(px int) Option {
	return func(d *Describer) { d.maxEdge = px }
}

// WithTimeout sets the per-image timeout.
func WithTimeout(t time.Duration) Option {
	return func(d *Describer) { d.timeout = t }
}

// NewDescriber creates a describer sharing the oracle's concurrency settings.
func NewDescriber(llmService ai.LLMService, cfg ai.OracleConfig, opts ...Option) (*Describer, error) {
	if llmService == nil {
		return nil, terrors.NewConfigurationError("describer requires a vision LLM service")
	}
	d := &Describer{
		llmService:     llmService,
		maxConcurrency: cfg.MaxConcurrency,
		limiter:        ai.NewLimiter(cfg.RequestsPerSecond, cfg.MaxConcurrency),
		maxEdge:        DefaultMaxEdge,
		timeout:        timeout.DescribeTimeout,
	}
	if d.maxConcurrency <= 0 {
		d.maxConcurrency = ai.DefaultMaxConcurrency
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// DescribeBatch implements ai.ImageDescriber.
func (d *Describer) DescribeBatch(ctx context.Context, reqs []ai.DescribeRequest) ([]*ai.DescribeResponse, error) {
	if len(reqs) == 0 {
		return []*ai.DescribeResponse{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, terrors.NewOracleError("describe batch canceled", err)
	}
	return ai.FanOut(ctx, reqs, d.maxConcurrency, d.limiter, d.describe), nil
}

func (d *Describer) describe(ctx context.Context, req ai.DescribeRequest) (*ai.DescribeResponse, error) {
	dataURL, err := d.encode(req.Data, req.MIME)
	if err != nil {
		return nil, errors.Wrapf(err, "prepare image %s", req.Ref)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	response, err := d.llmService.Chat(ctx, []ai.Message{ai.ImageMessage(describePrompt, dataURL)})
	if err != nil {
		return nil, terrors.NewOracleError("image description failed", err).WithContext("content_id", req.ContentID)
	}

	description := clip(strings.TrimSpace(response), maxDescriptionRunes)
	if description == "" {
		slog.Warn("vision model returned empty description", "content_id", req.ContentID)
		return nil, nil
	}
	return &ai.DescribeResponse{Description: description}, nil
}

// encode shrinks the image and returns it as a JPEG data URL. Formats the decoder
// does not know are passed through unchanged.
func (d *Describer) encode(data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
			return "", errors.Wrap(err, "decode image")
		}
		slog.Debug("image not decodable, sending original bytes", "mime", mimeType, "error", err)
		return dataURL(mimeType, data), nil
	}

	b := img.Bounds()
	if b.Dx() > d.maxEdge || b.Dy() > d.maxEdge {
		img = imaging.Fit(img, d.maxEdge, d.maxEdge, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return "", errors.Wrap(err, "encode image")
	}
	return dataURL("image/jpeg", buf.Bytes()), nil
}

func dataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
