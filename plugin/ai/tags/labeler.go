// Package tags implements the labeling oracle on top of an LLM.
package tags

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	terrors "github.com/hrygo/tagcache/internal/errors"
	"github.com/hrygo/tagcache/plugin/ai"
	"github.com/hrygo/tagcache/plugin/ai/timeout"
)

// KindTags is the closed set allowed as the first tag.
var KindTags = []string{"文本", "图像", "视频", "音频", "代码", "表格", "演示", "网页", "压缩", "其他", "未知"}

const (
	maxTags      = 10
	maxTagLength = 20
)

const labelSystemPrompt = `你是文件主题标签抽取助手，为给定内容生成用于分类和检索的标签。

## 要求
1. 第一个标签必须是文件类型，只能取自：%s；无法判断时用 "未知"
2. 其余标签按重要性排序，总数 3-10 个，内容极少时可以只有 1-3 个
3. 每个标签 2-4 个汉字，不含标点、空格、序号或 emoji
4. 使用主题、领域、体裁等上位概念，不要人名、地名、时间、情绪词，也不要 "文件"、"文档" 这类格式词
5. 同义词只保留最常用的一个
6. 只使用简体中文，专有英文术语（如 AI）可以保留
7. 只返回 JSON 数组，如: ["文本", "技术", "机器学习", "模型", "优化"]`

const labelUserPrompt = `## 文件名
%s

## 内容
%s`

// Labeler asks an LLM for tags, one chat call per request.
type Labeler struct {
	llmService     ai.LLMService
	maxConcurrency int
	limiter        *rate.Limiter
	timeout        time.Duration
	systemPrompt   string
}

var _ ai.LabelingOracle = (*Labeler)(nil)

// LabelerOption configures a Labeler.
type LabelerOption func(*Labeler)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) LabelerOption {
	return func(l *Labeler) { l.timeout = d }
}

// NewLabeler creates a labeler from the oracle configuration.
func NewLabeler(llmService ai.LLMService, cfg ai.OracleConfig, opts ...LabelerOption) (*Labeler, error) {
	if llmService == nil {
		return nil, terrors.NewConfigurationError("labeler requires an LLM service")
	}
	l := &Labeler{
		llmService:     llmService,
		maxConcurrency: cfg.MaxConcurrency,
		limiter:        ai.NewLimiter(cfg.RequestsPerSecond, cfg.MaxConcurrency),
		timeout:        timeout.OracleRequestTimeout,
		systemPrompt:   fmt.Sprintf(labelSystemPrompt, `"`+strings.Join(KindTags, `", "`)+`"`),
	}
	if l.maxConcurrency <= 0 {
		l.maxConcurrency = ai.DefaultMaxConcurrency
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// LabelBatch implements ai.LabelingOracle.
func (l *Labeler) LabelBatch(ctx context.Context, reqs []ai.LabelRequest) ([]*ai.LabelResponse, error) {
	if len(reqs) == 0 {
		return []*ai.LabelResponse{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, terrors.NewOracleError("label batch canceled", err)
	}

	start := time.Now()
	results := ai.FanOut(ctx, reqs, l.maxConcurrency, l.limiter, l.label)

	labeled := 0
	for _, r := range results {
		if r != nil {
			labeled++
		}
	}
	slog.Info("label batch finished",
		"requests", len(reqs),
		"labeled", labeled,
		"duration", time.Since(start),
	)
	return results, nil
}

func (l *Labeler) label(ctx context.Context, req ai.LabelRequest) (*ai.LabelResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	name := req.Name
	if name == "" {
		name = "(未知)"
	}
	messages := []ai.Message{
		ai.SystemPrompt(l.systemPrompt),
		ai.UserMessage(fmt.Sprintf(labelUserPrompt, name, req.IdentityText)),
	}

	response, err := l.llmService.Chat(ctx, messages)
	if err != nil {
		return nil, terrors.NewOracleError("LLM tagging failed", err).WithContext("content_id", req.ContentID)
	}

	tags := cleanTags(parseTagsFromJSON(response))
	if len(tags) == 0 {
		slog.Warn("LLM returned no parseable tags",
			"content_id", req.ContentID,
			"response", truncateLog(response, 100),
		)
		return nil, nil
	}
	return &ai.LabelResponse{Tags: tags}, nil
}

// cleanTags trims, de-duplicates and caps tags, keeping their order.
func cleanTags(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	tags := make([]string, 0, len(raw))
	for _, tag := range raw {
		tag = strings.TrimSpace(tag)
		tag = strings.TrimPrefix(tag, "#")
		tag = strings.Trim(tag, `"'“”‘’`)
		tag = strings.TrimSpace(tag)
		if tag == "" || utf8.RuneCountInString(tag) > maxTagLength {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}
