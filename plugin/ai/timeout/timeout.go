// Package timeout defines centralized timeout constants for AI operations.
// Package timeout 定义 AI 操作的集中式超时常量。
package timeout

import "time"

// AI operation timeout constants.
// AI 操作超时常量。
const (
	// OracleRequestTimeout is the timeout for one tagging sub-request.
	// OracleRequestTimeout 是单个打标签子请求的超时时间。
	OracleRequestTimeout = 60 * time.Second

	// DescribeTimeout is the timeout for describing one image.
	// DescribeTimeout 是单张图片描述的超时时间。
	DescribeTimeout = 90 * time.Second

	// OCRTimeout is the timeout for one tesseract run.
	// OCRTimeout 是单次 tesseract 识别的超时时间。
	OCRTimeout = 30 * time.Second

	// TextExtractTimeout is the timeout for one Tika extraction.
	// TextExtractTimeout 是单次 Tika 文本提取的超时时间。
	TextExtractTimeout = 60 * time.Second

	// MaxTruncateLength is the maximum length for truncating strings in logs.
	// MaxTruncateLength 是日志中字符串截断的最大长度。
	MaxTruncateLength = 200
)
