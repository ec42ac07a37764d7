package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	terrors "github.com/hrygo/tagcache/internal/errors"
)

const (
	DriverJSON     = "json"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DescriberVision = "vision"
	DescriberOCR    = "ocr"
	DescriberNone   = "none"
)

// Profile is the configuration shared by the CLI, the HTTP server and the tagging runner.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to the cache document (json), the database file (sqlite)
	// or the connection string (postgres)
	DSN string
	// Driver is the persistence driver (json, sqlite or postgres)
	Driver string
	// Version is the current version of the binary
	Version string

	// Cache configuration
	ApproxEnabled   bool // TAGCACHE_APPROX_ENABLED (default: true)
	ApproxThreshold int  // TAGCACHE_APPROX_THRESHOLD (default: 8)
	ShingleSize     int  // TAGCACHE_SHINGLE_SIZE (default: 3)
	IdentityBudget  int  // TAGCACHE_IDENTITY_BUDGET (default: 1500)
	MaxRecords      int  // TAGCACHE_MAX_RECORDS (default: 0, unbounded)

	// Oracle configuration
	MaxConcurrency int     // TAGCACHE_MAX_CONCURRENCY (default: 5)
	OracleQPS      float64 // TAGCACHE_ORACLE_QPS (default: 0, unlimited)

	// AI configuration
	AILLMProvider     string // TAGCACHE_AI_LLM_PROVIDER (default: deepseek)
	AILLMModel        string // TAGCACHE_AI_LLM_MODEL (default: deepseek-chat)
	AILLMAPIKey       string // TAGCACHE_AI_LLM_API_KEY
	AILLMBaseURL      string // TAGCACHE_AI_LLM_BASE_URL (default: https://api.deepseek.com)
	AIVisionModel     string // TAGCACHE_AI_VISION_MODEL (default: Qwen/Qwen2.5-VL-32B-Instruct)
	AIVisionAPIKey    string // TAGCACHE_AI_VISION_API_KEY (default: LLM key)
	AIVisionBaseURL   string // TAGCACHE_AI_VISION_BASE_URL (default: https://api.siliconflow.cn/v1)
	DescriberProvider string // TAGCACHE_DESCRIBER (vision, ocr or none; default: vision)

	// Loader configuration
	WorkspaceRoot      string // TAGCACHE_WORKSPACE_ROOT (default: working directory)
	MaxFileSize        int64  // TAGCACHE_MAX_FILE_SIZE (default: 32 MiB)
	TextExtractEnabled bool   // TAGCACHE_TEXTEXTRACT_ENABLED (default: false)
	TikaServerURL      string // TAGCACHE_TEXTEXTRACT_TIKA_URL (default: http://localhost:9998)
	TesseractPath      string // TAGCACHE_OCR_TESSERACT_PATH (default: tesseract)
	TessdataPath       string // TAGCACHE_OCR_TESSDATA_PATH (default: "")
	OCRLanguages       string // TAGCACHE_OCR_LANGUAGES (default: chi_sim+eng)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if the labeling model has credentials or a base URL.
func (p *Profile) IsAIEnabled() bool {
	return p.AILLMAPIKey != "" || p.AILLMProvider == "ollama"
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process environment.
// Missing files are ignored; variables already set are not overridden.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return errors.Wrapf(err, "failed to load env file %s", f)
		}
	}
	return nil
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

// FromEnv loads configuration from TAGCACHE_* environment variables.
func (p *Profile) FromEnv() {
	p.ApproxEnabled = getBoolEnvOrDefault("TAGCACHE_APPROX_ENABLED", true)
	p.ApproxThreshold = getIntEnvOrDefault("TAGCACHE_APPROX_THRESHOLD", 8)
	p.ShingleSize = getIntEnvOrDefault("TAGCACHE_SHINGLE_SIZE", 3)
	p.IdentityBudget = getIntEnvOrDefault("TAGCACHE_IDENTITY_BUDGET", 1500)
	p.MaxRecords = getIntEnvOrDefault("TAGCACHE_MAX_RECORDS", 0)

	p.MaxConcurrency = getIntEnvOrDefault("TAGCACHE_MAX_CONCURRENCY", 5)
	p.OracleQPS = getFloatEnvOrDefault("TAGCACHE_ORACLE_QPS", 0)

	p.AILLMProvider = getEnvOrDefault("TAGCACHE_AI_LLM_PROVIDER", "deepseek")
	p.AILLMModel = getEnvOrDefault("TAGCACHE_AI_LLM_MODEL", "deepseek-chat")
	p.AILLMAPIKey = os.Getenv("TAGCACHE_AI_LLM_API_KEY")
	p.AILLMBaseURL = getEnvOrDefault("TAGCACHE_AI_LLM_BASE_URL", "https://api.deepseek.com")
	p.AIVisionModel = getEnvOrDefault("TAGCACHE_AI_VISION_MODEL", "Qwen/Qwen2.5-VL-32B-Instruct")
	p.AIVisionAPIKey = getEnvOrDefault("TAGCACHE_AI_VISION_API_KEY", p.AILLMAPIKey)
	p.AIVisionBaseURL = getEnvOrDefault("TAGCACHE_AI_VISION_BASE_URL", "https://api.siliconflow.cn/v1")
	p.DescriberProvider = getEnvOrDefault("TAGCACHE_DESCRIBER", DescriberVision)

	p.WorkspaceRoot = os.Getenv("TAGCACHE_WORKSPACE_ROOT")
	p.MaxFileSize = int64(getIntEnvOrDefault("TAGCACHE_MAX_FILE_SIZE", 32<<20))
	p.TextExtractEnabled = getBoolEnvOrDefault("TAGCACHE_TEXTEXTRACT_ENABLED", false)
	p.TikaServerURL = getEnvOrDefault("TAGCACHE_TEXTEXTRACT_TIKA_URL", "http://localhost:9998")
	p.TesseractPath = getEnvOrDefault("TAGCACHE_OCR_TESSERACT_PATH", "tesseract")
	p.TessdataPath = os.Getenv("TAGCACHE_OCR_TESSDATA_PATH")
	p.OCRLanguages = getEnvOrDefault("TAGCACHE_OCR_LANGUAGES", "chi_sim+eng")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	absDir, err := filepath.Abs(dataDir)
	if err != nil {
		return "", err
	}

	// Trim trailing \ or / in case user supplies
	absDir = strings.TrimRight(absDir, "\\/")
	if err := os.MkdirAll(absDir, 0o750); err != nil {
		return "", errors.Wrapf(err, "unable to create data folder %s", absDir)
	}
	return absDir, nil
}

// checkWorkspaceRoot resolves the directory every reference must stay inside.
// An empty root means the working directory.
func (p *Profile) checkWorkspaceRoot() error {
	root := p.WorkspaceRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return terrors.NewConfigurationError("cannot determine workspace root").WithContext("cause", err.Error())
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return terrors.NewConfigurationError("invalid workspace root: " + root)
	}
	info, err := os.Stat(abs)
	if err != nil || !info.IsDir() {
		return terrors.NewConfigurationError("workspace root is not a directory: " + abs)
	}
	p.WorkspaceRoot = abs
	return nil
}

// Validate fills derived defaults and rejects settings the pipeline cannot run with.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}
	if p.Data == "" {
		p.Data = "data"
	}
	if p.Driver == "" {
		p.Driver = DriverJSON
	}

	switch {
	case p.ApproxThreshold < 0 || p.ApproxThreshold > 64:
		return terrors.NewConfigurationError(fmt.Sprintf("approx threshold must be within [0, 64], got %d", p.ApproxThreshold))
	case p.ShingleSize <= 0:
		return terrors.NewConfigurationError(fmt.Sprintf("shingle size must be positive, got %d", p.ShingleSize))
	case p.IdentityBudget <= 0:
		return terrors.NewConfigurationError(fmt.Sprintf("identity budget must be positive, got %d", p.IdentityBudget))
	case p.MaxRecords < 0:
		return terrors.NewConfigurationError(fmt.Sprintf("max records must not be negative, got %d", p.MaxRecords))
	case p.MaxConcurrency <= 0:
		return terrors.NewConfigurationError(fmt.Sprintf("max concurrency must be positive, got %d", p.MaxConcurrency))
	case p.OracleQPS < 0:
		return terrors.NewConfigurationError(fmt.Sprintf("oracle qps must not be negative, got %v", p.OracleQPS))
	}

	switch p.DescriberProvider {
	case "":
		p.DescriberProvider = DescriberVision
	case DescriberVision, DescriberOCR, DescriberNone:
	default:
		return terrors.NewConfigurationError("unknown describer: " + p.DescriberProvider)
	}

	if err := p.checkWorkspaceRoot(); err != nil {
		return err
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return terrors.NewConfigurationError("invalid data directory").WithContext("cause", err.Error())
	}
	p.Data = dataDir

	switch p.Driver {
	case DriverJSON:
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, "label_cache.json")
		}
	case DriverSQLite:
		if p.DSN == "" {
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("tagcache_%s.db", p.Mode))
		}
	case DriverPostgres:
		if p.DSN == "" {
			return terrors.NewConfigurationError("postgres driver requires a dsn")
		}
	default:
		return terrors.NewConfigurationError("unknown driver: " + p.Driver)
	}

	return nil
}
