package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"

	defaultAnthropicModel     = "claude-sonnet-4-5"
	defaultOpenAIModel        = "gpt-4o-mini"
	defaultLLMMaxTokens       = 4096
	defaultLLMMaxRetries      = 3
	defaultChartsDir          = "charts"
	defaultDatasetConfigPath  = "config/dataset.yaml"
	defaultPythonBin          = "python3"
	defaultExecTimeout        = 60 * time.Second
	defaultExecMaxOutputBytes = 16 << 20
	defaultMaxAttempts        = 3
	defaultReportTemplatePath = "config/report_template.md"
	defaultReportOutputDir    = ".tmp/reports"
	defaultDownloadTTL        = 24 * time.Hour
	defaultHTTPListenAddr     = ":5000"
	defaultShutdownTimeout    = 10 * time.Second
)

type Config struct {
	LLMProvider     string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	LLMMaxTokens    int64
	LLMMaxRetries   int

	ChartsDir         string
	DatasetConfigPath string

	PythonBin          string
	ExecTimeout        time.Duration
	ExecMaxOutputBytes int64
	MaxAttempts        int

	ReportTemplatePath string
	ReportOutputDir    string
	DownloadTTL        time.Duration

	HTTPListenAddr     string
	CORSAllowedOrigins []string
	ShutdownTimeout    time.Duration
}

// LoadDotEnv loads a .env file if one exists. Variables already present in the
// environment take precedence.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv fills fields that are still zero from environment variables.
func (cfg *Config) LoadFromEnv() error {
	setString(&cfg.LLMProvider, "LLM_PROVIDER")
	setString(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	setString(&cfg.AnthropicModel, "ANTHROPIC_MODEL")
	setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAIBaseURL, "OPENAI_API_BASE")
	setString(&cfg.OpenAIModel, "OPENAI_MODEL")
	setString(&cfg.ChartsDir, "CHARTS_DIR")
	setString(&cfg.DatasetConfigPath, "DATASET_CONFIG")
	setString(&cfg.PythonBin, "PYTHON_BIN")
	setString(&cfg.ReportTemplatePath, "REPORT_TEMPLATE")
	setString(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	setString(&cfg.HTTPListenAddr, "HTTP_LISTEN_ADDR")

	if err := setInt64(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS"); err != nil {
		return err
	}
	if err := setInt(&cfg.LLMMaxRetries, "LLM_MAX_RETRIES"); err != nil {
		return err
	}
	if err := setInt64(&cfg.ExecMaxOutputBytes, "EXEC_MAX_OUTPUT_BYTES"); err != nil {
		return err
	}
	if err := setInt(&cfg.MaxAttempts, "MAX_ATTEMPTS"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ExecTimeout, "EXEC_TIMEOUT"); err != nil {
		return err
	}
	if err := setDuration(&cfg.DownloadTTL, "DOWNLOAD_TTL"); err != nil {
		return err
	}
	if err := setDuration(&cfg.ShutdownTimeout, "SHUTDOWN_TIMEOUT"); err != nil {
		return err
	}

	if len(cfg.CORSAllowedOrigins) == 0 {
		if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
			for _, origin := range strings.Split(v, ",") {
				if origin = strings.TrimSpace(origin); origin != "" {
					cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
				}
			}
		}
	}
	return nil
}

// Validate applies defaults and checks that the LLM provider is usable.
func (cfg *Config) Validate() error {
	if cfg.LLMProvider == "" {
		// Anthropic is preferred when both keys are present.
		switch {
		case cfg.AnthropicAPIKey != "":
			cfg.LLMProvider = ProviderAnthropic
		case cfg.OpenAIAPIKey != "":
			cfg.LLMProvider = ProviderOpenAI
		default:
			return errors.New("no LLM provider configured: set ANTHROPIC_API_KEY or OPENAI_API_KEY")
		}
	}
	switch cfg.LLMProvider {
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			return errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return errors.New("OPENAI_API_KEY is required for the openai provider")
		}
	default:
		return fmt.Errorf("unknown LLM provider: %q", cfg.LLMProvider)
	}

	if cfg.AnthropicModel == "" {
		cfg.AnthropicModel = defaultAnthropicModel
	}
	if cfg.OpenAIModel == "" {
		cfg.OpenAIModel = defaultOpenAIModel
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = defaultLLMMaxTokens
	}
	if cfg.LLMMaxRetries == 0 {
		cfg.LLMMaxRetries = defaultLLMMaxRetries
	}
	if cfg.ChartsDir == "" {
		cfg.ChartsDir = defaultChartsDir
	}
	if cfg.DatasetConfigPath == "" {
		cfg.DatasetConfigPath = defaultDatasetConfigPath
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = defaultPythonBin
	}
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = defaultExecTimeout
	}
	if cfg.ExecMaxOutputBytes == 0 {
		cfg.ExecMaxOutputBytes = defaultExecMaxOutputBytes
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if cfg.ReportTemplatePath == "" {
		cfg.ReportTemplatePath = defaultReportTemplatePath
	}
	if cfg.ReportOutputDir == "" {
		cfg.ReportOutputDir = defaultReportOutputDir
	}
	if cfg.DownloadTTL == 0 {
		cfg.DownloadTTL = defaultDownloadTTL
	}
	if cfg.HTTPListenAddr == "" {
		cfg.HTTPListenAddr = defaultHTTPListenAddr
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"http://localhost:5173"}
	}
	return nil
}

func setString(dst *string, key string) {
	if *dst != "" {
		return
	}
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	if *dst != 0 {
		return nil
	}
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt64(dst *int64, key string) error {
	if *dst != 0 {
		return nil
	}
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	if *dst != 0 {
		return nil
	}
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}
