package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/persona-rag/backend/internal/provider/ollama"
	"github.com/zhouzirui/persona-rag/backend/internal/provider/openai"
)

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
	ProviderOllama = "ollama"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server    ServerConfig
	Session   SessionConfig
	AI        AIConfig
	Embedding EmbeddingConfig
	RateLimit RateLimitConfig
	RAG       RAGConfig
	Log       LogConfig
	Telemetry TelemetryConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	emb, err := loadEmbeddingConfig()
	if err != nil {
		return nil, err
	}

	limit, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	rag, err := loadRAGConfig()
	if err != nil {
		return nil, err
	}

	telemetry, err := loadTelemetryConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		Session:   session,
		AI:        ai,
		Embedding: emb,
		RateLimit: limit,
		RAG:       rag,
		Log:       loadLogConfig(),
		Telemetry: telemetry,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址与跨域白名单。
func loadServerConfig() (ServerConfig, error) {
	origins := splitList(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000"))

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: origins}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: origins}, nil
}

// SessionConfig 描述会话临时目录与上传限制。
type SessionConfig struct {
	ScratchRoot    string
	UploadMaxBytes int64
}

func loadSessionConfig() (SessionConfig, error) {
	maxBytes := int64(32 << 20)
	if override, err := parseOptionalIntEnv("UPLOAD_MAX_BYTES"); err != nil {
		return SessionConfig{}, err
	} else if override != nil {
		if *override <= 0 {
			return SessionConfig{}, fmt.Errorf("invalid UPLOAD_MAX_BYTES value %d: must be positive", *override)
		}
		maxBytes = int64(*override)
	}

	return SessionConfig{
		ScratchRoot:    getEnvOrDefault("SESSION_SCRATCH_ROOT", os.TempDir()),
		UploadMaxBytes: maxBytes,
	}, nil
}

// AIConfig 描述大模型相关配置，Provider 为 openai 或 ark。
type AIConfig struct {
	Provider string

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAIModel       string
	OpenAITemperature float32

	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled 表示当前 Provider 是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	default:
		return c.OpenAIAPIKey != ""
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		if c.Provider == ProviderArk {
			return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
		}
		return nil, fmt.Errorf("OPENAI_API_KEY 未配置")
	}

	if c.Provider != ProviderArk {
		return openai.NewChatModel(openai.ChatModelConfig{
			APIKey:      c.OpenAIAPIKey,
			BaseURL:     c.OpenAIBaseURL,
			Model:       c.OpenAIModel,
			Temperature: c.OpenAITemperature,
		})
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderOpenAI))
	if provider != ProviderOpenAI && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q: want %s or %s", provider, ProviderOpenAI, ProviderArk)
	}

	openAITemperature, err := parseOptionalFloat32Env("OPENAI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	var openAITemp float32
	if openAITemperature != nil {
		openAITemp = *openAITemperature
	}

	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		Provider:          provider,
		OpenAIAPIKey:      strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:     openAIBaseURL(),
		OpenAIModel:       getEnvOrDefault("OPENAI_CHAT_MODEL", openai.DefaultChatModel),
		OpenAITemperature: openAITemp,
		APIKey:            strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:         strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:         strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:             strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:           getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:            getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:       temperature,
		TopP:              topP,
		MaxTokens:         maxTokens,
	}, nil
}

// EmbeddingConfig 描述向量化服务配置，Provider 为 openai 或 ollama。
type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	OllamaHost string
}

// Enabled 表示向量化服务是否可用。ollama 为本地服务，无需密钥。
func (c EmbeddingConfig) Enabled() bool {
	if c.Provider == ProviderOllama {
		return c.OllamaHost != ""
	}
	return c.APIKey != ""
}

// NewEmbedder 使用配置创建向量化实例。
func (c EmbeddingConfig) NewEmbedder() (embedding.Embedder, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("OPENAI_API_KEY 未配置，无法创建 embedding 服务")
	}

	if c.Provider == ProviderOllama {
		return ollama.NewEmbedder(ollama.Config{Host: c.OllamaHost, Model: c.Model}), nil
	}

	return openai.NewEmbedder(openai.EmbedderConfig{
		APIKey:  c.APIKey,
		BaseURL: c.BaseURL,
		Model:   c.Model,
	})
}

func loadEmbeddingConfig() (EmbeddingConfig, error) {
	provider := strings.ToLower(getEnvOrDefault("EMBEDDING_PROVIDER", ProviderOpenAI))

	var defaultModel string
	switch provider {
	case ProviderOpenAI:
		defaultModel = openai.DefaultEmbeddingModel
	case ProviderOllama:
		defaultModel = ollama.DefaultModel
	default:
		return EmbeddingConfig{}, fmt.Errorf("invalid EMBEDDING_PROVIDER value %q: want %s or %s", provider, ProviderOpenAI, ProviderOllama)
	}

	return EmbeddingConfig{
		Provider:   provider,
		Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultModel),
		APIKey:     strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		BaseURL:    openAIBaseURL(),
		OllamaHost: getEnvOrDefault("OLLAMA_HOST", ollama.DefaultHost),
	}, nil
}

// RateLimitConfig 限制对上游模型与向量服务的调用频率，RPS 为 0 表示不限制。
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	cfg := RateLimitConfig{Burst: 1}

	rps, err := parseOptionalFloatEnv("UPSTREAM_RPS")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if rps != nil {
		if *rps < 0 {
			return RateLimitConfig{}, fmt.Errorf("invalid UPSTREAM_RPS value %v: must not be negative", *rps)
		}
		cfg.RPS = *rps
	}

	burst, err := parseOptionalIntEnv("UPSTREAM_BURST")
	if err != nil {
		return RateLimitConfig{}, err
	}
	if burst != nil && *burst > 0 {
		cfg.Burst = *burst
	}

	return cfg, nil
}

// RAGConfig 描述问答链路的可调参数。
type RAGConfig struct {
	HistoryLimit     int
	CondenseQuestion bool
}

func loadRAGConfig() (RAGConfig, error) {
	condense, err := parseBoolEnv("RAG_CONDENSE_QUESTION", false)
	if err != nil {
		return RAGConfig{}, err
	}

	historyLimit := 0
	if override, err := parseOptionalIntEnv("RAG_HISTORY_LIMIT"); err != nil {
		return RAGConfig{}, err
	} else if override != nil && *override > 0 {
		historyLimit = *override
	}

	return RAGConfig{HistoryLimit: historyLimit, CondenseQuestion: condense}, nil
}

// LogConfig 描述日志级别与输出文件。
type LogConfig struct {
	Level string
	File  string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level: strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		File:  strings.TrimSpace(os.Getenv("LOG_FILE")),
	}
}

// TelemetryConfig 控制 OpenTelemetry 导出。
type TelemetryConfig struct {
	Enabled bool
	Dir     string
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	enabled, err := parseBoolEnv("TELEMETRY_ENABLED", false)
	if err != nil {
		return TelemetryConfig{}, err
	}
	return TelemetryConfig{Enabled: enabled, Dir: getEnvOrDefault("TELEMETRY_DIR", "logs")}, nil
}

// openAIBaseURL 兼容 OPENAI_BASE_URL 与旧的 OPENAI_API_BASE。
func openAIBaseURL() string {
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		return v
	}
	return strings.TrimSpace(os.Getenv("OPENAI_API_BASE"))
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalFloat32Env(key string) (*float32, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	result := float32(val)
	return &result, nil
}
