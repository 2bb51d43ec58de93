package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	RetrieverKeyword       = "keyword"
	RetrieverKnowledgeBase = "knowledgebase"

	BackendCSV      = "csv"
	BackendPostgres = "postgres"
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendOff      = "off"
)

type Config struct {
	Env  string
	Port string

	// APIKey guards the admin endpoints. Empty disables them.
	APIKey           string
	CORSOrigins      []string
	MaxMessageLength int

	LLM        LLMConfig
	Embeddings EmbeddingConfig

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string

	Content   ContentConfig
	Retrieval RetrievalConfig
	Chat      ChatConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
}

type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

type EmbeddingConfig struct {
	Provider  string
	Model     string
	Dimension int
}

type ContentConfig struct {
	Sources         []string
	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	MinLength       int
}

type RetrievalConfig struct {
	Retriever         string
	TopK              int
	KnowledgeBasePath string
}

type ChatConfig struct {
	PromptsFile      string
	Stages           []string
	InfoFormPolicy   string
	ResponseCache    string
	ResponseCacheTTL time.Duration
}

type StorageConfig struct {
	LeadsBackend     string
	LeadsFile        string
	PostgresDSN      string
	AnalyticsBackend string
	AnalyticsFile    string
	RedisAddr        string
}

type TelemetryConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

func Load() Config {
	return Config{
		Env:              getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8000"),
		APIKey:           strings.TrimSpace(os.Getenv("API_KEY")),
		CORSOrigins:      getList("CORS_ORIGINS", []string{"https://smartwms.onpalms.com", "https://onpalms.com", "https://www.onpalms.com", "http://localhost:3000", "http://127.0.0.1:3000"}),
		MaxMessageLength: getInt("MAX_MESSAGE_LENGTH", 1000),
		LLM: LLMConfig{
			Provider:    strings.ToLower(getEnv("LLM_PROVIDER", ProviderOpenAI)),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			MaxTokens:   getInt("LLM_MAX_TOKENS", 200),
			Temperature: float32(getFloat("LLM_TEMPERATURE", 0.7)),
			Timeout:     getDuration("LLM_TIMEOUT", 30*time.Second),
		},
		Embeddings: EmbeddingConfig{
			Provider:  strings.ToLower(getEnv("EMBEDDINGS_PROVIDER", ProviderOpenAI)),
			Model:     getEnv("EMBEDDINGS_MODEL", "text-embedding-3-small"),
			Dimension: getInt("EMBEDDINGS_DIMENSION", 0),
		},
		OllamaHost:    getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:  strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		Content: ContentConfig{
			Sources: getList("CONTENT_SOURCES", []string{
				"https://www.onpalms.com/wp-json/wp/v2/pages?per_page=100",
				"https://www.onpalms.com/wp-json/wp/v2/posts?per_page=100",
			}),
			RefreshInterval: getDuration("CONTENT_REFRESH_INTERVAL", time.Hour),
			FetchTimeout:    getDuration("CONTENT_FETCH_TIMEOUT", 10*time.Second),
			MinLength:       getInt("CONTENT_MIN_LENGTH", 50),
		},
		Retrieval: RetrievalConfig{
			Retriever:         strings.ToLower(getEnv("RETRIEVER", RetrieverKeyword)),
			TopK:              getInt("RETRIEVER_TOP_K", 5),
			KnowledgeBasePath: strings.TrimSpace(os.Getenv("KNOWLEDGEBASE_PATH")),
		},
		Chat: ChatConfig{
			PromptsFile:      strings.TrimSpace(os.Getenv("PROMPTS_FILE")),
			Stages:           getList("CHAT_STAGES", []string{"validate"}),
			InfoFormPolicy:   strings.ToLower(getEnv("INFO_FORM_POLICY", "interest")),
			ResponseCache:    strings.ToLower(getEnv("RESPONSE_CACHE", BackendOff)),
			ResponseCacheTTL: getDuration("RESPONSE_CACHE_TTL", 10*time.Minute),
		},
		Storage: StorageConfig{
			LeadsBackend:     strings.ToLower(getEnv("LEADS_BACKEND", BackendCSV)),
			LeadsFile:        getEnv("LEADS_FILE", "leads.csv"),
			PostgresDSN:      getEnv("POSTGRES_DSN", "postgres://localhost:5432/palms-chat?sslmode=disable"),
			AnalyticsBackend: strings.ToLower(getEnv("ANALYTICS_BACKEND", BackendFile)),
			AnalyticsFile:    getEnv("ANALYTICS_FILE", "chat_analytics.json"),
			RedisAddr:        getEnv("REDIS_ADDR", "localhost:6379"),
		},
		Telemetry: TelemetryConfig{
			Enabled:     getBool("OTEL_ENABLED", false),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "palms-chat"),
			Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
			Headers:     getMap("OTEL_EXPORTER_OTLP_HEADERS"),
			Insecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", false),
			SampleRatio: clamp01(getFloat("OTEL_SAMPLER_RATIO", 0.1)),
		},
	}
}

func (c Config) IsProduction() bool {
	switch strings.ToLower(c.Env) {
	case "prod", "production":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// getDuration accepts Go duration strings ("90s", "1h") or a bare number of seconds.
func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// getMap parses "k1=v1,k2=v2". Malformed pairs are skipped.
func getMap(key string) map[string]string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(part, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
