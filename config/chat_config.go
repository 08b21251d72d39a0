package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Search backends
const (
	SearchBackendMeili    = "meili"
	SearchBackendPostgres = "postgres"
)

// generateWorkerID creates a unique worker ID using hostname and PID
func generateWorkerID() string {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}
	return fmt.Sprintf("%s-%d", hostname, os.Getpid())
}

type Config struct {
	Port        string
	Environment string
	LogLevel    string
	ServiceName string
	BodyLimitMB int

	// Completion (OpenAI-compatible endpoint, e.g. Ollama)
	LLMBaseURL     string
	LLMAPIKey      string
	LLMModel       string
	LLMMaxTokens   int
	LLMTemperature float64
	LLMTimeoutSec  int

	// Pipeline
	ExtractionConfidenceThreshold float64
	CandidatePoolSize             int
	SearchLimit                   int
	CriteriaCacheTTLMin           int
	HistoryLimit                  int
	SessionTTLHour                int

	// Search backend
	SearchBackend  string
	MeiliHost      string
	MeiliAdminKey  string
	MeiliSearchKey string
	MeiliIndex     string
	DatabaseURL    string
	DBMaxConns     int

	// Redis (sessions, sync stream)
	RedisURL   string
	SyncStream string
	SyncGroup  string

	// MongoDB (transcripts)
	MongoDBURL              string
	MongoDBName             string
	TranscriptRetentionDays int

	// Neo4j (sender directory)
	Neo4jURL      string
	Neo4jUsername string
	Neo4jPassword string
	Neo4jDatabase string

	// OAuth - Google
	GoogleClientID      string
	GoogleClientSecret  string
	GoogleRedirectURL   string
	GmailTokenFile      string
	GmailTokenKey       string
	GmailMaxResults     int
	ImportOnSessionInit bool

	// Rate limit
	ChatRateLimitRPS   float64
	ChatRateLimitBurst int
	// per client IP, across all of its sessions
	ChatIPRateLimitRPS   float64
	ChatIPRateLimitBurst int

	WorkerID string

	// CORS
	AllowedOrigins []string
	// Operator routes (/api/v1/corpus/*); empty allows every client
	OperatorAllowedIPs []string
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ServiceName: getEnv("SERVICE_NAME", "mailchat"),
		BodyLimitMB: getEnvInt("BODY_LIMIT_MB", 10),

		LLMBaseURL:     getEnv("LLM_BASE_URL", "http://localhost:11434/v1"),
		LLMAPIKey:      getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", "")),
		LLMModel:       getEnv("LLM_MODEL", "llama3.2"),
		LLMMaxTokens:   getEnvInt("LLM_MAX_TOKENS", 1024),
		LLMTemperature: getEnvFloat("LLM_TEMPERATURE", 0.2),
		LLMTimeoutSec:  getEnvInt("LLM_TIMEOUT_SEC", 30),

		ExtractionConfidenceThreshold: getEnvFloat("EXTRACTION_CONFIDENCE_THRESHOLD", 0.7),
		CandidatePoolSize:             getEnvInt("CANDIDATE_POOL_SIZE", 100),
		SearchLimit:                   getEnvInt("SEARCH_LIMIT", 20),
		CriteriaCacheTTLMin:           getEnvInt("CRITERIA_CACHE_TTL_MIN", 10),
		HistoryLimit:                  getEnvInt("HISTORY_LIMIT", 20),
		SessionTTLHour:                getEnvInt("SESSION_TTL_HOUR", 24),

		SearchBackend:  strings.ToLower(getEnv("SEARCH_BACKEND", SearchBackendMeili)),
		MeiliHost:      getEnv("MEILI_HOST", "http://localhost:7700"),
		MeiliAdminKey:  getEnv("MEILI_ADMIN_KEY", ""),
		MeiliSearchKey: getEnv("MEILI_SEARCH_KEY", ""),
		MeiliIndex:     getEnv("MEILI_INDEX", "emails"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxConns:     getEnvInt("DB_MAX_CONNS", 25),

		RedisURL:   getEnv("REDIS_URL", ""),
		SyncStream: getEnv("SYNC_STREAM", "mail:import"),
		SyncGroup:  getEnv("SYNC_GROUP", "mailchat-workers"),

		MongoDBURL:  getEnv("MONGODB_URL", ""),
		MongoDBName: getEnv("MONGODB_DATABASE", "mailchat"),

		TranscriptRetentionDays: getEnvInt("TRANSCRIPT_RETENTION_DAYS", 0),

		Neo4jURL:      getEnv("NEO4J_URL", ""),
		Neo4jUsername: getEnv("NEO4J_USERNAME", "neo4j"),
		Neo4jPassword: getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase: getEnv("NEO4J_DATABASE", ""),

		GoogleClientID:      getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:  getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:   getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/oauth/callback"),
		GmailTokenFile:      getEnv("GMAIL_TOKEN_FILE", "tokencache.json"),
		GmailTokenKey:       getEnv("GMAIL_TOKEN_KEY", ""),
		GmailMaxResults:     getEnvInt("GMAIL_MAX_RESULTS", 100),
		ImportOnSessionInit: getEnvBool("IMPORT_ON_SESSION_INIT", false),

		ChatRateLimitRPS:   getEnvFloat("CHAT_RATE_LIMIT_RPS", 2),
		ChatRateLimitBurst: getEnvInt("CHAT_RATE_LIMIT_BURST", 5),

		ChatIPRateLimitRPS:   getEnvFloat("CHAT_IP_RATE_LIMIT_RPS", 10),
		ChatIPRateLimitBurst: getEnvInt("CHAT_IP_RATE_LIMIT_BURST", 20),

		WorkerID: getEnv("WORKER_ID", generateWorkerID()),

		AllowedOrigins:     getEnvSlice("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:5173"}),
		OperatorAllowedIPs: getEnvSlice("OPERATOR_ALLOWED_IPS", nil),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.ExtractionConfidenceThreshold < 0 || c.ExtractionConfidenceThreshold > 1 {
		return fmt.Errorf("EXTRACTION_CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.ExtractionConfidenceThreshold)
	}
	if c.CandidatePoolSize < 1 {
		return fmt.Errorf("CANDIDATE_POOL_SIZE must be positive, got %d", c.CandidatePoolSize)
	}
	if c.SearchLimit < 1 {
		return fmt.Errorf("SEARCH_LIMIT must be positive, got %d", c.SearchLimit)
	}
	switch c.SearchBackend {
	case SearchBackendMeili:
	case SearchBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for SEARCH_BACKEND=%s", SearchBackendPostgres)
		}
	default:
		return fmt.Errorf("unknown SEARCH_BACKEND %q", c.SearchBackend)
	}
	return nil
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHour) * time.Hour
}

// TranscriptRetention is zero when transcripts are kept forever.
func (c *Config) TranscriptRetention() time.Duration {
	return time.Duration(c.TranscriptRetentionDays) * 24 * time.Hour
}

func (c *Config) CriteriaCacheTTL() time.Duration {
	return time.Duration(c.CriteriaCacheTTLMin) * time.Minute
}

// GmailEnabled reports whether OAuth client credentials are present.
func (c *Config) GmailEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
