package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment        string
	Domains            []string
	CertCacheDir       string
	HTTPPort           string
	HTTPSPort          string
	AuthBaseURL        string
	AuthServiceKey     string
	OpenAIAPIKey       string
	OpenAIAPIURL       string
	ChatModel          string
	EmbeddingModel     string
	EmbeddingDimension int
	ChunkSize          int
	ChunkOverlap       int
	WorkerCount        int
	QueueCapacity      int
	RateLimitPerMinute int
	RateLimitBurst     int
	LogDir             string
	ShutdownTimeout    time.Duration
}

var isTest bool

func init() {
	isTest = os.Getenv("GO_ENVIRONMENT") == "test"
	if !isTest {
		err := godotenv.Load()
		if err != nil {
			log.Println("Warning: Error loading .env file:", err)
		}
	}
}

func Load() Config {
	return Config{
		Environment:        getEnv("ENVIRONMENT", "development"),
		Domains:            []string{getEnv("DOMAIN", "example.com")},
		CertCacheDir:       getEnv("CERT_CACHE_DIR", "/etc/letsencrypt/live/example.com"),
		HTTPPort:           getEnv("HTTP_PORT", "8000"),
		HTTPSPort:          getEnv("HTTPS_PORT", "443"),
		AuthBaseURL:        getEnv("AUTH_BASE_URL", ""),
		AuthServiceKey:     getEnv("AUTH_SERVICE_KEY", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIAPIURL:       getEnv("OPENAI_API_URL", "https://api.openai.com/v1/chat/completions"),
		ChatModel:          getEnv("CHAT_MODEL", "gpt-4o-mini"),
		EmbeddingModel:     getEnv("EMBEDDING_MODEL_CHOICE", "text-embedding-3-small"),
		EmbeddingDimension: getEnvAsInt("EMBEDDING_DIMENSION", 1536),
		ChunkSize:          getEnvAsInt("CHUNK_SIZE", 400),
		ChunkOverlap:       getEnvAsInt("CHUNK_OVERLAP", 50),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),
		QueueCapacity:      getEnvAsInt("QUEUE_CAPACITY", 256),
		RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),
		LogDir:             getEnv("LOG_DIR", "logs"),
		ShutdownTimeout:    time.Duration(getEnvAsInt("SHUTDOWN_TIMEOUT", 15)) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}
