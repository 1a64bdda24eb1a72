package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	GeminiAPIKey          string `yaml:"gemini_api_key"`
	ModelName             string `yaml:"model_name"`
	DatabaseURL           string `yaml:"database_url"`
	SessionsKey           string `yaml:"sessions_key"`
	HTTPPort              string `yaml:"http_port"`
	LogLevel              string `yaml:"log_level"`
	JWTSecret             string `yaml:"jwt_secret"`
	Greeting              string `yaml:"greeting"`
	ManualPath            string `yaml:"manual_path"`
	MaxAttachmentBytes    int    `yaml:"max_attachment_bytes"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	ConnectivityProbeAddr string `yaml:"connectivity_probe_addr"`
}

var AppConfig Config

func LoadConfig() {
	err := godotenv.Load() // Load .env file if it exists
	if err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	AppConfig = cfg

	if AppConfig.GeminiAPIKey == "" {
		log.Println("GEMINI_API_KEY is not set; chat stays disabled until a key is supplied via /api/settings/api-key")
	}
}

// Load builds the configuration from defaults, then the optional YAML file
// named by CONFIG_FILE, then environment variables.
func Load() (Config, error) {
	file := Config{}
	if path := getEnv("CONFIG_FILE", ""); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &file); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg := Config{
		GeminiAPIKey:          getEnv("GEMINI_API_KEY", file.GeminiAPIKey),
		ModelName:             getEnv("MODEL_NAME", orDefault(file.ModelName, "gemini-2.5-pro")),
		DatabaseURL:           getEnv("DATABASE_URL", orDefault(file.DatabaseURL, "rotorwise.db")),
		SessionsKey:           getEnv("SESSIONS_KEY", orDefault(file.SessionsKey, "rotorwise_sessions")),
		HTTPPort:              getEnv("HTTP_PORT", orDefault(file.HTTPPort, "8080")),
		LogLevel:              getEnv("LOG_LEVEL", orDefault(file.LogLevel, "INFO")),
		JWTSecret:             getEnv("JWT_SECRET", file.JWTSecret),
		Greeting:              getEnv("GREETING", file.Greeting),
		ManualPath:            getEnv("MANUAL_PATH", file.ManualPath),
		MaxAttachmentBytes:    getEnvAsInt("MAX_ATTACHMENT_BYTES", orDefaultInt(file.MaxAttachmentBytes, 20<<20)),
		RequestTimeoutSeconds: getEnvAsInt("REQUEST_TIMEOUT_SECONDS", orDefaultInt(file.RequestTimeoutSeconds, 120)),
		ConnectivityProbeAddr: getEnv("CONNECTIVITY_PROBE_ADDR", orDefault(file.ConnectivityProbeAddr, "generativelanguage.googleapis.com:443")),
	}

	if cfg.MaxAttachmentBytes <= 0 {
		return Config{}, fmt.Errorf("MAX_ATTACHMENT_BYTES must be positive, got %d", cfg.MaxAttachmentBytes)
	}
	return cfg, nil
}

func getEnv(key string, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orDefaultInt(v, def int) int {
	if v != 0 {
		return v
	}
	return def
}
