package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
)

// Config structure
type Config struct {
	// LLM
	APIKey      string  `json:"apiKey"`
	BaseURL     string  `json:"baseUrl"`     // OpenAI-compatible endpoint, e.g. http://localhost:11434/v1
	ModelName   string  `json:"modelName"`   // e.g. "llama3", "qwen2.5"
	MaxTokens   int     `json:"maxTokens"`
	Temperature float32 `json:"temperature"` // default generation temperature

	// Reference / metadata store
	DBEngine string `json:"dbEngine"` // "sqlite" or "mysql"
	DBPath   string `json:"dbPath"`   // file path for sqlite, DSN for mysql

	// Blob storage (MinIO or any S3-compatible endpoint)
	MinioEndpoint  string `json:"minioEndpoint"`
	MinioAccessKey string `json:"minioAccessKey"`
	MinioSecretKey string `json:"minioSecretKey"`
	MinioBucket    string `json:"minioBucket"`
	MinioSecure    bool   `json:"minioSecure"`

	// Analysis loop
	MaxRetries  int `json:"maxRetries"`  // generation/execution attempts per question
	MaxDatasets int `json:"maxDatasets"` // most-recent datasets loaded per analysis

	// Service
	ListenAddr  string `json:"listenAddr"`
	LogDir      string `json:"logDir"`
	DetailedLog bool   `json:"detailedLog"`
}

// Default returns a Config populated with development defaults.
func Default() Config {
	return Config{
		BaseURL:       "http://localhost:11434/v1",
		ModelName:     "llama3",
		MaxTokens:     4096,
		Temperature:   0.1,
		DBEngine:      "sqlite",
		DBPath:        "parus.db",
		MinioEndpoint: "localhost:9000",
		MinioBucket:   "parus-files",
		MaxRetries:    3,
		MaxDatasets:   5,
		ListenAddr:    ":8080",
		LogDir:        "logs",
	}
}

// Load reads the config file at path (if it exists) on top of defaults,
// then applies PARUS_* environment overrides so secrets can stay out of
// the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := json.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// Save writes the config as indented JSON.
func Save(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func applyEnv(cfg *Config) {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr("PARUS_API_KEY", &cfg.APIKey)
	setStr("PARUS_BASE_URL", &cfg.BaseURL)
	setStr("PARUS_MODEL", &cfg.ModelName)
	setStr("PARUS_DB_ENGINE", &cfg.DBEngine)
	setStr("PARUS_DB_PATH", &cfg.DBPath)
	setStr("PARUS_MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setStr("PARUS_MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setStr("PARUS_MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setStr("PARUS_MINIO_BUCKET", &cfg.MinioBucket)
	setStr("PARUS_LISTEN_ADDR", &cfg.ListenAddr)

	if v := os.Getenv("PARUS_MINIO_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.MinioSecure = b
		}
	}
	if v := os.Getenv("PARUS_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
}
