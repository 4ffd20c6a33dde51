package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	MaxFiles    int
	MaxFileSize int64

	ModelURL      string
	ModelCacheDir string

	ModelReadyTimeout time.Duration
	MaskResultTimeout time.Duration
	ModelPollInterval time.Duration
	MaskPollInterval  time.Duration
	InterFileDelay    time.Duration

	MemoryLimit        int64
	MemoryWarningRatio float64
	JanitorSchedule    string
	ResourceMaxAge     time.Duration

	ListenAddr string
	OutputDir  string
}

func Load() *Config {
	// Optional; absence of a .env file is not an error.
	_ = godotenv.Load(".env")

	return &Config{
		MaxFiles:    getEnvAsInt("SNAPRESIZE_MAX_FILES", 50),
		MaxFileSize: getEnvAsInt64("SNAPRESIZE_MAX_FILE_SIZE", 50*1024*1024),

		ModelURL:      getEnv("SNAPRESIZE_MODEL_URL", "https://huggingface.co/briaai/RMBG-1.4/resolve/main/onnx/model.onnx"),
		ModelCacheDir: getEnv("SNAPRESIZE_MODEL_CACHE_DIR", defaultModelCacheDir()),

		ModelReadyTimeout: getEnvAsDuration("SNAPRESIZE_MODEL_READY_TIMEOUT", 120*time.Second),
		MaskResultTimeout: getEnvAsDuration("SNAPRESIZE_MASK_RESULT_TIMEOUT", 60*time.Second),
		ModelPollInterval: getEnvAsDuration("SNAPRESIZE_MODEL_POLL_INTERVAL", 200*time.Millisecond),
		MaskPollInterval:  getEnvAsDuration("SNAPRESIZE_MASK_POLL_INTERVAL", 100*time.Millisecond),
		InterFileDelay:    getEnvAsDuration("SNAPRESIZE_INTER_FILE_DELAY", 50*time.Millisecond),

		MemoryLimit:        getEnvAsInt64("SNAPRESIZE_MEMORY_LIMIT", 1<<30),
		MemoryWarningRatio: getEnvAsFloat("SNAPRESIZE_MEMORY_WARNING_RATIO", 0.8),
		JanitorSchedule:    getEnv("SNAPRESIZE_JANITOR_SCHEDULE", "@every 1m"),
		ResourceMaxAge:     getEnvAsDuration("SNAPRESIZE_RESOURCE_MAX_AGE", 5*time.Minute),

		ListenAddr: getEnv("SNAPRESIZE_LISTEN_ADDR", "127.0.0.1:8090"),
		OutputDir:  getEnv("SNAPRESIZE_OUTPUT_DIR", "./output"),
	}
}

func defaultModelCacheDir() string {
	base, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".cache", "snapresize-ai", "models")
	}
	return filepath.Join(base, "snapresize-ai", "models")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
