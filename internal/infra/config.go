package infra

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv  string
	Port    string
	Version string

	SharedSecret       string
	CallbackAuthSecret string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	ShutdownTimeout  time.Duration
	RateLimitPerMin  int

	DownloadTimeout      time.Duration
	InferenceTimeout     time.Duration
	CallbackTimeout      time.Duration
	MaxImageBytes        int64
	MaxImageDimension    int
	MaxImagePixels       int64
	ImageSourceAllowlist []string

	ModelName              string
	ModelCacheDir          string
	ModelDir               string
	DetectorMaxConcurrency int
	OnnxRuntimeLibrary     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ObjectStoreBucket    string
	ObjectStoreRegion    string
	ObjectStoreEndpoint  string
	ObjectStorePathStyle bool
	ObjectStoreDir       string

	OTelEnabled  bool
	OTelEndpoint string
	OTelProtocol string
}

// LoadConfig loads configuration from environment variables, applies defaults
// and validates the settings the API server needs.
func LoadConfig() (*Config, error) {
	cfg, err := LoadAnalysisConfig()
	if err != nil {
		return nil, err
	}
	if cfg.SharedSecret == "" {
		return nil, fmt.Errorf("SHARED_SECRET is required")
	}
	if cfg.CallbackAuthSecret == "" {
		return nil, fmt.Errorf("CALLBACK_AUTH_SECRET is required")
	}
	if cfg.SharedSecret == cfg.CallbackAuthSecret {
		return nil, fmt.Errorf("SHARED_SECRET and CALLBACK_AUTH_SECRET must differ")
	}
	return cfg, nil
}

// LoadAnalysisConfig loads the same settings without requiring the HTTP
// secrets. Offline analysis uses it.
func LoadAnalysisConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		Port:    getEnv("PORT", "8001"),
		Version: getEnv("APP_VERSION", "0.1.0"),

		SharedSecret:       strings.TrimSpace(os.Getenv("SHARED_SECRET")),
		CallbackAuthSecret: strings.TrimSpace(os.Getenv("CALLBACK_AUTH_SECRET")),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		ShutdownTimeout:  time.Second * time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 90)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),

		DownloadTimeout:      time.Second * time.Duration(getEnvInt("DOWNLOAD_TIMEOUT_SECONDS", 30)),
		InferenceTimeout:     time.Second * time.Duration(getEnvInt("INFERENCE_TIMEOUT_SECONDS", 60)),
		CallbackTimeout:      time.Second * time.Duration(getEnvInt("CALLBACK_TIMEOUT_SECONDS", 10)),
		MaxImageBytes:        getEnvInt64("MAX_IMAGE_BYTES", 20<<20),
		MaxImageDimension:    getEnvInt("MAX_IMAGE_DIMENSION", 4096),
		MaxImagePixels:       getEnvInt64("MAX_IMAGE_PIXELS", 89_478_485),
		ImageSourceAllowlist: parseHostList(os.Getenv("IMAGE_SOURCE_HOST_ALLOWLIST")),

		ModelName:              getEnv("MODEL_NAME", "umm-maybe/AI-image-detector"),
		ModelCacheDir:          getEnv("MODEL_CACHE_DIR", "./model_cache"),
		ModelDir:               os.Getenv("MODEL_DIR"),
		DetectorMaxConcurrency: getEnvInt("DETECTOR_MAX_CONCURRENCY", 2),
		OnnxRuntimeLibrary:     os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		ObjectStoreBucket:    os.Getenv("OBJECT_STORE_BUCKET"),
		ObjectStoreRegion:    getEnv("OBJECT_STORE_REGION", "auto"),
		ObjectStoreEndpoint:  os.Getenv("OBJECT_STORE_ENDPOINT"),
		ObjectStorePathStyle: getEnvBool("OBJECT_STORE_PATH_STYLE", false),
		ObjectStoreDir:       os.Getenv("OBJECT_STORE_DIR"),

		OTelEnabled:  getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelProtocol: getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
	}

	if cfg.MaxImageBytes <= 0 {
		return nil, fmt.Errorf("MAX_IMAGE_BYTES must be positive")
	}
	if cfg.MaxImagePixels <= 0 {
		return nil, fmt.Errorf("MAX_IMAGE_PIXELS must be positive")
	}
	if cfg.DetectorMaxConcurrency <= 0 {
		cfg.DetectorMaxConcurrency = 1
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// ModelBundleDir is the directory holding the exported detector. MODEL_DIR
// wins; otherwise it is derived from ModelName under ModelCacheDir.
func (c *Config) ModelBundleDir() string {
	if dir := strings.TrimSpace(c.ModelDir); dir != "" {
		return dir
	}
	name := strings.NewReplacer("/", "--", "\\", "--", ":", "-").Replace(strings.TrimSpace(c.ModelName))
	return filepath.Join(c.ModelCacheDir, name)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func parseHostList(raw string) []string {
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		host := strings.ToLower(strings.TrimSpace(part))
		if host == "" {
			continue
		}
		seen[host] = struct{}{}
	}
	if len(seen) == 0 {
		return nil
	}
	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
