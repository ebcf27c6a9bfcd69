package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
// It is loaded once at startup and passed down explicitly; packages never read
// the environment on their own.
type Config struct {
	AppEnv           string
	Port             string
	JobStoreBaseURL  string
	JobStoreAPIKey   string
	DefaultEngineURL string
	DownloadDir      string
	PrefsPath        string
	PollInterval     time.Duration
	VideoPollTimeout time.Duration
	ImagePollTimeout time.Duration
	FeedRefresh      time.Duration
	FeedFetchFactor  int
	CORSOrigins      []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		JobStoreBaseURL:  os.Getenv("JOBSTORE_BASE_URL"),
		JobStoreAPIKey:   os.Getenv("JOBSTORE_API_KEY"),
		DefaultEngineURL: getEnv("ENGINE_BASE_URL", "https://comfy.vapai.studio"),
		DownloadDir:      getEnv("DOWNLOAD_DIR", "./downloads"),
		PrefsPath:        getEnv("PREFS_DB_PATH", "./gengate-prefs.db"),
		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)),
		VideoPollTimeout: time.Minute * time.Duration(getEnvInt("VIDEO_POLL_TIMEOUT_MINUTES", 10)),
		ImagePollTimeout: time.Minute * time.Duration(getEnvInt("IMAGE_POLL_TIMEOUT_MINUTES", 5)),
		FeedRefresh:      time.Second * time.Duration(getEnvInt("FEED_REFRESH_SECONDS", 15)),
		FeedFetchFactor:  getEnvInt("FEED_FETCH_FACTOR", 3),
		CORSOrigins:      splitCSV(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	if cfg.JobStoreBaseURL == "" {
		return nil, fmt.Errorf("JOBSTORE_BASE_URL is required")
	}

	if cfg.FeedFetchFactor < 1 {
		return nil, fmt.Errorf("FEED_FETCH_FACTOR must be at least 1")
	}

	return cfg, nil
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

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
