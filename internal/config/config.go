package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

// Config aggregates runtime configuration for the underwriter and supporting services.
type Config struct {
	ListenAddr           string
	StoreDriver          string
	MySQLDSN             string
	FreeAnalyses         int
	AdminUnlockCode      string
	AdminUsername        string
	AdminPassword        string
	StripePaymentLinkURL string
	EstatedToken         string
	EstatedBaseURL       string
	AttomAPIKey          string
	AttomBaseURL         string
	RequestTimeout       time.Duration
	RedisAddr            string
	RedisPassword        string
	RedisDB              int
	PrefillCacheTTL      time.Duration
	HistoryLimit         int
	LogLevel             string
	TelegramBotToken     string
	TelegramAdminChatID  int64
	S3Endpoint           string
	S3Region             string
	S3AccessKey          string
	S3SecretKey          string
	S3Bucket             string
	S3PublicBaseURL      string
	S3UsePathStyle       bool
	S3Prefix             string
}

// S3Enabled reports whether report archiving has enough settings to run.
func (c Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != "" && c.S3AccessKey != "" && c.S3SecretKey != "" && c.S3PublicBaseURL != ""
}

// AdminEnabled reports whether the operator endpoints may be mounted. They
// grant payment unlocks, so there is no default password.
func (c Config) AdminEnabled() bool {
	return c.AdminUsername != "" && c.AdminPassword != ""
}

// TelegramEnabled reports whether operator notifications are configured.
func (c Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramAdminChatID != 0
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	const (
		defaultEstatedBaseURL = "https://apis.estated.com"
		defaultAttomBaseURL   = "https://api.gateway.attomdata.com"
	)

	cfg := Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		StoreDriver:          strings.ToLower(getEnv("STORE_DRIVER", StoreMySQL)),
		FreeAnalyses:         getInt("FREE_ANALYSES", 2),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		EstatedBaseURL:       normalizeBaseURL(getEnv("ESTATED_BASE_URL", defaultEstatedBaseURL), defaultEstatedBaseURL),
		AttomBaseURL:         normalizeBaseURL(getEnv("ATTOM_BASE_URL", defaultAttomBaseURL), defaultAttomBaseURL),
		RequestTimeout:       time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 20)),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		PrefillCacheTTL:      time.Minute * time.Duration(getInt("PREFILL_CACHE_TTL_MINUTES", 24*60)),
		HistoryLimit:         getInt("HISTORY_LIMIT", 50),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		TelegramAdminChatID:  getInt64("TELEGRAM_ADMIN_CHAT_ID", 0),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3Region:             os.Getenv("S3_REGION"),
		S3AccessKey:          os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:          os.Getenv("S3_SECRET_KEY"),
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:      os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:       getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:             getEnv("S3_PREFIX", "reports"),
		StripePaymentLinkURL: strings.TrimSpace(os.Getenv("STRIPE_PAYMENT_LINK_URL")),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.AdminPassword = os.Getenv("ADMIN_PASSWORD")
	cfg.AdminUnlockCode = os.Getenv("ADMIN_UNLOCK_CODE")
	cfg.EstatedToken = os.Getenv("ESTATED_TOKEN")
	cfg.AttomAPIKey = os.Getenv("ATTOM_APIKEY")
	cfg.TelegramBotToken = os.Getenv("TELEGRAM_BOT_TOKEN")

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var missing []string
	switch c.StoreDriver {
	case StoreMySQL:
		if c.MySQLDSN == "" {
			missing = append(missing, "MYSQL_DSN")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER: %s", c.StoreDriver)
	}
	if c.FreeAnalyses < 0 {
		return fmt.Errorf("FREE_ANALYSES must be >= 0, got %d", c.FreeAnalyses)
	}
	if c.TelegramBotToken != "" && c.TelegramAdminChatID == 0 {
		missing = append(missing, "TELEGRAM_ADMIN_CHAT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missing)
	}
	return nil
}

// normalizeBaseURL falls back to the documented host on empty or unparsable input
// and defaults the scheme to https.
func normalizeBaseURL(raw string, fallback string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return fallback
	}

	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	if parsed.Host == "" {
		parsed.Host = parsed.Path
		parsed.Path = ""
	}

	return strings.TrimRight(parsed.String(), "/")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// loadEnvFile overlays the first env file it finds. Running purely from the
// process environment is fine, so a missing file is not an error.
func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	return nil
}
