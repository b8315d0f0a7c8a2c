package config

import (
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"jk-analytics/models"
)

// Config holds all application configuration. Values come from defaults,
// an optional config file, .env and the process environment, in increasing
// order of precedence.
type Config struct {
	DBDriver   string
	SQLitePath string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Log LogConfig

	Ingest    IngestConfig
	Analytics AnalyticsConfig

	City              string
	OutputDir         string
	DirectoryCacheTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// IngestConfig tunes the orchestrator and the scraper collaborator.
type IngestConfig struct {
	MaxConcurrency      int
	RateLimit           time.Duration
	RetryAttempts       int
	RetryBackoffSeconds float64
	RequestTimeout      time.Duration
	PagesToScrape       int
	FetchMode           string
	ChromeBin           string
	BaseURL             string
}

// RetryBackoff converts the configured seconds into a duration.
func (c IngestConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds * float64(time.Second))
}

// AnalyticsConfig carries the aggregation and opportunity thresholds.
// All yields and discounts are fractions (0.06 == 6%).
type AnalyticsConfig struct {
	AreaTolerance      float64
	FlatTypeThresholds []float64
	DiscountThreshold  float64
	YieldThreshold     float64
	StrongBuyYield     float64
	BuyYield           float64
	ConsiderYield      float64
	DiscountScenarios  []float64
	MaxDiscount        float64
	OpportunityLimit   int
}

var defaults = map[string]any{
	"DB_DRIVER":   "sqlite",
	"SQLITE_PATH": "./data/jk.db",

	"POSTGRES_HOST":     "localhost",
	"POSTGRES_PORT":     "5432",
	"POSTGRES_USER":     "jk",
	"POSTGRES_PASSWORD": "jk",
	"POSTGRES_DB":       "jk_analytics",
	"POSTGRES_SSLMODE":  "disable",

	"REDIS_ADDR":     "",
	"REDIS_PASSWORD": "",
	"REDIS_DB":       0,

	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "console",

	"MAX_CONCURRENCY":         3,
	"RATE_LIMIT_MS":           2000,
	"RETRY_ATTEMPTS":          3,
	"RETRY_BACKOFF_SECONDS":   2.0,
	"REQUEST_TIMEOUT_SECONDS": 60,
	"PAGES_TO_SCRAPE":         5,
	"FETCH_MODE":              "http",
	"CHROME_BIN":              "",
	"KRISHA_BASE_URL":         "https://krisha.kz",

	"AREA_TOLERANCE":       5.0,
	"FLAT_TYPE_THRESHOLDS": "35,50,75",
	"DISCOUNT_THRESHOLD":   0.15,
	"YIELD_THRESHOLD":      0.06,
	"STRONG_BUY_YIELD":     0.20,
	"BUY_YIELD":            0.06,
	"CONSIDER_YIELD":       0.05,
	"DISCOUNT_SCENARIOS":   "0.10,0.20",
	"MAX_DISCOUNT":         0.50,
	"OPPORTUNITY_LIMIT":    50,

	"CITY":                "Almaty",
	"OUTPUT_DIR":          "./output",
	"DIRECTORY_CACHE_TTL": "10m",
}

// Load reads .env and the optional CONFIG_FILE and returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	thresholds, err := parseFloats(v.GetString("FLAT_TYPE_THRESHOLDS"))
	if err != nil {
		return nil, fmt.Errorf("config: FLAT_TYPE_THRESHOLDS: %w", err)
	}
	scenarios, err := parseFloats(v.GetString("DISCOUNT_SCENARIOS"))
	if err != nil {
		return nil, fmt.Errorf("config: DISCOUNT_SCENARIOS: %w", err)
	}

	cfg := &Config{
		DBDriver:   strings.ToLower(v.GetString("DB_DRIVER")),
		SQLitePath: v.GetString("SQLITE_PATH"),

		PostgresHost:     v.GetString("POSTGRES_HOST"),
		PostgresPort:     v.GetString("POSTGRES_PORT"),
		PostgresUser:     v.GetString("POSTGRES_USER"),
		PostgresPassword: v.GetString("POSTGRES_PASSWORD"),
		PostgresDB:       v.GetString("POSTGRES_DB"),
		PostgresSSLMode:  v.GetString("POSTGRES_SSLMODE"),

		RedisAddr:     v.GetString("REDIS_ADDR"),
		RedisPassword: v.GetString("REDIS_PASSWORD"),
		RedisDB:       v.GetInt("REDIS_DB"),

		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},

		Ingest: IngestConfig{
			MaxConcurrency:      v.GetInt("MAX_CONCURRENCY"),
			RateLimit:           time.Duration(v.GetInt("RATE_LIMIT_MS")) * time.Millisecond,
			RetryAttempts:       v.GetInt("RETRY_ATTEMPTS"),
			RetryBackoffSeconds: v.GetFloat64("RETRY_BACKOFF_SECONDS"),
			RequestTimeout:      time.Duration(v.GetInt("REQUEST_TIMEOUT_SECONDS")) * time.Second,
			PagesToScrape:       v.GetInt("PAGES_TO_SCRAPE"),
			FetchMode:           strings.ToLower(v.GetString("FETCH_MODE")),
			ChromeBin:           v.GetString("CHROME_BIN"),
			BaseURL:             strings.TrimRight(v.GetString("KRISHA_BASE_URL"), "/"),
		},

		Analytics: AnalyticsConfig{
			AreaTolerance:      v.GetFloat64("AREA_TOLERANCE"),
			FlatTypeThresholds: thresholds,
			DiscountThreshold:  v.GetFloat64("DISCOUNT_THRESHOLD"),
			YieldThreshold:     v.GetFloat64("YIELD_THRESHOLD"),
			StrongBuyYield:     v.GetFloat64("STRONG_BUY_YIELD"),
			BuyYield:           v.GetFloat64("BUY_YIELD"),
			ConsiderYield:      v.GetFloat64("CONSIDER_YIELD"),
			DiscountScenarios:  scenarios,
			MaxDiscount:        v.GetFloat64("MAX_DISCOUNT"),
			OpportunityLimit:   v.GetInt("OPPORTUNITY_LIMIT"),
		},

		City:              v.GetString("CITY"),
		OutputDir:         v.GetString("OUTPUT_DIR"),
		DirectoryCacheTTL: v.GetDuration("DIRECTORY_CACHE_TTL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the core cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.DBDriver != "postgres" && c.DBDriver != "sqlite":
		return &models.ValidationError{Field: "DB_DRIVER", Reason: "must be postgres or sqlite"}
	case c.Ingest.MaxConcurrency < 1:
		return &models.ValidationError{Field: "MAX_CONCURRENCY", Reason: "must be >= 1"}
	case c.Ingest.RetryAttempts < 0:
		return &models.ValidationError{Field: "RETRY_ATTEMPTS", Reason: "must be >= 0"}
	case c.Ingest.RetryBackoffSeconds < 0:
		return &models.ValidationError{Field: "RETRY_BACKOFF_SECONDS", Reason: "must be >= 0"}
	case c.Ingest.FetchMode != "http" && c.Ingest.FetchMode != "browser":
		return &models.ValidationError{Field: "FETCH_MODE", Reason: "must be http or browser"}
	case c.Analytics.AreaTolerance < 0:
		return &models.ValidationError{Field: "AREA_TOLERANCE", Reason: "must be >= 0"}
	case len(c.Analytics.FlatTypeThresholds) != len(models.FlatTypes)-1:
		return &models.ValidationError{Field: "FLAT_TYPE_THRESHOLDS",
			Reason: fmt.Sprintf("need %d ascending cutoffs", len(models.FlatTypes)-1)}
	case !sort.Float64sAreSorted(c.Analytics.FlatTypeThresholds):
		return &models.ValidationError{Field: "FLAT_TYPE_THRESHOLDS", Reason: "cutoffs must be ascending"}
	case c.Analytics.DiscountThreshold < 0 || c.Analytics.DiscountThreshold >= 1:
		return &models.ValidationError{Field: "DISCOUNT_THRESHOLD", Reason: "must be in [0, 1)"}
	case c.Analytics.YieldThreshold < 0:
		return &models.ValidationError{Field: "YIELD_THRESHOLD", Reason: "must be >= 0"}
	}
	return nil
}

// DSN returns the database/sql data source name for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		f, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", part)
		}
		out = append(out, f)
	}
	return out, nil
}
