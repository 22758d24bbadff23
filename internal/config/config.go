// Package config reads service settings from the environment, after loading
// an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const prefix = "TASKTRAIL_"

// Config holds every runtime setting of the API server.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	DBDriver string
	DBDSN    string

	JWTSecret string
	JWTTTL    time.Duration
	JWTIssuer string

	RedisURL     string
	OrgCacheTTL  time.Duration
	OrgCacheSize int

	LogLevel     string
	CORSOrigins  []string
	RateBurst    int
	RatePerSec   float64
	MaxBodyBytes int64

	OTLPEndpoint string
	Environment  string
}

// Drivers accepted for DBDriver.
var Drivers = []string{"pgx", "postgres", "sqlite3", "memory"}

// LoadDotEnv loads the first .env file found in paths without overriding
// variables already set. It reports the file it loaded, if any.
func LoadDotEnv(paths ...string) string {
	if len(paths) == 0 {
		paths = []string{".env", "../.env", "../../.env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			return p
		}
	}
	return ""
}

// Load builds a Config from the process environment and validates it.
func Load() (Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config using lookup for each TASKTRAIL_ key.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		HTTPAddr:     r.str("HTTP_ADDR", ":3333"),
		GRPCAddr:     r.str("GRPC_ADDR", ":9091"),
		DBDriver:     r.str("DB_DRIVER", "memory"),
		DBDSN:        r.str("DB_DSN", ""),
		JWTSecret:    r.str("JWT_SECRET", ""),
		JWTTTL:       r.duration("JWT_TTL", 24*time.Hour),
		JWTIssuer:    r.str("JWT_ISSUER", "tasktrail"),
		RedisURL:     r.str("REDIS_URL", ""),
		OrgCacheTTL:  r.duration("ORG_CACHE_TTL", time.Minute),
		OrgCacheSize: r.integer("ORG_CACHE_SIZE", 1024),
		LogLevel:     r.str("LOG_LEVEL", "info"),
		CORSOrigins:  r.list("CORS_ORIGINS", []string{"*"}),
		RateBurst:    r.integer("RATE_BURST", 50),
		RatePerSec:   r.float("RATE_PER_SEC", 20),
		MaxBodyBytes: int64(r.integer("MAX_BODY_BYTES", 1<<20)),
		OTLPEndpoint: r.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		Environment:  r.str("ENVIRONMENT", "development"),
	}
	if v, ok := lookup("OTEL_EXPORTER_OTLP_ENDPOINT"); ok && cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = strings.TrimSpace(v)
	}
	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, errors.New(prefix+"JWT_SECRET is required"))
	}
	known := false
	for _, d := range Drivers {
		if c.DBDriver == d {
			known = true
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("%sDB_DRIVER %q is not one of %s", prefix, c.DBDriver, strings.Join(Drivers, ", ")))
	}
	if c.DBDriver != "memory" && strings.TrimSpace(c.DBDSN) == "" {
		errs = append(errs, fmt.Errorf("%sDB_DSN is required for driver %s", prefix, c.DBDriver))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New(prefix+"JWT_TTL must be positive"))
	}
	if c.RateBurst <= 0 || c.RatePerSec <= 0 {
		errs = append(errs, errors.New(prefix+"RATE_BURST and RATE_PER_SEC must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New(prefix+"MAX_BODY_BYTES must be positive"))
	}
	if c.OrgCacheSize <= 0 || c.OrgCacheTTL <= 0 {
		errs = append(errs, errors.New(prefix+"ORG_CACHE_SIZE and ORG_CACHE_TTL must be positive"))
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(prefix + key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) integer(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return n
}

func (r *reader) float(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", prefix, key, err))
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
