package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"hddbrowser/internal/logging"
)

var validate = validator.New()

// RootSpec is one ALLOWED_ROOTS entry before it is checked against the filesystem.
type RootSpec struct {
	ID   string `validate:"required,excludes=/"`
	Path string `validate:"required"`
}

type Features struct {
	Upload         bool `json:"uploads"`
	Delete         bool `json:"delete"`
	Thumbnails     bool `json:"thumbnails"`
	HEICConversion bool `json:"heic_conversion"`
}

type AdminStats struct {
	TimeBudget       time.Duration `validate:"gt=0"`
	MaxEntries       int           `validate:"gt=0"`
	RootCheckTimeout time.Duration `validate:"gt=0"`
	CountBytes       bool
}

type Config struct {
	Host      string
	Port      string        `validate:"required,numeric"`
	Roots     []RootSpec    `validate:"dive"`
	JwtSecret string        `validate:"required,min=16"`
	TokenTTL  time.Duration `validate:"gt=0"`
	Users     []User        `validate:"dive"`
	Features  Features

	MaxTextPreviewBytes int64 `validate:"gt=0"`
	MaxSearchResults    int   `validate:"gt=0"`
	SearchDefaultDepth  int   `validate:"gte=0"`
	MaxUploadBytes      int64 `validate:"gt=0"`

	ThumbMaxDim     int    `validate:"gt=16,lte=2048"`
	ThumbCacheDir   string `validate:"required"`
	FFmpegPath      string `validate:"required"`
	HeifConvertPath string

	IndexEnabled  bool
	IndexDBPath   string
	IndexInterval time.Duration

	Admin AdminStats

	LogLevel       string `validate:"oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json console"`
	MetricsEnabled bool
}

// LoadConfig reads envFile (if present) into the process environment and builds
// a validated Config from it.
func LoadConfig(envFile string) (*Config, error) {
	envFile = EnvFile(envFile)
	if err := godotenv.Load(envFile); err != nil {
		logging.Debug("env file not loaded, using process environment",
			zap.String("file", envFile), zap.Error(err))
	}
	return FromEnv()
}

// EnvFile returns path, or HDD_ENV_FILE, or ./.env.
func EnvFile(path string) string {
	if path != "" {
		return path
	}
	return getEnv("HDD_ENV_FILE", ".env")
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Host:      getEnv("APP_HOST", "127.0.0.1"),
		Port:      getEnv("APP_PORT", "8080"),
		Roots:     parseRoots(getEnv("ALLOWED_ROOTS", "")),
		JwtSecret: getEnv("JWT_SECRET", ""),
		TokenTTL:  getDuration("TOKEN_TTL", 8*time.Hour),
		Features: Features{
			Upload:         getBool("ENABLE_UPLOAD", false),
			Delete:         getBool("ENABLE_DELETE", false),
			Thumbnails:     getBool("ENABLE_THUMBNAILS", true),
			HEICConversion: getBool("ENABLE_HEIC_CONVERSION", false),
		},
		MaxTextPreviewBytes: getInt64("MAX_TEXT_PREVIEW_BYTES", 1_000_000),
		MaxSearchResults:    int(getInt64("MAX_SEARCH_RESULTS", 500)),
		SearchDefaultDepth:  int(getInt64("SEARCH_DEFAULT_DEPTH", 6)),
		MaxUploadBytes:      getInt64("MAX_UPLOAD_BYTES", 1<<30),
		ThumbMaxDim:         int(getInt64("THUMB_MAX_DIM", 256)),
		ThumbCacheDir:       getEnv("THUMB_CACHE_DIR", ".thumb_cache"),
		FFmpegPath:          getEnv("FFMPEG_PATH", "ffmpeg"),
		HeifConvertPath:     getEnv("HEIF_CONVERT_PATH", "heif-convert"),
		IndexEnabled:        getBool("INDEX_ENABLED", true),
		IndexDBPath:         getEnv("INDEX_DB_PATH", "index.db"),
		IndexInterval:       getDuration("INDEX_INTERVAL", 10*time.Minute),
		Admin: AdminStats{
			TimeBudget:       getDuration("ADMIN_STATS_TIME_BUDGET", 3*time.Second),
			MaxEntries:       int(getInt64("ADMIN_STATS_MAX_ENTRIES_PER_ROOT", 50_000)),
			RootCheckTimeout: getDuration("ADMIN_ROOT_CHECK_TIMEOUT", 500*time.Millisecond),
			CountBytes:       getBool("ADMIN_STATS_BYTES", true),
		},
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "json")),
		MetricsEnabled: getBool("METRICS_ENABLED", true),
	}

	users, err := loadUsers()
	if err != nil {
		return nil, err
	}
	cfg.Users = users

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and the rules tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	if len(cfg.Roots) == 0 {
		return fmt.Errorf("ALLOWED_ROOTS: at least one root must be configured")
	}
	ids := make(map[string]bool)
	for i, r := range cfg.Roots {
		if ids[r.ID] {
			return fmt.Errorf("ALLOWED_ROOTS[%d]: duplicate root id %q", i, r.ID)
		}
		ids[r.ID] = true
		if !filepath.IsAbs(r.Path) {
			return fmt.Errorf("ALLOWED_ROOTS[%d]: path %q is not absolute", i, r.Path)
		}
	}
	if len(cfg.Users) == 0 {
		return fmt.Errorf("no users configured: set USERS_FILE, USERS_JSON or AUTH_USERNAME/AUTH_PASSWORD")
	}
	names := make(map[string]bool)
	for _, u := range cfg.Users {
		if names[u.Username] {
			return fmt.Errorf("users: duplicate username %q", u.Username)
		}
		names[u.Username] = true
	}
	return nil
}

func formatValidationError(err error) error {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		e := errs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag", e.Namespace(), e.Tag())
	}
	return err
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(strings.TrimSpace(strings.ReplaceAll(v, "_", "")), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// getDuration accepts Go durations ("500ms") or plain seconds ("3.0").
func getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v = strings.TrimSpace(v)
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}

// Parse "id1:/path1,/path2" into root specs. A bare path takes its base name as id.
func parseRoots(raw string) []RootSpec {
	var roots []RootSpec
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		spec := RootSpec{Path: item}
		if !filepath.IsAbs(item) {
			if id, path, ok := strings.Cut(item, ":"); ok {
				spec = RootSpec{ID: strings.TrimSpace(id), Path: strings.TrimSpace(path)}
			}
		}
		spec.Path = filepath.Clean(spec.Path)
		if spec.ID == "" {
			spec.ID = filepath.Base(spec.Path)
			if spec.ID == string(filepath.Separator) || spec.ID == "." {
				spec.ID = "root"
			}
		}
		roots = append(roots, spec)
	}
	return roots
}
