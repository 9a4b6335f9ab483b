package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database    DatabaseConfig
	Storage     StorageConfig
	Embedding   EmbeddingConfig
	Quality     QualityConfig     `yaml:"quality"`
	Match       MatchConfig       `yaml:"match"`
	Enrollment  EnrollmentConfig  `yaml:"enrollment"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Web         WebConfig
	Log         LogConfig
}

type DatabaseConfig struct {
	Driver        string // sqlite (default), postgres or mariadb
	URL           string // PostgreSQL URL or MariaDB DSN
	Path          string // SQLite database file
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the embedding HNSW index (optional, rebuilt on startup if empty)
}

type StorageConfig struct {
	Type      string // local (default) or s3
	LocalRoot string
	S3        S3Config
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type EmbeddingConfig struct {
	URL     string        // defaults to http://localhost:8000
	Timeout time.Duration // defaults to 30s
	Dim     int           // defaults to 512
}

// QualityConfig holds the quality gate thresholds.
type QualityConfig struct {
	MinBrightness         float64 `yaml:"min_brightness" json:"min_brightness"`
	MaxBrightness         float64 `yaml:"max_brightness" json:"max_brightness"`
	MinContrast           float64 `yaml:"min_contrast" json:"min_contrast"`
	MinSharpness          float64 `yaml:"min_sharpness" json:"min_sharpness"`
	RequireFace           bool    `yaml:"require_face" json:"require_face"`
	MinFaceSizeRatio      float64 `yaml:"min_face_size_ratio" json:"min_face_size_ratio"`
	MinFaceWidthPx        float64 `yaml:"min_face_width_px" json:"min_face_width_px"`
	FullCreditFaceWidthPx float64 `yaml:"full_credit_face_width_px" json:"full_credit_face_width_px"`
	MaxRollDegrees        float64 `yaml:"max_roll_degrees" json:"max_roll_degrees"`
	PassScore             int     `yaml:"pass_score" json:"pass_score"`
	AnalysisWidth         int     `yaml:"analysis_width" json:"analysis_width"`
}

type MatchConfig struct {
	Threshold        float64       `yaml:"threshold"`
	TieEpsilon       float64       `yaml:"tie_epsilon"`
	ShortlistMinPool int           `yaml:"shortlist_min_pool"`
	ShortlistK       int           `yaml:"shortlist_k"`
	FrameBudget      time.Duration `yaml:"frame_budget"`
}

type EnrollmentConfig struct {
	Poses                 []string `yaml:"poses"`
	MinUploadPhotos       int      `yaml:"min_upload_photos"`
	ExtractConcurrency    int      `yaml:"extract_concurrency"`
	DuplicateHashDistance int      `yaml:"duplicate_hash_distance"`
	MaxPhotoDimension     int      `yaml:"max_photo_dimension"`
}

type RecognitionConfig struct {
	Interval          time.Duration `yaml:"interval"`
	MaxInFlight       int           `yaml:"max_in_flight"`
	CandidateCacheTTL time.Duration `yaml:"candidate_cache_ttl"`
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	AdminToken     string // bearer token for admin routes; empty disables the check
}

type LogConfig struct {
	Level     string // debug, info, warn, error
	Format    string // json or text
	File      string // optional rotating log file, in addition to stderr
	MaxSizeMB int    // rotate after this many megabytes
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a non-negative float.
// Returns the default value if the env var is unset, empty, or invalid.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return f
	}
	return defaultVal
}

// envBool reads an environment variable as a boolean (1, t, true, 0, f, false...).
func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envString returns the env var or the default when it is empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envDuration parses a positive Go duration such as "700ms".
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envList splits a comma-separated env var, dropping empty items.
func envList(key string, defaultVal []string) []string {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func Load() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	cfg.Database = DatabaseConfig{
		Driver:        strings.ToLower(envString("DATABASE_DRIVER", "sqlite")),
		URL:           os.Getenv("DATABASE_URL"),
		Path:          envString("DATABASE_PATH", "data/attendance.db"),
		MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
		HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
	}
	cfg.Storage = StorageConfig{
		Type:      strings.ToLower(envString("STORAGE_TYPE", "local")),
		LocalRoot: envString("STORAGE_LOCAL_ROOT", "data/photos"),
		S3: S3Config{
			Endpoint:  os.Getenv("S3_ENDPOINT"),
			Bucket:    envString("S3_BUCKET", "attendance"),
			Region:    envString("S3_REGION", "us-east-1"),
			AccessKey: os.Getenv("S3_ACCESS_KEY"),
			SecretKey: os.Getenv("S3_SECRET_KEY"),
			UseSSL:    envBool("S3_USE_SSL", true),
		},
	}
	cfg.Embedding = EmbeddingConfig{
		URL:     envString("EMBEDDING_URL", "http://localhost:8000"),
		Timeout: envDuration("EMBEDDING_TIMEOUT", 30*time.Second),
		Dim:     envInt("EMBEDDING_DIM", 512),
	}

	q := &cfg.Quality
	q.MinBrightness = envFloat("QUALITY_MIN_BRIGHTNESS", q.MinBrightness)
	q.MaxBrightness = envFloat("QUALITY_MAX_BRIGHTNESS", q.MaxBrightness)
	q.MinContrast = envFloat("QUALITY_MIN_CONTRAST", q.MinContrast)
	q.MinSharpness = envFloat("QUALITY_MIN_SHARPNESS", q.MinSharpness)
	q.RequireFace = envBool("QUALITY_REQUIRE_FACE", q.RequireFace)
	q.MinFaceSizeRatio = envFloat("QUALITY_MIN_FACE_SIZE_RATIO", q.MinFaceSizeRatio)
	q.MinFaceWidthPx = envFloat("QUALITY_MIN_FACE_WIDTH_PX", q.MinFaceWidthPx)
	q.MaxRollDegrees = envFloat("QUALITY_MAX_ROLL_DEGREES", q.MaxRollDegrees)
	q.PassScore = envInt("QUALITY_PASS_SCORE", q.PassScore)

	m := &cfg.Match
	m.Threshold = envFloat("FACE_SIM_THRESHOLD", m.Threshold)
	m.TieEpsilon = envFloat("MATCH_TIE_EPSILON", m.TieEpsilon)
	m.ShortlistMinPool = envInt("MATCH_SHORTLIST_MIN_POOL", m.ShortlistMinPool)
	m.ShortlistK = envInt("MATCH_SHORTLIST_K", m.ShortlistK)
	m.FrameBudget = envDuration("RECOGNIZE_BUDGET", m.FrameBudget)

	e := &cfg.Enrollment
	e.Poses = envList("ENROLL_POSES", e.Poses)
	e.MinUploadPhotos = envInt("ENROLL_MIN_PHOTOS", e.MinUploadPhotos)
	e.ExtractConcurrency = envInt("ENROLL_CONCURRENCY", e.ExtractConcurrency)
	e.DuplicateHashDistance = envInt("ENROLL_DUPLICATE_DISTANCE", e.DuplicateHashDistance)
	e.MaxPhotoDimension = envInt("ENROLL_MAX_PHOTO_DIMENSION", e.MaxPhotoDimension)

	r := &cfg.Recognition
	r.Interval = envDuration("RECOGNITION_INTERVAL", r.Interval)
	r.MaxInFlight = envInt("RECOGNITION_MAX_IN_FLIGHT", r.MaxInFlight)
	r.CandidateCacheTTL = envDuration("RECOGNITION_CACHE_TTL", r.CandidateCacheTTL)

	cfg.Web = WebConfig{
		Host:           envString("WEB_HOST", "0.0.0.0"),
		Port:           envInt("WEB_PORT", 8080),
		AllowedOrigins: envList("WEB_ALLOWED_ORIGINS", nil),
		AdminToken:     os.Getenv("WEB_ADMIN_TOKEN"),
	}
	cfg.Log = LogConfig{
		Level:     strings.ToLower(envString("LOG_LEVEL", "info")),
		Format:    strings.ToLower(envString("LOG_FORMAT", "text")),
		File:      os.Getenv("LOG_FILE"),
		MaxSizeMB: envInt("LOG_MAX_SIZE_MB", 100),
	}

	return &cfg
}
