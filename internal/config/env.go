package config

import (
	"encoding/hex"
	"image/color"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ViewerConfig drives the viewport engine and its filter backend.
type ViewerConfig struct {
	Margin         int
	Gap            int
	ViewportW      int
	ViewportH      int
	CacheCapacity  int
	KeepWindow     int
	PrefetchDelay  time.Duration
	PrefetchBehind int
	PrefetchAhead  int
	Background     string // hex RGB, e.g. "86b476"

	Mode      string
	Direction string
	PadStart  bool
	ZoomMode  string

	FilterBackend  string // "numeric"|"shader"
	GPUBackend     string // "vulkan"|"noop"
	ShaderDir      string
	ShaderStrength float64
	JPEGQuality    int
}

// StoreConfig configures the shared redis tier.
type StoreConfig struct {
	RedisURL     string
	Enabled      bool
	RasterTTL    time.Duration
	Timeout      time.Duration
	KeyNamespace string
}

// SourceConfig configures document fetching.
type SourceConfig struct {
	MaxBytes       int64
	FetchTimeout   time.Duration
	TempDir        string
	MaxInflight    int
	BreakerBase    time.Duration
	BreakerMax     time.Duration
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3Endpoint     string
	S3Password     string
	InitialDocPath string
}

// HTTPConfig configures the viewer's HTTP surface.
type HTTPConfig struct {
	Port            string
	Username        string
	Password        string
	ShutdownTimeout time.Duration
}

// Config is the top-level configuration.
type Config struct {
	Logging LoggingConfig
	Axiom   AxiomConfig
	Viewer  ViewerConfig
	Store   StoreConfig
	Source  SourceConfig
	HTTP    HTTPConfig
}

// Load reads an optional .env file and then the environment.
func Load(envFiles ...string) Config {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", f).Msg("failed to load env file")
		}
	}
	return FromEnv()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/spreadview.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_spreadview",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.Viewer = ViewerConfig{
		Margin:         parseInt(getEnv("VIEW_MARGIN", "6"), 6),
		Gap:            parseInt(getEnv("VIEW_GAP", "6"), 6),
		ViewportW:      parseInt(getEnv("VIEW_WIDTH", "1280"), 1280),
		ViewportH:      parseInt(getEnv("VIEW_HEIGHT", "900"), 900),
		CacheCapacity:  parseInt(getEnv("VIEW_CACHE_CAPACITY", "36"), 36),
		KeepWindow:     parseInt(getEnv("VIEW_KEEP_WINDOW", "10"), 10),
		PrefetchDelay:  parseDuration(getEnv("VIEW_PREFETCH_DELAY", "200ms"), 200*time.Millisecond),
		PrefetchBehind: parseInt(getEnv("VIEW_PREFETCH_BEHIND", "2"), 2),
		PrefetchAhead:  parseInt(getEnv("VIEW_PREFETCH_AHEAD", "4"), 4),
		Background:     getEnv("VIEW_BACKGROUND", "86b476"),
		Mode:           getEnv("VIEW_MODE", "two_up"),
		Direction:      getEnv("VIEW_DIRECTION", "ltr"),
		PadStart:       parseBool(getEnv("VIEW_PAD_START", "false")),
		ZoomMode:       getEnv("VIEW_ZOOM_MODE", "fit_page"),
		FilterBackend:  strings.ToLower(getEnv("FILTER_BACKEND", "numeric")),
		GPUBackend:     strings.ToLower(getEnv("GPU_BACKEND", "vulkan")),
		ShaderDir:      getEnv("SHADER_DIR", "shaders"),
		ShaderStrength: parseFloat(getEnv("SHADER_STRENGTH", "0.8"), 0.8),
		JPEGQuality:    parseInt(getEnv("JPEG_QUALITY", "85"), 85),
	}

	cfg.Store = StoreConfig{
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379"),
		Enabled:      parseBool(getEnv("STORE_ENABLED", "true")),
		RasterTTL:    parseDuration(getEnv("STORE_RASTER_TTL", "30m"), 30*time.Minute),
		Timeout:      parseDuration(getEnv("STORE_TIMEOUT", "500ms"), 500*time.Millisecond),
		KeyNamespace: getEnv("STORE_NAMESPACE", "spreadview"),
	}

	cfg.Source = SourceConfig{
		MaxBytes:       int64(parseInt(getEnv("SOURCE_MAX_MB", "512"), 512)) << 20,
		FetchTimeout:   parseDuration(getEnv("SOURCE_FETCH_TIMEOUT", "2m"), 2*time.Minute),
		TempDir:        getEnv("SOURCE_TEMP_DIR", ""),
		MaxInflight:    parseInt(getEnv("SOURCE_MAX_INFLIGHT_PER_HOST", "2"), 2),
		BreakerBase:    parseDuration(getEnv("SOURCE_BREAKER_BASE_BACKOFF", "30s"), 30*time.Second),
		BreakerMax:     parseDuration(getEnv("SOURCE_BREAKER_MAX_BACKOFF", "5m"), 5*time.Minute),
		S3Region:       getEnv("AWS_REGION", ""),
		S3AccessKey:    getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3Password:     getEnv("S3_DECRYPT_PASSWORD", ""),
		InitialDocPath: getEnv("OPEN_DOCUMENT", ""),
	}

	cfg.HTTP = HTTPConfig{
		Port:            getEnv("PORT", "8080"),
		Username:        getEnv("WEB_USERNAME", ""),
		Password:        getEnv("WEB_PASSWORD", ""),
		ShutdownTimeout: parseDuration(getEnv("SHUTDOWN_TIMEOUT", "10s"), 10*time.Second),
	}

	return cfg
}

// BackgroundColor parses Background, falling back to the default green.
func (v ViewerConfig) BackgroundColor() color.RGBA {
	def := color.RGBA{R: 0x86, G: 0xb4, B: 0x76, A: 0xff}
	b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(v.Background), "#"))
	if err != nil || len(b) != 3 {
		return def
	}
	return color.RGBA{R: b[0], G: b[1], B: b[2], A: 0xff}
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
