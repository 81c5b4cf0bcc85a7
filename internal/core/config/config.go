package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinCacheH3Res is the coarsest click cell (about 6 m2) the result cache accepts.
const MinCacheH3Res = 14

type TileCfg struct {
	BaseURL string
	APIKey  string
	Zoom    int
	Pixels  int
	Timeout time.Duration
}

type OracleCfg struct {
	URL        string
	Checkpoint string
	ModelType  string
	Timeout    time.Duration
	Warmup     bool
}

type SelectionCfg struct {
	MinAreaRatio     float64
	MaxAreaRatio     float64
	AreaPeak         float64
	ConfidenceWeight float64
}

type ResultCacheCfg struct {
	Enabled   bool
	Size      int
	TTL       time.Duration
	RedisAddr string
	OpTimeout time.Duration
	H3Res     int
}

type EventsCfg struct {
	Enabled  bool
	Brokers  string
	Topic    string
	Queue    int
	CellsRes int
}

type PMFBYCfg struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

type Config struct {
	Addr           string
	LogLevel       string
	LogConsole     bool
	LogSampleN     int
	MetricsEnabled bool
	MetricsPath    string
	Tile           TileCfg
	Oracle         OracleCfg
	Selection      SelectionCfg
	ResultCache    ResultCacheCfg
	Events         EventsCfg
	PMFBY          PMFBYCfg
}

// Load reads an optional .env file and then the environment.
func Load() (Config, error) {
	// missing .env is fine
	_ = godotenv.Load()

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func FromEnv() Config {
	return Config{
		Addr:           getenv("ADDR", ":8001"),
		LogLevel:       getenv("LOG_LEVEL", "info"),
		LogConsole:     getbool("LOG_CONSOLE", false),
		LogSampleN:     getint("LOG_SAMPLE_N", 0),
		MetricsEnabled: getbool("METRICS_ENABLED", true),
		MetricsPath:    getenv("METRICS_PATH", "/metrics"),
		Tile: TileCfg{
			BaseURL: getenv("MAPS_STATIC_URL", "https://maps.googleapis.com/maps/api/staticmap"),
			APIKey:  strings.TrimSpace(os.Getenv("GOOGLE_MAPS_API_KEY")),
			Zoom:    getint("TILE_ZOOM", 19),
			Pixels:  getint("TILE_PIXELS", 640),
			Timeout: getduration("TILE_TIMEOUT", 30*time.Second),
		},
		Oracle: OracleCfg{
			URL:        getenv("ORACLE_URL", "http://localhost:8500"),
			Checkpoint: getenv("ORACLE_CHECKPOINT", "sam_vit_h.pth"),
			ModelType:  getenv("ORACLE_MODEL_TYPE", "vit_h"),
			Timeout:    getduration("ORACLE_TIMEOUT", 5*time.Minute),
			Warmup:     getbool("ORACLE_WARMUP", false),
		},
		Selection: SelectionCfg{
			MinAreaRatio:     getfloat("SELECT_MIN_AREA_RATIO", 0.002),
			MaxAreaRatio:     getfloat("SELECT_MAX_AREA_RATIO", 0.80),
			AreaPeak:         getfloat("SELECT_AREA_PEAK", 0.25),
			ConfidenceWeight: getfloat("SELECT_CONFIDENCE_WEIGHT", 0.7),
		},
		ResultCache: ResultCacheCfg{
			Enabled:   getbool("RESULT_CACHE_ENABLED", false),
			Size:      getint("RESULT_CACHE_SIZE", 256),
			TTL:       getduration("RESULT_CACHE_TTL", 24*time.Hour),
			RedisAddr: getenv("REDIS_ADDR", ""),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			H3Res:     getint("H3_RES", 15),
		},
		Events: EventsCfg{
			Enabled:  getbool("EVENTS_ENABLED", false),
			Brokers:  getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:    getenv("KAFKA_TOPIC", "farm-segmentations"),
			Queue:    getint("EVENTS_QUEUE", 1024),
			CellsRes: getint("EVENTS_H3_RES", 12),
		},
		PMFBY: PMFBYCfg{
			URL:     getenv("PMFBY_API_URL", "http://localhost:5000"),
			APIKey:  strings.TrimSpace(os.Getenv("PMFBY_API_KEY")),
			Timeout: getduration("PMFBY_TIMEOUT", 60*time.Second),
		},
	}
}

// Validate checks ranges; the maps key is checked per request instead.
func (c Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, "ADDR is required")
	}
	if c.Tile.Zoom < 0 || c.Tile.Zoom > 21 {
		errs = append(errs, fmt.Sprintf("TILE_ZOOM must be 0-21, got %d", c.Tile.Zoom))
	}
	if c.Tile.Pixels <= 0 || c.Tile.Pixels > 640 {
		errs = append(errs, fmt.Sprintf("TILE_PIXELS must be 1-640, got %d", c.Tile.Pixels))
	}
	if c.Tile.Timeout <= 0 {
		errs = append(errs, "TILE_TIMEOUT must be positive")
	}
	if strings.TrimSpace(c.Oracle.URL) == "" {
		errs = append(errs, "ORACLE_URL is required")
	}
	if strings.TrimSpace(c.Oracle.Checkpoint) == "" {
		errs = append(errs, "ORACLE_CHECKPOINT is required")
	}
	s := c.Selection
	if s.MinAreaRatio < 0 || s.MaxAreaRatio > 1 || s.MinAreaRatio >= s.MaxAreaRatio {
		errs = append(errs, fmt.Sprintf("selection area bounds must satisfy 0<=min<max<=1, got [%g,%g]", s.MinAreaRatio, s.MaxAreaRatio))
	}
	if s.ConfidenceWeight < 0 || s.ConfidenceWeight > 1 {
		errs = append(errs, fmt.Sprintf("SELECT_CONFIDENCE_WEIGHT must be in [0,1], got %g", s.ConfidenceWeight))
	}
	if c.ResultCache.Enabled {
		if c.ResultCache.Size <= 0 {
			errs = append(errs, "RESULT_CACHE_SIZE must be positive")
		}
		// every click inside one cell is served the same cached polygon, so
		// the cell must be smaller than a field
		if c.ResultCache.H3Res < MinCacheH3Res || c.ResultCache.H3Res > 15 {
			errs = append(errs, fmt.Sprintf("H3_RES must be %d-15 when the result cache is on, got %d", MinCacheH3Res, c.ResultCache.H3Res))
		}
	}
	if c.Events.Enabled {
		if strings.TrimSpace(c.Events.Brokers) == "" {
			errs = append(errs, "KAFKA_BROKERS is required when EVENTS_ENABLED=true")
		}
		if c.Events.CellsRes < 0 || c.Events.CellsRes > 15 {
			errs = append(errs, fmt.Sprintf("EVENTS_H3_RES must be 0-15, got %d", c.Events.CellsRes))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// BrokerList splits the comma-separated broker list.
func (e EventsCfg) BrokerList() []string {
	var out []string
	for b := range strings.SplitSeq(e.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
