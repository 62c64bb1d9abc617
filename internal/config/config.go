package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration derived from environment variables and an
// optional YAML config file. Environment wins over file, file wins over
// defaults.
type Config struct {
	HTTPPort         string
	SpoolDir         string
	WorkDir          string
	DBPath           string
	WebhookEndpoints []string
	ChannelQueueSize int
	EvalTimeoutSec   int
	StrictConfig     bool
	LogLevel         string
	Detector         DetectorConfig
}

type fileConfig struct {
	SpoolDir         string             `json:"spool_dir" yaml:"spool_dir"`
	WorkDir          string             `json:"work_dir" yaml:"work_dir"`
	DBPath           string             `json:"db_path" yaml:"db_path"`
	HTTPPort         string             `json:"http_port" yaml:"http_port"`
	WebhookEndpoints []string           `json:"webhook_endpoints" yaml:"webhook_endpoints"`
	Detector         detectorFileConfig `json:"detector" yaml:"detector"`
}

const (
	defaultPort           = ":8000"
	defaultSpoolDir       = "runtime/spool"
	defaultWorkDir        = "runtime/work"
	defaultDBFile         = "eamscan.db"
	minChannelQueue       = 1
	defaultChannelQueue   = 64
	maxChannelQueue       = 1024
	defaultEvalTimeoutSec = 15
)

// Load reads configuration from environment variables and applies sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ChannelQueueSize: defaultChannelQueue,
		EvalTimeoutSec:   defaultEvalTimeoutSec,
		StrictConfig:     parseBoolEnv("STRICT_CONFIG"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		Detector:         DefaultDetectorConfig(),
	}

	configPath := getEnv("CONFIG_PATH", filepath.Join("config", "config.yaml"))
	fileCfg, fileErr := loadFileConfig(configPath)
	if fileErr != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("config load failed (%s): %w", configPath, fileErr)
		}
		log.Printf("config load failed (%s): %v (using defaults)", configPath, fileErr)
	}

	cfg.Detector = applyDetectorOverrides(cfg.Detector, fileCfg.Detector)

	cfg.SpoolDir = firstNonEmpty(os.Getenv("SPOOL_DIR"), fileCfg.SpoolDir, defaultSpoolDir)
	cfg.WorkDir = firstNonEmpty(os.Getenv("WORK_DIR"), fileCfg.WorkDir, defaultWorkDir)
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	} else if fileCfg.DBPath != "" {
		cfg.DBPath = fileCfg.DBPath
	} else {
		cfg.DBPath = filepath.Join(cfg.WorkDir, defaultDBFile)
	}

	cfg.HTTPPort = firstNonEmpty(os.Getenv("HTTP_PORT"), fileCfg.HTTPPort, defaultPort)
	if !strings.HasPrefix(cfg.HTTPPort, ":") {
		cfg.HTTPPort = ":" + cfg.HTTPPort
	}

	cfg.WebhookEndpoints = fileCfg.WebhookEndpoints
	if v := strings.TrimSpace(os.Getenv("WEBHOOK_ENDPOINTS")); v != "" {
		cfg.WebhookEndpoints = splitAndTrim(v)
	}

	if v := os.Getenv("CHANNEL_QUEUE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid CHANNEL_QUEUE_SIZE=%q, using default %d", v, defaultChannelQueue)
			n = defaultChannelQueue
		}
		cfg.ChannelQueueSize = clampInt(n, minChannelQueue, maxChannelQueue)
	}

	if v := os.Getenv("EVAL_TIMEOUT_SEC"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid EVAL_TIMEOUT_SEC: %w", err)
		}
		if n <= 0 {
			return cfg, fmt.Errorf("EVAL_TIMEOUT_SEC must be positive")
		}
		cfg.EvalTimeoutSec = n
	}

	if err := applyDetectorEnv(&cfg.Detector); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("detector env override failed: %v (using file/defaults)", err)
	}

	if err := validateConfig(cfg); err != nil {
		if cfg.StrictConfig {
			return cfg, err
		}
		log.Printf("config validation failed: %v (continuing)", err)
	}

	return cfg, nil
}

// EvalTimeout converts the configured timeout into a duration.
func (c Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutSec) * time.Second
}

func loadFileConfig(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty config file")
	}
	// JSON is accepted because it is a subset of YAML 1.2.
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.SpoolDir) == "" {
		return errors.New("SPOOL_DIR is required")
	}
	if strings.TrimSpace(cfg.HTTPPort) == "" {
		return errors.New("HTTP_PORT is required")
	}
	return cfg.Detector.Validate()
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseIntEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.Atoi(raw)
	return val, true, err
}

func parseFloatEnv(key string) (float64, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	val, err := strconv.ParseFloat(raw, 64)
	return val, true, err
}
