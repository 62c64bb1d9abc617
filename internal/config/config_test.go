package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != ":8000" {
		t.Fatalf("port = %q", cfg.HTTPPort)
	}
	if cfg.SpoolDir != "runtime/spool" {
		t.Fatalf("spool = %q", cfg.SpoolDir)
	}
	if cfg.DBPath != filepath.Join("runtime/work", "eamscan.db") {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if cfg.ChannelQueueSize != 64 || cfg.EvalTimeoutSec != 15 {
		t.Fatalf("queue=%d timeout=%d", cfg.ChannelQueueSize, cfg.EvalTimeoutSec)
	}

	d := cfg.Detector
	if d.AcceptThreshold != 40 || d.WindowSize != 3 || d.HeaderLength != 6 {
		t.Fatalf("detector defaults = %+v", d)
	}
	if d.CacheTTLMin != 30 || d.CacheSize != 4096 {
		t.Fatalf("cache defaults = %+v", d)
	}
	if len(d.TriggerPhrases) == 0 {
		t.Fatal("default trigger phrases missing")
	}
	if err := d.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("HTTP_PORT", "9100")
	t.Setenv("SPOOL_DIR", "/var/spool/eam")
	t.Setenv("DB_PATH", "/data/eam.db")
	t.Setenv("WEBHOOK_ENDPOINTS", "http://a/hook, http://b/hook ,")
	t.Setenv("CHANNEL_QUEUE_SIZE", "9999")
	t.Setenv("DETECT_ACCEPT_THRESHOLD", "55")
	t.Setenv("DETECT_WINDOW_SIZE", "4")
	t.Setenv("DETECT_BODY_SIMILARITY", "0.8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != ":9100" {
		t.Fatalf("port = %q, want colon-prefixed", cfg.HTTPPort)
	}
	if cfg.SpoolDir != "/var/spool/eam" || cfg.DBPath != "/data/eam.db" {
		t.Fatalf("dirs = %q %q", cfg.SpoolDir, cfg.DBPath)
	}
	if len(cfg.WebhookEndpoints) != 2 || cfg.WebhookEndpoints[1] != "http://b/hook" {
		t.Fatalf("endpoints = %v", cfg.WebhookEndpoints)
	}
	if cfg.ChannelQueueSize != 1024 {
		t.Fatalf("queue = %d, want clamped to 1024", cfg.ChannelQueueSize)
	}
	if cfg.Detector.AcceptThreshold != 55 || cfg.Detector.WindowSize != 4 {
		t.Fatalf("detector = %+v", cfg.Detector)
	}
	if cfg.Detector.BodySimilarity != 0.8 {
		t.Fatalf("similarity = %v", cfg.Detector.BodySimilarity)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
spool_dir: /srv/spool
http_port: "7777"
webhook_endpoints:
  - http://hooks.local/eam
detector:
  accept_threshold: 50
  trigger_phrases:
    - skyking
    - foxtrot broadcast
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SpoolDir != "/srv/spool" || cfg.HTTPPort != ":7777" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Detector.AcceptThreshold != 50 {
		t.Fatalf("threshold = %d", cfg.Detector.AcceptThreshold)
	}
	if len(cfg.Detector.TriggerPhrases) != 2 || cfg.Detector.TriggerPhrases[1] != "foxtrot broadcast" {
		t.Fatalf("phrases = %v", cfg.Detector.TriggerPhrases)
	}
	// File values lose to env.
	t.Setenv("HTTP_PORT", "8888")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.HTTPPort != ":8888" {
		t.Fatalf("env should win over file, port = %q", cfg.HTTPPort)
	}
}

func TestLoadPartialWeightsBlock(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
detector:
  weights:
    indicator_weight: 20
    noise_cap: 30
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	w := cfg.Detector.Weights
	if w.IndicatorWeight != 20 || w.NoiseCap != 30 {
		t.Fatalf("named weights not applied: %+v", w)
	}
	def := DefaultDetectorConfig().Weights
	if w.HeaderWeight != def.HeaderWeight || w.IndicatorCap != def.IndicatorCap {
		t.Fatalf("unnamed weights lost their defaults: %+v", w)
	}
	if w.SegmentWeight != def.SegmentWeight || w.NoiseWeight != def.NoiseWeight || w.RepeatPenalty != def.RepeatPenalty {
		t.Fatalf("unnamed weights lost their defaults: %+v", w)
	}
}

func TestStrictConfigRejectsBadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(":\nnot yaml: ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	t.Setenv("STRICT_CONFIG", "false")
	if _, err := Load(); err != nil {
		t.Fatalf("lenient mode should fall back to defaults: %v", err)
	}

	t.Setenv("STRICT_CONFIG", "true")
	if _, err := Load(); err == nil {
		t.Fatal("strict mode should reject an unreadable config file")
	}
}

func TestDetectorValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*DetectorConfig)
	}{
		{"threshold above 100", func(d *DetectorConfig) { d.AcceptThreshold = 101 }},
		{"window size one", func(d *DetectorConfig) { d.WindowSize = 1 }},
		{"zero header length", func(d *DetectorConfig) { d.HeaderLength = 0 }},
		{"zero radius", func(d *DetectorConfig) { d.WindowRadiusSec = 0 }},
		{"similarity above one", func(d *DetectorConfig) { d.BodySimilarity = 1.5 }},
		{"no phrases", func(d *DetectorConfig) { d.TriggerPhrases = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := DefaultDetectorConfig()
			tc.mutate(&d)
			if err := d.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
