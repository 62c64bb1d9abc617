package config

import (
	"errors"
	"fmt"
	"strings"
)

// DetectorConfig captures detection tuning: scoring weights, the accept
// threshold, window geometry, dedup lookback, cache bounds and the trigger
// phrases that mark structured traffic. The scoring weights are policy, not
// contract; they can be changed via config.yaml without touching code.
type DetectorConfig struct {
	AcceptThreshold   int      `json:"accept_threshold" yaml:"accept_threshold"`
	WindowSize        int      `json:"window_size" yaml:"window_size"`
	HeaderLength      int      `json:"header_length" yaml:"header_length"`
	WindowRadiusSec   int      `json:"window_radius_sec" yaml:"window_radius_sec"`
	RepeatLookbackMin int      `json:"repeat_lookback_min" yaml:"repeat_lookback_min"`
	BodySimilarity    float64  `json:"body_similarity" yaml:"body_similarity"`
	CacheSize         int      `json:"cache_size" yaml:"cache_size"`
	CacheTTLMin       int      `json:"cache_ttl_min" yaml:"cache_ttl_min"`
	TriggerPhrases    []string `json:"trigger_phrases" yaml:"trigger_phrases"`
	Weights           Weights  `json:"weights" yaml:"weights"`
}

// Weights are the components of the confidence formula.
type Weights struct {
	IndicatorWeight int `json:"indicator_weight" yaml:"indicator_weight"`
	IndicatorCap    int `json:"indicator_cap" yaml:"indicator_cap"`
	HeaderWeight    int `json:"header_weight" yaml:"header_weight"`
	SegmentWeight   int `json:"segment_weight" yaml:"segment_weight"`
	SegmentCap      int `json:"segment_cap" yaml:"segment_cap"`
	NoiseWeight     int `json:"noise_weight" yaml:"noise_weight"`
	NoiseCap        int `json:"noise_cap" yaml:"noise_cap"`
	RepeatPenalty   int `json:"repeat_penalty" yaml:"repeat_penalty"`
}

type detectorFileConfig struct {
	AcceptThreshold   *int               `json:"accept_threshold" yaml:"accept_threshold"`
	WindowSize        *int               `json:"window_size" yaml:"window_size"`
	HeaderLength      *int               `json:"header_length" yaml:"header_length"`
	WindowRadiusSec   *int               `json:"window_radius_sec" yaml:"window_radius_sec"`
	RepeatLookbackMin *int               `json:"repeat_lookback_min" yaml:"repeat_lookback_min"`
	BodySimilarity    *float64           `json:"body_similarity" yaml:"body_similarity"`
	CacheSize         *int               `json:"cache_size" yaml:"cache_size"`
	CacheTTLMin       *int               `json:"cache_ttl_min" yaml:"cache_ttl_min"`
	TriggerPhrases    []string           `json:"trigger_phrases" yaml:"trigger_phrases"`
	Weights           *weightsFileConfig `json:"weights" yaml:"weights"`
}

// weightsFileConfig mirrors Weights with pointer fields so a partial weights
// block in the config file overrides only the fields it names.
type weightsFileConfig struct {
	IndicatorWeight *int `json:"indicator_weight" yaml:"indicator_weight"`
	IndicatorCap    *int `json:"indicator_cap" yaml:"indicator_cap"`
	HeaderWeight    *int `json:"header_weight" yaml:"header_weight"`
	SegmentWeight   *int `json:"segment_weight" yaml:"segment_weight"`
	SegmentCap      *int `json:"segment_cap" yaml:"segment_cap"`
	NoiseWeight     *int `json:"noise_weight" yaml:"noise_weight"`
	NoiseCap        *int `json:"noise_cap" yaml:"noise_cap"`
	RepeatPenalty   *int `json:"repeat_penalty" yaml:"repeat_penalty"`
}

// DefaultDetectorConfig returns the baked-in detection defaults.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		AcceptThreshold:   40,
		WindowSize:        3,
		HeaderLength:      6,
		WindowRadiusSec:   300,
		RepeatLookbackMin: 15,
		BodySimilarity:    0.9,
		CacheSize:         4096,
		CacheTTLMin:       30,
		TriggerPhrases: []string{
			"skyking",
			"stand by for traffic",
			"message follows",
			"i say again",
			"do not answer",
			"message of",
			"authentication",
		},
		Weights: Weights{
			IndicatorWeight: 15,
			IndicatorCap:    45,
			HeaderWeight:    25,
			SegmentWeight:   8,
			SegmentCap:      24,
			NoiseWeight:     6,
			NoiseCap:        18,
			RepeatPenalty:   20,
		},
	}
}

// Validate checks detector tuning for values that would break evaluation.
func (d DetectorConfig) Validate() error {
	if d.AcceptThreshold < 0 || d.AcceptThreshold > 100 {
		return fmt.Errorf("detector accept_threshold must be 0-100 (got %d)", d.AcceptThreshold)
	}
	if d.WindowSize < 2 {
		return errors.New("detector window_size must be at least 2")
	}
	if d.HeaderLength < 1 {
		return errors.New("detector header_length must be positive")
	}
	if d.WindowRadiusSec <= 0 {
		return errors.New("detector window_radius_sec must be positive")
	}
	if d.RepeatLookbackMin <= 0 {
		return errors.New("detector repeat_lookback_min must be positive")
	}
	if d.BodySimilarity <= 0 || d.BodySimilarity > 1 {
		return fmt.Errorf("detector body_similarity must be in (0,1] (got %v)", d.BodySimilarity)
	}
	if d.CacheSize <= 0 {
		return errors.New("detector cache_size must be positive")
	}
	if d.CacheTTLMin <= 0 {
		return errors.New("detector cache_ttl_min must be positive")
	}
	if len(d.TriggerPhrases) == 0 {
		return errors.New("detector trigger_phrases must not be empty")
	}
	return nil
}

func applyDetectorOverrides(base DetectorConfig, override detectorFileConfig) DetectorConfig {
	if override.AcceptThreshold != nil {
		base.AcceptThreshold = *override.AcceptThreshold
	}
	if override.WindowSize != nil && *override.WindowSize > 0 {
		base.WindowSize = *override.WindowSize
	}
	if override.HeaderLength != nil && *override.HeaderLength > 0 {
		base.HeaderLength = *override.HeaderLength
	}
	if override.WindowRadiusSec != nil && *override.WindowRadiusSec > 0 {
		base.WindowRadiusSec = *override.WindowRadiusSec
	}
	if override.RepeatLookbackMin != nil && *override.RepeatLookbackMin > 0 {
		base.RepeatLookbackMin = *override.RepeatLookbackMin
	}
	if override.BodySimilarity != nil && *override.BodySimilarity > 0 {
		base.BodySimilarity = *override.BodySimilarity
	}
	if override.CacheSize != nil && *override.CacheSize > 0 {
		base.CacheSize = *override.CacheSize
	}
	if override.CacheTTLMin != nil && *override.CacheTTLMin > 0 {
		base.CacheTTLMin = *override.CacheTTLMin
	}
	if len(override.TriggerPhrases) > 0 {
		phrases := make([]string, 0, len(override.TriggerPhrases))
		for _, p := range override.TriggerPhrases {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				phrases = append(phrases, trimmed)
			}
		}
		if len(phrases) > 0 {
			base.TriggerPhrases = phrases
		}
	}
	if override.Weights != nil {
		w := override.Weights
		if w.IndicatorWeight != nil {
			base.Weights.IndicatorWeight = *w.IndicatorWeight
		}
		if w.IndicatorCap != nil {
			base.Weights.IndicatorCap = *w.IndicatorCap
		}
		if w.HeaderWeight != nil {
			base.Weights.HeaderWeight = *w.HeaderWeight
		}
		if w.SegmentWeight != nil {
			base.Weights.SegmentWeight = *w.SegmentWeight
		}
		if w.SegmentCap != nil {
			base.Weights.SegmentCap = *w.SegmentCap
		}
		if w.NoiseWeight != nil {
			base.Weights.NoiseWeight = *w.NoiseWeight
		}
		if w.NoiseCap != nil {
			base.Weights.NoiseCap = *w.NoiseCap
		}
		if w.RepeatPenalty != nil {
			base.Weights.RepeatPenalty = *w.RepeatPenalty
		}
	}
	return base
}

func applyDetectorEnv(d *DetectorConfig) error {
	if v, ok, err := parseIntEnv("DETECT_ACCEPT_THRESHOLD"); err != nil {
		return fmt.Errorf("invalid DETECT_ACCEPT_THRESHOLD: %w", err)
	} else if ok {
		d.AcceptThreshold = v
	}
	if v, ok, err := parseIntEnv("DETECT_WINDOW_SIZE"); err != nil {
		return fmt.Errorf("invalid DETECT_WINDOW_SIZE: %w", err)
	} else if ok && v > 0 {
		d.WindowSize = v
	}
	if v, ok, err := parseIntEnv("DETECT_WINDOW_RADIUS_SEC"); err != nil {
		return fmt.Errorf("invalid DETECT_WINDOW_RADIUS_SEC: %w", err)
	} else if ok && v > 0 {
		d.WindowRadiusSec = v
	}
	if v, ok, err := parseIntEnv("DETECT_REPEAT_LOOKBACK_MIN"); err != nil {
		return fmt.Errorf("invalid DETECT_REPEAT_LOOKBACK_MIN: %w", err)
	} else if ok && v > 0 {
		d.RepeatLookbackMin = v
	}
	if v, ok, err := parseFloatEnv("DETECT_BODY_SIMILARITY"); err != nil {
		return fmt.Errorf("invalid DETECT_BODY_SIMILARITY: %w", err)
	} else if ok && v > 0 {
		d.BodySimilarity = v
	}
	if v, ok, err := parseIntEnv("DETECT_CACHE_SIZE"); err != nil {
		return fmt.Errorf("invalid DETECT_CACHE_SIZE: %w", err)
	} else if ok && v > 0 {
		d.CacheSize = v
	}
	if v, ok, err := parseIntEnv("DETECT_CACHE_TTL_MIN"); err != nil {
		return fmt.Errorf("invalid DETECT_CACHE_TTL_MIN: %w", err)
	} else if ok && v > 0 {
		d.CacheTTLMin = v
	}
	return nil
}
