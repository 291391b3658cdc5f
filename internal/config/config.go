package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/genricoloni/asciivid/internal/ascii"
	"github.com/genricoloni/asciivid/internal/domain"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	envPrefix     = "ASCIIVID_"
	envConfigFile = "ASCIIVID_CONFIG"
)

// Settings is the raw, layered form of the configuration written by the YAML
// file, the environment and command line flags. Width, Height and TargetFPS
// use 0 for "from the terminal" and "from the media".
type Settings struct {
	Preset             string        `yaml:"preset"`
	Algorithm          string        `yaml:"algorithm"`
	Quality            string        `yaml:"quality"`
	Style              string        `yaml:"style"`
	Width              int           `yaml:"width"`
	Height             int           `yaml:"height"`
	TargetFPS          float64       `yaml:"target_fps"`
	Speed              float64       `yaml:"speed"`
	BufferSize         int           `yaml:"buffer_size"`
	Workers            int           `yaml:"workers"`
	DropPolicy         string        `yaml:"drop_policy"`
	ReorderWindow      int           `yaml:"reorder_window"`
	MaxDecodeWidth     int           `yaml:"max_decode_width"`
	Fullscreen         bool          `yaml:"fullscreen"`
	NoUI               bool          `yaml:"no_ui"`
	NoPerformance      bool          `yaml:"no_performance"`
	Verbose            bool          `yaml:"verbose"`
	LogFile            string        `yaml:"log_file"`
	AdaptInterval      time.Duration `yaml:"adapt_interval"`
	SampleInterval     time.Duration `yaml:"sample_interval"`
	CPUThreshold       float64       `yaml:"cpu_threshold"`
	MemoryThreshold    float64       `yaml:"memory_threshold"`
	FrameDropThreshold float64       `yaml:"frame_drop_threshold"`
	DebounceTicks      int           `yaml:"debounce_ticks"`
	UpgradeTicks       int           `yaml:"upgrade_ticks"`
	EdgePreBlur        bool          `yaml:"edge_pre_blur"`
	ExitOnEnd          bool          `yaml:"exit_on_end"`
	PauseOnLock        bool          `yaml:"pause_on_lock"`
}

// Overrides are settings given on the command line, keyed like the YAML file
// (e.g. "buffer_size"). Values are parsed the same way as environment variables.
type Overrides map[string]string

// AppConfig is the validated configuration snapshot
type AppConfig struct {
	MediaPath string
	Preset    string
	Algorithm domain.Algorithm
	Quality   domain.QualityLevel // ceiling for the adaptive controller
	Style     ascii.Style

	Width          int
	Height         int
	TargetFPS      float64
	Speed          float64
	BufferSize     int
	Workers        int
	DropPolicy     domain.DropPolicy
	ReorderWindow  int
	MaxDecodeWidth int

	Fullscreen    bool
	NoUI          bool
	NoPerformance bool
	Verbose       bool
	LogFile       string

	AdaptInterval      time.Duration
	SampleInterval     time.Duration
	CPUThreshold       float64
	MemoryThreshold    float64
	FrameDropThreshold float64
	DebounceTicks      int
	UpgradeTicks       int

	EdgePreBlur bool
	ExitOnEnd   bool
	PauseOnLock bool
}

// DefaultSettings returns the built-in defaults
func DefaultSettings() Settings {
	return Settings{
		Algorithm:          "luminance",
		Quality:            "standard",
		Style:              "detailed",
		Speed:              1.0,
		BufferSize:         10,
		Workers:            4,
		DropPolicy:         "drop-oldest",
		ReorderWindow:      8,
		MaxDecodeWidth:     960,
		LogFile:            filepath.Join(os.TempDir(), "asciivid.log"),
		AdaptInterval:      time.Second,
		SampleInterval:     500 * time.Millisecond,
		CPUThreshold:       80,
		MemoryThreshold:    80,
		FrameDropThreshold: 0.8,
		DebounceTicks:      3,
		UpgradeTicks:       5,
		ExitOnEnd:          true,
		PauseOnLock:        true,
	}
}

// presets adjust the defaults before the file, environment and flags apply
var presets = map[string]func(*Settings){
	"performance": func(s *Settings) {
		s.Style, s.Algorithm = "minimal", "average"
		s.BufferSize, s.Workers = 5, 2
		s.NoPerformance = true
	},
	"quality": func(s *Settings) {
		s.Style, s.Algorithm = "detailed", "luminance"
		s.BufferSize, s.Workers = 20, 8
		s.NoPerformance = false
	},
	"minimal": func(s *Settings) {
		s.Style, s.Algorithm = "blocks", "average"
		s.BufferSize, s.Workers = 3, 1
		s.NoUI, s.NoPerformance = true, true
	},
	"presentation": func(s *Settings) {
		s.Style, s.Algorithm = "gradient", "luminance"
		s.BufferSize, s.Workers = 15, 4
		s.NoPerformance = true
	},
}

// Presets returns the names of the built-in presets
func Presets() []string {
	return []string{"performance", "quality", "minimal", "presentation"}
}

// NewAppConfig builds the configuration for mediaPath from, in order:
// defaults, the preset, the YAML file, ASCIIVID_* environment variables and
// command line overrides.
func NewAppConfig(logger *zap.Logger, mediaPath string, overrides Overrides) (*AppConfig, error) {
	s := DefaultSettings()

	// 1. Read the file once; the preset it names is needed before it applies
	path, explicit := configPath()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		data = nil
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var peek struct {
		Preset string `yaml:"preset"`
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &peek); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	// 2. Preset: flag > env > file
	preset := peek.Preset
	if v := os.Getenv(envPrefix + "PRESET"); v != "" {
		preset = v
	}
	if v, ok := overrides["preset"]; ok {
		preset = v
	}
	if preset != "" {
		apply, ok := presets[strings.ToLower(preset)]
		if !ok {
			return nil, fmt.Errorf("unknown preset %q", preset)
		}
		apply(&s)
		s.Preset = strings.ToLower(preset)
	}

	// 3. File values override the preset; keys not present keep theirs
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &s); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		s.Preset = strings.ToLower(preset)
	}

	// 4. Environment
	for _, key := range settingKeys {
		if key == "preset" {
			continue
		}
		if v, ok := os.LookupEnv(envPrefix + strings.ToUpper(key)); ok {
			if err := s.Set(key, v); err != nil {
				return nil, fmt.Errorf("%s%s: %w", envPrefix, strings.ToUpper(key), err)
			}
		}
	}

	// 5. Command line
	for key, v := range overrides {
		if key == "preset" {
			continue
		}
		if err := s.Set(key, v); err != nil {
			return nil, fmt.Errorf("--%s: %w", strings.ReplaceAll(key, "_", "-"), err)
		}
	}

	cfg, err := s.Resolve(mediaPath)
	if err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded",
		zap.String("media", cfg.MediaPath),
		zap.String("preset", cfg.Preset),
		zap.Stringer("algorithm", cfg.Algorithm),
		zap.Stringer("quality", cfg.Quality),
		zap.String("style", cfg.Style.Name),
		zap.Int("workers", cfg.Workers),
		zap.Int("bufferSize", cfg.BufferSize),
		zap.Stringer("dropPolicy", cfg.DropPolicy))

	return cfg, nil
}

// configPath returns the YAML file location and whether it was set explicitly
func configPath() (string, bool) {
	if p := os.Getenv(envConfigFile); p != "" {
		return expandPath(p), true
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", false
	}
	return filepath.Join(dir, "asciivid", "config.yaml"), false
}

// expandPath expands environment variables and a leading ~
func expandPath(p string) string {
	p = os.ExpandEnv(p)
	if strings.HasPrefix(p, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, p[1:])
		}
	}
	return p
}

// settingKeys lists every key accepted by Set, in YAML spelling
var settingKeys = []string{
	"preset", "algorithm", "quality", "style", "width", "height", "target_fps", "speed",
	"buffer_size", "workers", "drop_policy", "reorder_window", "max_decode_width",
	"fullscreen", "no_ui", "no_performance", "verbose", "log_file",
	"adapt_interval", "sample_interval", "cpu_threshold", "memory_threshold",
	"frame_drop_threshold", "debounce_ticks", "upgrade_ticks",
	"edge_pre_blur", "exit_on_end", "pause_on_lock",
}

// Set parses value into the setting named key
func (s *Settings) Set(key, value string) error {
	value = strings.TrimSpace(value)
	var err error
	switch strings.ReplaceAll(strings.ToLower(key), "-", "_") {
	case "preset":
		s.Preset = value
	case "algorithm":
		s.Algorithm = value
	case "quality":
		s.Quality = value
	case "style":
		s.Style = value
	case "width":
		s.Width, err = strconv.Atoi(value)
	case "height":
		s.Height, err = strconv.Atoi(value)
	case "target_fps":
		s.TargetFPS, err = strconv.ParseFloat(value, 64)
	case "speed":
		s.Speed, err = strconv.ParseFloat(value, 64)
	case "buffer_size":
		s.BufferSize, err = strconv.Atoi(value)
	case "workers":
		s.Workers, err = strconv.Atoi(value)
	case "drop_policy":
		s.DropPolicy = value
	case "reorder_window":
		s.ReorderWindow, err = strconv.Atoi(value)
	case "max_decode_width":
		s.MaxDecodeWidth, err = strconv.Atoi(value)
	case "fullscreen":
		s.Fullscreen, err = strconv.ParseBool(value)
	case "no_ui":
		s.NoUI, err = strconv.ParseBool(value)
	case "no_performance":
		s.NoPerformance, err = strconv.ParseBool(value)
	case "verbose":
		s.Verbose, err = strconv.ParseBool(value)
	case "log_file":
		s.LogFile = value
	case "adapt_interval":
		s.AdaptInterval, err = time.ParseDuration(value)
	case "sample_interval":
		s.SampleInterval, err = time.ParseDuration(value)
	case "cpu_threshold":
		s.CPUThreshold, err = strconv.ParseFloat(value, 64)
	case "memory_threshold":
		s.MemoryThreshold, err = strconv.ParseFloat(value, 64)
	case "frame_drop_threshold":
		s.FrameDropThreshold, err = strconv.ParseFloat(value, 64)
	case "debounce_ticks":
		s.DebounceTicks, err = strconv.Atoi(value)
	case "upgrade_ticks":
		s.UpgradeTicks, err = strconv.Atoi(value)
	case "edge_pre_blur":
		s.EdgePreBlur, err = strconv.ParseBool(value)
	case "exit_on_end":
		s.ExitOnEnd, err = strconv.ParseBool(value)
	case "pause_on_lock":
		s.PauseOnLock, err = strconv.ParseBool(value)
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
	if err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	return nil
}

// Resolve parses and validates the settings into an AppConfig
func (s Settings) Resolve(mediaPath string) (*AppConfig, error) {
	algorithm, err := domain.ParseAlgorithm(s.Algorithm)
	if err != nil {
		return nil, err
	}
	quality, err := domain.ParseQuality(s.Quality)
	if err != nil {
		return nil, err
	}
	style, err := ascii.ParseStyle(s.Style)
	if err != nil {
		return nil, err
	}
	policy, err := domain.ParseDropPolicy(s.DropPolicy)
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{
		MediaPath:          mediaPath,
		Preset:             s.Preset,
		Algorithm:          algorithm,
		Quality:            quality,
		Style:              style,
		Width:              s.Width,
		Height:             s.Height,
		TargetFPS:          s.TargetFPS,
		Speed:              s.Speed,
		BufferSize:         s.BufferSize,
		Workers:            s.Workers,
		DropPolicy:         policy,
		ReorderWindow:      s.ReorderWindow,
		MaxDecodeWidth:     s.MaxDecodeWidth,
		Fullscreen:         s.Fullscreen,
		NoUI:               s.NoUI,
		NoPerformance:      s.NoPerformance,
		Verbose:            s.Verbose,
		LogFile:            expandPath(s.LogFile),
		AdaptInterval:      s.AdaptInterval,
		SampleInterval:     s.SampleInterval,
		CPUThreshold:       s.CPUThreshold,
		MemoryThreshold:    s.MemoryThreshold,
		FrameDropThreshold: s.FrameDropThreshold,
		DebounceTicks:      s.DebounceTicks,
		UpgradeTicks:       s.UpgradeTicks,
		EdgePreBlur:        s.EdgePreBlur,
		ExitOnEnd:          s.ExitOnEnd,
		PauseOnLock:        s.PauseOnLock,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges
func (c *AppConfig) Validate() error {
	switch {
	case c.MediaPath == "":
		return errors.New("no media file given")
	case c.BufferSize < 1 || c.BufferSize > 100:
		return fmt.Errorf("buffer_size must be between 1 and 100, got %d", c.BufferSize)
	case c.Workers < 1 || c.Workers > 16:
		return fmt.Errorf("workers must be between 1 and 16, got %d", c.Workers)
	case c.Speed < domain.MinSpeed || c.Speed > domain.MaxSpeed:
		return fmt.Errorf("speed must be between %g and %g, got %g", domain.MinSpeed, domain.MaxSpeed, c.Speed)
	case c.Width < 0 || c.Width > 1000:
		return fmt.Errorf("width must be between 0 and 1000, got %d", c.Width)
	case c.Height < 0 || c.Height > 1000:
		return fmt.Errorf("height must be between 0 and 1000, got %d", c.Height)
	case c.TargetFPS < 0 || c.TargetFPS > 240:
		return fmt.Errorf("target_fps must be between 0 and 240, got %g", c.TargetFPS)
	case c.ReorderWindow < 1 || c.ReorderWindow > 256:
		return fmt.Errorf("reorder_window must be between 1 and 256, got %d", c.ReorderWindow)
	case c.MaxDecodeWidth < 64:
		return fmt.Errorf("max_decode_width must be at least 64, got %d", c.MaxDecodeWidth)
	case c.AdaptInterval <= 0 || c.SampleInterval <= 0:
		return errors.New("adapt_interval and sample_interval must be positive")
	case c.CPUThreshold <= 0 || c.CPUThreshold > 100 || c.MemoryThreshold <= 0 || c.MemoryThreshold > 100:
		return errors.New("cpu_threshold and memory_threshold must be in (0, 100]")
	case c.FrameDropThreshold <= 0 || c.FrameDropThreshold > 1:
		return fmt.Errorf("frame_drop_threshold must be in (0, 1], got %g", c.FrameDropThreshold)
	case c.DebounceTicks < 1 || c.UpgradeTicks < 1:
		return errors.New("debounce_ticks and upgrade_ticks must be at least 1")
	}
	return nil
}

// ShowUI reports whether the status line is drawn
func (c *AppConfig) ShowUI() bool {
	return !c.NoUI && !c.Fullscreen
}
