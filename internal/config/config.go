// Package config loads the service configuration: a JSON file whose
// fields are all optional, merged over defaults, then environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"trafficeye/internal/engine"
	"trafficeye/internal/pipeline"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults
const (
	DefaultHTTPAddr     = ":8080"
	DefaultGRPCAddr     = ":9090"
	DefaultDBPath       = "violations.db"
	DefaultOutputDir    = "violations"
	DefaultArchiveDir   = "archives"
	DefaultYOLOEndpoint = "http://localhost:8081"
	DefaultJWTExpiry    = 24 * time.Hour
)

// File is the on-disk JSON shape. Every field is optional.
type File struct {
	HTTPAddr   *string `json:"http_addr,omitempty"`
	GRPCAddr   *string `json:"grpc_addr,omitempty"`
	DBPath     *string `json:"db_path,omitempty"`
	OutputDir  *string `json:"output_dir,omitempty"`
	ArchiveDir *string `json:"archive_dir,omitempty"`

	Detector *DetectorFile `json:"detector,omitempty"`
	Pipeline *PipelineFile `json:"pipeline,omitempty"`
	Auth     *AuthFile     `json:"auth,omitempty"`
	Telegram *TelegramFile `json:"telegram,omitempty"`

	// Profiles override engine thresholds by profile name. A profile whose
	// name is not built in starts from the profile named by its "base" key.
	Profiles map[string]json.RawMessage `json:"profiles,omitempty"`
}

// DetectorFile configures the YOLO services
type DetectorFile struct {
	Endpoints  []string `json:"endpoints,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Timeout    *string  `json:"timeout,omitempty"` // duration string like "30s"
}

// PipelineFile configures default live sampling
type PipelineFile struct {
	Mode             *string  `json:"mode,omitempty"`
	SkipFrames       *int     `json:"skip_frames,omitempty"`
	ScheduleInterval *string  `json:"schedule_interval,omitempty"` // duration string like "2s"
	Profile          *string  `json:"profile,omitempty"`
	Confidence       *float64 `json:"detector_confidence,omitempty"`
}

// AuthFile configures API authentication
type AuthFile struct {
	Enabled   *bool   `json:"enabled,omitempty"`
	Username  *string `json:"username,omitempty"`
	Password  *string `json:"password,omitempty"` // plaintext or bcrypt hash
	JWTSecret *string `json:"jwt_secret,omitempty"`
	JWTExpiry *string `json:"jwt_expiry,omitempty"`
}

// TelegramFile configures critical violation alerts
type TelegramFile struct {
	Enabled         *bool   `json:"enabled,omitempty"`
	BotToken        *string `json:"bot_token,omitempty"`
	ChatID          *string `json:"chat_id,omitempty"`
	CooldownSeconds *int    `json:"cooldown_seconds,omitempty"`
}

// Config is the resolved configuration
type Config struct {
	HTTPAddr   string
	GRPCAddr   string
	DBPath     string
	OutputDir  string
	ArchiveDir string

	YOLOEndpoints      []string
	DetectorConfidence float64
	DetectorTimeout    time.Duration

	Pipeline *pipeline.GlobalPipelineConfig

	Auth     Auth
	Telegram Telegram

	profiles map[string]engine.Config
}

// Auth is the resolved authentication setting
type Auth struct {
	Enabled   bool
	Username  string
	Password  string
	JWTSecret string
	JWTExpiry time.Duration
}

// Telegram is the resolved alert setting
type Telegram struct {
	Enabled         bool
	BotToken        string
	ChatID          string
	CooldownSeconds int
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		HTTPAddr:           DefaultHTTPAddr,
		GRPCAddr:           DefaultGRPCAddr,
		DBPath:             DefaultDBPath,
		OutputDir:          DefaultOutputDir,
		ArchiveDir:         DefaultArchiveDir,
		YOLOEndpoints:      []string{DefaultYOLOEndpoint},
		DetectorConfidence: 0.25,
		DetectorTimeout:    30 * time.Second,
		Pipeline:           pipeline.DefaultGlobalConfig(),
		Auth: Auth{
			Username:  "admin",
			JWTExpiry: DefaultJWTExpiry,
		},
		Telegram: Telegram{CooldownSeconds: 30},
		profiles: map[string]engine.Config{},
	}
}

// LoadFile reads and parses a JSON configuration file
func LoadFile(path string) (*File, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	f := &File{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return f, nil
}

// Load resolves defaults, the optional file at path, and the environment
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if err := cfg.Apply(f); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Apply merges the set fields of f over c
func (c *Config) Apply(f *File) error {
	setString(&c.HTTPAddr, f.HTTPAddr)
	setString(&c.GRPCAddr, f.GRPCAddr)
	setString(&c.DBPath, f.DBPath)
	setString(&c.OutputDir, f.OutputDir)
	setString(&c.ArchiveDir, f.ArchiveDir)

	if d := f.Detector; d != nil {
		if len(d.Endpoints) > 0 {
			c.YOLOEndpoints = append([]string(nil), d.Endpoints...)
		}
		if d.Confidence != nil {
			c.DetectorConfidence = *d.Confidence
		}
		if err := setDuration(&c.DetectorTimeout, d.Timeout, "detector.timeout"); err != nil {
			return err
		}
	}

	if p := f.Pipeline; p != nil {
		if p.Mode != nil {
			c.Pipeline.Mode = pipeline.SamplingMode(*p.Mode)
		}
		if p.SkipFrames != nil {
			c.Pipeline.SkipFrames = *p.SkipFrames
		}
		if err := setDuration(&c.Pipeline.ScheduleInterval, p.ScheduleInterval, "pipeline.schedule_interval"); err != nil {
			return err
		}
		setString(&c.Pipeline.Profile, p.Profile)
		if p.Confidence != nil {
			c.Pipeline.DetectorConfidence = *p.Confidence
		}
	}

	if a := f.Auth; a != nil {
		if a.Enabled != nil {
			c.Auth.Enabled = *a.Enabled
		}
		setString(&c.Auth.Username, a.Username)
		setString(&c.Auth.Password, a.Password)
		setString(&c.Auth.JWTSecret, a.JWTSecret)
		if err := setDuration(&c.Auth.JWTExpiry, a.JWTExpiry, "auth.jwt_expiry"); err != nil {
			return err
		}
	}

	if t := f.Telegram; t != nil {
		if t.Enabled != nil {
			c.Telegram.Enabled = *t.Enabled
		}
		setString(&c.Telegram.BotToken, t.BotToken)
		setString(&c.Telegram.ChatID, t.ChatID)
		if t.CooldownSeconds != nil {
			c.Telegram.CooldownSeconds = *t.CooldownSeconds
		}
	}

	for name, raw := range f.Profiles {
		p, err := buildProfile(name, raw)
		if err != nil {
			return err
		}
		c.profiles[name] = p
	}
	return nil
}

// buildProfile decodes raw over its base profile, so absent keys keep the base values
func buildProfile(name string, raw json.RawMessage) (engine.Config, error) {
	var head struct {
		Base string `json:"base"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return engine.Config{}, fmt.Errorf("profile %q: %w", name, err)
	}

	base := head.Base
	if base == "" {
		base = name
	}
	p, err := engine.ProfileConfig(base)
	if err != nil {
		return engine.Config{}, fmt.Errorf("profile %q: %w", name, err)
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return engine.Config{}, fmt.Errorf("profile %q: %w", name, err)
	}
	p.Profile = name
	if err := p.Validate(); err != nil {
		return engine.Config{}, fmt.Errorf("profile %q: %w", name, err)
	}
	return p, nil
}

// ApplyEnv applies environment overrides using lookup (os.LookupEnv in production)
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("TRAFFICEYE_DB_PATH"); ok && v != "" {
		c.DBPath = v
	}
	if v, ok := lookup("TRAFFICEYE_OUTPUT_DIR"); ok && v != "" {
		c.OutputDir = v
	}
	if v, ok := lookup("YOLO_ENDPOINT"); ok && v != "" {
		var endpoints []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				endpoints = append(endpoints, e)
			}
		}
		if len(endpoints) > 0 {
			c.YOLOEndpoints = endpoints
		}
	}

	if v, ok := lookup("AUTH_ENABLED"); ok {
		c.Auth.Enabled = v == "true"
	}
	if v, ok := lookup("AUTH_USERNAME"); ok && v != "" {
		c.Auth.Username = v
	}
	if v, ok := lookup("AUTH_PASSWORD"); ok && v != "" {
		c.Auth.Password = v
	}
	if v, ok := lookup("JWT_SECRET"); ok && v != "" {
		c.Auth.JWTSecret = v
	}
	if v, ok := lookup("JWT_EXPIRY"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid JWT_EXPIRY %q: %w", v, err)
		}
		c.Auth.JWTExpiry = d
	}

	if v, ok := lookup("TELEGRAM_BOT_TOKEN"); ok && v != "" {
		c.Telegram.BotToken = v
		c.Telegram.Enabled = true
	}
	if v, ok := lookup("TELEGRAM_CHAT_ID"); ok && v != "" {
		c.Telegram.ChatID = v
	}
	if v, ok := lookup("TELEGRAM_COOLDOWN_SECONDS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TELEGRAM_COOLDOWN_SECONDS %q: %w", v, err)
		}
		c.Telegram.CooldownSeconds = n
	}
	return nil
}

// Validate checks the resolved configuration
func (c *Config) Validate() error {
	if len(c.YOLOEndpoints) == 0 {
		return fmt.Errorf("at least one detector endpoint is required")
	}
	if c.DetectorConfidence < 0 || c.DetectorConfidence > 1 {
		return fmt.Errorf("detector confidence must be between 0 and 1, got %v", c.DetectorConfidence)
	}
	switch c.Pipeline.Mode {
	case pipeline.SamplingModeDisabled, pipeline.SamplingModeEveryFrame,
		pipeline.SamplingModeEveryNth, pipeline.SamplingModeScheduled:
	default:
		return fmt.Errorf("unknown pipeline mode %q", c.Pipeline.Mode)
	}
	if c.Pipeline.SkipFrames < 1 {
		return fmt.Errorf("skip_frames must be at least 1, got %d", c.Pipeline.SkipFrames)
	}
	if _, err := c.Profile(c.Pipeline.Profile); err != nil {
		return err
	}
	if c.Auth.Enabled && c.Auth.Password == "" {
		return fmt.Errorf("auth is enabled but no password is set")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram is enabled but bot token or chat id is missing")
	}
	if c.Telegram.CooldownSeconds < 0 {
		return fmt.Errorf("telegram cooldown cannot be negative")
	}
	return nil
}

// Profile returns the engine configuration for a profile name, with file overrides
func (c *Config) Profile(name string) (engine.Config, error) {
	if p, ok := c.profiles[name]; ok {
		return p, nil
	}
	return engine.ProfileConfig(name)
}

// CustomProfiles returns the profiles defined or overridden by the file
func (c *Config) CustomProfiles() map[string]engine.Config {
	out := make(map[string]engine.Config, len(c.profiles))
	for name, p := range c.profiles {
		out[name] = p
	}
	return out
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, field string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", field, *v, err)
	}
	*dst = d
	return nil
}
