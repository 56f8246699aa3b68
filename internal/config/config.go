// Package config loads the survey deployment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/comic-survey/internal/model"
)

// DefaultFile is read from the working directory when no path is given.
const DefaultFile = "survey.yaml"

// Config holds one survey deployment's settings.
type Config struct {
	// Experiment namespaces the group counters.
	Experiment string `yaml:"experiment"`

	Survey  SurveyConfig  `yaml:"survey"`
	Content ContentConfig `yaml:"content"`
	Store   StoreConfig   `yaml:"store"`
	Results ResultsConfig `yaml:"results"`
	Assign  AssignConfig  `yaml:"assign"`
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
}

// SurveyConfig declares the answer options. Fixed per deployment.
type SurveyConfig struct {
	Groups         []string `yaml:"groups"`
	Levels         []string `yaml:"levels"`
	Dimensions     []string `yaml:"dimensions"`
	AskKnownBefore bool     `yaml:"ask_known_before"`
}

// ContentConfig locates the stimulus images.
type ContentConfig struct {
	Source     string   `yaml:"source"` // dir or gcs
	Dir        string   `yaml:"dir"`
	Separator  string   `yaml:"separator"`
	Extensions []string `yaml:"extensions"`
}

// StoreConfig selects the shared storage backend.
type StoreConfig struct {
	Backend     string `yaml:"backend"` // sqlite, memory, redis, gcs
	DBPath      string `yaml:"db_path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
	GCSBucket   string `yaml:"gcs_bucket"`
	GCSPrefix   string `yaml:"gcs_prefix"`
	Timeout     string `yaml:"timeout"`
}

// ResultsConfig configures the shared results CSV.
type ResultsConfig struct {
	Key         string `yaml:"key"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// AssignConfig configures group assignment.
type AssignConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr       string `yaml:"addr"`
	SessionTTL string `yaml:"session_ttl"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Mode string `yaml:"mode"` // dev or prod
	Salt string `yaml:"salt"`
}

// DefaultConfig returns the built-in deployment settings.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Experiment: "comic",
		Survey: SurveyConfig{
			Groups:     groupsToStrings(model.DefaultGroups),
			Levels:     levelsToStrings(model.DefaultLevels),
			Dimensions: dimsToStrings(model.DefaultDimensions),
		},
		Content: ContentConfig{
			Source:    "dir",
			Dir:       "Images",
			Separator: "_",
		},
		Store: StoreConfig{
			Backend:     "sqlite",
			DBPath:      filepath.Join(home, ".comic-survey", "survey.db"),
			RedisPrefix: "survey:",
			Timeout:     "10s",
		},
		Results: ResultsConfig{
			Key:         "results/antworten.csv",
			MaxAttempts: 3,
		},
		Assign:  AssignConfig{MaxAttempts: 5},
		Server:  ServerConfig{Addr: ":8080", SessionTTL: "2h"},
		Logging: LoggingConfig{Mode: "dev"},
	}
}

// Load reads an optional .env file, the YAML file at path (if non-empty) and
// environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path == "" {
		path = os.Getenv("SURVEY_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			path = DefaultFile
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"SURVEY_EXPERIMENT":  &c.Experiment,
		"SURVEY_DB":          &c.Store.DBPath,
		"SURVEY_BACKEND":     &c.Store.Backend,
		"SURVEY_REDIS_ADDR":  &c.Store.RedisAddr,
		"SURVEY_GCS_BUCKET":  &c.Store.GCSBucket,
		"SURVEY_CONTENT_DIR": &c.Content.Dir,
		"SURVEY_RESULTS_KEY": &c.Results.Key,
		"SURVEY_LOG_MODE":    &c.Logging.Mode,
		"SURVEY_LOG_SALT":    &c.Logging.Salt,
		"SURVEY_ADDR":        &c.Server.Addr,
	}
	for env, field := range overrides {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*field = v
		}
	}
}

// Validate rejects configurations that cannot run a balanced survey.
func (c *Config) Validate() error {
	var errs []error
	if c.Experiment == "" {
		errs = append(errs, errors.New("experiment is required"))
	}
	if len(c.Survey.Groups) == 0 {
		errs = append(errs, errors.New("survey.groups must not be empty"))
	}
	if dup := firstDuplicate(c.Survey.Groups); dup != "" {
		errs = append(errs, fmt.Errorf("survey.groups: duplicate group %q", dup))
	}
	if len(c.Survey.Levels) != 5 {
		errs = append(errs, fmt.Errorf("survey.levels: expected 5 levels, got %d", len(c.Survey.Levels)))
	}
	if len(c.Survey.Dimensions) == 0 {
		errs = append(errs, errors.New("survey.dimensions must not be empty"))
	}
	if dup := firstDuplicate(c.Survey.Dimensions); dup != "" {
		errs = append(errs, fmt.Errorf("survey.dimensions: duplicate dimension %q", dup))
	}
	switch c.Store.Backend {
	case "sqlite", "memory":
	case "redis":
		if c.Store.RedisAddr == "" {
			errs = append(errs, errors.New("store.redis_addr is required for the redis backend"))
		}
	case "gcs":
		if c.Store.GCSBucket == "" {
			errs = append(errs, errors.New("store.gcs_bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	switch c.Content.Source {
	case "dir":
	case "gcs":
		if c.Store.GCSBucket == "" {
			errs = append(errs, errors.New("store.gcs_bucket is required for gcs content"))
		}
	default:
		errs = append(errs, fmt.Errorf("content.source: unknown source %q", c.Content.Source))
	}
	if _, err := time.ParseDuration(c.Store.Timeout); err != nil {
		errs = append(errs, fmt.Errorf("store.timeout: %w", err))
	}
	if _, err := time.ParseDuration(c.Server.SessionTTL); err != nil {
		errs = append(errs, fmt.Errorf("server.session_ttl: %w", err))
	}
	if c.Results.Key == "" {
		errs = append(errs, errors.New("results.key is required"))
	}
	return errors.Join(errs...)
}

// StoreTimeout returns the per-call store timeout.
func (c *Config) StoreTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Store.Timeout)
	return d
}

// SessionTTL returns how long idle HTTP sessions are kept.
func (c *Config) SessionTTL() time.Duration {
	d, _ := time.ParseDuration(c.Server.SessionTTL)
	return d
}

func (c *Config) Groups() []model.Group {
	out := make([]model.Group, len(c.Survey.Groups))
	for i, g := range c.Survey.Groups {
		out[i] = model.Group(g)
	}
	return out
}

func (c *Config) Levels() []model.Level {
	out := make([]model.Level, len(c.Survey.Levels))
	for i, l := range c.Survey.Levels {
		out[i] = model.Level(l)
	}
	return out
}

func (c *Config) Dimensions() []model.Dimension {
	out := make([]model.Dimension, len(c.Survey.Dimensions))
	for i, d := range c.Survey.Dimensions {
		out[i] = model.Dimension(d)
	}
	return out
}

// Schema returns the results column layout of the deployment.
func (c *Config) Schema() model.Schema {
	return model.Schema{Dimensions: c.Dimensions(), KnownBefore: c.Survey.AskKnownBefore}
}

func firstDuplicate(vals []string) string {
	seen := make(map[string]bool, len(vals))
	for _, v := range vals {
		if seen[v] {
			return v
		}
		seen[v] = true
	}
	return ""
}

func groupsToStrings(gs []model.Group) []string {
	out := make([]string, len(gs))
	for i, g := range gs {
		out[i] = string(g)
	}
	return out
}

func levelsToStrings(ls []model.Level) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = string(l)
	}
	return out
}

func dimsToStrings(ds []model.Dimension) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = string(d)
	}
	return out
}
