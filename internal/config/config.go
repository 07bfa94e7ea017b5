package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Trends   TrendsConfig   `yaml:"trends"`
	Generate GenerateConfig `yaml:"generate"`
	Comfy    ComfyConfig    `yaml:"comfy"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Site     SiteConfig     `yaml:"site"`
	Git      GitConfig      `yaml:"git"`
	Run      RunConfig      `yaml:"run"`
	Notify   NotifyConfig   `yaml:"notify"`
	Server   ServerConfig   `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TrendsConfig configures the trending-searches provider.
type TrendsConfig struct {
	Engine           string `yaml:"engine"`
	Geo              string `yaml:"geo"`
	APIKey           string `yaml:"api_key"`
	MockFile         string `yaml:"mock_file"` // read the batch from a JSON file instead of the provider
	BatchSize        int    `yaml:"batch_size"`
	ExcludedCategory string `yaml:"excluded_category"`
}

// GenerateConfig configures the story-generation service and its retry policy.
type GenerateConfig struct {
	URL         string `yaml:"url"`
	Model       string `yaml:"model"`
	Search      bool   `yaml:"search"`
	MaxAttempts int    `yaml:"max_attempts"`
	ShortWait   string `yaml:"short_wait"`
	LongWait    string `yaml:"long_wait"`
	PromptPause string `yaml:"prompt_pause"`
}

// ParseShortWait returns the wait between early retry attempts.
func (g GenerateConfig) ParseShortWait() time.Duration {
	d, err := time.ParseDuration(g.ShortWait)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ParseLongWait returns the cool-down before the final attempt.
func (g GenerateConfig) ParseLongWait() time.Duration {
	d, err := time.ParseDuration(g.LongWait)
	if err != nil {
		return 300 * time.Second
	}
	return d
}

// ParsePromptPause returns the pacing pause before the image-prompt call.
func (g GenerateConfig) ParsePromptPause() time.Duration {
	d, err := time.ParseDuration(g.PromptPause)
	if err != nil {
		return 5 * time.Second
	}
	return d
}

// ComfyConfig configures the image-generation service.
type ComfyConfig struct {
	ServerAddress string `yaml:"server_address"`
	WorkflowPath  string `yaml:"workflow_path"`
	PromptNode    string `yaml:"prompt_node"`
	SeedNode      string `yaml:"seed_node"`
	SaveNode      string `yaml:"save_node"`
	WaitTimeout   string `yaml:"wait_timeout"`
}

// ParseWaitTimeout returns the bound on the render completion wait.
func (c ComfyConfig) ParseWaitTimeout() time.Duration {
	d, err := time.ParseDuration(c.WaitTimeout)
	if err != nil {
		return 10 * time.Minute
	}
	return d
}

// ImageFailurePolicy selects what happens when a narrative succeeded
// but its image could not be generated.
type ImageFailurePolicy string

const (
	// ImageFailureDegrade persists the narrative with a null image reference.
	ImageFailureDegrade ImageFailurePolicy = "degrade"
	// ImageFailureAbort fails the whole run.
	ImageFailureAbort ImageFailurePolicy = "abort"
)

// PipelineConfig configures the generation pipeline.
type PipelineConfig struct {
	ImagesDir    string             `yaml:"images_dir"`
	ImageFailure ImageFailurePolicy `yaml:"image_failure"`
}

// SiteConfig configures the published site and sitemap.
type SiteConfig struct {
	BaseURL     string `yaml:"base_url"`
	SitemapPath string `yaml:"sitemap_path"`
}

// GitConfig configures the publish/sync phase.
type GitConfig struct {
	Token     string `yaml:"token"`
	UserName  string `yaml:"user_name"`
	UserEmail string `yaml:"user_email"`
	RemoteURL string `yaml:"remote_url"`
	Branch    string `yaml:"branch"`
	Dir       string `yaml:"dir"`
}

// RunConfig configures supervisor runtime paths.
type RunConfig struct {
	LockPath         string `yaml:"lock_path"`
	LockStaleMinutes int    `yaml:"lock_stale_minutes"`
	LastRunPath      string `yaml:"last_run_path"`
	LogDir           string `yaml:"log_dir"`
}

// NotifyConfig configures optional run-report destinations. All
// fields are independent; leave one empty to skip that destination.
type NotifyConfig struct {
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	DiscordURL    string `yaml:"discord_url"`
	SlackURL      string `yaml:"slack_url"`
}

// ServerConfig configures the local inspection server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LockStale returns the lock staleness threshold.
func (r RunConfig) LockStale() time.Duration {
	if r.LockStaleMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(r.LockStaleMinutes) * time.Minute
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./trends_data.db"},
		Trends: TrendsConfig{
			Engine:           "google_trends_trending_now",
			Geo:              "US",
			BatchSize:        10,
			ExcludedCategory: "Sports",
		},
		Generate: GenerateConfig{
			URL:         "ws://127.0.0.1:8189/ws",
			Model:       "default",
			Search:      true,
			MaxAttempts: 4,
			ShortWait:   "5s",
			LongWait:    "300s",
			PromptPause: "5s",
		},
		Comfy: ComfyConfig{
			ServerAddress: "127.0.0.1:8188",
			WorkflowPath:  "workflow.json",
			PromptNode:    "6",
			SeedNode:      "31",
			SaveNode:      "9",
			WaitTimeout:   "10m",
		},
		Pipeline: PipelineConfig{
			ImagesDir:    "images",
			ImageFailure: ImageFailureDegrade,
		},
		Site: SiteConfig{
			BaseURL:     "https://sudoghut.github.io/trends-story",
			SitemapPath: "sitemap.xml",
		},
		Git: GitConfig{
			UserName:  "Trends Story Bot",
			UserEmail: "bot@trends-story.local",
			RemoteURL: "https://github.com/sudoghut/trends-story.git",
			Branch:    "main",
			Dir:       ".",
		},
		Run: RunConfig{
			LockPath:         ".run.lock",
			LockStaleMinutes: 30,
			LastRunPath:      ".last_run",
			LogDir:           "logs",
		},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would only fail later, mid-run.
func (c *Config) Validate() error {
	switch c.Pipeline.ImageFailure {
	case ImageFailureDegrade, ImageFailureAbort:
	default:
		return fmt.Errorf("config: pipeline.image_failure must be %q or %q, got %q",
			ImageFailureDegrade, ImageFailureAbort, c.Pipeline.ImageFailure)
	}
	if c.Trends.BatchSize <= 0 {
		return fmt.Errorf("config: trends.batch_size must be positive, got %d", c.Trends.BatchSize)
	}
	if c.Generate.MaxAttempts <= 0 {
		return fmt.Errorf("config: generate.max_attempts must be positive, got %d", c.Generate.MaxAttempts)
	}
	return nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TRENDSTORY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("SERPAPI_API_KEY"); v != "" {
		cfg.Trends.APIKey = v
	}
	if v := os.Getenv("GIT_TOKEN"); v != "" {
		cfg.Git.Token = v
	}
	if v := os.Getenv("COMFY_SERVER"); v != "" {
		cfg.Comfy.ServerAddress = v
	}
}
