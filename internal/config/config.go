package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/listrelay/listrelay/internal/domain"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	GitHub   GitHubConfig   `mapstructure:"github"`
	Lists    ListsConfig    `mapstructure:"lists"`
	Slack    SlackConfig    `mapstructure:"slack"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	Port int        `mapstructure:"port"`
	Mode string     `mapstructure:"mode"`
	CORS CORSConfig `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// GitHubConfig describes the monitored repository and webhook settings.
type GitHubConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	Owner         string `mapstructure:"owner"`
	Repo          string `mapstructure:"repo"`
	Branch        string `mapstructure:"branch"`
	Token         string `mapstructure:"token"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	ImportRoot    string `mapstructure:"import_root"`
	ConfigPath    string `mapstructure:"config_path"`
}

// ListsConfig describes the list-management API and its token endpoint.
// Environment selects the DrMap partition; when left empty it is inferred
// once at load time from a test marker in the base URL, never per call.
type ListsConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	TokenURL     string `mapstructure:"token_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Scope        string `mapstructure:"scope"`
	Environment  string `mapstructure:"environment"`
}

// Env returns the resolved deployment environment.
func (c *ListsConfig) Env() domain.Environment {
	return domain.Environment(c.Environment)
}

type SlackConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	BotToken      string `mapstructure:"bot_token"`
	Channel       string `mapstructure:"channel"`
	SigningSecret string `mapstructure:"signing_secret"`
}

type PipelineConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts"`
	CallTimeout     time.Duration `mapstructure:"call_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	DSN             string        `mapstructure:"dsn"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	// Set config file path
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable override
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.cors.allow_all_origins", false)
	v.SetDefault("server.cors.allowed_origins", []string{})
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.branch", "main")
	v.SetDefault("github.import_root", "imported_GoogleSheets")
	v.SetDefault("github.config_path", "drs.json")
	v.SetDefault("lists.scope", "users/read")
	v.SetDefault("slack.base_url", "https://slack.com/api")
	v.SetDefault("pipeline.poll_interval", 5*time.Second)
	v.SetDefault("pipeline.max_poll_attempts", 120)
	v.SetDefault("pipeline.call_timeout", 30*time.Second)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/listrelay.db")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("github.token", "GITHUB_TOKEN")
	v.BindEnv("github.webhook_secret", "GITHUB_WEBHOOK_SECRET")
	v.BindEnv("lists.client_id", "LISTS_CLIENT_ID")
	v.BindEnv("lists.client_secret", "LISTS_CLIENT_SECRET")
	v.BindEnv("lists.base_url", "LISTS_BASE_URL")
	v.BindEnv("lists.token_url", "LISTS_TOKEN_URL")
	v.BindEnv("slack.bot_token", "SLACK_BOT_TOKEN")
	v.BindEnv("slack.signing_secret", "SLACK_SIGNING_SECRET")
	v.BindEnv("slack.channel", "SLACK_CHANNEL")
	v.BindEnv("database.dsn", "DATABASE_DSN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Lists.Environment = string(ResolveEnvironment(cfg.Lists.Environment, cfg.Lists.BaseURL))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// ResolveEnvironment turns the configured environment into an explicit enum.
// An empty value is inferred from a test marker in the API base URL. This
// runs once at load; nothing downstream re-derives the environment.
func ResolveEnvironment(configured, baseURL string) domain.Environment {
	switch strings.ToLower(strings.TrimSpace(configured)) {
	case "test":
		return domain.EnvTest
	case "production", "prod":
		return domain.EnvProduction
	}
	if strings.Contains(strings.ToLower(baseURL), "test") {
		return domain.EnvTest
	}
	return domain.EnvProduction
}

// Validate checks required settings. Called by Load; exported so tests can
// exercise it on hand-built configs.
func (c *Config) Validate() error {
	if c.GitHub.Owner == "" || c.GitHub.Repo == "" {
		return fmt.Errorf("config: github.owner and github.repo are required")
	}
	if c.GitHub.WebhookSecret == "" {
		return fmt.Errorf("config: github.webhook_secret is required")
	}
	if c.Lists.BaseURL == "" {
		return fmt.Errorf("config: lists.base_url is required")
	}
	if c.Lists.TokenURL == "" {
		return fmt.Errorf("config: lists.token_url is required")
	}
	if c.Lists.ClientID == "" || c.Lists.ClientSecret == "" {
		return fmt.Errorf("config: lists.client_id and lists.client_secret are required")
	}
	if !c.Lists.Env().Valid() {
		return fmt.Errorf("config: lists.environment must be %q or %q, got %q",
			domain.EnvTest, domain.EnvProduction, c.Lists.Environment)
	}
	if c.Slack.BotToken == "" || c.Slack.Channel == "" {
		return fmt.Errorf("config: slack.bot_token and slack.channel are required")
	}
	if c.Pipeline.MaxPollAttempts <= 0 {
		return fmt.Errorf("config: pipeline.max_poll_attempts must be positive")
	}
	if c.Pipeline.PollInterval <= 0 {
		return fmt.Errorf("config: pipeline.poll_interval must be positive")
	}
	return nil
}

// DSNString returns the connection string for the configured driver.
func (c *DatabaseConfig) DSNString() string {
	if c.Driver == "postgres" {
		return c.DSN
	}
	return c.Path
}
