package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Server         ServerConfig         `toml:"server"`
	Database       DatabaseConfig       `toml:"database"`
	GitHub         GitHubConfig         `toml:"github"`
	OpenCollective OpenCollectiveConfig `toml:"opencollective"`
	Session        SessionConfig        `toml:"session"`
	Ranking        RankingConfig        `toml:"ranking"`
	Logging        LoggingConfig        `toml:"logging"`
}

type ServerConfig struct {
	Port            string   `toml:"port"`
	Mode            string   `toml:"mode"`
	ReadTimeout     int      `toml:"read_timeout"`
	WriteTimeout    int      `toml:"write_timeout"`
	AppDomain       string   `toml:"app_domain"`
	AllowedOrigins  []string `toml:"allowed_origins"`
	ProviderTimeout int      `toml:"provider_timeout"`
}

type DatabaseConfig struct {
	Driver string `toml:"driver"`
	Path   string `toml:"path"`
	URL    string `toml:"url"`
}

type GitHubConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	CallbackURL  string `toml:"callback_url"`
	APIURL       string `toml:"api_url"`
	GraphQLURL   string `toml:"graphql_url"`
}

type OpenCollectiveConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	CallbackURL  string `toml:"callback_url"`
	AuthURL      string `toml:"auth_url"`
	TokenURL     string `toml:"token_url"`
	GraphQLURL   string `toml:"graphql_url"`
}

type SessionConfig struct {
	Secret     string `toml:"secret"`
	TTLMinutes int    `toml:"ttl_minutes"`
	Secure     bool   `toml:"secure"`
}

type RankingConfig struct {
	RefreshInterval int `toml:"refresh_interval"`
	LeaderboardSize int `toml:"leaderboard_size"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}

const (
	GitHubRedirectPath         = "/oauth/gh_token"
	OpenCollectiveRedirectPath = "/oauth/oc_token"
)

// NewDefaultConfig returns the configuration used when nothing else is set.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "8080",
			Mode:            "release",
			ReadTimeout:     15,
			WriteTimeout:    15,
			AppDomain:       "http://localhost:8080",
			ProviderTimeout: 10,
		},
		Database: DatabaseConfig{
			Driver: "sqlite3",
			Path:   "./donorlog.db",
		},
		GitHub: GitHubConfig{
			APIURL:     "https://api.github.com",
			GraphQLURL: "https://api.github.com/graphql",
		},
		OpenCollective: OpenCollectiveConfig{
			AuthURL:    "https://opencollective.com/oauth/authorize",
			TokenURL:   "https://opencollective.com/oauth/token",
			GraphQLURL: "https://opencollective.com/api/graphql/v2",
		},
		Session: SessionConfig{
			TTLMinutes: 60,
		},
		Ranking: RankingConfig{
			RefreshInterval: 60,
			LeaderboardSize: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration with priority: defaults -> .env -> TOML files -> env.
// DONORLOG_CONFIG may name one more TOML file, applied after the explicit paths.
func Load(paths ...string) (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := NewDefaultConfig()

	if extra := os.Getenv("DONORLOG_CONFIG"); extra != "" {
		paths = append(paths, extra)
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.fillCallbackURLs()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Server.Mode = getEnv("GIN_MODE", cfg.Server.Mode)
	cfg.Server.ReadTimeout = getEnvAsInt("READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvAsInt("WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.AppDomain = strings.TrimSuffix(getEnv("APP_DOMAIN", cfg.Server.AppDomain), "/")
	cfg.Server.ProviderTimeout = getEnvAsInt("PROVIDER_TIMEOUT", cfg.Server.ProviderTimeout)
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		cfg.Server.AllowedOrigins = splitList(origins)
	}

	cfg.Database.Driver = getEnv("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.Path = getEnv("DB_PATH", cfg.Database.Path)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)

	cfg.GitHub.ClientID = getEnv("GITHUB_CLIENT_ID", cfg.GitHub.ClientID)
	cfg.GitHub.ClientSecret = getEnv("GITHUB_CLIENT_SECRET", cfg.GitHub.ClientSecret)
	cfg.GitHub.CallbackURL = getEnv("GITHUB_CALLBACK_URL", cfg.GitHub.CallbackURL)

	cfg.OpenCollective.ClientID = getEnv("OPENCOLLECTIVE_CLIENT_ID", cfg.OpenCollective.ClientID)
	cfg.OpenCollective.ClientSecret = getEnv("OPENCOLLECTIVE_CLIENT_SECRET", cfg.OpenCollective.ClientSecret)
	cfg.OpenCollective.CallbackURL = getEnv("OPENCOLLECTIVE_CALLBACK_URL", cfg.OpenCollective.CallbackURL)

	cfg.Session.Secret = getEnv("SESSION_SECRET", cfg.Session.Secret)
	cfg.Session.TTLMinutes = getEnvAsInt("SESSION_TTL_MINUTES", cfg.Session.TTLMinutes)
	cfg.Session.Secure = getEnvAsBool("SESSION_SECURE", cfg.Session.Secure)

	cfg.Ranking.RefreshInterval = getEnvAsInt("RANKING_REFRESH_INTERVAL", cfg.Ranking.RefreshInterval)
	cfg.Ranking.LeaderboardSize = getEnvAsInt("LEADERBOARD_SIZE", cfg.Ranking.LeaderboardSize)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
}

func (c *Config) fillCallbackURLs() {
	if c.GitHub.CallbackURL == "" {
		c.GitHub.CallbackURL = c.Server.AppDomain + GitHubRedirectPath
	}
	if c.OpenCollective.CallbackURL == "" {
		c.OpenCollective.CallbackURL = c.Server.AppDomain + OpenCollectiveRedirectPath
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("config: DB_PATH is required for the sqlite3 driver")
		}
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown database driver %q", c.Database.Driver)
	}
	if len(c.Session.Secret) < 16 {
		return fmt.Errorf("config: SESSION_SECRET must be at least 16 characters")
	}
	if c.Ranking.RefreshInterval <= 0 {
		return fmt.Errorf("config: RANKING_REFRESH_INTERVAL must be positive")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
