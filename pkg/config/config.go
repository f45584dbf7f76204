package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full runtime configuration, built once at startup from the
// environment and passed by reference into each component constructor.
type Config struct {
	Port       int    `env:"PORT" envDefault:"3000"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	AIProvider string `env:"AI_PROVIDER" envDefault:"openai"`

	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	WhatsApp WhatsAppConfig
	Telegram TelegramConfig
	Slack    SlackConfig
	Teams    TeamsConfig
	MCP      MCPConfig
	API      APIConfig
}

type WhatsAppConfig struct {
	Enabled   bool   `env:"WHATSAPP_ENABLED"`
	StorePath string `env:"WHATSAPP_STORE_PATH"`
}

type TelegramConfig struct {
	Enabled  bool   `env:"TELEGRAM_ENABLED"`
	BotToken string `env:"TELEGRAM_BOT_TOKEN"`
}

type SlackConfig struct {
	Enabled       bool   `env:"SLACK_ENABLED"`
	BotToken      string `env:"SLACK_BOT_TOKEN"`
	SigningSecret string `env:"SLACK_SIGNING_SECRET"`
	AppToken      string `env:"SLACK_APP_TOKEN"`
}

type TeamsConfig struct {
	Enabled     bool   `env:"TEAMS_ENABLED"`
	AppID       string `env:"TEAMS_APP_ID"`
	AppPassword string `env:"TEAMS_APP_PASSWORD"`
}

type MCPConfig struct {
	Enabled   bool          `env:"MCP_SERVER_ENABLED"`
	ServerURL string        `env:"MCP_SERVER_URL"`
	Timeout   time.Duration `env:"MCP_SERVER_TIMEOUT" envDefault:"30s"`
}

type APIConfig struct {
	AuthEnabled bool   `env:"API_AUTH_ENABLED"`
	SecretKey   string `env:"API_SECRET_KEY"`
}

// Load parses the environment into a Config. It does not validate; call
// Validate before using the result.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Validate checks for startup faults: an enabled component with missing
// credentials. These are fatal: the process must not run partially
// configured.
func (c *Config) Validate() error {
	switch strings.ToLower(c.AIProvider) {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("AI_PROVIDER=anthropic but ANTHROPIC_API_KEY is not set")
		}
	case "openai", "":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("no AI provider configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY")
		}
	default:
		return fmt.Errorf("unknown AI_PROVIDER %q", c.AIProvider)
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram enabled but TELEGRAM_BOT_TOKEN is not set")
	}
	if c.Slack.Enabled {
		if c.Slack.BotToken == "" || c.Slack.AppToken == "" {
			return fmt.Errorf("slack enabled but SLACK_BOT_TOKEN or SLACK_APP_TOKEN is not set")
		}
	}
	if c.Teams.Enabled {
		if c.Teams.AppID == "" || c.Teams.AppPassword == "" {
			return fmt.Errorf("teams enabled but TEAMS_APP_ID or TEAMS_APP_PASSWORD is not set")
		}
	}
	if c.MCP.Enabled && c.MCP.ServerURL == "" {
		return fmt.Errorf("MCP enabled but MCP_SERVER_URL is not set")
	}
	if c.API.AuthEnabled && c.API.SecretKey == "" {
		return fmt.Errorf("API auth enabled but API_SECRET_KEY is not set")
	}
	return nil
}

// WhatsAppStorePath resolves the WhatsApp session store location, expanding
// a leading ~ and falling back to the default under the home directory.
func (c *Config) WhatsAppStorePath() string {
	path := c.WhatsApp.StorePath
	if path == "" {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".omnibridge", "whatsapp.db")
	}
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && (path[1] == '/' || path[1] == '\\') {
			return home + path[1:]
		}
		return home
	}
	return path
}
