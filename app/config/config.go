package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log     Log     `yaml:"log"`
	Redis   Redis   `yaml:"redis"`
	Avito   Avito   `yaml:"avito"`
	Agent   Agent   `yaml:"agent"`
	Worker  Worker  `yaml:"worker"`
	Monitor Monitor `yaml:"monitor"`
}

type Avito struct {
	// Client ID of the Avito application
	ClientID string `yaml:"client_id" example:"a1b2c3d4e5f6g7h8i9j0" validate:"required"`
	// Client secret of the Avito application
	ClientSecret string `yaml:"client_secret" example:"abc123def456ghi789jkl012mno345pqr678" validate:"required"`
	// Numeric ID of the Avito account the worker replies on behalf of
	UserID int64 `yaml:"user_id" example:"123456789" validate:"required"`
	// Messenger API base URL
	BaseURL string `yaml:"base_url" example:"https://api.avito.ru"`
}

type Agent struct {
	// MCP server exposing the product search tool
	MCPURL string `yaml:"mcp_url" example:"http://localhost:8765/sse" validate:"required"`
	// Name of the retrieval tool on the MCP server
	RAGToolName string `yaml:"rag_tool_name" example:"search_products"`
	// LLM connection
	OpenAI ModelConfig `yaml:"openai" validate:"required"`
	// Maximum completion tokens per answer
	MaxTokens int `yaml:"max_tokens" example:"1000"`
	// Sampling temperature
	Temperature float64 `yaml:"temperature" example:"0.7"`
}

type ModelConfig struct {
	// OpenAI-compatible base url
	BaseURL string `yaml:"base_url" example:"https://openrouter.ai/api/v1" validate:"required"`
	// API token
	Token string `yaml:"token" example:"sk-or-abc123456789DEF789ghi012JKL345mno678" validate:"required"`
	// Model name
	Model string `yaml:"model" example:"openai/gpt-4" validate:"required"`
}

type Worker struct {
	// Interval between Avito polls
	PollInterval time.Duration `yaml:"poll_interval" example:"30s"`
	// Messages fetched per chat when selecting the newest unread one
	MessageFetchLimit int `yaml:"message_fetch_limit" example:"5"`
	// Dispatch strategy: inline or queued
	Dispatch string `yaml:"dispatch" example:"inline" validate:"omitempty,oneof=inline queued"`
}

type Monitor struct {
	// Listen address of the monitoring API
	Addr string `yaml:"addr" example:":8080"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type Redis struct {
	// Redis connection URL
	URL string `yaml:"url" example:"redis://localhost:6379/0"`
}

func Load() (*Config, error) {
	var result Config

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	result.applyDefaults()

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}

func (c *Config) applyDefaults() {
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Avito.BaseURL == "" {
		c.Avito.BaseURL = "https://api.avito.ru"
	}
	if c.Agent.RAGToolName == "" {
		c.Agent.RAGToolName = "search_products"
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 1000
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 30 * time.Second
	}
	if c.Worker.MessageFetchLimit == 0 {
		c.Worker.MessageFetchLimit = 5
	}
	if c.Worker.Dispatch == "" {
		c.Worker.Dispatch = "inline"
	}
	if c.Monitor.Addr == "" {
		c.Monitor.Addr = ":8080"
	}
}
