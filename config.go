package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

var (
	config *Config
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	Port       string `mapstructure:"PORT"`
	Timeout    int    `mapstructure:"TIMEOUT"`
	AuthHost   string `mapstructure:"AUTH_HOST"`

	DatabasePath string `mapstructure:"DATABASE_PATH"`

	MCPEnabled     bool   `mapstructure:"MCP_ENABLED"`
	MCPURL         string `mapstructure:"MCP_URL"`
	MCPTransport   string `mapstructure:"MCP_TRANSPORT"`
	MCPHTTPEnabled bool   `mapstructure:"MCP_HTTP_ENABLED"`
	OpenAIAPIKey   string `mapstructure:"OPENAI_API_KEY"`

	DefaultProtocolId string        `mapstructure:"DEFAULT_PROTOCOL_ID"`
	SearchCacheSize   int           `mapstructure:"SEARCH_CACHE_SIZE"`
	SearchCacheTTL    time.Duration `mapstructure:"SEARCH_CACHE_TTL"`
	SearchRateLimit   float64       `mapstructure:"SEARCH_RATE_LIMIT"`
	SearchRateBurst   int           `mapstructure:"SEARCH_RATE_BURST"`

	ConditionLookbackDays   int `mapstructure:"CONDITION_LOOKBACK_DAYS"`
	ConditionLookbackSplits int `mapstructure:"CONDITION_LOOKBACK_SPLITS"`

	ELKURL    string `mapstructure:"ELK_URL"`
	APMActive bool   `mapstructure:"ELASTIC_APM_ACTIVE"`

	// Optional overrides read from the config file
	Conditions   []ConditionDefinition `mapstructure:"conditions"`
	SymptomNames map[string]string     `mapstructure:"symptomNames"`
}

var envKeys = []string{
	"APP_ENV",
	"APP_NAME",
	"APP_VERSION",
	"PORT",
	"TIMEOUT",
	"AUTH_HOST",
	"DATABASE_PATH",
	"MCP_ENABLED",
	"MCP_URL",
	"MCP_TRANSPORT",
	"MCP_HTTP_ENABLED",
	"OPENAI_API_KEY",
	"DEFAULT_PROTOCOL_ID",
	"SEARCH_CACHE_SIZE",
	"SEARCH_CACHE_TTL",
	"SEARCH_RATE_LIMIT",
	"SEARCH_RATE_BURST",
	"CONDITION_LOOKBACK_DAYS",
	"CONDITION_LOOKBACK_SPLITS",
	"ELK_URL",
	"ELASTIC_APM_ACTIVE",
}

// readConfig loads settings from the environment, layered over an optional
// JSON config file. A missing file is fine, a malformed one is not.
func readConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("APP_ENV", "dev")
	v.SetDefault("APP_NAME", "symptom-intake")
	v.SetDefault("APP_VERSION", "dev")
	v.SetDefault("PORT", "8000")
	v.SetDefault("TIMEOUT", 30)
	v.SetDefault("DATABASE_PATH", "data/symptom-intake.db")
	v.SetDefault("MCP_ENABLED", false)
	v.SetDefault("MCP_URL", "http://localhost:3000/mcp")
	v.SetDefault("MCP_TRANSPORT", mcpTransportStreamable)
	v.SetDefault("MCP_HTTP_ENABLED", false)
	v.SetDefault("DEFAULT_PROTOCOL_ID", defaultProtocolId)
	v.SetDefault("SEARCH_CACHE_SIZE", 256)
	v.SetDefault("SEARCH_CACHE_TTL", "10m")
	v.SetDefault("SEARCH_RATE_LIMIT", 5)
	v.SetDefault("SEARCH_RATE_BURST", 10)
	v.SetDefault("CONDITION_LOOKBACK_DAYS", 14)
	v.SetDefault("CONDITION_LOOKBACK_SPLITS", 1)
	v.SetDefault("ELASTIC_APM_ACTIVE", false)

	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding %s: %w", key, err)
		}
	}

	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			v.SetConfigFile(configFile)
			v.SetConfigType("json")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error parsing config file %s: %w", configFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}

	if len(cfg.Conditions) == 0 {
		cfg.Conditions = defaultConditions
	}
	if len(cfg.SymptomNames) == 0 {
		cfg.SymptomNames = defaultSymptomNames
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30
	}
	if cfg.MCPTransport != mcpTransportStreamable && cfg.MCPTransport != mcpTransportJSONRPC {
		return nil, fmt.Errorf("unknown MCP_TRANSPORT %q, expected %s or %s", cfg.MCPTransport, mcpTransportStreamable, mcpTransportJSONRPC)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// applyConfig publishes the settings read by the package level helpers.
func applyConfig(cfg *Config) {
	config = cfg
	globalTimeout = cfg.Timeout
	appVersion = cfg.AppVersion
	appEnv = cfg.AppEnv
	appName = cfg.AppName
	apmActive = cfg.APMActive
	elkUrl = cfg.ELKURL
	authHost = cfg.AuthHost
}
