package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/agentapi/pkg/agent"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. AGENTAPI_SERVER_PORT.
const EnvPrefix = "AGENTAPI"

// Environment variables read without the prefix.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvPort         = "PORT"
)

// Profile ids synthesized from the plain credential variables.
const (
	EnvOpenAIProfile    = "env-openai"
	EnvAnthropicProfile = "env-anthropic"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader. An empty path uses DefaultPath.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// DefaultPath returns $HOME/.agentapi/agentapi.json.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".agentapi", "agentapi.json"), nil
}

func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	return DefaultPath()
}

// configType maps the file extension to a viper config type.
func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// toMap converts a value into the generic map form viper works with, keyed by
// the json tags that match the mapstructure tags.
func toMap(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType(configType(path))

	// Defaults register every key so environment overrides apply without a file.
	defaults, err := toMap(DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to build defaults: %w", err)
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", EnvPort); err != nil {
		return nil, err
	}
	if err := v.BindEnv("credentials.openai", EnvOpenAIKey); err != nil {
		return nil, err
	}
	if err := v.BindEnv("credentials.anthropic", EnvAnthropicKey); err != nil {
		return nil, err
	}
	return v, nil
}

// Load reads the file, if present, and applies environment overrides.
// A missing file yields defaults.
func (l *Loader) Load() (*Config, error) {
	configPath, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	v, err := l.newViper(configPath)
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	addEnvProfile(cfg, EnvOpenAIProfile, agent.ProviderOpenAI, v.GetString("credentials.openai"))
	addEnvProfile(cfg, EnvAnthropicProfile, agent.ProviderAnthropic, v.GetString("credentials.anthropic"))

	return cfg, nil
}

// addEnvProfile appends a profile for key unless one for provider already has a key.
func addEnvProfile(cfg *Config, id, provider, key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	for _, p := range cfg.AI.Profiles {
		if p.Provider == provider && strings.TrimSpace(p.APIKey) != "" {
			return
		}
	}
	cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
		ID:       id,
		Provider: provider,
		APIKey:   key,
	})
}

// Save writes the configuration to the loader's path
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.resolvePath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	values, err := toMap(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(configType(configPath))
	for key, value := range values {
		v.Set(key, value)
	}

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	path, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return path
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
