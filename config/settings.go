// Package config provides application settings loaded from environment
// variables and command line flags.
//
// Settings are created via New() or a Loader which handles:
// - Environment variable and flag binding through viper
// - Typed parsing with validation
// - Default value application
// - Provider-specific configuration lookup

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/richinex/librarydesk/llm"
)

// DefaultProvider is used when neither the caller nor LLM_PROVIDER names one.
const DefaultProvider = "gemini"

// Settings holds all application configuration.
type Settings struct {
	LLM     LLMConfig
	Agent   AgentConfig
	Tools   ToolsConfig
	Storage StorageConfig
	Server  ServerConfig
	Session SessionConfig
	CallLog CallLogConfig
	Log     LogConfig
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	Provider    string
	Model       string
	MaxTokens   uint32 // 0 leaves the limit to the provider
	Temperature float64
}

// AgentConfig holds loop configuration.
type AgentConfig struct {
	MaxIterations int
	RoundTimeout  time.Duration
}

// ToolsConfig holds tool behaviour.
type ToolsConfig struct {
	ErrorTraces       bool
	LowStockThreshold int
}

// StorageConfig locates the SQLite database.
type StorageConfig struct {
	DatabasePath string
}

// ServerConfig holds the HTTP listener address.
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SessionConfig selects and bounds the session backend.
// A non-empty RedisURL selects the redis backend.
type SessionConfig struct {
	MaxSessions int
	TTL         time.Duration
	RedisURL    string
}

// CallLogConfig sizes the asynchronous call log queue.
type CallLogConfig struct {
	Buffer int
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string
	Pretty bool
	File   string // optional, appended to
}

// providerInfo holds configuration for a specific LLM provider.
type providerInfo struct {
	modelEnv     string
	providerType llm.ProviderType
}

// Supported providers and their configuration.
var providers = map[string]providerInfo{
	"openai":    {"OPENAI_MODEL", llm.ProviderOpenAI},
	"anthropic": {"ANTHROPIC_MODEL", llm.ProviderAnthropic},
	"deepseek":  {"DEEPSEEK_MODEL", llm.ProviderDeepSeek},
	"gemini":    {"GEMINI_MODEL", llm.ProviderGemini},
}

// defaults holds the fallback for every key. Keys are the lower-cased
// environment variable names.
var defaults = map[string]string{
	"llm_provider":         DefaultProvider,
	"llm_max_tokens":       "0",
	"llm_temperature":      "0.0",
	"agent_max_iterations": "5",
	"agent_round_timeout":  llm.DefaultRoundTimeout.String(),
	"tool_error_traces":    "true",
	"low_stock_threshold":  "5",
	"database_path":        "app/db/library.db",
	"host":                 "0.0.0.0",
	"port":                 "5000",
	"session_max":          "1000",
	"session_ttl":          "24h",
	"redis_url":            "",
	"call_log_buffer":      "256",
	"log_level":            "info",
	"log_file":             "",
	"log_pretty":           "false",
}

// flagKeys maps command line flags to the keys they override.
var flagKeys = map[string]string{
	"provider":  "llm_provider",
	"host":      "host",
	"port":      "port",
	"log-level": "log_level",
	"db":        "database_path",
}

// Loader resolves settings from changed flags, then the environment, then
// defaults.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader reading the process environment.
func NewLoader() *Loader {
	v := viper.New()
	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	return &Loader{v: v}
}

// BindFlags lets the known flags present in flags override their keys.
// A flag only wins when it was set on the command line.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := l.v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

// New creates settings for the specified provider from the environment.
// An empty provider falls back to LLM_PROVIDER, then DefaultProvider.
// Returns an error if the provider is unknown or environment variables contain invalid values.
func New(provider string) (Settings, error) {
	return NewLoader().Load(provider)
}

// Load resolves settings for provider. An empty provider falls back to
// LLM_PROVIDER (or a bound --provider flag), then DefaultProvider.
func (l *Loader) Load(provider string) (Settings, error) {
	if provider == "" {
		provider = l.getString("llm_provider")
	}
	provider, err := normalizeProvider(provider)
	if err != nil {
		return Settings{}, err
	}
	info := providers[provider]

	var s Settings
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	modelKey := strings.ToLower(info.modelEnv)
	l.v.SetDefault(modelKey, info.providerType.DefaultModel())
	s.LLM = LLMConfig{
		Provider: provider,
		Model:    l.getString(modelKey),
	}
	s.LLM.MaxTokens, err = l.getUint32("llm_max_tokens")
	collect(err)
	s.LLM.Temperature, err = l.getFloat64("llm_temperature")
	collect(err)

	s.Agent.MaxIterations, err = l.getInt("agent_max_iterations")
	collect(err)
	s.Agent.RoundTimeout, err = l.getDuration("agent_round_timeout")
	collect(err)

	s.Tools.ErrorTraces, err = l.getBool("tool_error_traces")
	collect(err)
	s.Tools.LowStockThreshold, err = l.getInt("low_stock_threshold")
	collect(err)

	s.Storage.DatabasePath = l.getString("database_path")

	s.Server.Host = l.getString("host")
	s.Server.Port, err = l.getInt("port")
	collect(err)

	s.Session.MaxSessions, err = l.getInt("session_max")
	collect(err)
	s.Session.TTL, err = l.getDuration("session_ttl")
	collect(err)
	s.Session.RedisURL = l.getString("redis_url")

	s.CallLog.Buffer, err = l.getInt("call_log_buffer")
	collect(err)

	s.Log.Level = l.getString("log_level")
	s.Log.File = l.getString("log_file")
	s.Log.Pretty, err = l.getBool("log_pretty")
	collect(err)

	if err := errors.Join(errs...); err != nil {
		return Settings{}, err
	}
	if err := s.validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// MustNew creates settings for the specified provider.
// Panics if the provider is unknown or environment variables are invalid.
// Use this only when configuration errors should be fatal.
func MustNew(provider string) Settings {
	settings, err := New(provider)
	if err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return settings
}

func (s Settings) validate() error {
	switch {
	case s.Agent.MaxIterations < 1:
		return fmt.Errorf("AGENT_MAX_ITERATIONS must be at least 1, got %d", s.Agent.MaxIterations)
	case s.Server.Port < 1 || s.Server.Port > 65535:
		return fmt.Errorf("PORT out of range: %d", s.Server.Port)
	case s.Session.MaxSessions < 1:
		return fmt.Errorf("SESSION_MAX must be at least 1, got %d", s.Session.MaxSessions)
	case s.CallLog.Buffer < 1:
		return fmt.Errorf("CALL_LOG_BUFFER must be at least 1, got %d", s.CallLog.Buffer)
	case s.LLM.Temperature < 0 || s.LLM.Temperature > 2:
		return fmt.Errorf("LLM_TEMPERATURE out of range: %v", s.LLM.Temperature)
	}
	return nil
}

// NewProvider builds the configured LLM provider, reading its API key
// from the environment.
func (s Settings) NewProvider() (llm.Provider, error) {
	info, ok := providers[s.LLM.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %q", s.LLM.Provider)
	}
	return info.providerType.
		Model(s.LLM.Model).
		MaxTokens(s.LLM.MaxTokens).
		Temperature(float32(s.LLM.Temperature)).
		FromEnv()
}

// normalizeProvider converts provider aliases to canonical names.
func normalizeProvider(provider string) (string, error) {
	p, err := llm.ParseProviderType(strings.TrimSpace(provider))
	if err != nil {
		return "", err
	}
	return p.String(), nil
}

// APIKeyFor returns the API key for a provider from environment variables.
func APIKeyFor(provider string) (string, error) {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return "", err
	}
	info := providers[provider]

	for _, env := range info.providerType.EnvVars() {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}
	return "", fmt.Errorf("%s environment variable not set", info.providerType.EnvVar())
}

// ModelFor returns the model for a provider, checking environment first.
func ModelFor(provider string) (string, error) {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return "", err
	}
	info := providers[provider]
	l := NewLoader()
	key := strings.ToLower(info.modelEnv)
	l.v.SetDefault(key, info.providerType.DefaultModel())
	return l.getString(key), nil
}

// SupportedProviders returns the supported provider names in sorted order.
func SupportedProviders() []string {
	return []string{"anthropic", "deepseek", "gemini", "openai"}
}

// Typed getters. Values are parsed here rather than by viper so malformed
// input is reported instead of read as zero.

func (l *Loader) getString(key string) string {
	return strings.TrimSpace(l.v.GetString(key))
}

func (l *Loader) invalid(key, val string, err error) error {
	return fmt.Errorf("invalid value for %s: %q: %w", strings.ToUpper(key), val, err)
}

func (l *Loader) getInt(key string) (int, error) {
	val := l.getString(key)
	i, err := strconv.Atoi(val)
	if err != nil {
		return 0, l.invalid(key, val, err)
	}
	return i, nil
}

func (l *Loader) getUint32(key string) (uint32, error) {
	val := l.getString(key)
	i, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return 0, l.invalid(key, val, err)
	}
	return uint32(i), nil
}

func (l *Loader) getFloat64(key string) (float64, error) {
	val := l.getString(key)
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, l.invalid(key, val, err)
	}
	return f, nil
}

func (l *Loader) getBool(key string) (bool, error) {
	val := l.getString(key)
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, l.invalid(key, val, err)
	}
	return b, nil
}

// getDuration accepts Go durations ("90s") or plain seconds ("90").
func (l *Loader) getDuration(key string) (time.Duration, error) {
	val := l.getString(key)
	if secs, err := strconv.Atoi(val); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, l.invalid(key, val, err)
	}
	return d, nil
}
