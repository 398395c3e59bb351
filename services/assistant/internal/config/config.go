package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/sli-cka/vikunja-voice-assistant/services/assistant/internal/prompt"
	apperrors "github.com/sli-cka/vikunja-voice-assistant/shared/errors"
)

const (
	defaultOpenAIModel     = "gpt-5-mini"
	defaultOpenAIBaseURL   = "https://api.openai.com/v1"
	defaultReasoningEffort = "minimal"
	defaultLanguage        = "en"
	defaultUserCachePath   = "vikunja_users.json"
	defaultCacheRefresh    = 24 * time.Hour
	defaultGRPCPort        = "50061"
	defaultRequestTimeout  = 30 * time.Second
)

// Settings holds the configuration for the assistant service.
// It is built once by Load and passed by value; nothing mutates it afterwards.
type Settings struct {
	VikunjaURL   string
	VikunjaToken string

	OpenAIAPIKey    string
	OpenAIModel     string
	OpenAIBaseURL   string
	ReasoningEffort string
	Temperature     *float32

	DefaultDueDate   prompt.DueDatePolicy
	VoiceCorrection  bool
	AutoVoiceLabel   bool
	UserAssignment   bool
	DetailedResponse bool
	Language         string

	UserCachePath    string
	UserCacheRefresh time.Duration
	DatabaseURL      string

	RabbitMQURL    string
	GRPCPort       string
	RequestTimeout time.Duration
}

// fileConfig mirrors the optional TOML file. Pointers tell "unset" from zero values.
type fileConfig struct {
	Vikunja struct {
		URL   string `toml:"url"`
		Token string `toml:"token"`
	} `toml:"vikunja"`
	OpenAI struct {
		APIKey          string   `toml:"api_key"`
		Model           string   `toml:"model"`
		BaseURL         string   `toml:"base_url"`
		ReasoningEffort string   `toml:"reasoning_effort"`
		Temperature     *float32 `toml:"temperature"`
	} `toml:"openai"`
	Assistant struct {
		DefaultDueDate   string `toml:"default_due_date"`
		VoiceCorrection  *bool  `toml:"voice_correction"`
		AutoVoiceLabel   *bool  `toml:"auto_voice_label"`
		UserAssignment   *bool  `toml:"enable_user_assignment"`
		DetailedResponse *bool  `toml:"detailed_response"`
		Language         string `toml:"language"`
	} `toml:"assistant"`
	UserCache struct {
		Path        string `toml:"path"`
		Refresh     string `toml:"refresh"`
		DatabaseURL string `toml:"database_url"`
	} `toml:"user_cache"`
	Service struct {
		RabbitMQURL    string `toml:"rabbitmq_url"`
		GRPCPort       string `toml:"grpc_port"`
		RequestTimeout string `toml:"request_timeout"`
	} `toml:"service"`
}

// Load reads the optional TOML file named by ASSISTANT_CONFIG, then applies
// environment variables on top of it. Required values are checked by Validate.
func Load() (*Settings, error) {
	var fc fileConfig
	if path := os.Getenv("ASSISTANT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	return fromSources(fc)
}

func fromSources(fc fileConfig) (*Settings, error) {
	s := &Settings{
		VikunjaURL:      strings.TrimRight(getEnvOrDefault("VIKUNJA_URL", fc.Vikunja.URL), "/"),
		VikunjaToken:    getEnvOrDefault("VIKUNJA_API_TOKEN", fc.Vikunja.Token),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fc.OpenAI.APIKey),
		OpenAIModel:     getEnvOrDefault("OPENAI_MODEL", orDefault(fc.OpenAI.Model, defaultOpenAIModel)),
		OpenAIBaseURL:   getEnvOrDefault("OPENAI_BASE_URL", orDefault(fc.OpenAI.BaseURL, defaultOpenAIBaseURL)),
		ReasoningEffort: getEnvOrDefault("OPENAI_REASONING_EFFORT", orDefault(fc.OpenAI.ReasoningEffort, defaultReasoningEffort)),
		Temperature:     fc.OpenAI.Temperature,
		Language:        strings.ToLower(getEnvOrDefault("LANGUAGE", orDefault(fc.Assistant.Language, defaultLanguage))),
		UserCachePath:   getEnvOrDefault("USER_CACHE_PATH", orDefault(fc.UserCache.Path, defaultUserCachePath)),
		DatabaseURL:     getEnvOrDefault("DATABASE_URL", fc.UserCache.DatabaseURL),
		RabbitMQURL:     getEnvOrDefault("RABBITMQ_URL", fc.Service.RabbitMQURL),
		GRPCPort:        getEnvOrDefault("GRPC_PORT", orDefault(fc.Service.GRPCPort, defaultGRPCPort)),
	}

	var err error
	if v := os.Getenv("OPENAI_TEMPERATURE"); v != "" {
		f, perr := strconv.ParseFloat(v, 32)
		if perr != nil {
			return nil, &apperrors.ConfigError{Field: "OPENAI_TEMPERATURE", Message: perr.Error()}
		}
		temp := float32(f)
		s.Temperature = &temp
	}

	if s.DefaultDueDate, err = prompt.ParseDueDatePolicy(getEnvOrDefault("DEFAULT_DUE_DATE", fc.Assistant.DefaultDueDate)); err != nil {
		return nil, err
	}
	if s.VoiceCorrection, err = getBool("VOICE_CORRECTION", fc.Assistant.VoiceCorrection, true); err != nil {
		return nil, err
	}
	if s.AutoVoiceLabel, err = getBool("AUTO_VOICE_LABEL", fc.Assistant.AutoVoiceLabel, true); err != nil {
		return nil, err
	}
	if s.UserAssignment, err = getBool("ENABLE_USER_ASSIGNMENT", fc.Assistant.UserAssignment, false); err != nil {
		return nil, err
	}
	if s.DetailedResponse, err = getBool("DETAILED_RESPONSE", fc.Assistant.DetailedResponse, true); err != nil {
		return nil, err
	}
	if s.UserCacheRefresh, err = getDuration("USER_CACHE_REFRESH", fc.UserCache.Refresh, defaultCacheRefresh); err != nil {
		return nil, err
	}
	if s.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", fc.Service.RequestTimeout, defaultRequestTimeout); err != nil {
		return nil, err
	}

	return s, nil
}

// Validate checks the settings every pipeline run needs
func (s Settings) Validate() error {
	var errs []error
	if s.VikunjaURL == "" {
		errs = append(errs, &apperrors.ConfigError{Field: "VIKUNJA_URL"})
	}
	if s.VikunjaToken == "" {
		errs = append(errs, &apperrors.ConfigError{Field: "VIKUNJA_API_TOKEN"})
	}
	if s.OpenAIAPIKey == "" {
		errs = append(errs, &apperrors.ConfigError{Field: "OPENAI_API_KEY"})
	}
	if s.OpenAIModel == "" {
		errs = append(errs, &apperrors.ConfigError{Field: "OPENAI_MODEL"})
	}
	return errors.Join(errs...)
}

// ValidateServe also requires the broker used by the serve command
func (s Settings) ValidateServe() error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.RabbitMQURL == "" {
		return &apperrors.ConfigError{Field: "RABBITMQ_URL"}
	}
	return nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func orDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

func getBool(key string, fileVal *bool, defaultVal bool) (bool, error) {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, &apperrors.ConfigError{Field: key, Message: fmt.Sprintf("invalid boolean %q", v)}
		}
		return b, nil
	}
	if fileVal != nil {
		return *fileVal, nil
	}
	return defaultVal, nil
}

func getDuration(key, fileVal string, defaultVal time.Duration) (time.Duration, error) {
	raw := getEnvOrDefault(key, fileVal)
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, &apperrors.ConfigError{Field: key, Message: fmt.Sprintf("invalid duration %q", raw)}
	}
	return d, nil
}
