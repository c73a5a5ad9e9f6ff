package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-2.5-flash"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-4o-mini"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	AI            AIConfig
	Twilio        TwilioConfig
	Pipeline      PipelineConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN              string
	Host             string
	Port             int
	Name             string
	User             string
	Password         string
	SSLMode          string
	CloudSQLInstance string
	ConnectTimeout   time.Duration
}

type AIConfig struct {
	Provider    string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type TwilioConfig struct {
	AccountSID        string
	AuthToken         string
	From              string
	ValidateSignature bool
	WebhookURL        string
}

type PipelineConfig struct {
	HistoryLimit int
	ChunkSize    int
	ChunkDelay   time.Duration
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

// LoadFromEnv reads the process environment, falling back to a dotenv file
// named by APUBOT_CONFIG_FILE or ./.env when present.
func LoadFromEnv(serviceName string) (Config, error) {
	lookup := LookupFunc(os.LookupEnv)
	path, explicit := os.LookupEnv("APUBOT_CONFIG_FILE")
	if !explicit {
		path = ".env"
	}
	path = strings.TrimSpace(path)
	if path != "" {
		if _, err := os.Stat(path); err == nil || explicit {
			fileLookup, err := FileLookup(path)
			if err != nil {
				return Config{}, err
			}
			lookup = ChainLookup(lookup, fileLookup)
		}
	}
	return Load(serviceName, lookup)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("APUBOT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid APUBOT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "APUBOT_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_HTTP_ADDR", &cfg.HTTP.Address); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "APUBOT_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "APUBOT_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "APUBOT_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_DB_DSN", &cfg.Database.DSN); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_DB_HOST", &cfg.Database.Host); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "APUBOT_DB_PORT", &cfg.Database.Port); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_DB_NAME", &cfg.Database.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_DB_USER", &cfg.Database.User); err != nil {
		return Config{}, err
	}
	if err := applySecret(lookup, "APUBOT_DB_PASSWORD", &cfg.Database.Password); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_DB_SSLMODE", &cfg.Database.SSLMode); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_DB_CLOUDSQL_INSTANCE", &cfg.Database.CloudSQLInstance); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "APUBOT_DB_CONNECT_TIMEOUT", &cfg.Database.ConnectTimeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_AI_PROVIDER", &cfg.AI.Provider); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_AI_BASE_URL", &cfg.AI.BaseURL); err != nil {
		return Config{}, err
	}
	if err := applySecret(lookup, "APUBOT_AI_API_KEY", &cfg.AI.APIKey); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_AI_MODEL", &cfg.AI.Model); err != nil {
		return Config{}, err
	}
	if err := applyFloat(lookup, "APUBOT_AI_TEMPERATURE", &cfg.AI.Temperature); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "APUBOT_AI_TIMEOUT", &cfg.AI.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_TWILIO_ACCOUNT_SID", &cfg.Twilio.AccountSID); err != nil {
		return Config{}, err
	}
	if err := applySecret(lookup, "APUBOT_TWILIO_AUTH_TOKEN", &cfg.Twilio.AuthToken); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_TWILIO_FROM", &cfg.Twilio.From); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "APUBOT_TWILIO_VALIDATE_SIGNATURE", &cfg.Twilio.ValidateSignature); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "APUBOT_TWILIO_WEBHOOK_URL", &cfg.Twilio.WebhookURL); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "APUBOT_PIPELINE_HISTORY_LIMIT", &cfg.Pipeline.HistoryLimit); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "APUBOT_PIPELINE_CHUNK_SIZE", &cfg.Pipeline.ChunkSize); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "APUBOT_PIPELINE_CHUNK_DELAY", &cfg.Pipeline.ChunkDelay); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "APUBOT_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "APUBOT_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	cfg.AI.Provider = strings.ToLower(cfg.AI.Provider)
	if cfg.AI.Provider != ProviderGemini && cfg.AI.Provider != ProviderOpenAI {
		return Config{}, fmt.Errorf("invalid APUBOT_AI_PROVIDER: %q", cfg.AI.Provider)
	}
	if cfg.AI.Provider == ProviderOpenAI {
		if cfg.AI.BaseURL == defaultGeminiBaseURL {
			cfg.AI.BaseURL = defaultOpenAIBaseURL
		}
		if cfg.AI.Model == defaultGeminiModel {
			cfg.AI.Model = defaultOpenAIModel
		}
	}
	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Pipeline.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("APUBOT_PIPELINE_HISTORY_LIMIT must be positive")
	}
	if cfg.Pipeline.ChunkSize <= 0 {
		return Config{}, fmt.Errorf("APUBOT_PIPELINE_CHUNK_SIZE must be positive")
	}
	return cfg, nil
}

// Validate reports every missing key required to serve webhooks in a single error.
func (c Config) Validate() error {
	var missing []string
	if c.Database.DSN == "" {
		if c.Database.Host == "" && c.Database.CloudSQLInstance == "" {
			missing = append(missing, "APUBOT_DB_HOST")
		}
		if c.Database.Name == "" {
			missing = append(missing, "APUBOT_DB_NAME")
		}
		if c.Database.User == "" {
			missing = append(missing, "APUBOT_DB_USER")
		}
		if c.Database.Password == "" {
			missing = append(missing, "APUBOT_DB_PASSWORD")
		}
	}
	if c.AI.APIKey == "" {
		missing = append(missing, "APUBOT_AI_API_KEY")
	}
	if c.Twilio.AccountSID == "" {
		missing = append(missing, "APUBOT_TWILIO_ACCOUNT_SID")
	}
	if c.Twilio.AuthToken == "" {
		missing = append(missing, "APUBOT_TWILIO_AUTH_TOKEN")
	}
	if c.Twilio.From == "" {
		missing = append(missing, "APUBOT_TWILIO_FROM")
	}
	if c.Twilio.ValidateSignature && c.Twilio.WebhookURL == "" {
		missing = append(missing, "APUBOT_TWILIO_WEBHOOK_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DatabaseDSN returns the pgx connection string. An explicit DSN wins; a
// Cloud SQL instance connects through its Unix socket directory.
func (c Config) DatabaseDSN() (string, error) {
	if c.Database.DSN != "" {
		return c.Database.DSN, nil
	}
	if c.Database.Name == "" {
		return "", errors.New("database name is required")
	}

	query := url.Values{}
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Database.User, c.Database.Password),
		Path:   "/" + c.Database.Name,
	}
	if c.Database.CloudSQLInstance != "" {
		query.Set("host", "/cloudsql/"+c.Database.CloudSQLInstance)
	} else {
		if c.Database.Host == "" {
			return "", errors.New("database host is required")
		}
		u.Host = c.Database.Host
		if c.Database.Port > 0 {
			u.Host = c.Database.Host + ":" + strconv.Itoa(c.Database.Port)
		}
		if c.Database.SSLMode != "" {
			query.Set("sslmode", c.Database.SSLMode)
		}
	}
	if c.Database.ConnectTimeout > 0 {
		seconds := int(c.Database.ConnectTimeout / time.Second)
		if seconds < 1 {
			seconds = 1
		}
		query.Set("connect_timeout", strconv.Itoa(seconds))
	}
	u.RawQuery = query.Encode()
	return u.String(), nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "apubot-api"},
		HTTP: HTTPConfig{
			Address:      ":10000",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Port:           5432,
			SSLMode:        "prefer",
			ConnectTimeout: 30 * time.Second,
		},
		AI: AIConfig{
			Provider:    ProviderGemini,
			BaseURL:     defaultGeminiBaseURL,
			Model:       defaultGeminiModel,
			Temperature: 0.1,
			Timeout:     30 * time.Second,
		},
		Twilio: TwilioConfig{
			ValidateSignature: false,
		},
		Pipeline: PipelineConfig{
			HistoryLimit: 5,
			ChunkSize:    1500,
			ChunkDelay:   2 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Pipeline.ChunkDelay = 0
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Database.SSLMode = "require"
		cfg.Twilio.ValidateSignature = true
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

// applySecret keeps surrounding characters intact; passwords may legitimately
// start or end with spaces.
func applySecret(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimRight(raw, "\r\n")
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
