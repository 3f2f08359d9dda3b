// Package settings loads typed configuration for SIF3 consumers, providers
// and the environment authority.
package settings

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"sif3.org/internal/model"
)

// FileEnv names the optional YAML file applied before environment variables.
const FileEnv = "SIF3_SETTINGS_FILE"

// Settings are the values read by the SIF core. Environment variables
// override the YAML file, which overrides Defaults.
type Settings struct {
	ApplicationKey                 string                `yaml:"application_key"`
	SharedSecret                   string                `yaml:"shared_secret"`
	AuthenticationMethod           string                `yaml:"authentication_method"`
	ConsumerName                   string                `yaml:"consumer_name"`
	SupportedInfrastructureVersion string                `yaml:"supported_infrastructure_version"`
	DataModelNamespace             string                `yaml:"data_model_namespace"`
	Transport                      string                `yaml:"transport"`
	EnvironmentType                model.EnvironmentType `yaml:"environment_type"`
	EnvironmentURL                 string                `yaml:"environment_url"`
	InstanceID                     string                `yaml:"instance_id"`
	UserToken                      string                `yaml:"user_token"`
	SolutionID                     string                `yaml:"solution_id"`
	DeleteOnUnregister             bool                  `yaml:"delete_on_unregister"`

	JobTimeoutEnabled   bool          `yaml:"job_timeout_enabled"`
	JobTimeoutFrequency time.Duration `yaml:"job_timeout_frequency"`

	NavigationPageSize      int           `yaml:"navigation_page_size"`
	EventProcessingWaitTime time.Duration `yaml:"event_processing_wait_time"`
	EventsSupported         bool          `yaml:"events_supported"`
	CompressPayload         bool          `yaml:"compress_payload"`
	MaxClockSkew            time.Duration `yaml:"max_clock_skew"`

	HTTPAddr       string  `yaml:"http_addr"`
	GRPCAddr       string  `yaml:"grpc_addr"`
	ServiceBaseURL string  `yaml:"service_base_url"`
	PGDSN          string  `yaml:"pg_dsn"`
	RedisAddr      string  `yaml:"redis_addr"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	RateBurst      int     `yaml:"rate_burst"`
}

// Defaults returns the settings used when nothing else is configured.
func Defaults() Settings {
	return Settings{
		AuthenticationMethod:           "Basic",
		SupportedInfrastructureVersion: "3.2.1",
		DataModelNamespace:             "http://www.sifassociation.org/datamodel/au/3.4",
		Transport:                      "REST",
		EnvironmentType:                model.EnvironmentDirect,
		EnvironmentURL:                 "http://localhost:8080/api",
		DeleteOnUnregister:             true,
		JobTimeoutEnabled:              true,
		JobTimeoutFrequency:            60 * time.Second,
		NavigationPageSize:             100,
		EventProcessingWaitTime:        60 * time.Second,
		HTTPAddr:                       ":8080",
		GRPCAddr:                       ":9090",
		ServiceBaseURL:                 "http://localhost:8080/api",
		RatePerSecond:                  20,
		RateBurst:                      40,
	}
}

// Load reads the optional settings file named by SIF3_SETTINGS_FILE and then
// the SIF3_* environment variables.
func Load() (Settings, error) {
	return LoadFrom(os.Getenv)
}

// LoadFrom is Load with an injectable environment lookup.
func LoadFrom(getenv func(string) string) (Settings, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(getenv(FileEnv)); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Settings{}, err
		}
	}

	l := loader{getenv: getenv}
	l.str("SIF3_APPLICATION_KEY", &cfg.ApplicationKey)
	l.str("SIF3_SHARED_SECRET", &cfg.SharedSecret)
	l.str("SIF3_AUTHENTICATION_METHOD", &cfg.AuthenticationMethod)
	l.str("SIF3_CONSUMER_NAME", &cfg.ConsumerName)
	l.str("SIF3_SUPPORTED_INFRASTRUCTURE_VERSION", &cfg.SupportedInfrastructureVersion)
	l.str("SIF3_DATA_MODEL_NAMESPACE", &cfg.DataModelNamespace)
	l.str("SIF3_TRANSPORT", &cfg.Transport)
	if v := l.lookup("SIF3_ENVIRONMENT_TYPE"); v != "" {
		switch t := model.EnvironmentType(strings.ToUpper(v)); t {
		case model.EnvironmentDirect, model.EnvironmentBrokered:
			cfg.EnvironmentType = t
		default:
			l.invalid = append(l.invalid, "SIF3_ENVIRONMENT_TYPE")
		}
	}
	l.str("SIF3_ENVIRONMENT_URL", &cfg.EnvironmentURL)
	l.str("SIF3_INSTANCE_ID", &cfg.InstanceID)
	l.str("SIF3_USER_TOKEN", &cfg.UserToken)
	l.str("SIF3_SOLUTION_ID", &cfg.SolutionID)
	l.boolean("SIF3_DELETE_ON_UNREGISTER", &cfg.DeleteOnUnregister)
	l.boolean("SIF3_JOB_TIMEOUT_ENABLED", &cfg.JobTimeoutEnabled)
	l.seconds("SIF3_JOB_TIMEOUT_FREQUENCY", &cfg.JobTimeoutFrequency)
	l.integer("SIF3_NAVIGATION_PAGE_SIZE", &cfg.NavigationPageSize)
	l.seconds("SIF3_EVENT_PROCESSING_WAIT_TIME", &cfg.EventProcessingWaitTime)
	l.boolean("SIF3_EVENTS_SUPPORTED", &cfg.EventsSupported)
	l.boolean("SIF3_COMPRESS_PAYLOAD", &cfg.CompressPayload)
	l.seconds("SIF3_MAX_CLOCK_SKEW", &cfg.MaxClockSkew)
	l.str("SIF3_HTTP_ADDR", &cfg.HTTPAddr)
	l.str("SIF3_GRPC_ADDR", &cfg.GRPCAddr)
	l.str("SIF3_SERVICE_BASE_URL", &cfg.ServiceBaseURL)
	l.str("SIF3_PG_DSN", &cfg.PGDSN)
	l.str("SIF3_REDIS_ADDR", &cfg.RedisAddr)
	if v := l.lookup("SIF3_RATE_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 {
			l.invalid = append(l.invalid, "SIF3_RATE_PER_SECOND")
		} else {
			cfg.RatePerSecond = f
		}
	}
	l.integer("SIF3_RATE_BURST", &cfg.RateBurst)

	if len(l.invalid) > 0 {
		return Settings{}, fmt.Errorf("settings: invalid values for %s", strings.Join(l.invalid, ", "))
	}
	if err := cfg.validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// RequireConsumer reports missing values needed to register with an
// environment authority. Only a brokered environment must name its URL.
func (s Settings) RequireConsumer() error {
	var missing []string
	if s.ApplicationKey == "" {
		missing = append(missing, "SIF3_APPLICATION_KEY")
	}
	if s.SharedSecret == "" {
		missing = append(missing, "SIF3_SHARED_SECRET")
	}
	if s.EnvironmentType == model.EnvironmentBrokered && s.EnvironmentURL == "" {
		missing = append(missing, "SIF3_ENVIRONMENT_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("settings: missing required values: %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *Settings) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("settings: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return fmt.Errorf("settings: parse %s: %w", path, err)
	}
	return nil
}

func (s Settings) validate() error {
	var invalid []string
	if s.JobTimeoutEnabled && s.JobTimeoutFrequency <= 0 {
		invalid = append(invalid, "job_timeout_frequency")
	}
	if s.NavigationPageSize <= 0 {
		invalid = append(invalid, "navigation_page_size")
	}
	if s.RateBurst < 0 {
		invalid = append(invalid, "rate_burst")
	}
	if len(invalid) > 0 {
		return fmt.Errorf("settings: invalid values for %s", strings.Join(invalid, ", "))
	}
	return nil
}

type loader struct {
	getenv  func(string) string
	invalid []string
}

func (l *loader) lookup(key string) string {
	return strings.TrimSpace(l.getenv(key))
}

func (l *loader) str(key string, dst *string) {
	if v := l.lookup(key); v != "" {
		*dst = v
	}
}

func (l *loader) boolean(key string, dst *bool) {
	v := l.lookup(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.invalid = append(l.invalid, key)
		return
	}
	*dst = b
}

func (l *loader) integer(key string, dst *int) {
	v := l.lookup(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		l.invalid = append(l.invalid, key)
		return
	}
	*dst = n
}

// seconds accepts a bare number of seconds or a Go duration string.
func (l *loader) seconds(key string, dst *time.Duration) {
	v := l.lookup(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n >= 0 {
		*dst = time.Duration(n) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		l.invalid = append(l.invalid, key)
		return
	}
	*dst = d
}
