// Package config loads the bulk export CLI configuration from environment
// variables and an optional .env file. Command line flags override whatever
// is loaded here.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ehr/bulk-export/internal/auth"
	"github.com/ehr/bulk-export/internal/export"
	"github.com/ehr/bulk-export/internal/httpx"
)

type Config struct {
	FhirEndpointURL string `mapstructure:"FHIR_ENDPOINT_URL"`
	Level           string `mapstructure:"EXPORT_LEVEL"`
	GroupID         string `mapstructure:"EXPORT_GROUP_ID"`

	OutputDir       string `mapstructure:"OUTPUT_DIR"`
	OutputFormat    string `mapstructure:"OUTPUT_FORMAT"`
	OutputExtension string `mapstructure:"OUTPUT_EXTENSION"`

	Since                 string   `mapstructure:"SINCE"`
	Types                 []string `mapstructure:"TYPES"`
	Elements              []string `mapstructure:"ELEMENTS"`
	TypeFilters           []string `mapstructure:"TYPE_FILTERS"`
	IncludeAssociatedData []string `mapstructure:"INCLUDE_ASSOCIATED_DATA"`
	Patients              []string `mapstructure:"PATIENTS"`

	Timeout                time.Duration `mapstructure:"TIMEOUT"`
	MaxConcurrentDownloads int           `mapstructure:"MAX_CONCURRENT_DOWNLOADS"`

	HTTPRetryCount             int           `mapstructure:"HTTP_RETRY_COUNT"`
	HTTPSocketTimeout          time.Duration `mapstructure:"HTTP_SOCKET_TIMEOUT"`
	HTTPMaxConnectionsPerRoute int           `mapstructure:"HTTP_MAX_CONNECTIONS_PER_ROUTE"`

	MaxTransientErrors int           `mapstructure:"MAX_TRANSIENT_ERRORS"`
	MinPollingDelay    time.Duration `mapstructure:"MIN_POLLING_DELAY"`
	MaxPollingDelay    time.Duration `mapstructure:"MAX_POLLING_DELAY"`

	AuthEnabled              bool          `mapstructure:"AUTH_ENABLED"`
	AuthUseSMART             bool          `mapstructure:"AUTH_USE_SMART"`
	AuthTokenEndpoint        string        `mapstructure:"AUTH_TOKEN_ENDPOINT"`
	AuthClientID             string        `mapstructure:"AUTH_CLIENT_ID"`
	AuthClientSecret         string        `mapstructure:"AUTH_CLIENT_SECRET"`
	AuthPrivateKeyJWK        string        `mapstructure:"AUTH_PRIVATE_KEY_JWK"`
	AuthUseFormForBasicAuth  bool          `mapstructure:"AUTH_USE_FORM_FOR_BASIC_AUTH"`
	AuthScope                string        `mapstructure:"AUTH_SCOPE"`
	AuthTokenExpiryTolerance time.Duration `mapstructure:"AUTH_TOKEN_EXPIRY_TOLERANCE"`

	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("EXPORT_LEVEL", "system")
	v.SetDefault("OUTPUT_FORMAT", export.DefaultOutputFormat)
	v.SetDefault("OUTPUT_EXTENSION", export.DefaultOutputExtension)
	v.SetDefault("MAX_CONCURRENT_DOWNLOADS", export.DefaultMaxConcurrentDownloads)
	v.SetDefault("HTTP_RETRY_COUNT", 3)
	v.SetDefault("HTTP_SOCKET_TIMEOUT", "30s")
	v.SetDefault("HTTP_MAX_CONNECTIONS_PER_ROUTE", 32)
	v.SetDefault("MAX_TRANSIENT_ERRORS", 3)
	v.SetDefault("MIN_POLLING_DELAY", "1s")
	v.SetDefault("MAX_POLLING_DELAY", "60s")
	v.SetDefault("AUTH_USE_SMART", true)
	v.SetDefault("AUTH_TOKEN_EXPIRY_TOLERANCE", "120s")
	v.SetDefault("ENV", "production")
	v.SetDefault("LOG_LEVEL", "info")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("FHIR_ENDPOINT_URL")
	v.BindEnv("EXPORT_LEVEL")
	v.BindEnv("EXPORT_GROUP_ID")
	v.BindEnv("OUTPUT_DIR")
	v.BindEnv("OUTPUT_FORMAT")
	v.BindEnv("OUTPUT_EXTENSION")
	v.BindEnv("SINCE")
	v.BindEnv("TYPES")
	v.BindEnv("ELEMENTS")
	v.BindEnv("TYPE_FILTERS")
	v.BindEnv("INCLUDE_ASSOCIATED_DATA")
	v.BindEnv("PATIENTS")
	v.BindEnv("TIMEOUT")
	v.BindEnv("MAX_CONCURRENT_DOWNLOADS")
	v.BindEnv("HTTP_RETRY_COUNT")
	v.BindEnv("HTTP_SOCKET_TIMEOUT")
	v.BindEnv("HTTP_MAX_CONNECTIONS_PER_ROUTE")
	v.BindEnv("MAX_TRANSIENT_ERRORS")
	v.BindEnv("MIN_POLLING_DELAY")
	v.BindEnv("MAX_POLLING_DELAY")
	v.BindEnv("AUTH_ENABLED")
	v.BindEnv("AUTH_USE_SMART")
	v.BindEnv("AUTH_TOKEN_ENDPOINT")
	v.BindEnv("AUTH_CLIENT_ID")
	v.BindEnv("AUTH_CLIENT_SECRET")
	v.BindEnv("AUTH_PRIVATE_KEY_JWK")
	v.BindEnv("AUTH_USE_FORM_FOR_BASIC_AUTH")
	v.BindEnv("AUTH_SCOPE")
	v.BindEnv("AUTH_TOKEN_EXPIRY_TOLERANCE")
	v.BindEnv("ENV")
	v.BindEnv("LOG_LEVEL")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Env vars carry lists as comma-separated strings.
	cfg.Types = splitList(v.GetString("TYPES"))
	cfg.Elements = splitList(v.GetString("ELEMENTS"))
	cfg.TypeFilters = splitList(v.GetString("TYPE_FILTERS"))
	cfg.IncludeAssociatedData = splitList(v.GetString("INCLUDE_ASSOCIATED_DATA"))
	cfg.Patients = splitList(v.GetString("PATIENTS"))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Builder assembles an export.Builder from the loaded configuration. The
// result still goes through the builder's own validation.
func (c *Config) Builder() (*export.Builder, error) {
	var b *export.Builder
	switch c.Level {
	case "", "system":
		b = export.NewSystemBuilder()
	case "patient":
		b = export.NewPatientBuilder()
	case "group":
		b = export.NewGroupBuilder(c.GroupID)
	default:
		return nil, fmt.Errorf("unknown export level %q (system, patient or group)", c.Level)
	}

	b.WithFhirEndpointURL(c.FhirEndpointURL).
		WithOutputDir(c.OutputDir).
		WithOutputFormat(c.OutputFormat).
		WithOutputExtension(c.OutputExtension).
		WithTypes(c.Types...).
		WithElements(c.Elements...).
		WithTypeFilters(c.TypeFilters...).
		WithAssociatedDataCodes(c.IncludeAssociatedData...).
		WithPatients(c.Patients...).
		WithTimeout(c.Timeout).
		WithMaxConcurrentDownloads(c.MaxConcurrentDownloads).
		WithHTTPClientConfig(httpx.ClientConfig{
			RetryCount:             c.HTTPRetryCount,
			SocketTimeout:          c.HTTPSocketTimeout,
			MaxConnectionsPerRoute: c.HTTPMaxConnectionsPerRoute,
		}).
		WithAsyncConfig(export.AsyncConfig{
			MaxTransientErrors: c.MaxTransientErrors,
			MinPollingDelay:    c.MinPollingDelay,
			MaxPollingDelay:    c.MaxPollingDelay,
		}).
		WithAuthConfig(auth.Config{
			Enabled:              c.AuthEnabled,
			UseSMART:             c.AuthUseSMART,
			TokenEndpoint:        c.AuthTokenEndpoint,
			ClientID:             c.AuthClientID,
			ClientSecret:         c.AuthClientSecret,
			PrivateKeyJWK:        c.AuthPrivateKeyJWK,
			UseFormForBasicAuth:  c.AuthUseFormForBasicAuth,
			Scope:                c.AuthScope,
			TokenExpiryTolerance: c.AuthTokenExpiryTolerance,
		})

	if c.Since != "" {
		since, err := time.Parse(time.RFC3339, c.Since)
		if err != nil {
			return nil, fmt.Errorf("parsing SINCE %q: %w", c.Since, err)
		}
		b.WithSince(since)
	}
	return b, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
