package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/jrschumacher/wheelcheck/internal/logger"
	"github.com/spf13/viper"
)

const (
	EnvProd = "production"
	EnvDev  = "development"
	EnvTest = "test"
)

// Config holds application configuration loaded from environment variables or config file.
type Config struct {
	AppEnv         string `mapstructure:"app_env" default:"development" validate:"required,oneof=production development test"`
	Port           string `mapstructure:"port" default:"8000" validate:"required"`
	DatabaseURL    string `secret:"true" mapstructure:"database_url" default:"wheelcheck.db"`
	AllowedOrigins string `mapstructure:"allowed_origins" default:"*"`

	// Identity provider. An empty issuer is not a startup error: every
	// authenticated request is rejected as a configuration error instead.
	AuthIssuer       string        `mapstructure:"auth_issuer" validate:"omitempty,url"`
	AuthAudience     string        `mapstructure:"auth_audience"`
	JWKSCacheTTL     time.Duration `mapstructure:"jwks_cache_ttl" default:"12h" validate:"gt=0"`
	JWKSFetchTimeout time.Duration `mapstructure:"jwks_fetch_timeout" default:"5s" validate:"gt=0"`
	ClockSkew        time.Duration `mapstructure:"clock_skew" default:"0s" validate:"gte=0"`

	// Logging
	LogLevel  string `mapstructure:"log_level" default:"INFO" validate:"oneof=DEBUG INFO WARN ERROR"`
	LogFormat string `mapstructure:"log_format" default:"text" validate:"oneof=text json"`
}

// envAliases lists extra environment variable names accepted for a key, in
// priority order after the canonical upper-cased key.
var envAliases = map[string][]string{
	"auth_issuer":   {"CLERK_ISSUER"},
	"auth_audience": {"CLERK_AUDIENCE"},
}

// Load loads configuration from config file and environment variables using viper.
func Load() *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			logger.Error("Error reading config file", "error", err)
		} else {
			logger.Debug("No config file found, using environment variables")
		}
	}

	cfg := LoadFrom(v)
	logger.Info("Loaded config", "config", cfg.String())
	if cfg.AuthIssuer == "" {
		logger.Warn("AUTH_ISSUER is not set; authenticated routes will fail with a configuration error")
	}
	return cfg
}

// LoadFrom applies struct defaults, binds every field to its environment
// variable and unmarshals v on top.
func LoadFrom(v *viper.Viper) *Config {
	cfg := Config{}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__", "-", "__"))

	if err := defaults.Set(&cfg); err != nil {
		panic("failed to set struct defaults: " + err.Error())
	}

	typeOfCfg := reflect.TypeOf(cfg)
	for i := 0; i < typeOfCfg.NumField(); i++ {
		field := typeOfCfg.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			key = toSnakeCase(field.Name)
		}
		envs := append([]string{strings.ToUpper(key)}, envAliases[key]...)
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}

	if err := v.Unmarshal(&cfg); err != nil {
		logger.Warn("Could not unmarshal config", "error", err)
	}

	cfg.AuthIssuer = strings.TrimRight(strings.TrimSpace(cfg.AuthIssuer), "/")
	return &cfg
}

func Validate(cfg *Config) error {
	validate := validator.New()
	return validate.Struct(cfg)
}

// Origins splits AllowedOrigins on commas, dropping blanks.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// IsProduction reports whether AppEnv is production.
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProd
}

// String returns a string representation of the config with secret fields redacted.
func (c *Config) String() string {
	v := reflect.ValueOf(*c)
	t := reflect.TypeOf(*c)
	var sb strings.Builder
	sb.WriteString("Config{")
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i).Interface()
		if field.Tag.Get("secret") == "true" {
			value = "***REDACTED***"
		}
		sb.WriteString(field.Name + ": " + toString(value))
		if i < t.NumField()-1 {
			sb.WriteString(", ")
		}
	}
	sb.WriteString("}")
	return sb.String()
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}

// toSnakeCase converts CamelCase to snake_case
func toSnakeCase(str string) string {
	runes := []rune(str)
	var out []rune
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if !unicode.IsUpper(prev) || nextLower {
				out = append(out, '_')
			}
		}
		out = append(out, unicode.ToLower(r))
	}
	return string(out)
}
