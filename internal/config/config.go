package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Ananth-NQI/hotelchat-backend/internal/utils"
)

// Tenant is a hotel configured statically in the config file
type Tenant struct {
	ID          string `mapstructure:"id"`
	SessionName string `mapstructure:"session_name"`
	CountryCode string `mapstructure:"country_code"`
	Autostart   bool   `mapstructure:"autostart"`
}

// Config holds every runtime setting
type Config struct {
	Port        string
	Environment string
	LogLevel    string
	LogFormat   string

	DBDriver               string
	DatabaseURL            string
	DBUser                 string
	DBPass                 string
	DBName                 string
	DBHost                 string
	DBPort                 string
	InstanceConnectionName string
	UseMemoryStore         bool

	Transport          string
	TokensDir          string
	DefaultCountryCode string
	QRMaxAttempts      int
	QRTimeout          time.Duration

	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioWhatsAppFrom       string
	DisableWebhookValidation bool

	JWTSecret            string
	CORSOrigins          string
	StaleSessionInterval time.Duration

	Tenants []Tenant
}

const (
	TransportWhatsmeow = "whatsmeow"
	TransportTwilio    = "twilio"
)

// LoadDotEnv loads .env for local development. Missing files are fine.
func LoadDotEnv() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("environments/.env.development")
	}
}

// SetDefaults registers every key with its default and binds the environment
func SetDefaults(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_USER", "")
	v.SetDefault("DB_PASS", "")
	v.SetDefault("DB_NAME", "hotelchat")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("INSTANCE_CONNECTION_NAME", "")
	v.SetDefault("USE_MEMORY_STORE", false)
	v.SetDefault("TRANSPORT", TransportWhatsmeow)
	v.SetDefault("WA_TOKENS_DIR", "tokens")
	v.SetDefault("DEFAULT_COUNTRY_CODE", utils.DefaultCountryCode)
	v.SetDefault("QR_MAX_ATTEMPTS", 5)
	v.SetDefault("QR_TIMEOUT", 3*time.Minute)
	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_AUTH_TOKEN", "")
	v.SetDefault("TWILIO_WHATSAPP_FROM", "")
	v.SetDefault("DISABLE_WEBHOOK_VALIDATION", false)
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("STALE_SESSION_INTERVAL", time.Minute)
}

// Load reads the settings out of v
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:        v.GetString("PORT"),
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		LogFormat:   v.GetString("LOG_FORMAT"),

		DBDriver:               strings.ToLower(v.GetString("DB_DRIVER")),
		DatabaseURL:            v.GetString("DATABASE_URL"),
		DBUser:                 v.GetString("DB_USER"),
		DBPass:                 v.GetString("DB_PASS"),
		DBName:                 v.GetString("DB_NAME"),
		DBHost:                 v.GetString("DB_HOST"),
		DBPort:                 v.GetString("DB_PORT"),
		InstanceConnectionName: v.GetString("INSTANCE_CONNECTION_NAME"),
		UseMemoryStore:         v.GetBool("USE_MEMORY_STORE"),

		Transport:          strings.ToLower(v.GetString("TRANSPORT")),
		TokensDir:          v.GetString("WA_TOKENS_DIR"),
		DefaultCountryCode: utils.DigitsOnly(v.GetString("DEFAULT_COUNTRY_CODE")),
		QRMaxAttempts:      v.GetInt("QR_MAX_ATTEMPTS"),
		QRTimeout:          v.GetDuration("QR_TIMEOUT"),

		TwilioAccountSID:         v.GetString("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:          v.GetString("TWILIO_AUTH_TOKEN"),
		TwilioWhatsAppFrom:       v.GetString("TWILIO_WHATSAPP_FROM"),
		DisableWebhookValidation: v.GetBool("DISABLE_WEBHOOK_VALIDATION"),

		JWTSecret:            v.GetString("JWT_SECRET"),
		CORSOrigins:          v.GetString("CORS_ORIGINS"),
		StaleSessionInterval: v.GetDuration("STALE_SESSION_INTERVAL"),
	}

	if err := v.UnmarshalKey("tenants", &cfg.Tenants); err != nil {
		return nil, fmt.Errorf("invalid tenants: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportWhatsmeow, TransportTwilio:
	default:
		return fmt.Errorf("unknown TRANSPORT %q (want %s or %s)", c.Transport, TransportWhatsmeow, TransportTwilio)
	}
	if c.Transport == TransportTwilio && (c.TwilioAccountSID == "" || c.TwilioAuthToken == "") {
		return fmt.Errorf("TRANSPORT=twilio needs TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN")
	}
	if !c.UseMemoryStore {
		switch c.DBDriver {
		case "postgres", "sqlite", "mysql":
		default:
			return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
		}
	}
	if c.DefaultCountryCode == "" {
		return fmt.Errorf("DEFAULT_COUNTRY_CODE must contain digits")
	}
	seen := make(map[string]bool, len(c.Tenants))
	for i, t := range c.Tenants {
		id := strings.TrimSpace(t.ID)
		if id == "" {
			return fmt.Errorf("tenants[%d]: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("tenants[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
	}
	return nil
}

// IsProduction reports whether the service runs in a deployed environment
func (c *Config) IsProduction() bool {
	return c.InstanceConnectionName != "" || strings.EqualFold(c.Environment, "production")
}

// CountryCode returns the country code used to normalize phones of a tenant
func (c *Config) CountryCode(hotelID string) string {
	for _, t := range c.Tenants {
		if t.ID == hotelID {
			if cc := utils.DigitsOnly(t.CountryCode); cc != "" {
				return cc
			}
			break
		}
	}
	return c.DefaultCountryCode
}
