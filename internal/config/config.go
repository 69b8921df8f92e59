package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port              string   `mapstructure:"PORT"`
	Env               string   `mapstructure:"ENV"`
	DatabaseURL       string   `mapstructure:"DATABASE_URL"`
	DBMaxConns        int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns        int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL          string   `mapstructure:"REDIS_URL"`
	AuthIssuer        string   `mapstructure:"AUTH_ISSUER"`
	AuthJWKSURL       string   `mapstructure:"AUTH_JWKS_URL"`
	AuthAudience      string   `mapstructure:"AUTH_AUDIENCE"`
	JWTDevSecret      string   `mapstructure:"JWT_DEV_SECRET"`
	CORSOrigins       []string `mapstructure:"CORS_ORIGINS"`
	NoteEncryptionKey string   `mapstructure:"NOTE_ENCRYPTION_KEY"`
	NoteLegacyKey     string   `mapstructure:"NOTE_LEGACY_KEY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("REDIS_URL")
	v.BindEnv("AUTH_ISSUER")
	v.BindEnv("AUTH_JWKS_URL")
	v.BindEnv("AUTH_AUDIENCE")
	v.BindEnv("JWT_DEV_SECRET")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("NOTE_ENCRYPTION_KEY")
	v.BindEnv("NOTE_LEGACY_KEY")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. In production the
// note encryption key is required so free-text clinical notes are never
// persisted in plaintext, and real JWT authentication must be configured.
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.NoteEncryptionKey == "" {
			return fmt.Errorf("NOTE_ENCRYPTION_KEY is required in production")
		}
		if c.AuthIssuer == "" && c.JWTDevSecret == "" {
			return fmt.Errorf("AUTH_ISSUER must be set in production")
		}
	}

	if err := validateHexKey("NOTE_ENCRYPTION_KEY", c.NoteEncryptionKey); err != nil {
		return err
	}
	if err := validateHexKey("NOTE_LEGACY_KEY", c.NoteLegacyKey); err != nil {
		return err
	}

	return nil
}

func validateHexKey(name, key string) error {
	if key == "" {
		return nil
	}
	keyBytes, err := hex.DecodeString(key)
	if err != nil {
		return fmt.Errorf("%s is not valid hex: %w", name, err)
	}
	if len(keyBytes) != 32 {
		return fmt.Errorf("%s must be 32 bytes (64 hex chars), got %d bytes", name, len(keyBytes))
	}
	return nil
}
