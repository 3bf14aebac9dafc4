package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultPath is where Load looks for the optional YAML config file.
const DefaultPath = "configs/config.yaml"

type Config struct {
	Server struct {
		Port           int           `mapstructure:"port"`
		AllowedOrigins []string      `mapstructure:"allowed_origins"`
		ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`

		// InsecureCookies drops the Secure cookie flag for plain-HTTP development.
		InsecureCookies bool `mapstructure:"insecure_cookies"`
	} `mapstructure:"server"`

	Database struct {
		URL          string `mapstructure:"url"`
		MaxConns     int32  `mapstructure:"max_conns"`
		Serializable bool   `mapstructure:"serializable"`
	} `mapstructure:"database"`

	JWT struct {
		Secret          string `mapstructure:"secret"`
		ExpirationHours int    `mapstructure:"expiration_hours"`
		Issuer          string `mapstructure:"issuer"`
	} `mapstructure:"jwt"`

	Company struct {
		DefaultCode string `mapstructure:"default_code"`
	} `mapstructure:"company"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	WebAuthn struct {
		RPID          string   `mapstructure:"rp_id"`
		RPDisplayName string   `mapstructure:"rp_display_name"`
		RPOrigins     []string `mapstructure:"rp_origins"`
	} `mapstructure:"webauthn"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   string `mapstructure:"file"`
	} `mapstructure:"log"`
}

// Load reads .env, the optional YAML file at path and the environment, in
// increasing order of precedence. Environment keys are the upper-cased dotted
// key with dots replaced by underscores (database.url -> DATABASE_URL).
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Legacy names kept for deployments that predate the config file.
	_ = v.BindEnv("server.allowed_origins", "SERVER_ALLOWED_ORIGINS", "ALLOWED_ORIGINS")
	_ = v.BindEnv("company.default_code", "COMPANY_DEFAULT_CODE", "COMPANY_CODE")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.shutdown_grace", 10*time.Second)
	v.SetDefault("server.insecure_cookies", false)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.serializable", false)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiration_hours", 12)
	v.SetDefault("jwt.issuer", "smb-erp")
	v.SetDefault("company.default_code", "1000")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("webauthn.rp_id", "localhost")
	v.SetDefault("webauthn.rp_display_name", "SMB ERP")
	v.SetDefault("webauthn.rp_origins", []string{"http://localhost:8080"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url (DATABASE_URL) is required")
	}
	if c.JWT.Secret == "" {
		return errors.New("jwt.secret (JWT_SECRET) is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.JWT.ExpirationHours <= 0 {
		return fmt.Errorf("jwt.expiration_hours must be positive, got %d", c.JWT.ExpirationHours)
	}
	return nil
}

// TokenTTL is the lifetime of an issued session token.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.JWT.ExpirationHours) * time.Hour
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// viper reports a missing explicit SetConfigFile as a raw *fs.PathError
// rather than ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
