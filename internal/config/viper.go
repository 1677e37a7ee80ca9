package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// GATEKEEP_AUTH_JWT_SECRET for auth.jwt_secret.
const EnvPrefix = "GATEKEEP"

// NewViper returns a viper instance that reads GATEKEEP_* environment
// variables for dotted keys.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Overlay applies the keys set in v (bound flags or environment variables)
// over cfg. database.driver and database.dsn address the default database.
func Overlay(cfg *Config, v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	str("server.host", &cfg.Server.Host)
	if v.IsSet("server.port") {
		cfg.Server.Port = v.GetInt("server.port")
	}
	str("auth.jwt_secret", &cfg.Auth.JWTSecret)
	if v.IsSet("auth.jwt_expiry") {
		cfg.Auth.JWTExpiry = v.GetDuration("auth.jwt_expiry")
	}
	str("auth.admin_password", &cfg.Auth.AdminPassword)
	str("logging.level", &cfg.Logging.Level)
	str("logging.format", &cfg.Logging.Format)

	if !v.IsSet("database.dsn") && !v.IsSet("database.driver") {
		return
	}
	for i := range cfg.Databases {
		if cfg.Databases[i].Name == "default" {
			str("database.driver", &cfg.Databases[i].Driver)
			str("database.dsn", &cfg.Databases[i].DSN)
		}
	}
}
