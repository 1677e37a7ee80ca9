package model

import "time"

// DatabaseConfig holds the connection settings of one named database.
type DatabaseConfig struct {
	Name           string     `yaml:"name" json:"name"`
	Driver         string     `yaml:"driver" json:"driver"` // sqlite, postgres, mysql, mssql, snowflake
	DSN            string     `yaml:"dsn" json:"-"`
	Schema         string     `yaml:"schema" json:"schema,omitempty"`
	PrivateKeyPath string     `yaml:"private_key_path" json:"-"`
	Pool           PoolConfig `yaml:"pool" json:"pool"`
}

// PoolConfig controls the connection pool of a named database.
type PoolConfig struct {
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultPoolConfig returns sensible defaults for a database connection pool.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}
