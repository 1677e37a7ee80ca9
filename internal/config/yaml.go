package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gatekeepdb/gatekeep/internal/model"
)

// Config is the gatekeep configuration file.
type Config struct {
	Server    ServerConfig           `yaml:"server"`
	Auth      AuthConfig             `yaml:"auth"`
	Databases []model.DatabaseConfig `yaml:"databases"`
	Query     QueryConfig            `yaml:"query"`
	MCP       MCPConfig              `yaml:"mcp"`
	Logging   LoggingConfig          `yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxBodySize     string        `yaml:"max_body_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int        `yaml:"rate_limit"`
	CORS      CORSConfig `yaml:"cors"`
}

// CORSConfig controls cross-origin resource sharing settings.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
	Methods []string `yaml:"methods"`
}

// AuthConfig controls token issuing and password hashing.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	JWTExpiry  time.Duration `yaml:"jwt_expiry"`
	Issuer     string        `yaml:"issuer"`
	BcryptCost int           `yaml:"bcrypt_cost"`
	// AdminPassword is the password of the seeded admin user.
	AdminPassword string `yaml:"admin_password"`
}

// QueryConfig tunes the statement executor.
type QueryConfig struct {
	ScrollBatchSize int `yaml:"scroll_batch_size"`
	ChunkSize       int `yaml:"chunk_size"`
}

// MCPConfig controls the MCP server.
type MCPConfig struct {
	Transport string `yaml:"transport"` // stdio or http
	Addr      string `yaml:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML configuration file over the defaults. Environment
// variables referenced as ${VAR_NAME} are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults.
func Parse(data []byte) (*Config, error) {
	content := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	for i := range cfg.Databases {
		if cfg.Databases[i].Pool == (model.PoolConfig{}) {
			cfg.Databases[i].Pool = model.DefaultPoolConfig()
		}
	}
	return cfg, nil
}

// Default returns a Config pre-filled with defaults. It has no JWT secret
// and a single SQLite database in the working directory.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			MaxBodySize:     "10MB",
			ShutdownTimeout: 30 * time.Second,
			RateLimit:       600,
			CORS: CORSConfig{
				Origins: []string{"*"},
				Methods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			},
		},
		Auth: AuthConfig{
			JWTExpiry:  30 * time.Minute,
			Issuer:     "gatekeep",
			BcryptCost: 12,
		},
		Databases: []model.DatabaseConfig{{
			Name:   "default",
			Driver: "sqlite",
			DSN:    "gatekeep.db",
			Pool:   model.DefaultPoolConfig(),
		}},
		Query: QueryConfig{
			ScrollBatchSize: 1000,
			ChunkSize:       2000,
		},
		MCP: MCPConfig{
			Transport: "stdio",
			Addr:      ":3001",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate reports every problem that would stop the server from starting.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	} else if len(c.Auth.JWTSecret) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 characters"))
	}
	if c.Auth.JWTExpiry <= 0 {
		errs = append(errs, errors.New("auth.jwt_expiry must be positive"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if _, err := ParseByteSize(c.Server.MaxBodySize); err != nil {
		errs = append(errs, fmt.Errorf("server.max_body_size: %w", err))
	}

	seen := map[string]bool{}
	for _, db := range c.Databases {
		switch {
		case db.Name == "":
			errs = append(errs, errors.New("databases: every entry needs a name"))
		case seen[db.Name]:
			errs = append(errs, fmt.Errorf("databases: %q is listed twice", db.Name))
		}
		seen[db.Name] = true
		if db.Driver == "" || db.DSN == "" {
			errs = append(errs, fmt.Errorf("databases: %q needs a driver and a dsn", db.Name))
		}
	}
	if !seen["default"] {
		errs = append(errs, errors.New(`databases: a database named "default" is required`))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// Database returns the named database entry.
func (c *Config) Database(name string) (model.DatabaseConfig, bool) {
	for _, db := range c.Databases {
		if db.Name == name {
			return db, true
		}
	}
	return model.DatabaseConfig{}, false
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ParseByteSize parses sizes such as "10MB", "512KB" or "1048576".
// Units are powers of 1024.
func ParseByteSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{{"GB", 1 << 30}, {"MB", 1 << 20}, {"KB", 1 << 10}, {"B", 1}} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}

// Write writes cfg as YAML to path.
func Write(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
