package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig      BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Databases        map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis            RedisConfig               `json:"redis" yaml:"redis"`
	Providers        map[string]ProviderConfig `json:"providers" yaml:"providers"`
	QuestionProvider string                    `json:"question_provider" yaml:"question_provider"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type BasicConfig struct {
	ServerAddress            string   `json:"server_address" yaml:"server_address"`
	Store                    string   `json:"store" yaml:"store"`
	FileBaseDir              string   `json:"file_base_dir" yaml:"file_base_dir"`
	MaxFileSizeMB            int64    `json:"max_file_size_mb" yaml:"max_file_size_mb"`
	AllowedOrigins           []string `json:"allowed_origins" yaml:"allowed_origins"`
	LogMode                  string   `json:"log_mode" yaml:"log_mode"`
	WorkerIdleTimeout        int      `json:"worker_idle_timeout" yaml:"worker_idle_timeout"`
	WorkerQueueSize          int      `json:"worker_queue_size" yaml:"worker_queue_size"`
	MaxConcurrentExtractions int64    `json:"max_concurrent_extractions" yaml:"max_concurrent_extractions"`
	QuestionTimeout          int      `json:"question_timeout" yaml:"question_timeout"`

	// Uploaded files are removed this many minutes after their document
	// finishes; the sweep runs every UploadCleanPeriod minutes.
	UploadRetention   int `json:"upload_retention" yaml:"upload_retention"`
	UploadCleanPeriod int `json:"upload_clean_period" yaml:"upload_clean_period"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	Host       string `json:"host" yaml:"host"`
	Port       int    `json:"port" yaml:"port"`
	Username   string `json:"username" yaml:"username"`
	Password   string `json:"password" yaml:"password"`
	DB         int    `json:"db" yaml:"db"`
	TTLMinutes int    `json:"ttl_minutes" yaml:"ttl_minutes"`
}

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite3"
	StoreMySQL  = "mysql"
)

// Default returns a configuration that runs entirely in memory.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file yields Default(); a missing explicit path is an error.
// Environment variables, optionally from a .env file, override file values.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	explicit := path != ""
	if !explicit {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := &Config{}
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dsn := cfg.Databases[StoreSQLite].DSN; dsn != "" && dsn != ":memory:" && !filepath.IsAbs(dsn) && !strings.HasPrefix(dsn, "file:") {
		db := cfg.Databases[StoreSQLite]
		db.DSN = filepath.Join(filepath.Dir(absPath), dsn)
		cfg.Databases[StoreSQLite] = db
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("DOCFILL_DB")); v != "" {
		c.BasicConfig.Store = v
	}
	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		c.BasicConfig.LogMode = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCFILL_ADDR")); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		c.BasicConfig.AllowedOrigins = strings.Split(v, ",")
	}
	for name, p := range c.Providers {
		if p.APIKey == "" {
			p.APIKey = os.Getenv(strings.ToUpper(name) + "_API_KEY")
			c.Providers[name] = p
		}
	}
}

func (c *Config) applyDefaults() {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.Store == "" {
		b.Store = StoreMemory
	}
	if b.FileBaseDir == "" {
		b.FileBaseDir = "./data/uploads"
	}
	if b.MaxFileSizeMB <= 0 {
		b.MaxFileSizeMB = 10
	}
	if len(b.AllowedOrigins) == 0 {
		b.AllowedOrigins = []string{"http://localhost:3000"}
	}
	if b.LogMode == "" {
		b.LogMode = "development"
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 300
	}
	if b.WorkerQueueSize <= 0 {
		b.WorkerQueueSize = 16
	}
	if b.MaxConcurrentExtractions <= 0 {
		b.MaxConcurrentExtractions = 4
	}
	if b.QuestionTimeout <= 0 {
		b.QuestionTimeout = 10
	}
	if b.UploadRetention <= 0 {
		b.UploadRetention = 24 * 60
	}
	if b.UploadCleanPeriod <= 0 {
		b.UploadCleanPeriod = 60
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if _, ok := c.Databases[StoreSQLite]; !ok {
		c.Databases[StoreSQLite] = DatabaseConfig{DSN: "docfill.db"}
	}
	if c.Redis.TTLMinutes <= 0 {
		c.Redis.TTLMinutes = 30
	}
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.BasicConfig.Store) {
	case StoreMemory, StoreSQLite, "sqlite", StoreMySQL:
	default:
		return fmt.Errorf("unsupported store %q", c.BasicConfig.Store)
	}
	if c.QuestionProvider != "" {
		if _, ok := c.Providers[c.QuestionProvider]; !ok {
			return fmt.Errorf("question_provider %s not configured", c.QuestionProvider)
		}
	}
	return nil
}
