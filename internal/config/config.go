package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every setting the worker fleet (Job Runner, Tenant Factory,
// Ingestion Pipeline) needs to start up.
type Config struct {
	// Deployment mode override; empty means auto-detect (see mode.go).
	Mode string `yaml:"mode"`

	Storage StorageConfig `yaml:"storage"`
	Neo4j   Neo4jConfig   `yaml:"neo4j"`
	Redis   RedisConfig   `yaml:"redis"`
	GitHub  GitHubConfig  `yaml:"github"`
	Worker  WorkerConfig  `yaml:"worker"`
}

type StorageConfig struct {
	Type        string `yaml:"type"` // "postgres" or "sqlite"
	PostgresDSN string `yaml:"postgres_dsn"`
	LocalPath   string `yaml:"local_path"` // sqlite file path
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
}

type GitHubConfig struct {
	Token     string `yaml:"token"`
	RateLimit int    `yaml:"rate_limit"` // requests per second
}

// WorkerConfig tunes the Job Runner's worker pool and the Ingestion
// Pipeline's clone step.
type WorkerConfig struct {
	Concurrency int           `yaml:"concurrency"`  // goroutines per queue
	CloneBase   string        `yaml:"clone_base"`   // scratch directory for git clones
	StaleAfter  time.Duration `yaml:"stale_after"`  // claim age ReapStuck requeues at
	PollTimeout time.Duration `yaml:"poll_timeout"` // Dequeue block duration
}

// Default returns the configuration used when no file or environment
// variable overrides a setting.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Mode: "",
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(homeDir, ".sentinel", "local.db"),
		},
		Neo4j: Neo4jConfig{
			URI:      "bolt://localhost:7687",
			User:     "neo4j",
			Database: "neo4j",
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		GitHub: GitHubConfig{
			RateLimit: 10,
		},
		Worker: WorkerConfig{
			Concurrency: 2,
			CloneBase:   filepath.Join(os.TempDir(), "sentinel-clones"),
			StaleAfter:  10 * time.Minute,
			PollTimeout: 5 * time.Second,
		},
	}
}

// Load reads configuration from .env files, a YAML file (found via path or
// the standard search locations), and environment variables, in that order
// of increasing precedence.
func Load(path string) (*Config, error) {
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	cfg := Default()
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("storage", cfg.Storage)
	v.SetDefault("neo4j", cfg.Neo4j)
	v.SetDefault("redis", cfg.Redis)
	v.SetDefault("github", cfg.GitHub)
	v.SetDefault("worker", cfg.Worker)

	v.SetEnvPrefix("SENTINEL")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".sentinel")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".sentinel"))
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func loadEnvFiles() {
	envFiles := []string{".env.local", ".env", ".env.example"}
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".sentinel", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides lets plainly-named environment variables win over both
// the YAML file and viper's SENTINEL_-prefixed lookup, matching how the
// teacher's deployments are actually configured (GITHUB_TOKEN, not
// SENTINEL_GITHUB_TOKEN).
func applyEnvOverrides(cfg *Config) {
	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		cfg.GitHub.Token = token
	}
	if rateLimit := os.Getenv("GITHUB_RATE_LIMIT"); rateLimit != "" {
		if rate, err := strconv.Atoi(rateLimit); err == nil {
			cfg.GitHub.RateLimit = rate
		}
	}

	if storageType := os.Getenv("STORAGE_TYPE"); storageType != "" {
		cfg.Storage.Type = storageType
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if path := os.Getenv("LOCAL_DB_PATH"); path != "" {
		cfg.Storage.LocalPath = expandPath(path)
	}

	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Neo4j.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Neo4j.User = user
	}
	if password := os.Getenv("NEO4J_PASSWORD"); password != "" {
		cfg.Neo4j.Password = password
	}
	if database := os.Getenv("NEO4J_DATABASE"); database != "" {
		cfg.Neo4j.Database = database
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Redis.Host = host
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Redis.Port = p
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if concurrency := os.Getenv("WORKER_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			cfg.Worker.Concurrency = c
		}
	}
	if cloneBase := os.Getenv("WORKER_CLONE_BASE"); cloneBase != "" {
		cfg.Worker.CloneBase = expandPath(cloneBase)
	}

	if mode := os.Getenv("SENTINEL_MODE"); mode != "" {
		cfg.Mode = mode
	}
}

func expandPath(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, path[1:])
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("mode", c.Mode)
	v.Set("storage", c.Storage)
	v.Set("neo4j", c.Neo4j)
	v.Set("redis", c.Redis)
	v.Set("github", c.GitHub)
	v.Set("worker", c.Worker)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
