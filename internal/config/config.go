package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port         int              `json:"port"`
	AllowOrigins []string         `json:"allow_origins"`
	LogConfig    logger.LogConfig `json:"log_config"`
	Database     DatabaseConfig   `json:"database"`
	SSHTunnel    SSHTunnelConfig  `json:"ssh_tunnel"`
	Qdrant       QdrantConfig     `json:"qdrant"`
	AI           AIConfig         `json:"ai"`
	Batch        BatchConfig      `json:"batch"`
	Search       SearchConfig     `json:"search"`
	EmbedCache   EmbedCacheConfig `json:"embed_cache"`
	FileStore    FileStoreConfig  `json:"file_store"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`
}

type SSHTunnelConfig struct {
	Enabled        bool   `json:"enabled"`
	Host           string `json:"host"`
	Port           int    `json:"port"`
	User           string `json:"user"`
	Password       string `json:"password"`
	PrivateKeyPath string `json:"private_key_path"`
	RemoteHost     string `json:"remote_host"`
	RemotePort     int    `json:"remote_port"`
	LocalPort      int    `json:"local_port"`
}

type QdrantConfig struct {
	Endpoint   string `json:"endpoint"`
	APIKey     string `json:"api_key"`
	Collection string `json:"collection"`
	VectorDim  int    `json:"vector_dim"`
	TimeoutSec int    `json:"timeout_sec"`
}

type AIConfig struct {
	Provider      string      `json:"provider"`
	Model         string      `json:"model"`
	EmbedProvider string      `json:"embed_provider"`
	EmbedModel    string      `json:"embed_model"`
	MaxInputChars int         `json:"max_input_chars"`
	Timeout       int         `json:"timeout"`
	Data          interface{} `json:"data"`

	// optional secondary provider tried when the primary errors
	FallbackProvider   string      `json:"fallback_provider"`
	FallbackModel      string      `json:"fallback_model"`
	FallbackEmbedModel string      `json:"fallback_embed_model"`
	FallbackData       interface{} `json:"fallback_data"`
}

type BatchConfig struct {
	Workers        int     `json:"workers"`
	MaxAttempts    int     `json:"max_attempts"`
	MaxItems       int     `json:"max_items"`
	AICallsPerSec  float64 `json:"ai_calls_per_sec"`
	RetryCronSpec  string  `json:"retry_cron_spec"`
	RegexThreshold float64 `json:"regex_threshold"`
}

type SearchConfig struct {
	DefaultLimit   int     `json:"default_limit"`
	ScoreThreshold float64 `json:"score_threshold"`
	CooldownSec    int     `json:"cooldown_sec"`
}

type EmbedCacheConfig struct {
	LRUSize    int `json:"lru_size"`
	LRUTTLMin  int `json:"lru_ttl_min"`
	KeepDays   int `json:"keep_days"`
	CleanLimit int `json:"clean_limit"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.SSHTunnel.Enabled {
		if cfg.SSHTunnel.Host == "" || cfg.SSHTunnel.User == "" {
			return fmt.Errorf("ssh_tunnel.host and ssh_tunnel.user are required when the tunnel is enabled")
		}
		if cfg.SSHTunnel.Password == "" && cfg.SSHTunnel.PrivateKeyPath == "" {
			return fmt.Errorf("ssh_tunnel needs a password or a private_key_path")
		}
		if cfg.SSHTunnel.Port == 0 {
			cfg.SSHTunnel.Port = 22
		}
		if cfg.SSHTunnel.RemoteHost == "" {
			cfg.SSHTunnel.RemoteHost = "127.0.0.1"
		}
		if cfg.SSHTunnel.RemotePort == 0 {
			cfg.SSHTunnel.RemotePort = 5432
		}
		if cfg.SSHTunnel.LocalPort == 0 {
			cfg.SSHTunnel.LocalPort = 15432
		}
	}
	if cfg.Qdrant.Endpoint != "" {
		if cfg.Qdrant.Collection == "" {
			cfg.Qdrant.Collection = "materials"
		}
		if cfg.Qdrant.TimeoutSec == 0 {
			cfg.Qdrant.TimeoutSec = 10
		}
	}
	if cfg.Qdrant.VectorDim == 0 {
		cfg.Qdrant.VectorDim = 1536
	}
	if cfg.AI.Provider == "" {
		return fmt.Errorf("ai.provider is required")
	}
	if cfg.AI.Model == "" {
		return fmt.Errorf("ai.model is required")
	}
	if cfg.AI.EmbedProvider == "" {
		cfg.AI.EmbedProvider = cfg.AI.Provider
	}
	if cfg.AI.EmbedModel == "" {
		return fmt.Errorf("ai.embed_model is required")
	}
	if cfg.AI.FallbackProvider != "" {
		if cfg.AI.FallbackModel == "" {
			cfg.AI.FallbackModel = cfg.AI.Model
		}
		if cfg.AI.FallbackEmbedModel == "" {
			cfg.AI.FallbackEmbedModel = cfg.AI.EmbedModel
		}
	}
	if cfg.AI.MaxInputChars == 0 {
		cfg.AI.MaxInputChars = 2000
	}
	if cfg.AI.Timeout == 0 {
		cfg.AI.Timeout = 30
	}
	if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = 4
	}
	if cfg.Batch.MaxAttempts == 0 {
		cfg.Batch.MaxAttempts = 3
	}
	if cfg.Batch.MaxItems == 0 {
		cfg.Batch.MaxItems = 10000
	}
	if cfg.Batch.AICallsPerSec == 0 {
		cfg.Batch.AICallsPerSec = 5
	}
	if cfg.Batch.RetryCronSpec == "" {
		cfg.Batch.RetryCronSpec = "*/10 * * * *"
	}
	if cfg.Batch.RegexThreshold == 0 {
		cfg.Batch.RegexThreshold = 0.8
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.ScoreThreshold == 0 {
		cfg.Search.ScoreThreshold = 0.55
	}
	if cfg.Search.CooldownSec == 0 {
		cfg.Search.CooldownSec = 30
	}
	if cfg.EmbedCache.LRUSize == 0 {
		cfg.EmbedCache.LRUSize = 10000
	}
	if cfg.EmbedCache.LRUTTLMin == 0 {
		cfg.EmbedCache.LRUTTLMin = 120
	}
	if cfg.EmbedCache.KeepDays == 0 {
		cfg.EmbedCache.KeepDays = 30
	}
	if cfg.EmbedCache.CleanLimit == 0 {
		cfg.EmbedCache.CleanLimit = 1000
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
		cfg.FileStore.Data = map[string]interface{}{"dir": "./uploads"}
	}
	return nil
}

// LocalDSN returns the postgres DSN, rewritten to the tunnel's local
// endpoint when the SSH tunnel is enabled.
func (cfg *Config) LocalDSN() string {
	db := cfg.Database
	host := db.Host
	port := db.Port
	if cfg.SSHTunnel.Enabled {
		host = "127.0.0.1"
		port = cfg.SSHTunnel.LocalPort
	} else if db.DSN != "" {
		return db.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, db.User, db.Password, db.DBName, db.SSLMode)
}
