package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述 SettleFlow 在启动阶段需要加载的核心配置。
type Config struct {
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	JobQueue   JobQueueConfig   `json:"job_queue"`
	Settlement SettlementConfig `json:"settlement"`
	Auth       AuthConfig       `json:"auth"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// StorageConfig 描述记录与作业状态的持久化后端。
type StorageConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// JobQueueConfig 描述作业队列的驱动与各驱动的连接参数。
// 三个类别共享同一驱动，但各自使用独立的队列名。
type JobQueueConfig struct {
	Driver   string         `json:"driver"`
	Worker   int            `json:"worker"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列的连接参数。
type RedisConfig struct {
	Address   string `json:"address"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	BlockWait int    `json:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// SettlementConfig 描述链上结算所需的参数。链定义单独放在 YAML 注册表中。
type SettlementConfig struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	OperatorKey  string `json:"operator_key"`
	// OperatorKeyEnv 指定从环境变量读取操作员私钥，优先于明文配置。
	OperatorKeyEnv string `json:"operator_key_env"`
}

// AuthConfig 描述令牌签发参数。
type AuthConfig struct {
	Secret    string `json:"secret"`
	SecretEnv string `json:"secret_env"`
	Issuer    string `json:"issuer"`
	AccessTTL int64  `json:"access_ttl_seconds"`
}

// LoggingConfig 描述运行日志与审计日志输出。
type LoggingConfig struct {
	Level       string   `json:"level"`
	Format      string   `json:"format"`
	OutputPaths []string `json:"output_paths"`
	Audit       struct {
		Enabled    bool   `json:"enabled"`
		Path       string `json:"path"`
		MaxSizeMB  int    `json:"max_size_mb"`
		MaxBackups int    `json:"max_backups"`
		MaxAgeDays int    `json:"max_age_days"`
	} `json:"audit"`
}

// MetricsConfig 描述指标暴露端点。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv()

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}

	if c.JobQueue.Driver == "" {
		c.JobQueue.Driver = "memory"
	}
	if c.JobQueue.Worker <= 0 {
		c.JobQueue.Worker = 4
	}
	if c.JobQueue.Redis.BlockWait <= 0 {
		c.JobQueue.Redis.BlockWait = 5
	}
	if c.JobQueue.RabbitMQ.Prefetch <= 0 {
		c.JobQueue.RabbitMQ.Prefetch = 8
	}

	if c.Settlement.ChainConfig != "" && !filepath.IsAbs(c.Settlement.ChainConfig) {
		c.Settlement.ChainConfig = filepath.Join(baseDir, c.Settlement.ChainConfig)
	}

	if c.Auth.Issuer == "" {
		c.Auth.Issuer = "settleflow"
	}
	if c.Auth.AccessTTL <= 0 {
		c.Auth.AccessTTL = 3600
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// applyEnv 允许敏感字段通过环境变量注入，避免写进配置文件。
func (c *Config) applyEnv() {
	if c.Settlement.OperatorKeyEnv != "" {
		if value := os.Getenv(c.Settlement.OperatorKeyEnv); value != "" {
			c.Settlement.OperatorKey = value
		}
	}
	if c.Auth.SecretEnv != "" {
		if value := os.Getenv(c.Auth.SecretEnv); value != "" {
			c.Auth.Secret = value
		}
	}
}
