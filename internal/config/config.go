package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	xerrors "MerkleBatch-Chain/internal/errors"
	"MerkleBatch-Chain/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "MERKLEBATCH_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
const DefaultPath = "configs/merklebatch.json"

// Config 描述了 MerkleBatch-Chain 在启动阶段需要加载的核心配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Batch    BatchConfig    `json:"batch" yaml:"batch"`
	Logging  logger.Config  `json:"logging" yaml:"logging"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch"`
	Alerting AlertingConfig `json:"alerting" yaml:"alerting"`
	Wallet   WalletConfig   `json:"wallet" yaml:"wallet"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address         string `json:"address" yaml:"address"`
	ShutdownTimeout string `json:"shutdown_timeout" yaml:"shutdown_timeout"`
	// MetricsAddress 非空时在独立端口上暴露 /metrics。
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
}

// ShutdownDuration 返回优雅退出的等待时长。
func (s ServerConfig) ShutdownDuration() time.Duration {
	d, err := time.ParseDuration(s.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// BatchConfig 描述批处理引擎的参数。
type BatchConfig struct {
	Size int `json:"size" yaml:"size"`
}

// StorageConfig 统一描述存储后端的连接信息。
type StorageConfig struct {
	BatchStore BatchStoreConfig `json:"batch_store" yaml:"batch_store"`
}

// BatchStoreConfig 选择批次归档的实现。
type BatchStoreConfig struct {
	Driver          string `json:"driver" yaml:"driver"`
	DSN             string `json:"dsn" yaml:"dsn"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime string `json:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	MemoryCapacity  int    `json:"memory_capacity" yaml:"memory_capacity"`
}

// ConnMaxLifetimeDuration 解析连接最长存活时间，未填写时返回 0。
func (b BatchStoreConfig) ConnMaxLifetimeDuration() (time.Duration, error) {
	if strings.TrimSpace(b.ConnMaxLifetime) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(b.ConnMaxLifetime)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "storage.batch_store.conn_max_lifetime 不是合法的时长")
	}
	if d < 0 {
		return 0, xerrors.Newf(xerrors.CodeInvalidArgument, "storage.batch_store.conn_max_lifetime 不能为负数: %s", b.ConnMaxLifetime)
	}
	return d, nil
}

// DispatchConfig 描述已执行记录的下游投递方式。
type DispatchConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Buffer   int            `json:"buffer" yaml:"buffer"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 列表投递所需参数。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
	Key      string `json:"key" yaml:"key"`
}

// RabbitMQConfig 描述 RabbitMQ 投递所需参数。
type RabbitMQConfig struct {
	URL      string `json:"url" yaml:"url"`
	Exchange string `json:"exchange" yaml:"exchange"`
	Queue    string `json:"queue" yaml:"queue"`
}

// AlertingConfig 配置告警通知方式。
type AlertingConfig struct {
	WebhookURL string `json:"webhook_url" yaml:"webhook_url"`
	Timeout    string `json:"timeout" yaml:"timeout"`
}

// TimeoutDuration 返回 Webhook 请求超时。
func (a AlertingConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(a.Timeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// WalletConfig 描述钱包 keystore 的存放位置。
type WalletConfig struct {
	KeystoreDir string `json:"keystore_dir" yaml:"keystore_dir"`
	Scrypt      string `json:"scrypt" yaml:"scrypt"`
}

// PathFromEnv 返回环境变量指定的配置路径，未设置时返回默认值。
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 或 YAML 配置文件。
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
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if _, err := cfg.Storage.BatchStore.ConnMaxLifetimeDuration(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default 返回全部使用默认值的配置，供 CLI 在无配置文件时使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Batch.Size <= 0 {
		c.Batch.Size = 10
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(baseDir, c.Logging.Audit.Path)
	}

	store := &c.Storage.BatchStore
	if store.Driver == "" {
		store.Driver = "memory"
	}
	if store.MemoryCapacity <= 0 {
		store.MemoryCapacity = 1024
	}
	if store.MaxOpenConns <= 0 {
		store.MaxOpenConns = 10
	}
	if store.MaxIdleConns <= 0 {
		store.MaxIdleConns = 5
	}

	if c.Dispatch.Driver == "" {
		c.Dispatch.Driver = "none"
	}
	if c.Dispatch.Buffer <= 0 {
		c.Dispatch.Buffer = 256
	}
	if c.Dispatch.Redis.Key == "" {
		c.Dispatch.Redis.Key = "merklebatch:executed"
	}
	if c.Dispatch.RabbitMQ.Queue == "" {
		c.Dispatch.RabbitMQ.Queue = "merklebatch.executed"
	}

	if c.Wallet.KeystoreDir == "" {
		c.Wallet.KeystoreDir = filepath.Join(baseDir, "keystore")
	} else if !filepath.IsAbs(c.Wallet.KeystoreDir) {
		c.Wallet.KeystoreDir = filepath.Join(baseDir, c.Wallet.KeystoreDir)
	}
	if c.Wallet.Scrypt == "" {
		c.Wallet.Scrypt = "standard"
	}
}
