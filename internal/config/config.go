package config

import (
	"time"

	"github.com/TheOnlyBaddy/Blocklance/internal/logger"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Task     TaskConfig     `mapstructure:"task"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// ChainConfig 链配置
type ChainConfig struct {
	ChainId       int64  `mapstructure:"chain_id"`       // 链ID
	RpcUrl        string `mapstructure:"rpc_url"`        // RPC节点URL
	PrivateKey    string `mapstructure:"private_key"`    // 签名私钥
	EscrowAddress string `mapstructure:"escrow_address"` // 托管合约地址
	StartBlock    int64  `mapstructure:"start_block"`    // 监听起始区块号
	WriteTimeout  int    `mapstructure:"write_timeout"`  // 等待回执超时（秒）
	PollInterval  int    `mapstructure:"poll_interval"`  // 事件轮询间隔（秒）
	BatchSize     int64  `mapstructure:"batch_size"`     // 单次拉取日志的区块数
}

// AuthConfig 鉴权配置
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"` // JWT签名密钥
	TokenTTL  int    `mapstructure:"token_ttl"`  // Token有效期（分钟）
	NonceTTL  int    `mapstructure:"nonce_ttl"`  // 钱包挑战nonce有效期（分钟）
}

// RetryConfig 链上瞬时错误重试策略
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"` // 最大尝试次数（含首次）
	BackoffMs   int `mapstructure:"backoff_ms"`   // 初始退避时间（毫秒），指数增长
}

// Backoff 返回第attempt次重试前的退避时间（attempt从1开始）
func (r RetryConfig) Backoff(attempt int) time.Duration {
	backoff := time.Duration(r.BackoffMs) * time.Millisecond
	for i := 1; i < attempt; i++ {
		backoff *= 2
	}
	return backoff
}

type TaskConfig struct {
	Interval     int `mapstructure:"interval"`      // 秒
	StaleSeconds int `mapstructure:"stale_seconds"` // pending记录多久算过期
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.LogConfig 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.LogConfig 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.LogConfig 接口
func (l LogConfig) GetFile() string {
	return l.File
}

func Load() *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/blocklance")

	// 设置默认值
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.dbname", "blocklance")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("chain.chain_id", 1)
	viper.SetDefault("chain.start_block", 0)
	viper.SetDefault("chain.write_timeout", 90)
	viper.SetDefault("chain.poll_interval", 15)
	viper.SetDefault("chain.batch_size", 500)
	viper.SetDefault("auth.token_ttl", 1440)
	viper.SetDefault("auth.nonce_ttl", 10)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.backoff_ms", 500)
	viper.SetDefault("task.interval", 60)
	viper.SetDefault("task.stale_seconds", 300)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.file", "logs/app.log")

	// 自动读取环境变量
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		logger.Warn("Warning: Could not read config file: %v", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}
