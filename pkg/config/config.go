// Package config 提供 TOML 配置加载、环境变量覆盖与 schema 校验
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config 进程配置。会话启动时作为不可变值传入，核心不持有全局配置状态。
type Config struct {
	// 服务名称
	ServiceName string `mapstructure:"service_name"`
	// 服务版本
	Version string `mapstructure:"version"`
	// 环境：dev, staging, prod
	Environment string `mapstructure:"environment"`
	// 控制面 HTTP 配置
	HTTP HTTPConfig `mapstructure:"http"`
	// FIX 拦截会话配置
	Fix FixConfig `mapstructure:"fix"`
	// 数据库配置
	Database DatabaseConfig `mapstructure:"database"`
	// Kafka 配置
	Kafka KafkaConfig `mapstructure:"kafka"`
	// 日志配置
	Logger LoggerConfig `mapstructure:"logger"`
	// 指标配置
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// HTTPConfig 控制面 HTTP 服务配置
type HTTPConfig struct {
	// 监听地址
	Host string `mapstructure:"host" default:"127.0.0.1"`
	// 监听端口
	Port int `mapstructure:"port" default:"8080"`
	// 读超时（秒）
	ReadTimeout int `mapstructure:"read_timeout" default:"30"`
	// 写超时（秒）
	WriteTimeout int `mapstructure:"write_timeout" default:"30"`
}

// FixConfig FIX 拦截会话配置
type FixConfig struct {
	// 本地拦截监听地址，真实客户端连到这里
	ListenAddr string `mapstructure:"listen_addr" default:"127.0.0.1:9878"`
	// 上游真实网关地址
	UpstreamAddr string `mapstructure:"upstream_addr"`
	// 协议版本 BeginString
	BeginString string `mapstructure:"begin_string" default:"FIX.4.4"`
	// 发起方 CompID
	SenderCompID string `mapstructure:"sender_comp_id"`
	// 网关方 CompID
	TargetCompID string `mapstructure:"target_comp_id"`
	// 线上字段分隔符，十进制字节值，默认 SOH (1)
	WireDelimiter int `mapstructure:"wire_delimiter" default:"1"`
	// 出站序列号种子
	SeqSeed uint64 `mapstructure:"seq_seed" default:"1"`
	// 预期入站序列号种子
	ExpectedSeqSeed uint64 `mapstructure:"expected_seq_seed" default:"1"`
	// 心跳间隔（秒）
	HeartbeatInterval int `mapstructure:"heartbeat_interval" default:"30"`
	// 是否把管理类消息也送入拦截队列
	LogAll bool `mapstructure:"log_all" default:"false"`
	// 登录时携带 ResetSeqNumFlag=Y
	ResetSeqNum bool `mapstructure:"reset_seq_num" default:"false"`
	// 网关凭据，为空则登录消息不携带 553/554
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// 数据字典目录
	SpecDir string `mapstructure:"spec_dir" default:"spec"`
	// 分帧扫描窗口（字节）
	ScanWindow int `mapstructure:"scan_window" default:"65536"`
	// 拦截队列容量
	QueueCapacity int `mapstructure:"queue_capacity" default:"256"`
	// 批量发送（fuzz）时的消息间隔（毫秒）
	FuzzDelay int `mapstructure:"fuzz_delay" default:"50"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动，当前仅 mysql
	Driver string `mapstructure:"driver" default:"mysql"`
	// 数据源名称，为空时禁用持久化
	DSN string `mapstructure:"dsn"`
	// 最大连接数
	MaxOpenConns int `mapstructure:"max_open_conns" default:"10"`
	// 最大空闲连接数
	MaxIdleConns int `mapstructure:"max_idle_conns" default:"5"`
	// 连接最大生命周期（秒）
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime" default:"300"`
	// 是否启用 SQL 日志
	LogEnabled bool `mapstructure:"log_enabled" default:"false"`
	// 慢查询阈值（毫秒）
	SlowQueryThreshold int `mapstructure:"slow_query_threshold" default:"1000"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	// Broker 地址列表，为空时禁用事件发布
	Brokers []string `mapstructure:"brokers"`
	// 帧审计事件主题
	Topic string `mapstructure:"topic" default:"fixit.frames"`
	// 发送最大重试次数
	MaxRetries int `mapstructure:"max_retries" default:"3"`
	// 重试退避（毫秒）
	RetryBackoff int `mapstructure:"retry_backoff" default:"100"`
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	// 日志级别
	Level string `mapstructure:"level" default:"info"`
	// 输出格式
	Format string `mapstructure:"format" default:"json"`
	// 输出目标
	Output string `mapstructure:"output" default:"stdout"`
	// 文件路径
	FilePath string `mapstructure:"file_path" default:"logs/fixit.log"`
	// 最大文件大小（MB）
	MaxSize int `mapstructure:"max_size" default:"100"`
	// 最大备份文件数
	MaxBackups int `mapstructure:"max_backups" default:"10"`
	// 最大保留天数
	MaxAge int `mapstructure:"max_age" default:"30"`
	// 是否压缩
	Compress bool `mapstructure:"compress" default:"true"`
	// 是否输出调用者信息
	WithCaller bool `mapstructure:"with_caller" default:"false"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `mapstructure:"enabled" default:"true"`
	// Prometheus 监听端口
	Port int `mapstructure:"port" default:"9090"`
	// 指标路径
	Path string `mapstructure:"path" default:"/metrics"`
}

// Load 从 TOML 文件加载配置，使用默认值并支持环境变量覆盖
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// 配置文件缺失时退回默认值与环境变量
	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		c.ServiceName = "fixit"
	}
	if c.Environment == "" {
		c.Environment = "dev"
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTP.Port)
	}
	if c.Fix.UpstreamAddr == "" {
		return fmt.Errorf("fix.upstream_addr is required")
	}
	if c.Fix.SenderCompID == "" || c.Fix.TargetCompID == "" {
		return fmt.Errorf("fix.sender_comp_id and fix.target_comp_id are required")
	}
	if c.Fix.WireDelimiter < 0 || c.Fix.WireDelimiter > 255 {
		return fmt.Errorf("invalid fix.wire_delimiter: %d", c.Fix.WireDelimiter)
	}
	return nil
}

// setDefaults 设置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "fixit")
	v.SetDefault("version", "1.0.0")
	v.SetDefault("environment", "dev")

	v.SetDefault("http.host", "127.0.0.1")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 30)
	v.SetDefault("http.write_timeout", 30)

	v.SetDefault("fix.listen_addr", "127.0.0.1:9878")
	v.SetDefault("fix.begin_string", "FIX.4.4")
	v.SetDefault("fix.wire_delimiter", 1)
	v.SetDefault("fix.seq_seed", 1)
	v.SetDefault("fix.expected_seq_seed", 1)
	v.SetDefault("fix.heartbeat_interval", 30)
	v.SetDefault("fix.log_all", false)
	v.SetDefault("fix.reset_seq_num", false)
	v.SetDefault("fix.spec_dir", "spec")
	v.SetDefault("fix.scan_window", 65536)
	v.SetDefault("fix.queue_capacity", 256)
	v.SetDefault("fix.fuzz_delay", 50)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.log_enabled", false)
	v.SetDefault("database.slow_query_threshold", 1000)

	v.SetDefault("kafka.topic", "fixit.frames")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff", 100)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.output", "stdout")
	v.SetDefault("logger.file_path", "logs/fixit.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 10)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.with_caller", false)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
}

// GetEnv 获取环境变量，支持默认值
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
