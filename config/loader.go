// =============================================================================
// 📦 SwarmFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("SWARMFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 SwarmFlow 的完整配置结构
type Config struct {
	// Scheduler 任务调度器配置
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// Supervisor 主管委派配置
	Supervisor SupervisorConfig `yaml:"supervisor" env:"SUPERVISOR"`

	// Registry 注册表健康监控配置
	Registry RegistryConfig `yaml:"registry" env:"REGISTRY"`

	// Voting 表决配置
	Voting VotingConfig `yaml:"voting" env:"VOTING"`

	// Consensus 共识配置
	Consensus ConsensusConfig `yaml:"consensus" env:"CONSENSUS"`

	// Messenger 点对点消息配置
	Messenger MessengerConfig `yaml:"messenger" env:"MESSENGER"`

	// Broadcaster 发布订阅配置
	Broadcaster BroadcasterConfig `yaml:"broadcaster" env:"BROADCASTER"`

	// Store 持久化配置
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// SchedulerConfig 任务调度器配置（与 coordination.TaskManagerConfig 兼容）
type SchedulerConfig struct {
	// 单个 Agent 同时认领的任务上限
	MaxConcurrentPerAgent int `yaml:"max_concurrent_per_agent" env:"MAX_CONCURRENT_PER_AGENT"`
	// 调度轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 派发工作池大小
	DispatchWorkers int `yaml:"dispatch_workers" env:"DISPATCH_WORKERS"`
}

// SupervisorConfig 主管配置（与 agent.SupervisorConfig 兼容）
type SupervisorConfig struct {
	// 委派失败的最大尝试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 选择策略: round_robin, least_busy, capability
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// Worker 收件箱容量，0 表示无界
	MailboxSize int `yaml:"mailbox_size" env:"MAILBOX_SIZE"`
}

// RegistryConfig 注册表配置（与 agent.RegistryConfig 兼容）
type RegistryConfig struct {
	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
	// 心跳过期阈值
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout" env:"HEARTBEAT_TIMEOUT"`
}

// VotingConfig 表决配置（与 coordination.VotingConfig 兼容）
type VotingConfig struct {
	// 法定参与比例，(0, 1]
	Quorum float64 `yaml:"quorum" env:"QUORUM"`
	// 决定性票中的通过比例，(0, 1]
	Threshold float64 `yaml:"threshold" env:"THRESHOLD"`
}

// ConsensusConfig 共识配置（与 coordination.ConsensusConfig 兼容）
type ConsensusConfig struct {
	// 收敛阈值，(0, 1]
	ConvergenceThreshold float64 `yaml:"convergence_threshold" env:"CONVERGENCE_THRESHOLD"`
	// 最大轮数
	MaxRounds int `yaml:"max_rounds" env:"MAX_ROUNDS"`
	// 轮间延迟
	RoundDelay time.Duration `yaml:"round_delay" env:"ROUND_DELAY"`
}

// MessengerConfig 点对点消息配置（与 comm.DirectMessengerConfig 兼容）
type MessengerConfig struct {
	// 请求等待应答的上限
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// 审计日志条数上限
	AuditLimit int `yaml:"audit_limit" env:"AUDIT_LIMIT"`
}

// BroadcasterConfig 发布订阅配置（与 comm.BroadcasterConfig 兼容）
type BroadcasterConfig struct {
	// 每主题保留的最近消息数
	RetentionCount int `yaml:"retention_count" env:"RETENTION_COUNT"`
	// 每主题每秒发布上限，0 表示不限速
	PublishRate float64 `yaml:"publish_rate" env:"PUBLISH_RATE"`
	// 限速突发额度
	PublishBurst int `yaml:"publish_burst" env:"PUBLISH_BURST"`
}

// StoreConfig 持久化配置（与 persistence.StoreConfig 兼容）
type StoreConfig struct {
	// 后端类型: memory, file, redis
	Type string `yaml:"type" env:"TYPE"`
	// 文件后端根目录
	BaseDir string `yaml:"base_dir" env:"BASE_DIR"`
	// Redis 后端配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// 写入失败的重试退避策略
	Retry RetryConfig `yaml:"retry" env:"RETRY"`
}

// RetryConfig 存储写入重试配置（与 persistence.RetryConfig 兼容）
type RetryConfig struct {
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 首次退避时长
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	// 退避时长上限
	MaxBackoff time.Duration `yaml:"max_backoff" env:"MAX_BACKOFF"`
	// 退避倍率
	BackoffMultiplier float64 `yaml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// Prometheus 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SWARMFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Scheduler.MaxConcurrentPerAgent <= 0 {
		errs = append(errs, "scheduler max_concurrent_per_agent must be positive")
	}
	if c.Supervisor.MaxRetries <= 0 {
		errs = append(errs, "supervisor max_retries must be positive")
	}
	if c.Voting.Quorum <= 0 || c.Voting.Quorum > 1 {
		errs = append(errs, "voting quorum must be in (0, 1]")
	}
	if c.Voting.Threshold <= 0 || c.Voting.Threshold > 1 {
		errs = append(errs, "voting threshold must be in (0, 1]")
	}
	if c.Consensus.ConvergenceThreshold <= 0 || c.Consensus.ConvergenceThreshold > 1 {
		errs = append(errs, "consensus convergence_threshold must be in (0, 1]")
	}
	switch c.Store.Type {
	case "memory", "file", "redis", "":
	default:
		errs = append(errs, fmt.Sprintf("unknown store type %q", c.Store.Type))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
