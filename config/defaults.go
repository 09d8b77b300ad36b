// =============================================================================
// 📦 SwarmFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Scheduler:   DefaultSchedulerConfig(),
		Supervisor:  DefaultSupervisorConfig(),
		Registry:    DefaultRegistryConfig(),
		Voting:      DefaultVotingConfig(),
		Consensus:   DefaultConsensusConfig(),
		Messenger:   DefaultMessengerConfig(),
		Broadcaster: DefaultBroadcasterConfig(),
		Store:       DefaultStoreConfig(),
		Metrics:     DefaultMetricsConfig(),
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultSchedulerConfig 返回默认调度器配置
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		MaxConcurrentPerAgent: 1,
		PollInterval:          10 * time.Millisecond,
		DispatchWorkers:       8,
	}
}

// DefaultSupervisorConfig 返回默认主管配置
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		MaxRetries:  3,
		Strategy:    "capability",
		MailboxSize: 0,
	}
}

// DefaultRegistryConfig 返回默认注册表配置
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		HealthCheckInterval: 10 * time.Second,
		HeartbeatTimeout:    60 * time.Second,
	}
}

// DefaultVotingConfig 返回默认表决配置
func DefaultVotingConfig() VotingConfig {
	return VotingConfig{
		Quorum:    0.5,
		Threshold: 0.5,
	}
}

// DefaultConsensusConfig 返回默认共识配置
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		ConvergenceThreshold: 0.66,
		MaxRounds:            5,
		RoundDelay:           50 * time.Millisecond,
	}
}

// DefaultMessengerConfig 返回默认点对点消息配置
func DefaultMessengerConfig() MessengerConfig {
	return MessengerConfig{
		RequestTimeout: 30 * time.Second,
		AuditLimit:     1024,
	}
}

// DefaultBroadcasterConfig 返回默认发布订阅配置
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		RetentionCount: 16,
	}
}

// DefaultStoreConfig 返回默认持久化配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:    "memory",
		BaseDir: "",
		Redis:   DefaultRedisConfig(),
		Retry:   DefaultRetryConfig(),
	}
}

// DefaultRetryConfig 返回默认存储重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		KeyPrefix: "swarmflow:",
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "swarmflow",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "swarmflow",
		SampleRate:   0.1,
	}
}
