// =============================================================================
// 📦 SwarmFlow 配置换算
// =============================================================================
// 把加载得到的配置节换算成各组件构造函数接受的配置类型，
// 让 config.Load 的结果可以直接驱动组件装配:
//
//	cfg := config.MustLoad("config.yaml")
//	manager := coordination.NewTaskManager(cfg.ToTaskManagerConfig(), logger)
//	sup := agent.NewSupervisorAgent(cfg.Supervisor.ToSupervisorConfig(), logger)
// =============================================================================
package config

import (
	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/comm"
	"github.com/BaSui01/swarmflow/coordination"
	"github.com/BaSui01/swarmflow/persistence"
)

// ToTaskManagerConfig 换算为调度器配置
func (c SchedulerConfig) ToTaskManagerConfig() coordination.TaskManagerConfig {
	return coordination.TaskManagerConfig{
		MaxConcurrentPerAgent: c.MaxConcurrentPerAgent,
		PollInterval:          c.PollInterval,
		DispatchWorkers:       c.DispatchWorkers,
	}
}

// ToSupervisorConfig 换算为主管配置
func (c SupervisorConfig) ToSupervisorConfig() agent.SupervisorConfig {
	return agent.SupervisorConfig{
		AgentConfig: agent.AgentConfig{MailboxSize: c.MailboxSize},
		MaxRetries:  c.MaxRetries,
		Strategy:    agent.SelectionStrategy(c.Strategy),
	}
}

// ToRegistryConfig 换算为注册表配置
func (c RegistryConfig) ToRegistryConfig() agent.RegistryConfig {
	return agent.RegistryConfig{
		HealthCheckInterval: c.HealthCheckInterval,
		HeartbeatTimeout:    c.HeartbeatTimeout,
	}
}

// ToVotingConfig 换算为表决配置
func (c VotingConfig) ToVotingConfig() coordination.VotingConfig {
	return coordination.VotingConfig{
		Quorum:    c.Quorum,
		Threshold: c.Threshold,
	}
}

// ToConsensusConfig 换算为共识配置
func (c ConsensusConfig) ToConsensusConfig() coordination.ConsensusConfig {
	return coordination.ConsensusConfig{
		ConvergenceThreshold: c.ConvergenceThreshold,
		MaxRounds:            c.MaxRounds,
		RoundDelay:           c.RoundDelay,
	}
}

// ToMessengerConfig 换算为点对点消息配置
func (c MessengerConfig) ToMessengerConfig() comm.DirectMessengerConfig {
	return comm.DirectMessengerConfig{
		RequestTimeout: c.RequestTimeout,
		AuditLimit:     c.AuditLimit,
	}
}

// ToBroadcasterConfig 换算为发布订阅配置
func (c BroadcasterConfig) ToBroadcasterConfig() comm.BroadcasterConfig {
	return comm.BroadcasterConfig{
		RetentionCount: c.RetentionCount,
		PublishRate:    c.PublishRate,
		PublishBurst:   c.PublishBurst,
	}
}

// ToRetryConfig 换算为存储重试配置
func (c RetryConfig) ToRetryConfig() persistence.RetryConfig {
	return persistence.RetryConfig{
		MaxRetries:        c.MaxRetries,
		InitialBackoff:    c.InitialBackoff,
		MaxBackoff:        c.MaxBackoff,
		BackoffMultiplier: c.BackoffMultiplier,
	}
}

// ToStoreConfig 换算为持久化配置
func (c StoreConfig) ToStoreConfig() persistence.StoreConfig {
	return persistence.StoreConfig{
		Type:    persistence.StoreType(c.Type),
		BaseDir: c.BaseDir,
		Redis: persistence.RedisConfig{
			Addr:      c.Redis.Addr,
			Password:  c.Redis.Password,
			DB:        c.Redis.DB,
			KeyPrefix: c.Redis.KeyPrefix,
		},
		Retry: c.Retry.ToRetryConfig(),
	}
}

// ToTaskManagerConfig 换算调度器配置，并带上 Store 节的重试策略
// 作为归档写入的退避配置
func (c *Config) ToTaskManagerConfig() coordination.TaskManagerConfig {
	out := c.Scheduler.ToTaskManagerConfig()
	out.StoreRetry = c.Store.Retry.ToRetryConfig()
	return out
}

// ToMessengerConfig 换算点对点消息配置，并带上 Store 节的重试策略
// 作为镜像写入的退避配置
func (c *Config) ToMessengerConfig() comm.DirectMessengerConfig {
	out := c.Messenger.ToMessengerConfig()
	out.StoreRetry = c.Store.Retry.ToRetryConfig()
	return out
}
