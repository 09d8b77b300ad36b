package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/persistence"
)

func TestToTaskManagerConfig_CarriesStoreRetry(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Scheduler.MaxConcurrentPerAgent = 4
	cfg.Scheduler.PollInterval = 25 * time.Millisecond
	cfg.Scheduler.DispatchWorkers = 2
	cfg.Store.Retry = RetryConfig{
		MaxRetries:        5,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 3,
	}

	out := cfg.ToTaskManagerConfig()
	assert.Equal(t, 4, out.MaxConcurrentPerAgent)
	assert.Equal(t, 25*time.Millisecond, out.PollInterval)
	assert.Equal(t, 2, out.DispatchWorkers)
	assert.Equal(t, 5, out.StoreRetry.MaxRetries)
	assert.Equal(t, 10*time.Millisecond, out.StoreRetry.InitialBackoff)
}

func TestToSupervisorConfig_MapsStrategyAndMailbox(t *testing.T) {
	t.Parallel()

	in := SupervisorConfig{MaxRetries: 7, Strategy: "round_robin", MailboxSize: 32}
	out := in.ToSupervisorConfig()
	assert.Equal(t, 7, out.MaxRetries)
	assert.Equal(t, agent.StrategyRoundRobin, out.Strategy)
	assert.Equal(t, 32, out.MailboxSize)
}

func TestToMessengerConfig_CarriesStoreRetry(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Messenger.RequestTimeout = 5 * time.Second
	cfg.Messenger.AuditLimit = 64
	cfg.Store.Retry.MaxRetries = 9

	out := cfg.ToMessengerConfig()
	assert.Equal(t, 5*time.Second, out.RequestTimeout)
	assert.Equal(t, 64, out.AuditLimit)
	assert.Equal(t, 9, out.StoreRetry.MaxRetries)
}

func TestToStoreConfig_MapsBackendAndRedis(t *testing.T) {
	t.Parallel()

	in := StoreConfig{
		Type:    "redis",
		BaseDir: "/var/lib/swarmflow",
		Redis:   RedisConfig{Addr: "redis:6379", Password: "s3cret", DB: 2, KeyPrefix: "sf:"},
		Retry:   DefaultRetryConfig(),
	}
	out := in.ToStoreConfig()
	assert.Equal(t, persistence.StoreTypeRedis, out.Type)
	assert.Equal(t, "/var/lib/swarmflow", out.BaseDir)
	assert.Equal(t, "redis:6379", out.Redis.Addr)
	assert.Equal(t, 2, out.Redis.DB)
	assert.Equal(t, "sf:", out.Redis.KeyPrefix)
	assert.Equal(t, 3, out.Retry.MaxRetries)
}

func TestSectionAdapters_MapFields(t *testing.T) {
	t.Parallel()

	reg := RegistryConfig{HealthCheckInterval: time.Second, HeartbeatTimeout: time.Minute}.ToRegistryConfig()
	assert.Equal(t, time.Second, reg.HealthCheckInterval)
	assert.Equal(t, time.Minute, reg.HeartbeatTimeout)

	vote := VotingConfig{Quorum: 0.7, Threshold: 0.9}.ToVotingConfig()
	assert.Equal(t, 0.7, vote.Quorum)
	assert.Equal(t, 0.9, vote.Threshold)

	cons := ConsensusConfig{ConvergenceThreshold: 0.8, MaxRounds: 4, RoundDelay: time.Millisecond}.ToConsensusConfig()
	assert.Equal(t, 0.8, cons.ConvergenceThreshold)
	assert.Equal(t, 4, cons.MaxRounds)
	assert.Equal(t, time.Millisecond, cons.RoundDelay)

	bc := BroadcasterConfig{RetentionCount: 8, PublishRate: 10, PublishBurst: 3}.ToBroadcasterConfig()
	assert.Equal(t, 8, bc.RetentionCount)
	assert.Equal(t, 10.0, bc.PublishRate)
	assert.Equal(t, 3, bc.PublishBurst)
}
