package coordination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent"
)

// ValueFunc 每轮共识向 Agent 收集提议值的回调
type ValueFunc func(ctx context.Context, a agent.Agent) (any, error)

// ConsensusConfig 共识配置
type ConsensusConfig struct {
	// ConvergenceThreshold 最大值组占比达到该阈值即视为收敛，(0, 1]
	ConvergenceThreshold float64 `json:"convergence_threshold" yaml:"convergence_threshold"`

	// MaxRounds 最多驱动的提议轮数
	MaxRounds int `json:"max_rounds" yaml:"max_rounds"`

	// RoundDelay 轮次之间的等待时长
	RoundDelay time.Duration `json:"round_delay" yaml:"round_delay"`
}

// DefaultConsensusConfig 默认配置
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		ConvergenceThreshold: 0.66,
		MaxRounds:            5,
		RoundDelay:           50 * time.Millisecond,
	}
}

// Validate 构造期校验
func (c ConsensusConfig) Validate() error {
	if c.ConvergenceThreshold <= 0 || c.ConvergenceThreshold > 1 {
		return fmt.Errorf("convergence threshold must be in (0, 1], got %v", c.ConvergenceThreshold)
	}
	if c.MaxRounds <= 0 {
		return fmt.Errorf("max rounds must be positive, got %d", c.MaxRounds)
	}
	return nil
}

// ConsensusBuilder 按键的多轮值收敛共识。
//
// 每个 Agent 对每个键只保留最新提议（覆盖语义）。判定收敛时按
// 值的字符串形式分组，最大组占比达到阈值即收敛，返回并缓存该组
// 的原始值（非字符串化形式）。
type ConsensusBuilder struct {
	mu        sync.Mutex
	proposals map[string]map[string]any // 键 -> Agent ID -> 提议值
	reached   map[string]any            // 键 -> 已收敛的值

	cfg    ConsensusConfig
	logger *zap.Logger
}

// NewConsensusBuilder 创建共识构建器；配置越界时返回错误
func NewConsensusBuilder(cfg ConsensusConfig, logger *zap.Logger) (*ConsensusBuilder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RoundDelay <= 0 {
		cfg.RoundDelay = DefaultConsensusConfig().RoundDelay
	}
	return &ConsensusBuilder{
		proposals: make(map[string]map[string]any),
		reached:   make(map[string]any),
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "consensus")),
	}, nil
}

// ProposeValue 记录 agentID 对 key 的最新提议，覆盖此前的提议
func (b *ConsensusBuilder) ProposeValue(key, agentID string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.proposals[key]; !ok {
		b.proposals[key] = make(map[string]any)
	}
	b.proposals[key][agentID] = value
}

// CheckConsensus 判定 key 是否收敛。
// 收敛时返回 (原始值, true) 并缓存；否则返回 (nil, false)。
func (b *ConsensusBuilder) CheckConsensus(key string, totalAgents int) (any, bool) {
	if totalAgents <= 0 {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	groups := make(map[string]int)
	sample := make(map[string]any) // 每组的一个原始值
	for _, value := range b.proposals[key] {
		s := fmt.Sprintf("%v", value)
		groups[s]++
		if _, ok := sample[s]; !ok {
			sample[s] = value
		}
	}

	var bestKey string
	bestCount := 0
	for s, count := range groups {
		if count > bestCount {
			bestKey, bestCount = s, count
		}
	}
	if bestCount == 0 {
		return nil, false
	}
	if float64(bestCount)/float64(totalAgents) < b.cfg.ConvergenceThreshold {
		return nil, false
	}

	value := sample[bestKey]
	b.reached[key] = value
	b.logger.Info("consensus reached",
		zap.String("key", key),
		zap.Int("group_size", bestCount),
		zap.Int("total_agents", totalAgents),
	)
	return value, true
}

// GetConsensus 返回 key 已缓存的收敛值
func (b *ConsensusBuilder) GetConsensus(key string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.reached[key]
	return value, ok
}

// ReachConsensus 驱动至多 MaxRounds 轮「收集提议 + 判定收敛」。
//
// 每轮通过 fn 收集各 Agent 的当前值，单个 Agent 收集失败记录日志
// 后跳过（不致命）。任一轮收敛即返回 (值, true, nil)；所有轮次都
// 未收敛时返回 (nil, false, nil)。轮间延迟可被 ctx 取消。
func (b *ConsensusBuilder) ReachConsensus(ctx context.Context, key string, agents []agent.Agent, fn ValueFunc) (any, bool, error) {
	if len(agents) == 0 {
		return nil, false, agent.ErrNoWorkers
	}

	for round := 1; round <= b.cfg.MaxRounds; round++ {
		for _, a := range agents {
			value, err := fn(ctx, a)
			if err != nil {
				b.logger.Warn("value collection failed",
					zap.String("key", key),
					zap.String("agent_id", a.ID()),
					zap.Int("round", round),
					zap.Error(err),
				)
				continue
			}
			b.ProposeValue(key, a.ID(), value)
		}

		if value, ok := b.CheckConsensus(key, len(agents)); ok {
			b.logger.Debug("consensus round converged",
				zap.String("key", key),
				zap.Int("round", round),
			)
			return value, true, nil
		}

		if round < b.cfg.MaxRounds {
			timer := time.NewTimer(b.cfg.RoundDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, false, ctx.Err()
			case <-timer.C:
			}
		}
	}

	b.logger.Info("consensus not reached",
		zap.String("key", key),
		zap.Int("rounds", b.cfg.MaxRounds),
	)
	return nil, false, nil
}
