package coordination

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/agent"
	"github.com/BaSui01/swarmflow/internal/metrics"
)

// VoteOption 投票选项
type VoteOption string

const (
	VoteYes     VoteOption = "yes"
	VoteNo      VoteOption = "no"
	VoteAbstain VoteOption = "abstain" // 计入参与度，不计入通过率
)

// VotingConfig 投票配置。Quorum 与 Threshold 都必须落在 (0, 1]。
type VotingConfig struct {
	// Quorum 有效投票所需的最低参与比例
	Quorum float64 `json:"quorum" yaml:"quorum"`

	// Threshold 决定性票（yes+no）中赞成票所需的最低比例
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// DefaultVotingConfig 默认配置：过半参与、过半赞成
func DefaultVotingConfig() VotingConfig {
	return VotingConfig{Quorum: 0.5, Threshold: 0.5}
}

// Validate 构造期校验；越界立即失败
func (c VotingConfig) Validate() error {
	if c.Quorum <= 0 || c.Quorum > 1 {
		return fmt.Errorf("quorum must be in (0, 1], got %v", c.Quorum)
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be in (0, 1], got %v", c.Threshold)
	}
	return nil
}

// Proposal 待表决提案
type Proposal struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	ProposerID  string     `json:"proposer_id"`
	Deadline    *time.Time `json:"deadline,omitempty"` // nil 表示不限期
	CreatedAt   time.Time  `json:"created_at"`
}

// Vote 一张选票
type Vote struct {
	VoterID string     `json:"voter_id"`
	Option  VoteOption `json:"option"`
	CastAt  time.Time  `json:"cast_at"`
}

// VotingResult 计票结果
type VotingResult struct {
	ProposalID    string    `json:"proposal_id"`
	Passed        bool      `json:"passed"`
	Yes           int       `json:"yes"`
	No            int       `json:"no"`
	Abstain       int       `json:"abstain"`
	TotalVoters   int       `json:"total_voters"`
	Participation float64   `json:"participation"`
	Approval      float64   `json:"approval"`
	TalliedAt     time.Time `json:"tallied_at"`
}

// VotingMechanism 法定人数 + 通过率双条件表决。
//
// 计票是破坏性的：提案与选票从活跃集中移除，结果按提案 ID 归档，
// 重复计票与计票后补票都会失败。
type VotingMechanism struct {
	mu        sync.Mutex
	proposals map[string]*Proposal
	votes     map[string]map[string]*Vote // 提案 ID -> 投票人 ID -> 选票
	archive   map[string]*VotingResult

	cfg       VotingConfig
	collector *metrics.Collector // 可选
	logger    *zap.Logger
}

// NewVotingMechanism 创建表决机制；配置越界时返回错误
func NewVotingMechanism(cfg VotingConfig, logger *zap.Logger) (*VotingMechanism, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VotingMechanism{
		proposals: make(map[string]*Proposal),
		votes:     make(map[string]map[string]*Vote),
		archive:   make(map[string]*VotingResult),
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "voting")),
	}, nil
}

// WithCollector 配置指标收集
func (v *VotingMechanism) WithCollector(c *metrics.Collector) *VotingMechanism {
	v.collector = c
	return v
}

// CreateProposal 创建提案并进入活跃集；deadline 为 nil 表示不限期
func (v *VotingMechanism) CreateProposal(title, description, proposerID string, deadline *time.Time) *Proposal {
	p := &Proposal{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		ProposerID:  proposerID,
		Deadline:    deadline,
		CreatedAt:   time.Now(),
	}
	v.mu.Lock()
	v.proposals[p.ID] = p
	v.votes[p.ID] = make(map[string]*Vote)
	v.mu.Unlock()

	v.logger.Info("proposal created",
		zap.String("proposal_id", p.ID),
		zap.String("title", title),
		zap.String("proposer_id", proposerID),
	)
	return p
}

// CastVote 投票。提案未知（含已计票）或已过截止时间时失败；
// 同一投票人重复投票以最后一票为准。
func (v *VotingMechanism) CastVote(proposalID, voterID string, option VoteOption) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.proposals[proposalID]
	if !ok {
		return &agent.NotFoundError{Kind: "proposal", ID: proposalID}
	}
	if p.Deadline != nil && time.Now().After(*p.Deadline) {
		return fmt.Errorf("proposal %s: voting deadline passed", proposalID)
	}
	v.votes[proposalID][voterID] = &Vote{
		VoterID: voterID,
		Option:  option,
		CastAt:  time.Now(),
	}
	return nil
}

// TallyVotes 计票并关闭提案。
//
// participation = 已投票数 / totalVoters；approval = yes / (yes+no)，
// 没有决定性票时记 0。通过条件：participation ≥ Quorum 且
// approval ≥ Threshold。重复计票返回错误。
func (v *VotingMechanism) TallyVotes(proposalID string, totalVoters int) (*VotingResult, error) {
	if totalVoters <= 0 {
		return nil, fmt.Errorf("tally %s: total voters must be positive, got %d", proposalID, totalVoters)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if _, tallied := v.archive[proposalID]; tallied {
		return nil, fmt.Errorf("proposal %s already tallied", proposalID)
	}
	if _, ok := v.proposals[proposalID]; !ok {
		return nil, &agent.NotFoundError{Kind: "proposal", ID: proposalID}
	}

	result := &VotingResult{
		ProposalID:  proposalID,
		TotalVoters: totalVoters,
		TalliedAt:   time.Now(),
	}
	for _, vote := range v.votes[proposalID] {
		switch vote.Option {
		case VoteYes:
			result.Yes++
		case VoteNo:
			result.No++
		default:
			result.Abstain++
		}
	}

	cast := result.Yes + result.No + result.Abstain
	result.Participation = float64(cast) / float64(totalVoters)
	if decisive := result.Yes + result.No; decisive > 0 {
		result.Approval = float64(result.Yes) / float64(decisive)
	}
	result.Passed = result.Participation >= v.cfg.Quorum && result.Approval >= v.cfg.Threshold

	delete(v.proposals, proposalID)
	delete(v.votes, proposalID)
	v.archive[proposalID] = result
	v.collector.RecordTally(result.Passed)

	v.logger.Info("proposal tallied",
		zap.String("proposal_id", proposalID),
		zap.Bool("passed", result.Passed),
		zap.Int("yes", result.Yes),
		zap.Int("no", result.No),
		zap.Int("abstain", result.Abstain),
		zap.Float64("participation", result.Participation),
		zap.Float64("approval", result.Approval),
	)
	return result, nil
}

// GetProposal 返回活跃提案
func (v *VotingMechanism) GetProposal(proposalID string) (*Proposal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.proposals[proposalID]
	if !ok {
		return nil, &agent.NotFoundError{Kind: "proposal", ID: proposalID}
	}
	return p, nil
}

// GetResult 返回归档的计票结果
func (v *VotingMechanism) GetResult(proposalID string) (*VotingResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	r, ok := v.archive[proposalID]
	if !ok {
		return nil, &agent.NotFoundError{Kind: "voting result", ID: proposalID}
	}
	return r, nil
}

// ActiveProposals 返回活跃提案列表
func (v *VotingMechanism) ActiveProposals() []*Proposal {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Proposal, 0, len(v.proposals))
	for _, p := range v.proposals {
		out = append(out, p)
	}
	return out
}
