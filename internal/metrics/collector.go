// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 指标收集器
type Collector struct {
	// 任务指标
	tasksSubmitted prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	taskDuration   prometheus.Histogram
	tasksRunning   prometheus.Gauge

	// 委派指标
	delegationAttempts prometheus.Counter

	// 消息指标
	messagesPublished *prometheus.CounterVec
	deliveryFailures  prometheus.Counter

	// 共识指标
	proposalsTallied *prometheus.CounterVec
	electionsTotal   *prometheus.CounterVec

	// Agent 指标
	agentsRegistered prometheus.Gauge

	logger *zap.Logger
}

// NewCollector 创建指标收集器并注册到 reg；reg 为 nil 时使用默认注册表
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{logger: logger.With(zap.String("component", "metrics"))}

	c.tasksSubmitted = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_submitted_total",
		Help:      "Total number of tasks submitted to the scheduler",
	})
	c.tasksCompleted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tasks_completed_total",
		Help:      "Total number of tasks reaching a terminal state",
	}, []string{"status"})
	c.taskDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "task_duration_seconds",
		Help:      "Task execution duration in seconds",
		Buckets:   prometheus.DefBuckets,
	})
	c.tasksRunning = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "tasks_running",
		Help:      "Number of tasks currently claimed and running",
	})
	c.delegationAttempts = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delegation_attempts_total",
		Help:      "Total number of supervisor delegation attempts",
	})
	c.messagesPublished = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_published_total",
		Help:      "Total number of messages published per topic",
	}, []string{"topic"})
	c.deliveryFailures = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "delivery_failures_total",
		Help:      "Total number of per-subscriber delivery failures",
	})
	c.proposalsTallied = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "proposals_tallied_total",
		Help:      "Total number of tallied proposals",
	}, []string{"passed"})
	c.electionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "elections_total",
		Help:      "Total number of leader elections",
	}, []string{"strategy", "outcome"})
	c.agentsRegistered = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "agents_registered",
		Help:      "Number of currently registered agents",
	})

	return c
}

// RecordTaskSubmitted 记录任务提交
func (c *Collector) RecordTaskSubmitted() {
	if c == nil {
		return
	}
	c.tasksSubmitted.Inc()
}

// RecordTaskClaimed 记录任务被认领
func (c *Collector) RecordTaskClaimed() {
	if c == nil {
		return
	}
	c.tasksRunning.Inc()
}

// RecordTaskCompleted 记录任务终止
func (c *Collector) RecordTaskCompleted(status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.tasksRunning.Dec()
	c.tasksCompleted.WithLabelValues(status).Inc()
	c.taskDuration.Observe(duration.Seconds())
}

// RecordDelegationAttempt 记录一次委派尝试
func (c *Collector) RecordDelegationAttempt() {
	if c == nil {
		return
	}
	c.delegationAttempts.Inc()
}

// RecordPublish 记录一次发布
func (c *Collector) RecordPublish(topic string) {
	if c == nil {
		return
	}
	c.messagesPublished.WithLabelValues(topic).Inc()
}

// RecordDeliveryFailure 记录单订阅者投递失败
func (c *Collector) RecordDeliveryFailure() {
	if c == nil {
		return
	}
	c.deliveryFailures.Inc()
}

// RecordTally 记录一次计票
func (c *Collector) RecordTally(passed bool) {
	if c == nil {
		return
	}
	label := "false"
	if passed {
		label = "true"
	}
	c.proposalsTallied.WithLabelValues(label).Inc()
}

// RecordElection 记录一次选举
func (c *Collector) RecordElection(strategy string, success bool) {
	if c == nil {
		return
	}
	outcome := "failed"
	if success {
		outcome = "elected"
	}
	c.electionsTotal.WithLabelValues(strategy, outcome).Inc()
}

// SetAgentsRegistered 更新注册 Agent 数量
func (c *Collector) SetAgentsRegistered(n int) {
	if c == nil {
		return
	}
	c.agentsRegistered.Set(float64(n))
}

