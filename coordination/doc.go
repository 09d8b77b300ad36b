// Package coordination 提供多 Agent 协调原语：任务调度器
// （优先级队列 + 依赖图 + 轮询调度循环）、投票机制、值收敛共识
// 与可插拔的领导者选举策略。
package coordination
