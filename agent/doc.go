// Package agent 提供多 Agent 协作核心：Agent 抽象、WorkerAgent、
// SupervisorAgent 与进程级 Registry。
//
// Agent 的可变状态（state、计数器、心跳）遵循单写者约束：只有 Agent
// 自身修改自己的状态，Registry 与 Supervisor 仅持引用读取。
package agent
