// Package comm 提供 Agent 间通信：带缓冲的通道（QueueChannel）、
// 主题发布订阅（Broadcaster）与点对点请求应答（DirectMessenger）。
package comm
