// Package config 提供 SwarmFlow 的配置管理功能。
//
// 包含配置加载与文件变更监听。
// 支持从 YAML 文件与环境变量加载配置。
package config
