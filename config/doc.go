// Package config 提供 a2abridge 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → A2A_ 前缀环境变量 的顺序叠加，
// 并转换为各组件自己的配置（投递策略、存储、发现、消息客户端）。
// Watcher 轮询配置文件，把日志级别、对端列表与限流参数等字段热重载到运行中的进程。
package config
