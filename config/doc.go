// Package config 提供 MoeChat 的配置管理功能。
//
// 包含配置加载（默认值 → YAML → 环境变量）、校验、脱敏导出，
// 以及基于轮询的配置文件变更监听，用于运行时刷新角色人设。
package config
