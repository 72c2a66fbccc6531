// Package config 提供 SwarmGate 服务的配置文件加载能力，
// 支持 JSON 与 YAML 两种格式，并补齐未显式填写的默认值。
package config
