// Package config 负责加载 MerkleBatch-Chain 的启动配置。
//
// 支持 JSON 与 YAML 两种格式，按文件扩展名选择解析器；未填写的字段由
// applyDefaults 补齐。
package config
