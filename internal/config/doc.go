// Package config 负责加载并校验守护进程的 JSON 配置。
package config
