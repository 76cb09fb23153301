// relayd 是 Relay 交接协调服务的守护进程。
//
// 提供 webhook 消息入口、交接管道、性能追踪、Prometheus 指标
// 与告警评估循环。
//
// 使用方法:
//
//	relayd serve                       # 启动服务
//	relayd serve --config config.yaml  # 指定配置文件
//	relayd version                     # 显示版本信息
//	relayd health                      # 健康检查
package main
