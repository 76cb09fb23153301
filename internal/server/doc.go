/*
包 server 提供 Relay 的 HTTP 入口层：服务器生命周期管理、
路由注册与通用中间件。

# 概述

本包通过 Manager 封装 net/http.Server，统一管理监听、服务、
关闭与错误传播流程。API 聚合所有业务处理器（消息入口、标签
事件、交接结果回传、统计查询与告警管理），中间件链提供
panic 恢复、请求日志、Prometheus 指标、IP 限流与 JWT 认证。

# 核心类型

  - Manager：HTTP 服务器管理器，持有 http.Server、net.Listener
    与异步错误通道，提供 Start/Shutdown/WaitForShutdown 等
    生命周期方法。
  - Config：服务器配置，包含监听地址、读写超时、空闲超时、
    最大请求头大小与优雅关闭超时。
  - API：业务路由集合，依赖 coordinator、alerting 与 monitor。
  - Middleware：http.Handler 包装器，通过 Chain 串联。

本包属于 internal，不应被外部项目导入。
*/
package server
