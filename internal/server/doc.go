// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 核心类型

  - Manager：封装 http.Server 与 net.Listener，提供 Start/StartTLS/Shutdown
    以及异步错误通道 Errors。a2abridge 的报文端点与 metrics 端点各使用一个 Manager。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与优雅关闭超时。

# 主要能力

  - 非阻塞启动：在后台 goroutine 中运行服务，ListenAddr 返回实际绑定的地址。
  - 优雅关闭：Shutdown 在配置的超时内完成请求排空，重复调用无副作用。
  - TLS：StartTLS 使用 tlsutil 的加固配置（TLS 1.2+，仅 AEAD 套件）。
*/
package server
