// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 管理 MoeChat 的两个监听面：HTTP（聊天、ASR、上下文）
与原始 TCP 语音流。

# 核心类型

  - Manager：封装 net/http.Server，非阻塞启动，优雅关闭，
    SSE 长连接场景下 WriteTimeout 可为 0。
  - TCPManager：语音 TCP 端口，每个连接交给 ConnHandler 在独立
    goroutine 中处理，关闭时取消所有连接上下文并等待其退出。
  - WaitForSignal：阻塞直到 SIGINT/SIGTERM 或任一服务异常退出。
*/
package server
