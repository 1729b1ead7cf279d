// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package orchestrator 协调单轮对话：情绪更新 → 并行检索（核心记忆、日记、世界书）
→ 组装提示词 → 生成并推送帧 → 轮次结束后异步写回记忆。

# 会话

会话以 ID 区分，历史保存在服务端并持久化到 history.yaml。同一会话的轮次串行执行，
写回也按会话串行；不同会话互不阻塞。服务端没有历史时，用客户端带来的历史初始化，
配置了 start_with 时以开场对话初始化。

# 写回

终止帧发出后：调用模型提取主题标签（失败时记为"日常闲聊"）并追加日记；
满足以下任一条件时提取核心记忆：

  - 用户文本包含"记住"或 "remember"
  - 本轮用户与助手文本合计不少于 fact_min_chars 个字符
  - 轮次编号是 fact_every_n_turns 的整数倍

模型流中途出错或客户端断开的轮次不写入历史，也不写回记忆。
*/
package orchestrator
