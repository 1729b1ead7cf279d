// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package pipeline 实现一轮回复的生成：流式读取大模型输出，边读边分句，
每句提交一个 TTS 任务到有界 worker 池并行合成，再按句子顺序输出帧。

# 顺序保证

每个句子分配递增的槽位号。合成结果乱序到达后进入按槽位排序的小顶堆，
只有槽位号等于下一个待发送号的结果才会被放行，因此帧的顺序与句子顺序一致，
与各句合成耗时无关。

# 失败处理

  - 单句合成失败、队列已满或清洗后没有可朗读内容：该句以 file:"None" 发送，后续句子不受影响
  - 模型流中途出错：剩余文本作为最后一句输出，随后发送终止帧，返回 ErrFatalTurn，
    调用方不应把这段不完整的回复写入历史
  - 客户端断开：立即停止发送，未完成的合成任务随 ctx 取消
*/
package pipeline
