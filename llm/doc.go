// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 封装 OpenAI 兼容的对话模型接口。

# 核心接口

  - [ChatClient]：Stream 返回增量文本通道（主回复），Complete 返回整段文本
    （情绪分析、话题标签、事实提取）。
  - [OpenAIClient]：基于 github.com/sashabaranov/go-openai 的实现，
    合并 extra 请求参数，单块读取超时，建立连接阶段对瞬时错误重试一次。

错误统一映射为 *types.Error：429/5xx/网络错误可重试，其余 4xx 为
UPSTREAM_ERROR，调用方取消映射为 CANCELLED。

子包：

  - embedding：OpenAI 兼容的向量接口
  - speech：GPT-SoVITS 语音合成、语音识别与声纹校验客户端
  - retry：指数退避重试
*/
package llm
