// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 embedding 提供 OpenAI 兼容的文本向量化网关，供日记、核心记忆与
世界书三种检索存储共用。

# 核心类型

  - Embedder：Embed(ctx, texts) 返回与输入等长、同序的向量。
  - Gateway：基于 go-openai 的 /v1/embeddings 客户端。超过 DefaultMaxBatch
    的输入分批发送，按响应中的 index 还原顺序。
  - EmbedOne：单条文本的便捷封装。

# 错误处理

429、5xx 与网络错误可重试一次；重试后仍失败返回包装了
ErrEmbeddingUnavailable 的 *types.Error（EMBEDDING_UNAVAILABLE）。
启动期调用方把它视为致命错误，对话期只让本轮检索结果为空。
*/
package embedding
