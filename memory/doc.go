// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 memory 汇集角色的三类检索存储，均为进程级单例，仅由编排器在轮次结束
后写入（知识库仅在启动时重建）。

# 子包

  - episodic：按天分片的对话日志，秒级时间戳为键，时间范围检索，
    可选向量深度筛选。
  - corefacts：核心事实，内积相似度检索 top-5。
  - knowledge：世界书，按文件内容哈希缓存向量包。
  - vector：扁平内积索引与 gob 向量文件。
  - timeexpr：中英文时间表达抽取。

所有存储通过 embedding.Embedder 获取向量，读写由存储级读写锁保护。
*/
package memory
