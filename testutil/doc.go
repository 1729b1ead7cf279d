// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package testutil 提供 MoeChat 测试的共享工具和辅助函数。

# 核心能力

  - 上下文: TestContext / ContextWithin / CancelledContext，测试结束时自动取消
  - 等待后台 goroutine: Receive / Closed
  - PCM: SinePCM / SilencePCM / Utterance，构造能被 VAD 切出语音段的测试音频

# 子包

  - testutil/mocks: 后端模拟实现，包括 MockEmbedder、MockChatClient、
    MockSynthesizer、MockTranscriber、MockVerifier，均支持 Builder 模式
    与错误注入
  - testutil/fixtures: 测试数据工厂，提供角色配置与世界书样例

# 使用示例

	ctx := testutil.TestContext(t)
	emb := mocks.NewMockEmbedder(8).WithVector("猫", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	vecs, err := emb.Embed(ctx, []string{"猫"})
*/
package testutil
