// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 affect 实现角色的二维情绪引擎（效价 Valence × 唤醒度 Arousal）。

# 状态机

  - Normal（正常）：每条用户输入先交给情绪分析 LLM，得到
    {sentiment, intensity, intention, arousal_impact}，据此更新 V/A
    与潜在烦躁值 F；F 超过阈值时进入 Meltdown。
  - Meltdown（爆发中）：V/A 随时间衰减，V ≥ -0.3 或超过
    meltdown_duration_minutes 后进入 Recovering。
  - Recovering（冷却恢复）：从 (-0.3, 0.1) 线性回到 (0, 0)，
    完成后回到 Normal。

爆发与恢复只由时间驱动，不调用分析 LLM。Engine.Tick 由定时任务调用，
使状态在没有输入时也按时推进。

# 输出

每次更新后状态以 JSON 原子写入 emotion_state.json，并由 Directive
把 (V, A) 映射到九个情绪分区之一，生成注入系统提示词的情绪指令。
*/
package affect
