// Package cache 提供基于 Redis 的语音合成结果缓存。
//
// 同一段文本在同一组参考音频下的合成结果是确定的（seed 固定时），
// 缓存以文本与参考音频参数的摘要为键，命中时跳过 TTS 调用。
// 缓存故障一律视为未命中，不影响对话主流程。
package cache
