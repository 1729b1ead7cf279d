// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

// Package speech 提供语音相关的远端客户端：GPT-SoVITS 合成（TTSClient）、
// OpenAI 兼容的语音识别（Transcriber）以及可选的声纹校验（Verifier）。
package speech
