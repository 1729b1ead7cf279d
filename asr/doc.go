// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package asr 实现语音识别会话：接收客户端推送的 16 kHz 单声道 PCM 小块，
按批送入能量 VAD，在语音段结束时组装 WAV，经可选的声纹校验后调用识别后端，
把非空转写结果回传给客户端。

同一套会话逻辑同时服务于两种传输：

  - TCP：4 字节大端长度前缀 + JSON 负载 {"type":"asr","data":"<base64 pcm>"}，
    回包为同样长度前缀的 UTF-8 文本
  - WebSocket（/api/asr_ws）：文本消息携带同样的 JSON，二进制消息直接视为 PCM，
    回包为文本消息

每个连接一个 goroutine，VAD 与识别调用在该 goroutine 内同步执行。
*/
package asr
