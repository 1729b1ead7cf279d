// 版权所有 2024 MoeChat Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
Package egress 把生成管线产出的帧写成 server-sent events。

每帧一行 "data: <json>\n\n"，写完立即 Flush。写入阻塞时（客户端读得慢）
发送方随之暂停，帧不会被丢弃。JSON 结构：

	{"done": false, "message": "你好。", "file": "<url-safe base64 音频>", "tag": "开心"}
	{"done": false, "message": "……", "file": "None"}   // 该句合成失败
	{"done": true,  "message": "<完整回复>", "file": null}
*/
package egress
