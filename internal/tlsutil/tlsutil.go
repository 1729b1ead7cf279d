// Package tlsutil 提供后端客户端共用的出站传输。
//
// LLM、向量、TTS、STT 与声纹验证共享同一个连接池，TLS 1.2 起步，仅 AEAD 套件。
// 本地部署的 GPT-SoVITS 走明文 HTTP，同样复用这个传输。
package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"
)

// MaxIdleConnsPerHost 每个后端主机保留的空闲连接。
// 一轮回复的句子并发合成，默认值 2 会让 TTS 不停地新建连接。
const MaxIdleConnsPerHost = 32

var aeadSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// ClientTLS 出站 TLS 配置，每次返回新副本
func ClientTLS() *tls.Config {
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		CipherSuites: slices.Clone(aeadSuites),
	}
}

var shared = sync.OnceValue(func() *http.Transport {
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: ClientTLS(),
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        128,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
})

// Transport 进程内共享的后端传输
func Transport() *http.Transport { return shared() }

// BackendClient 基于共享传输的客户端。timeout 为 0 时不设整体超时，
// 由调用方的 context 控制（流式响应不能设置 http.Client.Timeout）。
func BackendClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: shared()}
}
