package testutil

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// DefaultTimeout 单个测试的上下文期限，覆盖一整轮对话加回写
const DefaultTimeout = 30 * time.Second

// TestContext 带 DefaultTimeout 的上下文，测试结束时取消
func TestContext(t testing.TB) context.Context {
	return ContextWithin(t, DefaultTimeout)
}

// ContextWithin 带自定义期限的上下文，测试结束时取消
func ContextWithin(t testing.TB, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 已取消的上下文，模拟客户端在轮次开始前断开
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// Receive 在 timeout 内从 ch 取一个值；超时或通道关闭前没有值时 ok 为 false。
// 用于等待后台 goroutine 的完成信号。
func Receive[T any](ch <-chan T, timeout time.Duration) (v T, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v, ok = <-ch:
		return v, ok
	case <-timer.C:
		return v, false
	}
}

// Closed 在 timeout 内 done 被关闭
func Closed(done <-chan struct{}, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// =============================================================================
// 🔊 PCM
// =============================================================================

// SinePCM 16 位小端单声道正弦波，amplitude 8000 左右足以触发 VAD
func SinePCM(sampleRate int, dur time.Duration, freq float64, amplitude int16) []byte {
	n := samplesIn(sampleRate, dur)
	out := make([]byte, 2*n)
	step := 2 * math.Pi * freq / float64(sampleRate)
	for i := range n {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(float64(amplitude)*math.Sin(step*float64(i)))))
	}
	return out
}

// SilencePCM 全零 PCM
func SilencePCM(sampleRate int, dur time.Duration) []byte {
	return make([]byte, 2*samplesIn(sampleRate, dur))
}

// Utterance 前置静音 + 300Hz 语音 + 尾部静音，VAD 会切出恰好一段
func Utterance(sampleRate int, lead, speech, tail time.Duration) []byte {
	pcm := SilencePCM(sampleRate, lead)
	pcm = append(pcm, SinePCM(sampleRate, speech, 300, 8000)...)
	return append(pcm, SilencePCM(sampleRate, tail)...)
}

func samplesIn(sampleRate int, dur time.Duration) int {
	return int(float64(sampleRate) * dur.Seconds())
}
