// Package audio 提供 16 位 PCM 与 WAV 的转换、base64 解码以及基于能量的语音活动检测。
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"strings"
)

// SampleRate 全链路统一采样率
const SampleRate = 16000

// ErrOddLength PCM 字节数不是 2 的倍数
var ErrOddLength = errors.New("pcm16 data has odd length")

// PCM16ToFloat32 16 位小端 PCM 转为 [-1, 1) 浮点样本
func PCM16ToFloat32(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768.0
	}
	return out, nil
}

// Float32ToPCM16 浮点样本转 16 位小端 PCM，超出 [-1, 1] 的值被截断
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(math.Round(v*32767))))
	}
	return out
}

// RMS 均方根能量
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// DecodeBase64 先按 URL 安全字母表解码，失败后回退到标准字母表；两者都接受无填充形式
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	encodings := []*base64.Encoding{
		base64.URLEncoding, base64.RawURLEncoding,
		base64.StdEncoding, base64.RawStdEncoding,
	}
	var firstErr error
	for _, enc := range encodings {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}
