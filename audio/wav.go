package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// WAV 格式错误
var (
	ErrNotWAV          = errors.New("not a RIFF/WAVE file")
	ErrUnsupportedWAV  = errors.New("only 16-bit PCM wav is supported")
	ErrMissingWAVChunk = errors.New("wav is missing fmt or data chunk")
)

// EncodeWAV 把 16 位单声道 PCM 封装为 WAV
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	w := func(v any) { _ = binary.Write(&buf, binary.LittleEndian, v) }

	buf.WriteString("RIFF")
	w(uint32(36 + len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	w(uint32(16))
	w(uint16(1)) // PCM
	w(uint16(1)) // mono
	w(uint32(sampleRate))
	w(uint32(sampleRate * 2))
	w(uint16(2))
	w(uint16(16))

	buf.WriteString("data")
	w(uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// EncodeSamplesWAV 浮点样本编码为 16 位 WAV
func EncodeSamplesWAV(samples []float32, sampleRate int) []byte {
	return EncodeWAV(Float32ToPCM16(samples), sampleRate)
}

// WAVInfo 解码结果
type WAVInfo struct {
	SampleRate int
	Channels   int
	// PCM 16 位小端单声道数据（多声道已取均值）
	PCM []byte
}

// DecodeWAV 解析 16 位 PCM WAV，多声道下混为单声道
func DecodeWAV(data []byte) (WAVInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return WAVInfo{}, ErrNotWAV
	}
	var (
		info    WAVInfo
		bits    uint16
		format  uint16
		pcm     []byte
		haveFmt bool
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return WAVInfo{}, fmt.Errorf("short fmt chunk")
			}
			format = binary.LittleEndian.Uint16(data[body:])
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			bits = binary.LittleEndian.Uint16(data[body+14:])
			haveFmt = true
		case "data":
			pcm = data[body:end]
		}
		off = body + size + size%2
	}
	if !haveFmt || pcm == nil {
		return WAVInfo{}, ErrMissingWAVChunk
	}
	// 0xFFFE 为 WAVE_FORMAT_EXTENSIBLE
	if (format != 1 && format != 0xFFFE) || bits != 16 || info.Channels < 1 {
		return WAVInfo{}, ErrUnsupportedWAV
	}
	frame := 2 * info.Channels
	pcm = pcm[:len(pcm)/frame*frame]
	if info.Channels == 1 {
		info.PCM = append([]byte(nil), pcm...)
		return info, nil
	}
	mono := make([]byte, len(pcm)/info.Channels)
	for i := 0; i < len(pcm)/frame; i++ {
		var sum int
		for c := 0; c < info.Channels; c++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[i*frame+2*c:])))
		}
		binary.LittleEndian.PutUint16(mono[2*i:], uint16(int16(sum/info.Channels)))
	}
	info.PCM = mono
	return info, nil
}
