package asr

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/BaSui01/moechat/types"
)

// MaxFrameSize 单帧负载上限
const MaxFrameSize = 4 << 20

// ReadFrame 读取一个长度前缀帧。对端正常关闭时返回 io.EOF。
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, types.NewError(types.ErrProtocol, "truncated frame header").WithCause(err)
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, types.NewError(types.ErrProtocol, fmt.Sprintf("frame length %d exceeds limit %d", n, MaxFrameSize))
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, types.NewError(types.ErrProtocol, "truncated frame payload").WithCause(err)
		}
		return nil, err
	}
	return payload, nil
}

// WriteFrame 写出一个长度前缀帧
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return types.NewError(types.ErrProtocol, fmt.Sprintf("frame length %d exceeds limit %d", len(payload), MaxFrameSize))
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}
