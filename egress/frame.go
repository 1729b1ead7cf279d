package egress

import (
	"encoding/base64"
	"encoding/json"
)

// NoAudio 合成失败或无需合成时 file 字段的取值
const NoAudio = "None"

// Frame 一个输出帧
type Frame struct {
	// Done 为 true 时是本轮的终止帧，Message 为完整回复
	Done    bool
	Message string
	// Audio 为 nil 表示该句没有音频
	Audio []byte
	// Tag 句首的情绪标签
	Tag string
}

type wireFrame struct {
	Done    bool    `json:"done"`
	Message string  `json:"message"`
	File    *string `json:"file"`
	Tag     string  `json:"tag,omitempty"`
}

// MarshalJSON 终止帧 file 为 null；其余帧为 base64 音频或 "None"
func (f Frame) MarshalJSON() ([]byte, error) {
	w := wireFrame{Done: f.Done, Message: f.Message, Tag: f.Tag}
	if !f.Done {
		file := NoAudio
		if f.Audio != nil {
			file = base64.URLEncoding.EncodeToString(f.Audio)
		}
		w.File = &file
	}
	return json.Marshal(w)
}

// UnmarshalJSON 供客户端与测试解析帧
func (f *Frame) UnmarshalJSON(data []byte) error {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*f = Frame{Done: w.Done, Message: w.Message, Tag: w.Tag}
	if w.File != nil && *w.File != NoAudio {
		audio, err := base64.URLEncoding.DecodeString(*w.File)
		if err != nil {
			return err
		}
		f.Audio = audio
	}
	return nil
}
