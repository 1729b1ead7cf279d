package affect

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BaSui01/moechat/internal/fsutil"
)

// Mode 角色情绪模式，取值与状态文件中的 character_state 一致
type Mode string

const (
	ModeNormal     Mode = "正常"
	ModeMeltdown   Mode = "爆发中"
	ModeRecovering Mode = "冷却恢复"
)

// Label 英文标签（用于日志与指标）
func (m Mode) Label() string {
	switch m {
	case ModeMeltdown:
		return "meltdown"
	case ModeRecovering:
		return "recovering"
	default:
		return "normal"
	}
}

func (m Mode) valid() bool {
	return m == ModeNormal || m == ModeMeltdown || m == ModeRecovering
}

// Latent 潜在情绪
type Latent struct {
	Frustration float64 `json:"frustration"`
}

// State 情绪状态快照
type State struct {
	Valence           float64    `json:"valence"`
	Arousal           float64    `json:"arousal"`
	Mode              Mode       `json:"character_state"`
	Latent            Latent     `json:"latent_emotions"`
	MeltdownStartTime *time.Time `json:"meltdown_start_time"`
}

// DefaultState 初始状态
func DefaultState() State {
	return State{Mode: ModeNormal}
}

// SaveState 原子写入状态文件
func SaveState(path string, s State) error {
	data, err := json.MarshalIndent(s, "", "    ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o644)
}

// LoadState 读取状态文件。文件不存在时返回 os.ErrNotExist。
func LoadState(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, err
	}
	s := DefaultState()
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("parse affect state: %w", err)
	}
	if !s.Mode.valid() {
		return State{}, fmt.Errorf("unknown character_state %q", s.Mode)
	}
	if s.Mode != ModeNormal && s.MeltdownStartTime == nil {
		return State{}, errors.New("meltdown_start_time required outside normal mode")
	}
	s.Valence = clamp(s.Valence, -1, 1)
	s.Arousal = clamp(s.Arousal, 0, 1)
	if s.Latent.Frustration < 0 {
		s.Latent.Frustration = 0
	}
	return s, nil
}
