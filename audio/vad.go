package audio

// EventKind 语音活动事件类型
type EventKind int

const (
	// EventStart 检测到语音开始，Samples 包含预留的前置音频
	EventStart EventKind = iota
	// EventContinue 语音进行中
	EventContinue
	// EventEnd 语音结束
	EventEnd
)

func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventContinue:
		return "continue"
	default:
		return "end"
	}
}

// Event 一个窗口的检测结果
type Event struct {
	Kind    EventKind
	Samples []float32
}

// WindowSize 每次判定的样本数（16kHz 下 32ms）
const WindowSize = 512

// VADConfig 检测参数
type VADConfig struct {
	// Threshold RMS 能量阈值
	Threshold    float64
	SampleRate   int
	MinSilenceMS int
	SpeechPadMS  int
}

// VAD 基于能量的流式语音活动检测，不可并发使用
type VAD struct {
	threshold  float64
	minSilence int // 样本数
	pad        int // 样本数

	pending   []float32 // 不足一个窗口的剩余样本
	preroll   []float32 // 最近 pad 个样本
	triggered bool
	silence   int
}

// NewVAD 创建检测器
func NewVAD(cfg VADConfig) *VAD {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = SampleRate
	}
	return &VAD{
		threshold:  cfg.Threshold,
		minSilence: cfg.SampleRate * cfg.MinSilenceMS / 1000,
		pad:        cfg.SampleRate * cfg.SpeechPadMS / 1000,
	}
}

// Feed 送入任意长度的样本，按窗口返回事件。未触发时不返回事件。
func (v *VAD) Feed(samples []float32) []Event {
	v.pending = append(v.pending, samples...)
	var events []Event
	for len(v.pending) >= WindowSize {
		win := make([]float32, WindowSize)
		copy(win, v.pending[:WindowSize])
		v.pending = v.pending[WindowSize:]
		if ev, ok := v.step(win); ok {
			events = append(events, ev)
		}
	}
	// 释放已消费的底层数组
	v.pending = append([]float32(nil), v.pending...)
	return events
}

func (v *VAD) step(win []float32) (Event, bool) {
	speech := RMS(win) >= v.threshold

	if !v.triggered {
		if !speech {
			v.remember(win)
			return Event{}, false
		}
		v.triggered = true
		v.silence = 0
		out := append(append([]float32(nil), v.preroll...), win...)
		v.preroll = v.preroll[:0]
		return Event{Kind: EventStart, Samples: out}, true
	}

	if speech {
		v.silence = 0
		return Event{Kind: EventContinue, Samples: win}, true
	}
	v.silence += len(win)
	if v.silence >= v.minSilence {
		v.triggered = false
		v.silence = 0
		return Event{Kind: EventEnd, Samples: win}, true
	}
	return Event{Kind: EventContinue, Samples: win}, true
}

func (v *VAD) remember(win []float32) {
	if v.pad <= 0 {
		return
	}
	v.preroll = append(v.preroll, win...)
	if over := len(v.preroll) - v.pad; over > 0 {
		v.preroll = append(v.preroll[:0], v.preroll[over:]...)
	}
}

// Triggered 是否处于语音段内
func (v *VAD) Triggered() bool {
	return v.triggered
}

// Reset 清空状态
func (v *VAD) Reset() {
	v.pending = nil
	v.preroll = nil
	v.triggered = false
	v.silence = 0
}

// ContainsSpeech 对整段音频做一次检测
func ContainsSpeech(samples []float32, cfg VADConfig) bool {
	v := NewVAD(cfg)
	for _, ev := range v.Feed(samples) {
		if ev.Kind == EventStart {
			return true
		}
	}
	return false
}
