package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/moechat/config"
)

// --- MockSynthesizer ---

// MockSynthesizer 是 speech.Synthesizer 的模拟实现，返回 "audio:" + 文本
type MockSynthesizer struct {
	mu sync.Mutex

	delay  func(text string) time.Duration
	failOn map[string]error

	calls []string
	refs  []*config.RefAudio
}

// NewMockSynthesizer 创建新的 MockSynthesizer
func NewMockSynthesizer() *MockSynthesizer {
	return &MockSynthesizer{failOn: make(map[string]error)}
}

// WithDelayFunc 按文本决定合成耗时
func (m *MockSynthesizer) WithDelayFunc(fn func(text string) time.Duration) *MockSynthesizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = fn
	return m
}

// WithFailure 合成指定文本时返回错误
func (m *MockSynthesizer) WithFailure(text string, err error) *MockSynthesizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[text] = err
	return m
}

// Synthesize 实现 speech.Synthesizer
func (m *MockSynthesizer) Synthesize(ctx context.Context, text string, ref *config.RefAudio) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.refs = append(m.refs, ref)
	delayFn := m.delay
	failErr := m.failOn[text]
	m.mu.Unlock()

	if delayFn != nil {
		select {
		case <-time.After(delayFn(text)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	return []byte("audio:" + text), nil
}

// Calls 返回合成过的文本（按调用顺序）
func (m *MockSynthesizer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Refs 返回每次调用使用的参考音频
func (m *MockSynthesizer) Refs() []*config.RefAudio {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*config.RefAudio(nil), m.refs...)
}

// --- MockTranscriber ---

// MockTranscriber 是 speech.Transcriber 的模拟实现
type MockTranscriber struct {
	mu    sync.Mutex
	texts []string
	err   error
	calls int
}

// NewMockTranscriber 按顺序返回给定文本，用尽后重复最后一条
func NewMockTranscriber(texts ...string) *MockTranscriber {
	return &MockTranscriber{texts: texts}
}

// WithError 设置返回错误
func (m *MockTranscriber) WithError(err error) *MockTranscriber {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Transcribe 实现 speech.Transcriber
func (m *MockTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	if len(m.texts) == 0 {
		return "", nil
	}
	i := m.calls - 1
	if i >= len(m.texts) {
		i = len(m.texts) - 1
	}
	return m.texts[i], nil
}

// Calls 返回调用次数
func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// --- MockVerifier ---

// MockVerifier 是 speech.Verifier 的模拟实现
type MockVerifier struct {
	mu     sync.Mutex
	accept bool
	err    error
	calls  int
}

// NewMockVerifier 创建固定结果的 MockVerifier
func NewMockVerifier(accept bool) *MockVerifier {
	return &MockVerifier{accept: accept}
}

// WithError 设置返回错误
func (m *MockVerifier) WithError(err error) *MockVerifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Verify 实现 speech.Verifier
func (m *MockVerifier) Verify(ctx context.Context, wav []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.accept, m.err
}

// Calls 返回调用次数
func (m *MockVerifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
