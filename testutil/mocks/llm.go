package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/moechat/llm"
)

// --- MockChatClient ---

// MockChatClient 是 llm.ChatClient 的模拟实现
type MockChatClient struct {
	mu sync.Mutex

	chunks     []string
	chunkDelay time.Duration
	streamErr  error // 打开流失败
	midErr     error // 输出全部 chunks 后以该错误结束

	response     string
	completeErr  error
	completeFunc func(ctx context.Context, messages []llm.Message) (string, error)

	streamCalls   [][]llm.Message
	completeCalls [][]llm.Message
}

// NewMockChatClient 创建新的 MockChatClient
func NewMockChatClient() *MockChatClient {
	return &MockChatClient{response: "Mock response"}
}

// WithStreamChunks 设置流式响应块
func (m *MockChatClient) WithStreamChunks(chunks ...string) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = chunks
	return m
}

// WithChunkDelay 设置每个块之前的延迟
func (m *MockChatClient) WithChunkDelay(d time.Duration) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunkDelay = d
	return m
}

// WithStreamError 设置打开流时返回的错误
func (m *MockChatClient) WithStreamError(err error) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamErr = err
	return m
}

// WithMidStreamError 设置输出全部块后的终止错误
func (m *MockChatClient) WithMidStreamError(err error) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.midErr = err
	return m
}

// WithResponse 设置 Complete 的固定响应
func (m *MockChatClient) WithResponse(response string) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithCompleteError 设置 Complete 返回的错误
func (m *MockChatClient) WithCompleteError(err error) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeErr = err
	return m
}

// WithCompleteFunc 设置自定义 Complete 函数
func (m *MockChatClient) WithCompleteFunc(fn func(ctx context.Context, messages []llm.Message) (string, error)) *MockChatClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completeFunc = fn
	return m
}

// Stream 实现 llm.ChatClient
func (m *MockChatClient) Stream(ctx context.Context, messages []llm.Message) (<-chan llm.StreamChunk, error) {
	m.mu.Lock()
	m.streamCalls = append(m.streamCalls, append([]llm.Message(nil), messages...))
	chunks, delay, openErr, midErr := m.chunks, m.chunkDelay, m.streamErr, m.midErr
	m.mu.Unlock()

	if openErr != nil {
		return nil, openErr
	}

	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- llm.StreamChunk{Delta: c}:
			case <-ctx.Done():
				return
			}
		}
		if midErr != nil {
			select {
			case out <- llm.StreamChunk{Err: midErr}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// Complete 实现 llm.ChatClient
func (m *MockChatClient) Complete(ctx context.Context, messages []llm.Message, _ ...llm.CallOption) (string, error) {
	m.mu.Lock()
	m.completeCalls = append(m.completeCalls, append([]llm.Message(nil), messages...))
	fn, resp, err := m.completeFunc, m.response, m.completeErr
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages)
	}
	if err != nil {
		return "", err
	}
	return resp, nil
}

// StreamCalls 返回每次 Stream 调用的消息
func (m *MockChatClient) StreamCalls() [][]llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llm.Message(nil), m.streamCalls...)
}

// CompleteCalls 返回每次 Complete 调用的消息
func (m *MockChatClient) CompleteCalls() [][]llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]llm.Message(nil), m.completeCalls...)
}
