package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionIDKey contextKey = "session_id"
	turnIDKey    contextKey = "turn_id"
)

// WithRequestID 设置 RequestID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID 获取 RequestID
func RequestID(ctx context.Context) (string, bool) {
	return lookup(ctx, requestIDKey)
}

// WithSessionID 设置会话 ID（对话会话或 ASR 连接）
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey, id)
}

// SessionID 获取会话 ID
func SessionID(ctx context.Context) (string, bool) {
	return lookup(ctx, sessionIDKey)
}

// WithTurnID 设置当前轮次 ID
func WithTurnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, turnIDKey, id)
}

// TurnID 获取当前轮次 ID
func TurnID(ctx context.Context) (string, bool) {
	return lookup(ctx, turnIDKey)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
