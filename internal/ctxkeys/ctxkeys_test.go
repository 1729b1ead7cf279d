package ctxkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	_, ok := SessionID(ctx)
	assert.False(t, ok)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithTurnID(ctx, "turn-1")

	id, ok := RequestID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "req-1", id)

	id, ok = SessionID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", id)

	id, ok = TurnID(ctx)
	assert.True(t, ok)
	assert.Equal(t, "turn-1", id)

	_, ok = TurnID(WithTurnID(context.Background(), ""))
	assert.False(t, ok)
}
