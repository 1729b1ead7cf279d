package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(url string) config.LLMConfig {
	cfg := config.DefaultConfig().LLM
	cfg.API = url + "/v1/chat/completions"
	cfg.Key = "sk-test"
	cfg.Model = "test-model"
	cfg.ChunkTimeout = time.Second
	return cfg
}

func writeSSE(w http.ResponseWriter, deltas ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, d := range deltas {
		b, _ := json.Marshal(map[string]any{
			"id": "x", "object": "chat.completion.chunk",
			"choices": []map[string]any{{"index": 0, "delta": map[string]string{"content": d}}},
		})
		fmt.Fprintf(w, "data: %s\n\n", b)
		w.(http.Flusher).Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
}

func collect(t *testing.T, ch <-chan StreamChunk) (string, error) {
	t.Helper()
	var text string
	for c := range ch {
		if c.Err != nil {
			return text, c.Err
		}
		text += c.Delta
	}
	return text, nil
}

func TestBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.x.com/v1", BaseURL("https://api.x.com/v1/chat/completions"))
	assert.Equal(t, "https://api.x.com/v1", BaseURL("https://api.x.com/v1/"))
}

func TestOpenAIClient_StreamMergesExtra(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		writeSSE(w, "你好", "。", "再见")
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	temp := 0.7
	cfg.Extra.Temperature = &temp
	cfg.Extra.PresencePenalty = 0.5
	c := NewOpenAIClient(cfg, nil, zap.NewNop())

	ch, err := c.Stream(context.Background(), []Message{types.NewUserMessage("hi")})
	require.NoError(t, err)
	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "你好。再见", text)

	assert.Equal(t, true, body["stream"])
	assert.Equal(t, "test-model", body["model"])
	assert.InDelta(t, 0.7, body["temperature"], 1e-6)
	assert.InDelta(t, 0.5, body["presence_penalty"], 1e-6)
	assert.InDelta(t, 1.0, body["top_p"], 1e-6)
	assert.NotContains(t, body, "stream_options", "usage is opt-in")
}

func TestOpenAIClient_StreamUsageOption(t *testing.T) {
	tests := []struct {
		name        string
		streamUsage bool
	}{
		{"off by default", false},
		{"enabled", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				raw, _ := io.ReadAll(r.Body)
				require.NoError(t, json.Unmarshal(raw, &body))
				writeSSE(w, "好")
			}))
			defer srv.Close()

			cfg := testConfig(srv.URL)
			cfg.StreamUsage = tt.streamUsage
			ch, err := NewOpenAIClient(cfg, nil, zap.NewNop()).Stream(context.Background(), []Message{types.NewUserMessage("hi")})
			require.NoError(t, err)
			_, err = collect(t, ch)
			require.NoError(t, err)

			if !tt.streamUsage {
				assert.NotContains(t, body, "stream_options")
				return
			}
			require.Contains(t, body, "stream_options")
			assert.Equal(t, map[string]any{"include_usage": true}, body["stream_options"])
		})
	}
}

func TestOpenAIClient_StreamOpenRetriesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"busy","type":"server_error"}}`)
			return
		}
		writeSSE(w, "ok")
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL), nil, zap.NewNop())
	ch, err := c.Stream(context.Background(), []Message{types.NewUserMessage("hi")})
	require.NoError(t, err)
	text, err := collect(t, ch)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.EqualValues(t, 2, calls.Load())
}

func TestOpenAIClient_StreamClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"auth"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL), nil, zap.NewNop())
	_, err := c.Stream(context.Background(), []Message{types.NewUserMessage("hi")})
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
	assert.EqualValues(t, 1, calls.Load())
}

func TestOpenAIClient_StreamChunkTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"choices":[{"index":0,"delta":{"content":"半句"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	cfg.ChunkTimeout = 100 * time.Millisecond
	c := NewOpenAIClient(cfg, nil, zap.NewNop())

	ch, err := c.Stream(context.Background(), []Message{types.NewUserMessage("hi")})
	require.NoError(t, err)
	text, err := collect(t, ch)
	assert.Equal(t, "半句", text)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamTimeout))
}

func TestOpenAIClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEqual(t, true, req["stream"])
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"日常闲聊"}}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL), nil, zap.NewNop())
	out, err := c.Complete(context.Background(), []Message{types.NewUserMessage("tag")}, WithTimeout(time.Second), WithTemperature(0))
	require.NoError(t, err)
	assert.Equal(t, "日常闲聊", out)
}

func TestOpenAIClient_CompleteTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL), nil, zap.NewNop())
	_, err := c.Complete(context.Background(), []Message{types.NewUserMessage("x")}, WithTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamTimeout))
}

func TestMapError_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mapError(ctx, context.Canceled)
	assert.True(t, types.IsErrorCode(err, types.ErrCancelled))
	assert.NoError(t, mapError(ctx, nil))
}
