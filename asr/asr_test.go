package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/moechat/audio"
	"github.com/BaSui01/moechat/config"
	"github.com/BaSui01/moechat/llm/speech"
	"github.com/BaSui01/moechat/testutil"
	"github.com/BaSui01/moechat/testutil/mocks"
	"github.com/BaSui01/moechat/types"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func vadConfig() config.VADConfig {
	return config.VADConfig{
		Threshold:      0.02,
		SpeechPadMS:    300,
		MinSilenceMS:   100,
		ChunksPerBatch: 4,
		SampleRate:     audio.SampleRate,
	}
}

func utterancePCM() []byte {
	return testutil.Utterance(audio.SampleRate, 300*time.Millisecond, 600*time.Millisecond, 400*time.Millisecond)
}

// chunks 按 30ms 切块
func chunks(pcm []byte) [][]byte {
	const size = 960
	var out [][]byte
	for off := 0; off < len(pcm); off += size {
		out = append(out, pcm[off:min(off+size, len(pcm))])
	}
	return out
}

func payload(t *testing.T, pcm []byte) []byte {
	t.Helper()
	b, err := json.Marshal(Payload{Type: "asr", Data: base64.URLEncoding.EncodeToString(pcm)})
	require.NoError(t, err)
	return b
}

type recorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *recorder) send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func feedAll(t *testing.T, sess *Session, pcm []byte) {
	t.Helper()
	ctx := testutil.TestContext(t)
	for _, c := range chunks(pcm) {
		require.NoError(t, sess.HandlePayload(ctx, payload(t, c)))
	}
}

func TestSession(t *testing.T) {
	tests := []struct {
		name        string
		pcm         []byte
		transcriber *mocks.MockTranscriber
		verifier    *mocks.MockVerifier
		wantTexts   []string
		wantCalls   int
	}{
		{
			name:        "transcribes utterance",
			pcm:         utterancePCM(),
			transcriber: mocks.NewMockTranscriber(" 你好 "),
			wantTexts:   []string{"你好"},
			wantCalls:   1,
		},
		{
			name:        "silence never calls backend",
			pcm:         testutil.SilencePCM(audio.SampleRate, time.Second),
			transcriber: mocks.NewMockTranscriber("x"),
		},
		{
			name:        "speaker rejected",
			pcm:         utterancePCM(),
			transcriber: mocks.NewMockTranscriber("x"),
			verifier:    mocks.NewMockVerifier(false),
		},
		{
			name:        "speaker accepted",
			pcm:         utterancePCM(),
			transcriber: mocks.NewMockTranscriber("早上好"),
			verifier:    mocks.NewMockVerifier(true),
			wantTexts:   []string{"早上好"},
			wantCalls:   1,
		},
		{
			name:        "backend error drops utterance",
			pcm:         utterancePCM(),
			transcriber: mocks.NewMockTranscriber().WithError(errors.New("boom")),
			wantCalls:   1,
		},
		{
			name:        "empty transcript not sent",
			pcm:         utterancePCM(),
			transcriber: mocks.NewMockTranscriber("   "),
			wantCalls:   1,
		},
		{
			name:        "two utterances",
			pcm:         append(utterancePCM(), utterancePCM()...),
			transcriber: mocks.NewMockTranscriber("一", "二"),
			wantTexts:   []string{"一", "二"},
			wantCalls:   2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var verifier speech.Verifier
			if tt.verifier != nil {
				verifier = tt.verifier
			}
			rec := &recorder{}
			r := NewRecognizer(vadConfig(), tt.transcriber, verifier, nil, zap.NewNop())
			sess := r.NewSession(rec.send)
			defer sess.Close()

			feedAll(t, sess, tt.pcm)

			assert.Equal(t, tt.wantTexts, rec.all())
			assert.Equal(t, tt.wantCalls, tt.transcriber.Calls())
		})
	}
}

func TestSession_BatchesChunks(t *testing.T) {
	transcriber := mocks.NewMockTranscriber("x")
	r := NewRecognizer(vadConfig(), transcriber, nil, nil, zap.NewNop())
	sess := r.NewSession((&recorder{}).send)
	ctx := testutil.TestContext(t)

	speech := testutil.SinePCM(audio.SampleRate, 30*time.Millisecond, 300, 8000)
	for i := 0; i < 3; i++ {
		require.NoError(t, sess.Feed(ctx, speech))
	}
	assert.False(t, sess.vad.Triggered(), "fewer than a batch must stay buffered")
	require.NoError(t, sess.Feed(ctx, speech))
	assert.True(t, sess.vad.Triggered())
}

func TestSession_InvalidPayload(t *testing.T) {
	r := NewRecognizer(vadConfig(), mocks.NewMockTranscriber(), nil, nil, zap.NewNop())
	sess := r.NewSession((&recorder{}).send)
	ctx := testutil.TestContext(t)

	err := sess.HandlePayload(ctx, []byte("{not json"))
	assert.True(t, types.IsErrorCode(err, types.ErrProtocol))

	err = sess.HandlePayload(ctx, []byte(`{"type":"asr","data":"***"}`))
	assert.True(t, types.IsErrorCode(err, types.ErrProtocol))

	assert.NoError(t, sess.HandlePayload(ctx, []byte(`{"type":"ping"}`)))

	odd := base64.StdEncoding.EncodeToString([]byte{1, 2, 3})
	for i := 0; i < 3; i++ {
		require.NoError(t, sess.HandlePayload(ctx, []byte(`{"type":"asr","data":"AAA="}`)))
	}
	err = sess.HandlePayload(ctx, []byte(`{"type":"asr","data":"`+odd+`"}`))
	assert.True(t, types.IsErrorCode(err, types.ErrProtocol))
}

func TestFrameCodec(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("你好")))
	require.NoError(t, WriteFrame(&buf, nil))
	assert.Equal(t, []byte{0, 0, 0, 6}, buf.Bytes()[:4])

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, "你好", string(got))
	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestFrameCodec_Errors(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0x00, 0x40, 0x00, 0x01}))
	assert.True(t, types.IsErrorCode(err, types.ErrProtocol), "oversized frame")

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0}))
	assert.True(t, types.IsErrorCode(err, types.ErrProtocol), "truncated header")

	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 0, 5, 'a'}))
	assert.True(t, types.IsErrorCode(err, types.ErrProtocol), "truncated payload")

	err = WriteFrame(io.Discard, make([]byte, MaxFrameSize+1))
	assert.True(t, types.IsErrorCode(err, types.ErrProtocol))
}

func TestServeConn(t *testing.T) {
	transcriber := mocks.NewMockTranscriber("你好")
	r := NewRecognizer(vadConfig(), transcriber, nil, nil, zap.NewNop())
	client, srv := net.Pipe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeConn(context.Background(), srv)
	}()

	var frames [][]byte
	for _, c := range chunks(utterancePCM()) {
		frames = append(frames, payload(t, c))
	}
	go func() {
		for _, f := range frames {
			if err := WriteFrame(client, f); err != nil {
				return
			}
		}
	}()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	reply, err := ReadFrame(client)
	require.NoError(t, err)
	assert.Equal(t, "你好", string(reply))

	client.Close()
	assert.True(t, testutil.Closed(done, 5*time.Second), "session must end when the client disconnects")
}

func TestServeConn_ProtocolErrorCloses(t *testing.T) {
	r := NewRecognizer(vadConfig(), mocks.NewMockTranscriber(), nil, nil, zap.NewNop())
	client, srv := net.Pipe()
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeConn(context.Background(), srv)
		srv.Close()
	}()

	_, err := client.Write([]byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	assert.True(t, testutil.Closed(done, 5*time.Second))
}

func TestServeConn_ContextCancel(t *testing.T) {
	r := NewRecognizer(vadConfig(), mocks.NewMockTranscriber(), nil, nil, zap.NewNop())
	client, srv := net.Pipe()
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.ServeConn(ctx, srv)
	}()
	cancel()
	assert.True(t, testutil.Closed(done, 5*time.Second))
}

func TestServeWebSocket(t *testing.T) {
	transcriber := mocks.NewMockTranscriber("喵")
	r := NewRecognizer(vadConfig(), transcriber, nil, nil, zap.NewNop())
	srv := httptest.NewServer(http.HandlerFunc(r.ServeWebSocket))
	defer srv.Close()

	ctx := testutil.ContextWithin(t, 10*time.Second)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	for i, c := range chunks(utterancePCM()) {
		// 文本 JSON 与二进制 PCM 混用
		if i%2 == 0 {
			require.NoError(t, conn.Write(ctx, websocket.MessageText, payload(t, c)))
		} else {
			require.NoError(t, conn.Write(ctx, websocket.MessageBinary, c))
		}
	}

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.Equal(t, "喵", string(data))
	conn.Close(websocket.StatusNormalClosure, "")
}

func TestRecognize(t *testing.T) {
	speechWAV := audio.EncodeWAV(utterancePCM(), audio.SampleRate)
	silentWAV := audio.EncodeWAV(testutil.SilencePCM(audio.SampleRate, time.Second), audio.SampleRate)
	ctx := testutil.TestContext(t)

	t.Run("speech", func(t *testing.T) {
		transcriber := mocks.NewMockTranscriber("你好")
		r := NewRecognizer(vadConfig(), transcriber, nil, nil, zap.NewNop())
		text, err := r.Recognize(ctx, speechWAV)
		require.NoError(t, err)
		assert.Equal(t, "你好", text)
	})

	t.Run("silence", func(t *testing.T) {
		transcriber := mocks.NewMockTranscriber("x")
		r := NewRecognizer(vadConfig(), transcriber, nil, nil, zap.NewNop())
		text, err := r.Recognize(ctx, silentWAV)
		require.NoError(t, err)
		assert.Empty(t, text)
		assert.Zero(t, transcriber.Calls())
	})

	t.Run("speaker rejected", func(t *testing.T) {
		transcriber := mocks.NewMockTranscriber("x")
		verifier := mocks.NewMockVerifier(false)
		r := NewRecognizer(vadConfig(), transcriber, verifier, nil, zap.NewNop())
		text, err := r.Recognize(ctx, speechWAV)
		require.NoError(t, err)
		assert.Empty(t, text)
		assert.Equal(t, 1, verifier.Calls())
		assert.Zero(t, transcriber.Calls())
	})

	t.Run("invalid wav", func(t *testing.T) {
		r := NewRecognizer(vadConfig(), mocks.NewMockTranscriber(), nil, nil, zap.NewNop())
		_, err := r.Recognize(ctx, []byte("nope"))
		assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
	})

	t.Run("backend error", func(t *testing.T) {
		boom := errors.New("boom")
		r := NewRecognizer(vadConfig(), mocks.NewMockTranscriber().WithError(boom), nil, nil, zap.NewNop())
		_, err := r.Recognize(ctx, speechWAV)
		assert.ErrorIs(t, err, boom)
	})
}
