package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/BaSui01/moechat/api"
	"github.com/BaSui01/moechat/egress"
	"github.com/BaSui01/moechat/internal/ctxkeys"
	"github.com/BaSui01/moechat/pipeline"
	"github.com/BaSui01/moechat/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// 💬 对话接口 Handler
// =============================================================================

// Conversation 对话编排
type Conversation interface {
	Chat(ctx context.Context, sessionID string, msgs []types.Message, emit pipeline.Emitter) (pipeline.Result, error)
	History(sessionID string) []types.Message
}

// ChatHandler 对话接口处理器
type ChatHandler struct {
	conv   Conversation
	logger *zap.Logger
}

// NewChatHandler 创建对话处理器
func NewChatHandler(conv Conversation, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		conv:   conv,
		logger: logger.With(zap.String("component", "chat_handler")),
	}
}

// SessionID 从请求头读取会话标识
func SessionID(r *http.Request) string {
	if id := r.Header.Get(api.SessionHeader); id != "" {
		return id
	}
	return "default"
}

// HandleChat 处理对话请求，以 SSE 逐句推送文本与音频
// @Summary 对话
// @Description 发送对话历史，流式返回逐句文本与合成音频
// @Tags 对话
// @Accept json
// @Produce text/event-stream
// @Param request body api.ChatRequest true "对话请求"
// @Success 200 {string} string "SSE 流"
// @Failure 400 {object} Response "无效请求"
// @Router /api/chat [post]
func (h *ChatHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodPost, h.logger)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ChatRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := req.Validate(); err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	sessionID := SessionID(r)
	turnID := uuid.NewString()
	ctx := ctxkeys.WithTurnID(ctxkeys.WithSessionID(r.Context(), sessionID), turnID)
	logger := h.logger.With(zap.String("session", sessionID), zap.String("turn", turnID))

	// 首帧之前出错仍可返回 JSON 错误；之后只能记录日志
	var sse *egress.Writer
	emit := func(ctx context.Context, f egress.Frame) error {
		if sse == nil {
			sse = egress.NewSSEWriter(w)
		}
		return sse.Emit(ctx, f)
	}

	start := time.Now()
	res, err := h.conv.Chat(ctx, sessionID, req.Msg, emit)
	if err != nil {
		if sse == nil {
			WriteAnyError(w, err, logger)
			return
		}
		logger.Warn("turn ended with error",
			zap.Int("frames", sse.Frames()),
			zap.Error(err))
		return
	}

	frames := 0
	if sse != nil {
		frames = sse.Frames()
	}
	logger.Info("turn completed",
		zap.Int("sentences", res.Sentences),
		zap.Int("frames", frames),
		zap.Duration("duration", time.Since(start)))
}

// HandleContext 返回会话当前历史
// @Summary 会话历史
// @Tags 对话
// @Produce json
// @Success 200 {object} api.ContextResponse "会话历史"
// @Router /api/get_context [post]
func (h *ChatHandler) HandleContext(w http.ResponseWriter, r *http.Request) {
	sessionID := SessionID(r)
	msgs := h.conv.History(sessionID)
	if msgs == nil {
		msgs = []types.Message{}
	}
	WriteSuccess(w, api.ContextResponse{SessionID: sessionID, Messages: msgs})
}
