package handlers

import (
	"context"
	"net/http"

	"github.com/BaSui01/moechat/api"
	"github.com/BaSui01/moechat/audio"
	"github.com/BaSui01/moechat/types"
	"go.uber.org/zap"
)

// =============================================================================
// 🎙️ 语音识别 Handler
// =============================================================================

// Recognizer 语音识别
type Recognizer interface {
	Recognize(ctx context.Context, wav []byte) (string, error)
	ServeWebSocket(w http.ResponseWriter, r *http.Request)
}

// ASRHandler 语音识别接口处理器
type ASRHandler struct {
	rec    Recognizer
	logger *zap.Logger
}

// NewASRHandler 创建语音识别处理器
func NewASRHandler(rec Recognizer, logger *zap.Logger) *ASRHandler {
	return &ASRHandler{
		rec:    rec,
		logger: logger.With(zap.String("component", "asr_handler")),
	}
}

// HandleASR 识别整段 WAV，返回纯文本；无语音或声纹不匹配时返回空串
// @Summary 语音识别
// @Tags 语音
// @Accept json
// @Produce plain
// @Param request body api.ASRRequest true "base64 WAV"
// @Success 200 {string} string "识别文本"
// @Failure 400 {object} Response "无效请求"
// @Router /api/asr [post]
func (h *ASRHandler) HandleASR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		MethodNotAllowed(w, http.MethodPost, h.logger)
		return
	}
	var req api.ASRRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Data == "" {
		WriteError(w, types.NewInvalidRequestError("data is required"), h.logger)
		return
	}
	wav, err := audio.DecodeBase64(req.Data)
	if err != nil {
		WriteError(w, types.NewInvalidRequestError("data is not valid base64").WithCause(err), h.logger)
		return
	}

	text, err := h.rec.Recognize(r.Context(), wav)
	if err != nil {
		WriteAnyError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(text))
}

// HandleWebSocket 升级为 websocket 流式识别
// @Summary 流式语音识别
// @Tags 语音
// @Router /api/asr_ws [get]
func (h *ASRHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.rec.ServeWebSocket(w, r)
}
