package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/moechat/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 响应信封
// =============================================================================

// Response JSON 接口的统一信封。/api/chat 的 SSE 流与 /api/asr 的纯文本不使用它。
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo 返回给客户端的错误
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	// Backend 出错的后端（llm、tts、embedding …）
	Backend string `json:"backend,omitempty"`
}

// =============================================================================
// 🎯 写响应
// =============================================================================

// WriteJSON 写入 JSON；头已发出，编码失败只能放弃
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteSuccess 写入 200 信封
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{Success: true, Data: data, Timestamp: time.Now()})
}

// WriteError 写入错误信封。客户端错误记 Warn，服务端错误记 Error。
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := err.HTTPStatus
	if status == 0 {
		status = statusOf(err.Code)
	}
	if logger != nil {
		log := logger.Warn
		if status >= http.StatusInternalServerError {
			log = logger.Error
		}
		log("request failed",
			zap.String("code", string(err.Code)),
			zap.Int("status", status),
			zap.String("backend", err.Backend),
			zap.String("message", err.Message),
			zap.Error(err.Cause))
	}
	WriteJSON(w, status, Response{
		Error: &ErrorInfo{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
			Backend:   err.Backend,
		},
		Timestamp: time.Now(),
	})
}

// WriteAnyError 非 types.Error 按内部错误处理
func WriteAnyError(w http.ResponseWriter, err error, logger *zap.Logger) {
	if apiErr, ok := types.AsError(err); ok {
		WriteError(w, apiErr, logger)
		return
	}
	WriteError(w, types.NewError(types.ErrInternalError, "internal error").WithCause(err), logger)
}

// MethodNotAllowed 写入 405 并设置 Allow 头
func MethodNotAllowed(w http.ResponseWriter, allow string, logger *zap.Logger) {
	w.Header().Set("Allow", allow)
	WriteError(w, types.NewInvalidRequestError("method not allowed").WithHTTPStatus(http.StatusMethodNotAllowed), logger)
}

// statusOf 错误码对应的 HTTP 状态；499 沿用 nginx 的客户端断开语义
func statusOf(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrProtocol:
		return http.StatusBadRequest
	case types.ErrUnauthorized:
		return http.StatusUnauthorized
	case types.ErrNotFound:
		return http.StatusNotFound
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrCancelled:
		return 499
	case types.ErrUpstreamTimeout:
		return http.StatusGatewayTimeout
	case types.ErrServiceUnavailable, types.ErrEmbeddingUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrUpstreamError, types.ErrTransientBackend, types.ErrFatalTurn:
		return http.StatusBadGateway
	default:
		// ErrParse、ErrPersistence 等本地故障
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 读请求
// =============================================================================

// MaxBodyBytes 请求体上限，/api/asr 携带整段 base64 音频
const MaxBodyBytes = 32 << 20

// DecodeJSONBody 解码请求体并在失败时写好错误响应。
// 未知字段忽略，前端会附带自己的字段。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := types.NewInvalidRequestError("request body is empty")
		WriteError(w, err, logger)
		return err
	}

	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(dst)
	if err == nil {
		return nil
	}
	apiErr := types.NewInvalidRequestError("invalid JSON body").WithCause(err)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		apiErr = types.NewInvalidRequestError("request body too large").
			WithCause(err).
			WithHTTPStatus(http.StatusRequestEntityTooLarge)
	}
	WriteError(w, apiErr, logger)
	return apiErr
}

// ValidateContentType 只接受 JSON；缺省放行，部分语音前端不带该头
func ValidateContentType(w http.ResponseWriter, r *http.Request, logger *zap.Logger) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || strings.HasPrefix(ct, "application/json") {
		return true
	}
	WriteError(w, types.NewInvalidRequestError("Content-Type must be application/json"), logger)
	return false
}

// =============================================================================
// 📊 状态码记录
// =============================================================================

// ResponseWriter 记录状态码供访问日志与追踪使用。
// 透传 Flush 与 Hijack，SSE 推流与 websocket 升级都经过它。
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
}

// NewResponseWriter 包装 w，默认状态 200
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

// WriteHeader 只记录第一次
func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.Written {
		return
	}
	rw.StatusCode = code
	rw.Written = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush SSE 每帧之后调用
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack websocket 升级
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	rw.Written = true
	rw.StatusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Unwrap 供 http.ResponseController 使用
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
