package api

import (
	"github.com/BaSui01/moechat/types"
)

// SessionHeader 会话标识请求头
const SessionHeader = "X-Session-ID"

// =============================================================================
// 💬 对话
// =============================================================================

// ChatRequest /api/chat 请求。Msg 的最后一条是本轮用户输入。
type ChatRequest struct {
	Msg []types.Message `json:"msg"`
}

// Validate 校验请求
func (r *ChatRequest) Validate() error {
	if len(r.Msg) == 0 {
		return types.NewInvalidRequestError("msg is required")
	}
	for _, m := range r.Msg {
		switch m.Role {
		case types.RoleSystem, types.RoleUser, types.RoleAssistant:
		default:
			return types.NewInvalidRequestError("unknown role: " + string(m.Role))
		}
	}
	if r.Msg[len(r.Msg)-1].Role != types.RoleUser {
		return types.NewInvalidRequestError("last message must be a user turn")
	}
	return nil
}

// ContextResponse /api/get_context 响应
type ContextResponse struct {
	SessionID string          `json:"session_id"`
	Messages  []types.Message `json:"messages"`
}

// =============================================================================
// 🎙️ 语音识别
// =============================================================================

// ASRRequest /api/asr 请求，data 为 base64 编码的 WAV
type ASRRequest struct {
	Data string `json:"data"`
}
