package handlers

import (
	"net/http"

	"github.com/BaSui01/moechat/config"
	"go.uber.org/zap"
)

// ConfigHandler 配置查询处理器
type ConfigHandler struct {
	current func() *config.Config
	logger  *zap.Logger
}

// NewConfigHandler 创建配置处理器。current 返回当前生效配置（热更新后会变化）。
func NewConfigHandler(current func() *config.Config, logger *zap.Logger) *ConfigHandler {
	return &ConfigHandler{current: current, logger: logger}
}

// HandleGetConfig 返回脱敏后的配置
// @Summary 当前配置
// @Tags 配置
// @Produce json
// @Success 200 {object} Response "脱敏配置"
// @Router /api/get_config [post]
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.current().Redacted())
}
