package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 健康状态
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// readyTimeout 单次就绪检查的总时限
const readyTimeout = 5 * time.Second

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// ServiceHealthResponse 健康状态响应
type ServiceHealthResponse struct {
	Status    string                 `json:"status"` // healthy / degraded / unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"` // "pass", "fail", "warn"
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger: logger.With(zap.String("component", "health")),
		checks: make([]HealthCheck, 0),
	}
}

// RegisterCheck 注册健康检查
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealth 处理 /health 请求（进程存活）
// @Summary 健康检查
// @Tags 健康
// @Produce json
// @Success 200 {object} ServiceHealthResponse "服务正常"
// @Router /health [get]
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, ServiceHealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	})
}

// HandleHealthz 处理 /healthz 请求（Kubernetes 活跃度探针）
// @Summary Kubernetes 活跃度探针
// @Tags 健康
// @Produce json
// @Success 200 {object} ServiceHealthResponse "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	h.HandleHealth(w, r)
}

// HandleReady 处理 /ready 请求。所有检查并发执行；必需项失败返回 503，
// 只有可选项（如音频缓存）失败时返回 200 + degraded。
// @Summary 就绪检查
// @Tags 健康
// @Produce json
// @Success 200 {object} ServiceHealthResponse "服务已准备就绪"
// @Failure 503 {object} ServiceHealthResponse "服务尚未准备好"
// @Router /ready [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]HealthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(checks))
		failed  bool
		warned  bool
	)

	var g errgroup.Group
	for _, check := range checks {
		g.Go(func() error {
			start := time.Now()
			err := check.Check(ctx)
			latency := time.Since(start)

			optional := IsOptional(check)
			result := CheckResult{Status: "pass", Latency: latency.String(), Optional: optional}
			if err != nil {
				result.Message = err.Error()
				result.Status = "fail"
				if optional {
					result.Status = "warn"
				}
				h.logger.Warn("health check failed",
					zap.String("check", check.Name()),
					zap.Bool("optional", optional),
					zap.Duration("latency", latency),
					zap.Error(err))
			}

			mu.Lock()
			defer mu.Unlock()
			results[check.Name()] = result
			if err != nil {
				if optional {
					warned = true
				} else {
					failed = true
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	status := ServiceHealthResponse{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    results,
	}
	switch {
	case failed:
		status.Status = StatusUnhealthy
		WriteJSON(w, http.StatusServiceUnavailable, status)
		return
	case warned:
		status.Status = StatusDegraded
	}
	WriteJSON(w, http.StatusOK, status)
}

// HandleVersion 处理 /version 请求
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// PingCheck 以探测函数实现的健康检查（Redis 缓存等）
type PingCheck struct {
	name     string
	ping     func(ctx context.Context) error
	optional bool
}

// NewPingCheck 创建必需的探测型健康检查
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

// NewOptionalPingCheck 创建可选检查，失败只会让服务降级
func NewOptionalPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping, optional: true}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }

func (c *PingCheck) Optional() bool { return c.optional }

// IsOptional 报告检查失败是否只导致降级
func IsOptional(check HealthCheck) bool {
	o, ok := check.(interface{ Optional() bool })
	return ok && o.Optional()
}

// DirCheck 检查角色数据目录可写（历史、日记与情绪状态都落在这里）
type DirCheck struct {
	name string
	dir  string
}

// NewDirCheck 创建目录可写检查
func NewDirCheck(name, dir string) *DirCheck {
	return &DirCheck{name: name, dir: dir}
}

func (c *DirCheck) Name() string { return c.name }

func (c *DirCheck) Check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(c.dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", c.dir)
	}
	f, err := os.CreateTemp(c.dir, ".health-*")
	if err != nil {
		return fmt.Errorf("data dir not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}
