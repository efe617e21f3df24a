package router

import (
	"context"
	"strconv"
	"time"

	"ats-workflow/internal/api/handler"
	"ats-workflow/internal/metrics"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
)

// NewServer 创建带链路追踪、访问日志和请求耗时指标的 hertz 实例
func NewServer(address string, opts ...config.Option) *server.Hertz {
	tracer, tracingCfg := hertztracing.NewServerTracer()
	opts = append([]config.Option{
		server.WithHostPorts(address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	}, opts...)
	h := server.New(opts...)
	h.Use(hertztracing.ServerMiddleware(tracingCfg), accessLog, requestMetrics)
	return h
}

func accessLog(c context.Context, ctx *app.RequestContext) {
	glog.CtxDebugf(c, "Request: %s %s", string(ctx.Method()), string(ctx.Path()))
	ctx.Next(c)
	glog.CtxInfof(c, "Response: %s %s status %d", string(ctx.Method()), string(ctx.Path()), ctx.Response.StatusCode())
}

// requestMetrics 按路由模板记录耗时，未匹配的路径归为 unmatched
func requestMetrics(c context.Context, ctx *app.RequestContext) {
	start := time.Now()
	ctx.Next(c)
	route := ctx.FullPath()
	if route == "" {
		route = "unmatched"
	}
	metrics.RequestDuration.
		WithLabelValues(string(ctx.Method()), route, strconv.Itoa(ctx.Response.StatusCode())).
		Observe(time.Since(start).Seconds())
}

// RegisterRoutes 注册 API 路由
// /api/v1 下除健康检查外都需要认证；/candidate_link 由链接令牌自行校验
func RegisterRoutes(h *server.Hertz, wh *handler.WorkflowHandler, auth app.HandlerFunc) {
	h.GET("/candidate_link/:id", wh.HandleCandidateLink)

	api := h.Group("/api/v1")
	api.GET("/health", wh.HandleHealth)

	secured := api.Group("", auth)
	secured.GET("/notifications", wh.HandleListNotifications)
	secured.POST("/notifications/:id/read", wh.HandleMarkRead)
	secured.GET("/approvals", wh.HandleApprovals)

	candidates := secured.Group("/candidates/:id")
	candidates.POST("/decision", wh.HandleDecision)
	candidates.POST("/status", wh.HandleUpdateStatus)
	candidates.POST("/match-score", wh.HandleMatchScore)
	candidates.POST("/onboarding", wh.HandleOnboarding)
	candidates.POST("/interviews/:round/analysis", wh.HandleInterviewAnalysis)
}
