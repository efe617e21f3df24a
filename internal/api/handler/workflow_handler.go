package handler

import (
	"context"
	"errors"
	"strconv"

	"ats-workflow/internal/linktoken"
	"ats-workflow/internal/types"
	"ats-workflow/internal/workflow"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
)

const defaultNotificationLimit = 50

// WorkflowHandler 候选人流转、通知与审批接口
type WorkflowHandler struct {
	engine *workflow.Engine
	signer *linktoken.Signer
	logger zerolog.Logger
}

// NewWorkflowHandler signer 为空时 candidate_link 一律返回 401
func NewWorkflowHandler(engine *workflow.Engine, signer *linktoken.Signer, logger zerolog.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		engine: engine,
		signer: signer,
		logger: logger.With().Str("component", "WorkflowHandler").Logger(),
	}
}

type decisionRequest struct {
	Action string `json:"action"`
}

type statusRequest struct {
	Status string `json:"status"`
}

type matchScoreRequest struct {
	Score *float64 `json:"score"`
}

type onboardingRequest struct {
	CompletedSteps []string `json:"completed_steps"`
}

// transitionBody 所有状态变更接口的公共返回
func transitionBody(t workflow.Transition) utils.H {
	return utils.H{
		"candidate_id":    t.Candidate.ID,
		"previous_status": t.Previous,
		"status":          t.Current,
		"changed":         t.Changed,
	}
}

// bindBody 空请求体按空对象处理
func bindBody(c *app.RequestContext, v any) error {
	if len(c.Request.Body()) == 0 {
		return nil
	}
	return c.BindJSON(v)
}

func candidateID(c *app.RequestContext) (types.RecordID, bool) {
	id, err := types.ParseRecordID(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "无效的候选人 id"})
		return 0, false
	}
	return id, true
}

// writeError 把引擎错误映射到 HTTP 状态码
func (h *WorkflowHandler) writeError(ctx context.Context, c *app.RequestContext, err error) {
	status := consts.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrCandidateNotFound), errors.Is(err, workflow.ErrNotificationNotFound):
		status = consts.StatusNotFound
	case errors.Is(err, workflow.ErrMissingStatus),
		errors.Is(err, workflow.ErrUnknownStatus),
		errors.Is(err, workflow.ErrInvalidAction):
		status = consts.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = consts.StatusServiceUnavailable
	}
	if status >= consts.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", string(c.Path())).Msg("请求处理失败")
		c.JSON(status, utils.H{"error": "内部错误"})
		return
	}
	c.JSON(status, utils.H{"error": err.Error()})
}

// HandleHealth GET /api/v1/health
func (h *WorkflowHandler) HandleHealth(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, utils.H{"status": "ok"})
}

// HandleListNotifications GET /api/v1/notifications?status=Unread|All&limit=N
func (h *WorkflowHandler) HandleListNotifications(ctx context.Context, c *app.RequestContext) {
	username, role := Identity(c)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultNotificationLimit)))
	if err != nil || limit < 0 {
		limit = defaultNotificationLimit
	}
	filter := workflow.ParseListFilter(c.Query("status"))

	items, err := h.engine.ListForUser(ctx, username, role, filter, limit)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	if items == nil {
		items = []types.Notification{}
	}
	c.JSON(consts.StatusOK, utils.H{
		"notifications": items,
		"count":         len(items),
		"filter":        filter,
	})
}

// HandleMarkRead POST /api/v1/notifications/:id/read
func (h *WorkflowHandler) HandleMarkRead(ctx context.Context, c *app.RequestContext) {
	id, err := types.ParseRecordID(c.Param("id"))
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "无效的通知 id"})
		return
	}
	username, role := Identity(c)
	if err := h.engine.MarkRead(ctx, id, username, role); err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"id": id, "status": types.NotificationRead})
}

// HandleApprovals GET /api/v1/approvals
func (h *WorkflowHandler) HandleApprovals(ctx context.Context, c *app.RequestContext) {
	username, _ := Identity(c)
	page, err := h.engine.ApprovalsView(ctx, username)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, page)
}

// HandleDecision POST /api/v1/candidates/:id/decision
func (h *WorkflowHandler) HandleDecision(ctx context.Context, c *app.RequestContext) {
	id, ok := candidateID(c)
	if !ok {
		return
	}
	var req decisionRequest
	if err := bindBody(c, &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	username, _ := Identity(c)

	res, err := h.engine.Decide(ctx, id, username, req.Action)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	body := transitionBody(res.Transition)
	body["action"] = res.Action
	body["role"] = res.Role
	body["resolved_notifications"] = res.Resolved
	c.JSON(consts.StatusOK, body)
}

// HandleUpdateStatus POST /api/v1/candidates/:id/status
func (h *WorkflowHandler) HandleUpdateStatus(ctx context.Context, c *app.RequestContext) {
	id, ok := candidateID(c)
	if !ok {
		return
	}
	var req statusRequest
	if err := bindBody(c, &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	username, _ := Identity(c)

	t, err := h.engine.UpdateStatus(ctx, id, req.Status, username)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, transitionBody(t))
}

// HandleMatchScore POST /api/v1/candidates/:id/match-score
func (h *WorkflowHandler) HandleMatchScore(ctx context.Context, c *app.RequestContext) {
	id, ok := candidateID(c)
	if !ok {
		return
	}
	var req matchScoreRequest
	if err := bindBody(c, &req); err != nil || req.Score == nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "score 不能为空"})
		return
	}
	username, _ := Identity(c)

	res, err := h.engine.ApplyMatchScore(ctx, id, *req.Score, username)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	body := transitionBody(res.Transition)
	body["match_score"] = *req.Score
	body["threshold"] = res.Threshold
	body["auto_shortlisting"] = res.AutoEnabled
	c.JSON(consts.StatusOK, body)
}

// HandleOnboarding POST /api/v1/candidates/:id/onboarding
func (h *WorkflowHandler) HandleOnboarding(ctx context.Context, c *app.RequestContext) {
	id, ok := candidateID(c)
	if !ok {
		return
	}
	var req onboardingRequest
	if err := bindBody(c, &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	steps, err := h.engine.UpdateOnboarding(ctx, id, req.CompletedSteps)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{"candidate_id": id, "onboarding": steps})
}

// HandleInterviewAnalysis POST /api/v1/candidates/:id/interviews/:round/analysis
// 写入失败不报错，只返回 saved=false
func (h *WorkflowHandler) HandleInterviewAnalysis(ctx context.Context, c *app.RequestContext) {
	id, ok := candidateID(c)
	if !ok {
		return
	}
	round, err := strconv.Atoi(c.Param("round"))
	if err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "无效的面试轮次"})
		return
	}
	var req types.InterviewResult
	if err := bindBody(c, &req); err != nil {
		c.JSON(consts.StatusBadRequest, utils.H{"error": "请求体格式错误"})
		return
	}
	saved := h.engine.SaveInterviewAnalysis(ctx, id, round, req)
	c.JSON(consts.StatusOK, utils.H{"candidate_id": id, "round": round, "saved": saved})
}

// HandleCandidateLink GET /candidate_link/:id?user=&token=
// 通知深链入口，令牌校验通过即视为该用户
func (h *WorkflowHandler) HandleCandidateLink(ctx context.Context, c *app.RequestContext) {
	id, ok := candidateID(c)
	if !ok {
		return
	}
	user, token := c.Query("user"), c.Query("token")
	if h.signer == nil || !h.signer.Verify(linktoken.CandidatePath(id), user, token) {
		h.logger.Warn().Int64("candidate_id", int64(id)).Str("user", user).Msg("深链令牌校验失败")
		c.JSON(consts.StatusUnauthorized, utils.H{"error": "链接无效或已过期"})
		return
	}
	candidate, err := h.engine.Candidate(ctx, id)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"candidate": candidate,
		"username":  user,
		"role":      h.engine.Registry().RoleOf(user),
	})
}
