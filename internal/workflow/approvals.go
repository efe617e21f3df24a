package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"ats-workflow/internal/constants"
	"ats-workflow/internal/metrics"
	"ats-workflow/internal/tracing"
	"ats-workflow/internal/types"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ResolveAction 根据审批人角色和候选人当前状态决定新状态
// 不满足任何规则时返回规范化后的当前状态
func ResolveAction(role string, action types.Action, current types.CandidateStatus) types.CandidateStatus {
	current = current.Normalize()
	if action == types.ActionReject {
		return types.StatusRejected
	}
	if action != types.ActionApprove {
		return current
	}

	r := strings.ToLower(role)
	switch {
	case containsAny(r, "hr", "discipline manager", "discipline") && current.IsIntake():
		return types.StatusShortlisted
	case strings.Contains(r, departmentManagerKey) &&
		(current == types.StatusShortlisted || current == types.StatusPendingDeptSelection):
		return types.StatusSelected
	case strings.Contains(r, "operation manager") &&
		(current == types.StatusSelected || current == types.StatusPendingOperationsHire):
		return types.StatusHired
	}
	return current
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// decisionTargets 审批后需要一并关闭的通知：for_role 与角色相同或互为前缀
func decisionTargets(forRole, role string) bool {
	if forRole == "" || role == "" {
		return false
	}
	return forRole == role || strings.HasPrefix(forRole, role) || strings.HasPrefix(role, forRole)
}

// DecisionResult 审批结果
type DecisionResult struct {
	Transition
	Action   types.Action
	Role     string
	Resolved int // 被关闭的通知数
}

// Decide 处理审批动作：先按角色推进状态，再关闭该候选人面向此角色的未处理通知
// 状态没有变化时通知同样会被关闭
func (e *Engine) Decide(ctx context.Context, id types.RecordID, username, rawAction string) (DecisionResult, error) {
	const op = "approval_decision"
	action, ok := types.ParseAction(rawAction)
	if !ok {
		return DecisionResult{}, newValidationError(id, op, ErrInvalidAction, rawAction)
	}
	role := e.registry.RoleOf(username)

	ctx, span := tracer.Start(ctx, "Workflow.Decide")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("candidate.id", int64(id)),
		attribute.String("action", string(action)),
		attribute.String("role", role),
	)

	t, err := e.transition(ctx, transitionRequest{
		CandidateID: id,
		Actor:       username,
		ActorRole:   role,
		UpdateType:  types.UpdateApproval,
		Op:          op,
		target: func(c *types.Candidate) types.CandidateStatus {
			return ResolveAction(role, action, c.Status)
		},
	})
	if err != nil {
		return DecisionResult{}, err
	}
	result := DecisionResult{Transition: t, Action: action, Role: role}

	mark := types.NotificationApproved
	if action == types.ActionReject {
		mark = types.NotificationRejected
	}
	ts := types.FormatTimestamp(e.clock())
	err = e.gw.UpdateNotifications(ctx, func(items []types.Notification) ([]types.Notification, bool, error) {
		result.Resolved = 0
		for i := range items {
			n := &items[i]
			if n.CandidateID != id || n.Status.Resolved() || !decisionTargets(n.ForRole, role) {
				continue
			}
			n.Status = mark
			n.ApprovedBy = username
			n.ApprovedAt = ts
			result.Resolved++
		}
		return items, result.Resolved > 0, nil
	})
	if err != nil {
		// 状态已经保存，通知关闭失败只影响待办列表
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		e.logger.Error().Err(err).Int64("candidate_id", int64(id)).Msg("关闭审批通知失败")
	}

	e.logger.Info().
		Int64("candidate_id", int64(id)).
		Str("user", username).
		Str("role", role).
		Str("action", string(action)).
		Bool("changed", t.Changed).
		Int("resolved", result.Resolved).
		Msg("审批已处理")
	return result, nil
}

// backfillStage 通知类型对应的审批阶段
var backfillStage = map[types.NotificationType]types.CandidateStatus{
	types.NotifyShortlistForApproval:  types.StatusShortlisted,
	types.NotifyCandidateSelected:     types.StatusSelected,
	types.NotifyFinalApprovalComplete: types.StatusHired,
}

// backfillWindow 只看最近的历史记录
const backfillWindow = 10

// BackfillApprovers 已处理但缺少 approved_by 的通知，从候选人历史里补齐审批人和时间
func BackfillApprovers(notes []types.Notification, candidates []types.Candidate) int {
	byID := make(map[types.RecordID]*types.Candidate, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
	}

	filled := 0
	for i := range notes {
		n := &notes[i]
		if !n.Status.Resolved() || n.ApprovedBy != "" {
			continue
		}
		stage, ok := backfillStage[n.Type]
		if !ok {
			continue
		}
		c, ok := byID[n.CandidateID]
		if !ok {
			continue
		}
		history := c.StatusHistory
		if len(history) > backfillWindow {
			history = history[len(history)-backfillWindow:]
		}
		for j := len(history) - 1; j >= 0; j-- {
			h := history[j]
			if h.ToStatus.Normalize() != stage {
				continue
			}
			n.ApprovedBy = h.UpdatedBy
			if n.ApprovedBy == "" {
				n.ApprovedBy = constants.SystemApprover
			}
			n.ApprovedAt = h.UpdatedAt
			filled++
			break
		}
	}
	return filled
}

// reconcile 自动关闭过期待办并补齐审批人，返回修改条数
func reconcile(notes []types.Notification, candidates []types.Candidate, now time.Time) int {
	statuses := make(map[types.RecordID]types.CandidateStatus, len(candidates))
	for _, c := range candidates {
		statuses[c.ID] = c.Status
	}
	return AutoResolveStale(notes, statuses, now) + BackfillApprovers(notes, candidates)
}

// TimelineEntry 候选人在某个审批阶段的记录
type TimelineEntry struct {
	Stage     types.CandidateStatus `json:"stage"`
	Actor     string                `json:"actor,omitempty"`
	Role      string                `json:"role,omitempty"`
	At        string                `json:"at,omitempty"`
	Completed bool                  `json:"completed"`
	IsUser    bool                  `json:"is_user"`
}

// CandidateTimeline 一个候选人的审批轨迹
type CandidateTimeline struct {
	CandidateID   types.RecordID        `json:"candidate_id"`
	CandidateName string                `json:"candidate_name"`
	Position      string                `json:"position,omitempty"`
	Status        types.CandidateStatus `json:"status"`
	Stages        []TimelineEntry       `json:"stages"`
	LastTime      string                `json:"last_time"`
}

var timelineStages = []types.CandidateStatus{
	types.StatusShortlisted,
	types.StatusSelected,
	types.StatusHired,
}

// buildTimeline 只保留用户参与过的候选人，按最近一次审批时间倒序
func buildTimeline(candidates []types.Candidate, username string) []CandidateTimeline {
	var out []CandidateTimeline
	for i := range candidates {
		c := &candidates[i]
		tl := CandidateTimeline{
			CandidateID:   c.ID,
			CandidateName: c.Name,
			Position:      c.Position,
			Status:        c.Status.Normalize(),
		}
		if tl.Position == "" {
			tl.Position = c.JobTitle
		}
		involved := false
		var last time.Time
		for _, stage := range timelineStages {
			entry := TimelineEntry{Stage: stage}
			if h, ok := c.FirstEntry(stage); ok {
				entry.Actor = h.UpdatedBy
				entry.Role = h.UpdatedByRole
				entry.At = h.UpdatedAt
				entry.Completed = true
				entry.IsUser = h.UpdatedBy == username
				if t := timestampOf(h.UpdatedAt); t.After(last) {
					last = t
					tl.LastTime = h.UpdatedAt
				}
			}
			involved = involved || entry.IsUser
			tl.Stages = append(tl.Stages, entry)
		}
		if involved {
			out = append(out, tl)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return timestampOf(out[i].LastTime).After(timestampOf(out[j].LastTime))
	})
	return out
}

var decisionTypes = map[types.CandidateStatus]types.NotificationType{
	types.StatusShortlisted: types.NotifyShortlistForApproval,
	types.StatusSelected:    types.NotifyCandidateSelected,
	types.StatusHired:       types.NotifyFinalApprovalComplete,
	types.StatusRejected:    types.NotifyCandidateRejected,
}

// decisionMessage 按候选人当前所处阶段描述这次决定
func decisionMessage(decided, current types.CandidateStatus, name string) string {
	switch decided {
	case types.StatusShortlisted:
		switch current {
		case types.StatusShortlisted:
			return fmt.Sprintf("SHORTLISTED: %s shortlisted; awaiting Department Manager selection.", name)
		case types.StatusSelected, types.StatusPendingOperationsHire:
			return fmt.Sprintf("SHORTLISTED: %s progressed to Selected; awaiting Operations Manager.", name)
		case types.StatusHired:
			return fmt.Sprintf("SHORTLISTED: %s eventually Hired (final).", name)
		}
		return fmt.Sprintf("SHORTLISTED: %s shortlisted.", name)
	case types.StatusSelected:
		switch current {
		case types.StatusSelected:
			return fmt.Sprintf("SELECTED: %s selected; awaiting Operations Manager hire decision.", name)
		case types.StatusPendingOperationsHire:
			return fmt.Sprintf("SELECTED: %s pending Operations Manager hire decision.", name)
		case types.StatusHired:
			return fmt.Sprintf("SELECTED: %s selected and now Hired (final).", name)
		}
		return fmt.Sprintf("SELECTED: %s selected.", name)
	case types.StatusHired:
		return fmt.Sprintf("HIRED: %s hired.", name)
	}
	return fmt.Sprintf("REJECTED: %s rejected.", name)
}

// synthesizeDecisions 用户在状态历史里做过、但没有对应已完成通知的决定，补成只读记录
// 补出的记录 id 为 0，不写回通知集合
func synthesizeDecisions(candidates []types.Candidate, completed []types.Notification, username, role string) []types.Notification {
	type key struct {
		id types.RecordID
		t  types.NotificationType
	}
	seen := make(map[key]bool, len(completed))
	messages := make(map[types.RecordID]map[string]bool)
	for _, n := range completed {
		seen[key{n.CandidateID, n.Type}] = true
		if messages[n.CandidateID] == nil {
			messages[n.CandidateID] = map[string]bool{}
		}
		messages[n.CandidateID][n.Message] = true
	}

	var out []types.Notification
	for i := range candidates {
		c := &candidates[i]
		history := c.StatusHistory
		if len(history) > constants.SynthesizeHistoryWindow {
			history = history[len(history)-constants.SynthesizeHistoryWindow:]
		}
		current := c.Status.Normalize()
		for _, h := range history {
			decided := h.ToStatus.Normalize()
			t, ok := decisionTypes[decided]
			if !ok || h.UpdatedBy != username {
				continue
			}
			msg := decisionMessage(decided, current, c.Name)
			k := key{c.ID, t}
			if seen[k] || messages[c.ID][msg] {
				continue
			}
			seen[k] = true
			status := types.NotificationApproved
			if decided == types.StatusRejected {
				status = types.NotificationRejected
			}
			position := c.Position
			if position == "" {
				position = c.JobTitle
			}
			out = append(out, types.Notification{
				CandidateID:      c.ID,
				CandidateName:    c.Name,
				Position:         position,
				Type:             t,
				Status:           status,
				ForRole:          role,
				FromRole:         h.UpdatedByRole,
				FromUser:         h.UpdatedBy,
				Message:          msg,
				Timestamp:        h.UpdatedAt,
				CreatedBy:        h.UpdatedBy,
				Priority:         types.PriorityNormal,
				NotificationType: constants.NotificationTypeSynthetic,
				ApprovedBy:       h.UpdatedBy,
				ApprovedAt:       h.UpdatedAt,
			})
		}
	}
	return out
}

// ApprovalsPage 审批页面的数据
type ApprovalsPage struct {
	Role           string               `json:"role"`
	Pending        []types.Notification `json:"pending"`
	MyCompleted    []types.Notification `json:"my_completed"`
	OtherCompleted []types.Notification `json:"other_completed"`
	Timeline       []CandidateTimeline  `json:"timeline"`
}

// ApprovalsView 先扫描提醒并对账通知，再按用户角色分组
func (e *Engine) ApprovalsView(ctx context.Context, username string) (ApprovalsPage, error) {
	ctx, span := tracer.Start(ctx, "Workflow.ApprovalsView")
	defer span.End()

	if _, err := e.CheckPendingReminders(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("提醒扫描失败")
	}

	var (
		candidates []types.Candidate
		notes      []types.Notification
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		candidates, err = e.gw.LoadCandidates(gctx)
		return err
	})
	g.Go(func() (err error) {
		notes, err = e.gw.LoadNotifications(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return ApprovalsPage{}, fmt.Errorf("读取审批数据失败: %w", err)
	}

	// 快照上没有需要修改的内容时不写入
	now := e.clock()
	if reconcile(notes, candidates, now) > 0 {
		err := e.gw.UpdateNotifications(ctx, func(items []types.Notification) ([]types.Notification, bool, error) {
			n := reconcile(items, candidates, now)
			notes = items
			return items, n > 0, nil
		})
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return ApprovalsPage{}, fmt.Errorf("保存通知对账结果失败: %w", err)
		}
		ts := types.FormatTimestamp(now)
		for _, n := range notes {
			if n.AutoCompletedAt == ts {
				metrics.AutoResolved.WithLabelValues(string(n.Type)).Inc()
			}
		}
	}

	role := e.registry.RoleOf(username)
	page := ApprovalsPage{
		Role:           role,
		Pending:        []types.Notification{},
		MyCompleted:    []types.Notification{},
		OtherCompleted: []types.Notification{},
	}
	for _, n := range notes {
		// 三个列表都只收需要审批的通知；录用广播不需要动作，留在通知列表里
		if !bool(n.ActionRequired) || !roleMatches(n, username, role) {
			continue
		}
		switch {
		case !n.Status.Resolved():
			page.Pending = append(page.Pending, n)
		case n.ApprovedBy == username:
			page.MyCompleted = append(page.MyCompleted, n)
		default:
			page.OtherCompleted = append(page.OtherCompleted, n)
		}
	}
	page.MyCompleted = append(page.MyCompleted, synthesizeDecisions(candidates, page.MyCompleted, username, role)...)
	sortNewestFirst(page.Pending)
	sortNewestFirst(page.MyCompleted)
	sortNewestFirst(page.OtherCompleted)
	page.Timeline = buildTimeline(candidates, username)
	if page.Timeline == nil {
		page.Timeline = []CandidateTimeline{}
	}

	span.SetAttributes(attribute.Int("approvals.pending", len(page.Pending)))
	return page, nil
}

// BackfillApproverFields 修复工具使用：补齐全部通知的 approved_by，dryRun 时不保存
func (e *Engine) BackfillApproverFields(ctx context.Context, dryRun bool) (int, error) {
	candidates, err := e.gw.LoadCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("读取候选人失败: %w", err)
	}
	filled := 0
	err = e.gw.UpdateNotifications(ctx, func(items []types.Notification) ([]types.Notification, bool, error) {
		filled = BackfillApprovers(items, candidates)
		return items, filled > 0 && !dryRun, nil
	})
	if err != nil {
		return 0, fmt.Errorf("保存通知失败: %w", err)
	}
	return filled, nil
}
