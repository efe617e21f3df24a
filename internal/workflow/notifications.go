package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"ats-workflow/internal/constants"
	"ats-workflow/internal/types"
)

// ListFilter 通知列表过滤方式
type ListFilter string

const (
	FilterUnread ListFilter = "Unread"
	FilterAll    ListFilter = "All"
)

// ParseListFilter 只有 "All" 返回全部，其他值按 Unread 处理
func ParseListFilter(raw string) ListFilter {
	if strings.EqualFold(strings.TrimSpace(raw), string(FilterAll)) {
		return FilterAll
	}
	return FilterUnread
}

// roleMatches 用户是否能看到这条通知
func roleMatches(n types.Notification, username, role string) bool {
	if username != "" && n.ReceiverUsername == username {
		return true
	}
	return forRoleMatches(n.ForRole, role)
}

// forRoleMatches 角色相同、互为前缀或去掉括号后相同
func forRoleMatches(forRole, role string) bool {
	if forRole == "" || role == "" {
		return false
	}
	if forRole == role || strings.HasPrefix(role, forRole) || strings.HasPrefix(forRole, role) {
		return true
	}
	return types.BaseRole(forRole) == types.BaseRole(role)
}

func timestampOf(s string) time.Time {
	t, _ := types.ParseTimestamp(s)
	return t
}

// sortNewestFirst 按 timestamp 倒序，无法解析的排在最后
func sortNewestFirst(items []types.Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		return timestampOf(items[i].Timestamp).After(timestampOf(items[j].Timestamp))
	})
}

// unreadVisible 未读视图的显示规则，返回是否显示以及是否需要自动标记已读
func unreadVisible(n types.Notification) (show, autoRead bool) {
	if n.Type == types.NotifyFinalApprovalComplete {
		if n.Status == types.NotificationRead {
			return false, false
		}
		return true, n.Status == types.NotificationApproved && n.ReadAt == ""
	}
	switch n.Status {
	case types.NotificationRead, types.NotificationApproved, types.NotificationRejected:
		return false, false
	}
	return true, false
}

// ListForUser 返回用户可见的通知，先跑一次提醒扫描
// 未读视图里已审批的录用广播在第一次列出时自动标记为已读
func (e *Engine) ListForUser(ctx context.Context, username, role string, filter ListFilter, limit int) ([]types.Notification, error) {
	if _, err := e.CheckPendingReminders(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("提醒扫描失败")
	}
	if role == "" {
		role = e.registry.RoleOf(username)
	}

	var listed []types.Notification
	readAt := types.FormatTimestamp(e.clock())
	err := e.gw.UpdateNotifications(ctx, func(items []types.Notification) ([]types.Notification, bool, error) {
		listed = listed[:0]
		changed := false
		for i := range items {
			n := items[i]
			if !roleMatches(n, username, role) {
				continue
			}
			if filter != FilterAll {
				show, autoRead := unreadVisible(n)
				if !show {
					continue
				}
				if autoRead {
					items[i].Status = types.NotificationRead
					items[i].ReadAt = readAt
					changed = true
				}
			}
			listed = append(listed, items[i])
		}
		return items, changed, nil
	})
	if err != nil {
		return nil, fmt.Errorf("读取通知失败: %w", err)
	}

	sortNewestFirst(listed)
	if limit > 0 && len(listed) > limit {
		listed = listed[:limit]
	}
	return listed, nil
}

// MarkRead 标记已读，用户看不到的通知按不存在处理
func (e *Engine) MarkRead(ctx context.Context, id types.RecordID, username, role string) error {
	if role == "" {
		role = e.registry.RoleOf(username)
	}
	readAt := types.FormatTimestamp(e.clock())
	err := e.gw.UpdateNotifications(ctx, func(items []types.Notification) ([]types.Notification, bool, error) {
		for i := range items {
			if items[i].ID != id || !roleMatches(items[i], username, role) {
				continue
			}
			items[i].Status = types.NotificationRead
			items[i].ReadAt = readAt
			return items, true, nil
		}
		return nil, false, ErrNotificationNotFound
	})
	if errors.Is(err, ErrNotificationNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("保存通知失败: %w", err)
	}
	return nil
}

// progressedPast 候选人当前状态是否已越过通知等待的阶段
func progressedPast(t types.NotificationType, status types.CandidateStatus) bool {
	switch status.Normalize() {
	case types.StatusHired:
		switch t {
		case types.NotifyShortlistForApproval, types.NotifyReminderPendingDept,
			types.NotifyCandidateSelected, types.NotifyReminderPendingOperations:
			return true
		}
	case types.StatusSelected, types.StatusPendingOperationsHire:
		return t == types.NotifyShortlistForApproval || t == types.NotifyReminderPendingDept
	}
	return false
}

// AutoResolveStale 把候选人已越过阶段的待办通知标记为 Approved，返回修改条数
// 被处理的通知 auto_completed_at 等于 now；重复执行结果不变
func AutoResolveStale(items []types.Notification, statusByCandidate map[types.RecordID]types.CandidateStatus, now time.Time) int {
	ts := types.FormatTimestamp(now)
	resolved := 0
	for i := range items {
		n := &items[i]
		if !bool(n.ActionRequired) || n.Status.Resolved() {
			continue
		}
		status, ok := statusByCandidate[n.CandidateID]
		if !ok || !progressedPast(n.Type, status) {
			continue
		}
		n.Status = types.NotificationApproved
		n.AutoCompletedAt = ts
		if n.ApprovedBy == "" {
			n.ApprovedBy = constants.SystemApprover
		}
		n.ApprovedAt = ts
		resolved++
	}
	return resolved
}
