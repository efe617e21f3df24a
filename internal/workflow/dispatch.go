package workflow

import (
	"context"
	"fmt"
	"strings"

	"ats-workflow/internal/constants"
	"ats-workflow/internal/delivery"
	"ats-workflow/internal/metrics"
	"ats-workflow/internal/types"
)

const (
	RoleHR                = "HR"
	RoleOperationManager  = "Operation Manager"
	RoleDepartmentManager = "Department Manager"

	departmentManagerKey = "department manager"
)

// NotificationSpec 一条待创建的通知
type NotificationSpec struct {
	Type           types.NotificationType
	ForRole        string
	Message        string
	Status         types.NotificationStatus // 默认 Pending
	Priority       types.Priority           // 默认 normal
	ActionRequired bool
}

// Notify 创建一条通知并异步推送到外部通道
func (e *Engine) Notify(ctx context.Context, c types.Candidate, spec NotificationSpec, fromUser string) (types.Notification, error) {
	created, err := e.dispatch(ctx, c, fromUser, spec)
	if err != nil {
		return types.Notification{}, err
	}
	return created[0], nil
}

// departmentManagerRole 部门经理角色名，找不到时用通用角色
func (e *Engine) departmentManagerRole(department string) string {
	if a, ok := e.registry.ResolveDepartmentManager(department); ok && a.Role != "" {
		return a.Role
	}
	return RoleDepartmentManager
}

func (e *Engine) fromRole(user string) string {
	if user == constants.SystemActor {
		return constants.SystemRole
	}
	return e.registry.RoleOf(user)
}

func (e *Engine) buildNotification(c types.Candidate, spec NotificationSpec, fromUser, ts string) types.Notification {
	n := types.Notification{
		CandidateID:      c.ID,
		CandidateName:    c.Name,
		Position:         c.Position,
		Type:             spec.Type,
		Status:           spec.Status,
		ForRole:          spec.ForRole,
		FromRole:         e.fromRole(fromUser),
		FromUser:         fromUser,
		Message:          spec.Message,
		Timestamp:        ts,
		CreatedBy:        fromUser,
		Priority:         spec.Priority,
		ActionRequired:   types.FlexBool(spec.ActionRequired),
		NotificationType: constants.NotificationTypePopUp,
	}
	if n.Position == "" {
		n.Position = c.JobTitle
	}
	if n.Status == "" {
		n.Status = types.NotificationPending
	}
	if n.Priority == "" {
		n.Priority = types.PriorityNormal
	}
	// 面向部门经理的通知解析出具体接收人
	if strings.Contains(strings.ToLower(spec.ForRole), departmentManagerKey) {
		if a, ok := e.registry.ResolveDepartmentManager(c.Department); ok {
			n.ReceiverUsername = a.Username
			n.ReceiverUserID = types.FlexString(a.UserID)
		}
	}
	return n
}

// dispatch 在一次写入中追加多条通知，id 取当前最大值加一(含无法解析的旧记录)
func (e *Engine) dispatch(ctx context.Context, c types.Candidate, fromUser string, specs ...NotificationSpec) ([]types.Notification, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	ts := types.FormatTimestamp(e.clock())
	var created []types.Notification
	err := e.gw.AppendNotifications(ctx, func(items []types.Notification, reservedMax types.RecordID) ([]types.Notification, bool, error) {
		created = created[:0]
		next := nextNotificationID(items, reservedMax)
		for _, spec := range specs {
			n := e.buildNotification(c, spec, fromUser, ts)
			n.ID = next
			next++
			items = append(items, n)
			created = append(created, n)
		}
		return items, true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("保存通知失败: %w", err)
	}

	for _, n := range created {
		metrics.NotificationsCreated.WithLabelValues(string(n.Type), string(n.Priority)).Inc()
		e.logger.Info().
			Int64("notification_id", int64(n.ID)).
			Str("type", string(n.Type)).
			Str("for_role", n.ForRole).
			Str("receiver", n.ReceiverUsername).
			Msg("通知已创建")
		e.deliverAsync(ctx, n)
	}
	return created, nil
}

func nextNotificationID(items []types.Notification, reservedMax types.RecordID) types.RecordID {
	max := reservedMax
	for _, n := range items {
		if n.ID > max {
			max = n.ID
		}
	}
	return max + 1
}

// deliverAsync 后台投递，失败只记录日志
func (e *Engine) deliverAsync(ctx context.Context, n types.Notification) {
	env := delivery.NewEnvelope(n, e.links.ViewURL(n.CandidateID, n.ReceiverUsername))
	dctx := context.WithoutCancel(ctx)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().Interface("panic", r).Int64("notification_id", int64(n.ID)).Msg("通知投递异常")
			}
		}()
		if err := e.deliverer.Deliver(dctx, env); err != nil {
			e.logger.Warn().Err(err).Int64("notification_id", int64(n.ID)).Msg("外部通知投递失败")
		}
	}()
}

// onStatusChange 根据新状态生成通知
func (e *Engine) onStatusChange(ctx context.Context, c types.Candidate, prev, next types.CandidateStatus, actor string) error {
	prev, next = prev.Normalize(), next.Normalize()
	if prev == next {
		return nil
	}
	cname := c.Name
	dmRole := e.departmentManagerRole(c.Department)

	var specs []NotificationSpec
	switch next {
	case types.StatusShortlisted:
		specs = append(specs, NotificationSpec{
			Type:           types.NotifyShortlistForApproval,
			ForRole:        dmRole,
			Message:        fmt.Sprintf("HR SHORTLISTED: Candidate %s shortlisted. Department Manager to SELECT.", cname),
			Priority:       types.PriorityHigh,
			ActionRequired: true,
		})
	case types.StatusSelected:
		specs = append(specs, NotificationSpec{
			Type:           types.NotifyCandidateSelected,
			ForRole:        RoleOperationManager,
			Message:        fmt.Sprintf("DEPT SELECTED: %s selected by Department. Operations Manager to HIRE.", cname),
			Priority:       types.PriorityHigh,
			ActionRequired: true,
		})
	case types.StatusHired:
		specs = append(specs,
			NotificationSpec{
				Type:     types.NotifyFinalApprovalComplete,
				ForRole:  RoleHR,
				Message:  fmt.Sprintf("HIRED: %s hired by Operations Manager.", cname),
				Status:   types.NotificationApproved,
				Priority: types.PriorityHigh,
			},
			NotificationSpec{
				Type:     types.NotifyFinalApprovalComplete,
				ForRole:  dmRole,
				Message:  fmt.Sprintf("HIRED: %s hired. Notification sent to HR.", cname),
				Status:   types.NotificationApproved,
				Priority: types.PriorityNormal,
			},
		)
		for _, u := range e.registry.DisciplineManagers(c.Department) {
			specs = append(specs, NotificationSpec{
				Type:     types.NotifyFinalApprovalComplete,
				ForRole:  u.Role,
				Message:  fmt.Sprintf("HIRED: %s hired. (Discipline Manager copy)", cname),
				Status:   types.NotificationApproved,
				Priority: types.PriorityLow,
			})
		}
	default:
		return nil
	}

	_, err := e.dispatch(ctx, c, actor, specs...)
	return err
}
