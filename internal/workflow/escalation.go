package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ats-workflow/internal/constants"
	"ats-workflow/internal/metrics"
	"ats-workflow/internal/storage"
	"ats-workflow/internal/tracing"
	"ats-workflow/internal/types"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// escalationRule 某个等待阶段的升级规则
type escalationRule struct {
	from     []types.CandidateStatus
	pending  types.CandidateStatus
	reminder types.NotificationType
	forRole  func(e *Engine, c types.Candidate) string
	message  func(name string) string
}

var escalationRules = []escalationRule{
	{
		from:     []types.CandidateStatus{types.StatusShortlisted, types.StatusPendingDeptSelection},
		pending:  types.StatusPendingDeptSelection,
		reminder: types.NotifyReminderPendingDept,
		forRole:  func(e *Engine, c types.Candidate) string { return e.departmentManagerRole(c.Department) },
		message: func(name string) string {
			return fmt.Sprintf("REMINDER: Candidate %s awaiting Department Manager selection.", name)
		},
	},
	{
		from:     []types.CandidateStatus{types.StatusSelected, types.StatusPendingOperationsHire},
		pending:  types.StatusPendingOperationsHire,
		reminder: types.NotifyReminderPendingOperations,
		forRole:  func(*Engine, types.Candidate) string { return RoleOperationManager },
		message: func(name string) string {
			return fmt.Sprintf("REMINDER: Candidate %s awaiting Operations Manager hire decision.", name)
		},
	},
}

func ruleFor(status types.CandidateStatus) (escalationRule, bool) {
	status = status.Normalize()
	for _, r := range escalationRules {
		for _, s := range r.from {
			if s == status {
				return r, true
			}
		}
	}
	return escalationRule{}, false
}

// SweepResult 一次提醒扫描的结果
type SweepResult struct {
	RunID     string
	Skipped   bool // 其他扫描正在进行
	Escalated []types.RecordID
	Reminders int
}

// timeInStatus 候选人在当前状态停留的时间，没有任何时间记录时为 0
func timeInStatus(c *types.Candidate, now time.Time) time.Duration {
	entered, ok := c.EnteredStatusAt()
	if !ok {
		return 0
	}
	return now.Sub(entered)
}

// recentReminderExists 重复窗口内是否已给该候选人发过同类型提醒
// scopeStart 非零时，早于 scopeStart 的提醒不计
func recentReminderExists(notes []types.Notification, id types.RecordID, t types.NotificationType, cutoff, scopeStart time.Time) bool {
	for _, n := range notes {
		if n.CandidateID != id || n.Type != t {
			continue
		}
		ts, ok := types.ParseTimestamp(n.Timestamp)
		if !ok || !ts.After(cutoff) {
			continue
		}
		if !scopeStart.IsZero() && ts.Before(scopeStart) {
			continue
		}
		return true
	}
	return false
}

// escalation 一个待升级的候选人
type escalation struct {
	candidate types.Candidate
	previous  types.CandidateStatus
	rule      escalationRule
}

// planEscalations 找出需要升级的候选人并在 items 上直接修改状态
// 已经处于等待状态的候选人不再重复升级
func (e *Engine) planEscalations(items []types.Candidate, notes []types.Notification, now time.Time) []escalation {
	var out []escalation
	cutoff := now.Add(-e.settings.ReminderRepeat)
	for i := range items {
		c := &items[i]
		rule, ok := ruleFor(c.Status)
		if !ok {
			continue
		}
		if timeInStatus(c, now) < e.settings.ReminderThreshold {
			continue
		}
		var scopeStart time.Time
		if e.settings.ReminderScopeByStatus {
			scopeStart, _ = c.EnteredStatusAt()
		}
		if recentReminderExists(notes, c.ID, rule.reminder, cutoff, scopeStart) {
			continue
		}
		prev := c.Status.Normalize()
		if !ApplyTransition(c, rule.pending, constants.SystemActor, constants.SystemRole, types.UpdateAutoEscalation, now) {
			continue
		}
		out = append(out, escalation{candidate: *c, previous: prev, rule: rule})
	}
	return out
}

// CheckPendingReminders 把超时停留在待选/待录用的候选人推进到等待状态并提醒负责人
// 配置了 Locker 时先取分布式锁，取不到则跳过本次扫描
func (e *Engine) CheckPendingReminders(ctx context.Context) (SweepResult, error) {
	result := SweepResult{RunID: uuid.NewString()}
	ctx, span := tracer.Start(ctx, "Workflow.CheckPendingReminders")
	defer span.End()
	span.SetAttributes(attribute.String("sweep.run_id", result.RunID))

	if !e.sweepMu.TryLock() {
		result.Skipped = true
		return result, nil
	}
	defer e.sweepMu.Unlock()

	if e.locker != nil {
		token, err := e.locker.AcquireLock(ctx, constants.KeyEscalationSweepLock, e.settings.SweepLockTTL)
		if errors.Is(err, storage.ErrLockNotAcquired) {
			result.Skipped = true
			span.SetAttributes(attribute.Bool("sweep.skipped", true))
			return result, nil
		}
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeRedis)
			return result, fmt.Errorf("获取扫描锁失败: %w", err)
		}
		defer func() {
			if _, err := e.locker.ReleaseLock(context.WithoutCancel(ctx), constants.KeyEscalationSweepLock, token); err != nil {
				e.logger.Warn().Err(err).Msg("释放扫描锁失败")
			}
		}()
	}

	notes, err := e.gw.LoadNotifications(ctx)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return result, fmt.Errorf("读取通知失败: %w", err)
	}

	now := e.clock()
	var planned []escalation
	err = e.gw.UpdateCandidates(ctx, func(items []types.Candidate) ([]types.Candidate, bool, error) {
		planned = e.planEscalations(items, notes, now)
		return items, len(planned) > 0, nil
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return result, fmt.Errorf("保存升级状态失败: %w", err)
	}

	log := e.logger.With().Str("run_id", result.RunID).Logger()
	for _, esc := range planned {
		c := esc.candidate
		result.Escalated = append(result.Escalated, c.ID)
		metrics.Escalations.WithLabelValues(string(esc.rule.pending)).Inc()
		metrics.Transitions.WithLabelValues(string(esc.rule.pending), string(types.UpdateAutoEscalation)).Inc()

		if err := e.onStatusChange(ctx, c, esc.previous, c.Status, constants.SystemActor); err != nil {
			log.Warn().Err(err).Int64("candidate_id", int64(c.ID)).Msg("通知触发失败")
		}
		_, err := e.Notify(ctx, c, NotificationSpec{
			Type:           esc.rule.reminder,
			ForRole:        esc.rule.forRole(e, c),
			Message:        esc.rule.message(c.Name),
			Priority:       types.PriorityHigh,
			ActionRequired: true,
		}, constants.SystemActor)
		if err != nil {
			log.Error().Err(err).Int64("candidate_id", int64(c.ID)).Msg("提醒通知创建失败")
			continue
		}
		result.Reminders++
		log.Info().Int64("candidate_id", int64(c.ID)).Str("pending_status", string(esc.rule.pending)).Msg("候选人已升级并发送提醒")
	}
	span.SetAttributes(attribute.Int("sweep.escalated", len(result.Escalated)))
	return result, nil
}

// RunSweeper 按固定间隔执行提醒扫描，直到 ctx 取消；interval <= 0 时直接返回
func (e *Engine) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	e.logger.Info().Dur("interval", interval).Msg("提醒扫描已启动")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := e.CheckPendingReminders(ctx)
			if err != nil && ctx.Err() == nil {
				e.logger.Error().Err(err).Str("run_id", res.RunID).Msg("提醒扫描失败")
				continue
			}
			if len(res.Escalated) > 0 {
				e.logger.Info().Str("run_id", res.RunID).Int("escalated", len(res.Escalated)).Msg("提醒扫描完成")
			}
		}
	}
}
