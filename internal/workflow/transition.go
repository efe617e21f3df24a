package workflow

import (
	"context"
	"errors"
	"time"

	"ats-workflow/internal/constants"
	"ats-workflow/internal/metrics"
	"ats-workflow/internal/tracing"
	"ats-workflow/internal/types"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	onboardingPending    = "Pending"
	onboardingInProgress = "In Progress"
	probationInProgress  = "In Progress"
)

// Transition 一次状态变更的结果
type Transition struct {
	Candidate types.Candidate
	Previous  types.CandidateStatus
	Current   types.CandidateStatus
	Changed   bool
}

// ApplyTransition 在内存中修改候选人状态
// 新旧状态规范化后相同时不做任何修改并返回 false
func ApplyTransition(c *types.Candidate, newStatus types.CandidateStatus, actor, actorRole string, updateType types.UpdateType, now time.Time) bool {
	prev := c.Status.Normalize()
	next := newStatus.Normalize()
	if prev == next {
		return false
	}

	ts := types.FormatTimestamp(now)
	c.PreviousStatus = prev
	c.Status = next
	c.StatusUpdatedBy = actor
	c.StatusUpdatedByRole = actorRole
	c.StatusUpdatedAt = ts
	c.StatusHistory = append(c.StatusHistory, types.StatusHistoryEntry{
		FromStatus:    prev,
		ToStatus:      next,
		UpdatedBy:     actor,
		UpdatedByRole: actorRole,
		UpdatedAt:     ts,
		UpdateType:    updateType,
	})

	// 已有日期不覆盖
	if field := c.StageDate(next); field != nil && *field == "" {
		*field = types.FormatDate(now)
	}

	switch next {
	case types.StatusHired:
		if c.OnboardingStatus == "" {
			c.OnboardingStatus = onboardingPending
		}
	case types.StatusOnboarding:
		c.OnboardingStatus = onboardingInProgress
	case types.StatusProbation:
		c.ProbationStatus = probationInProgress
	}
	return true
}

func findCandidate(items []types.Candidate, id types.RecordID) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// transitionRequest 引擎内部的状态变更请求
type transitionRequest struct {
	CandidateID types.RecordID
	Status      types.CandidateStatus
	Actor       string
	ActorRole   string
	UpdateType  types.UpdateType
	Op          string
	// mutate 在同一次 CAS 写入中附带修改其他字段，返回是否有修改
	mutate func(c *types.Candidate) bool
	// target 非空时由最新的候选人记录决定目标状态，忽略 Status
	target func(c *types.Candidate) types.CandidateStatus
}

// transition 读-改-写候选人集合，保存成功且状态确实变化时触发通知
// 触发失败只记录日志，不影响已保存的状态
func (e *Engine) transition(ctx context.Context, req transitionRequest) (Transition, error) {
	ctx, span := tracer.Start(ctx, "Workflow.Transition", trace.WithAttributes(
		attribute.Int64("candidate.id", int64(req.CandidateID)),
		attribute.String("candidate.to_status", string(req.Status)),
		attribute.String("update_type", string(req.UpdateType)),
	))
	defer span.End()

	dept, jobTitle := e.lookupDepartment(ctx, req.CandidateID)

	var result Transition
	err := e.gw.UpdateCandidates(ctx, func(items []types.Candidate) ([]types.Candidate, bool, error) {
		result = Transition{}
		i := findCandidate(items, req.CandidateID)
		if i < 0 {
			return nil, false, newNotFoundError(req.CandidateID, req.Op)
		}
		c := &items[i]
		dirty := false
		if c.Department == "" && dept != "" {
			c.Department = dept
			dirty = true
		}
		if c.JobTitle == "" && jobTitle != "" {
			c.JobTitle = jobTitle
			dirty = true
		}
		if req.mutate != nil && req.mutate(c) {
			dirty = true
		}

		status := req.Status
		if req.target != nil {
			status = req.target(c)
		}
		result.Previous = c.Status.Normalize()
		result.Changed = ApplyTransition(c, status, req.Actor, req.ActorRole, req.UpdateType, e.clock())
		result.Current = c.Status
		result.Candidate = *c
		return items, dirty || result.Changed, nil
	})
	if err != nil {
		if errors.Is(err, ErrCandidateNotFound) {
			tracing.RecordError(span, err, tracing.ErrorTypeNotFound)
			return Transition{}, err
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return Transition{}, newPersistError(req.CandidateID, req.Op, err)
	}

	span.SetAttributes(attribute.Bool("changed", result.Changed))
	if !result.Changed {
		return result, nil
	}

	metrics.Transitions.WithLabelValues(string(result.Current), string(req.UpdateType)).Inc()
	e.logger.Info().
		Int64("candidate_id", int64(req.CandidateID)).
		Str("from", string(result.Previous)).
		Str("to", string(result.Current)).
		Str("actor", req.Actor).
		Str("update_type", string(req.UpdateType)).
		Msg("候选人状态已更新")

	if err := e.onStatusChange(ctx, result.Candidate, result.Previous, result.Current, req.Actor); err != nil {
		e.logger.Warn().Err(err).Int64("candidate_id", int64(req.CandidateID)).Msg("通知触发失败")
	}
	return result, nil
}

// lookupDepartment 候选人没有部门时从岗位补齐，失败只记录日志
func (e *Engine) lookupDepartment(ctx context.Context, id types.RecordID) (string, string) {
	candidates, err := e.gw.LoadCandidates(ctx)
	if err != nil {
		return "", ""
	}
	i := findCandidate(candidates, id)
	if i < 0 {
		return "", ""
	}
	c := candidates[i]
	if c.Department != "" || c.JobID == "" {
		return "", ""
	}
	job, ok, err := e.jobs.LookupJob(ctx, string(c.JobID))
	if err != nil {
		e.logger.Warn().Err(err).Int64("candidate_id", int64(id)).Msg("查询岗位部门失败")
		return "", ""
	}
	if !ok {
		return "", ""
	}
	return job.Department, job.JobTitle
}

// UpdateStatus 手工修改状态
func (e *Engine) UpdateStatus(ctx context.Context, id types.RecordID, rawStatus, username string) (Transition, error) {
	status, err := parseStatus(id, "update_status", rawStatus)
	if err != nil {
		return Transition{}, err
	}
	return e.transition(ctx, transitionRequest{
		CandidateID: id,
		Status:      status,
		Actor:       username,
		ActorRole:   constants.ManualUpdateRole,
		UpdateType:  types.UpdateManual,
		Op:          "update_status",
	})
}

func parseStatus(id types.RecordID, op, raw string) (types.CandidateStatus, error) {
	if raw == "" {
		return "", newValidationError(id, op, ErrMissingStatus, "")
	}
	status, ok := types.ParseCandidateStatus(raw)
	if !ok {
		return "", newValidationError(id, op, ErrUnknownStatus, raw)
	}
	return status, nil
}
