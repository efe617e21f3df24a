package workflow

import (
	"context"
	"errors"
	"fmt"

	"ats-workflow/internal/constants"
	"ats-workflow/internal/tracing"
	"ats-workflow/internal/types"

	"go.opentelemetry.io/otel/attribute"
)

const (
	onboardingCompleted = "Completed"
)

// OnboardingSteps 入职流程的固定步骤
var OnboardingSteps = []string{
	"Joining Formalities",
	"HR Introduction",
	"Document Verification",
	"User Ids and ICT Allocation",
}

// MatchResult 匹配分写入结果
type MatchResult struct {
	Transition
	Threshold   float64
	AutoEnabled bool
}

// ApplyMatchScore 保存匹配分；岗位开启自动初筛且分数达到阈值时直接推进到 Shortlisted
// 只对尚未初筛的候选人生效
func (e *Engine) ApplyMatchScore(ctx context.Context, id types.RecordID, score float64, uploadedBy string) (MatchResult, error) {
	const op = "auto_shortlisting"
	result := MatchResult{Threshold: constants.DefaultMatchThreshold}

	job, ok, err := e.jobOf(ctx, id)
	if err != nil {
		e.logger.Warn().Err(err).Int64("candidate_id", int64(id)).Msg("查询岗位失败，不做自动初筛")
	}
	if ok {
		result.Threshold = job.Threshold()
		result.AutoEnabled = bool(job.AutoShortlisting)
	}
	if uploadedBy == "" {
		uploadedBy = constants.SystemActor
	}

	t, err := e.transition(ctx, transitionRequest{
		CandidateID: id,
		Actor:       uploadedBy,
		ActorRole:   constants.AutoShortlistRole,
		UpdateType:  types.UpdateAutoShortlisting,
		Op:          op,
		mutate: func(c *types.Candidate) bool {
			if c.MatchScore != nil && *c.MatchScore == score {
				return false
			}
			v := score
			c.MatchScore = &v
			return true
		},
		target: func(c *types.Candidate) types.CandidateStatus {
			if result.AutoEnabled && score >= result.Threshold && c.Status.IsIntake() {
				return types.StatusShortlisted
			}
			return c.Status
		},
	})
	if err != nil {
		return MatchResult{}, err
	}
	result.Transition = t
	return result, nil
}

// Candidate 按 id 读取单个候选人
func (e *Engine) Candidate(ctx context.Context, id types.RecordID) (types.Candidate, error) {
	candidates, err := e.gw.LoadCandidates(ctx)
	if err != nil {
		return types.Candidate{}, fmt.Errorf("读取候选人失败: %w", err)
	}
	i := findCandidate(candidates, id)
	if i < 0 {
		return types.Candidate{}, newNotFoundError(id, "get_candidate")
	}
	return candidates[i], nil
}

// jobOf 候选人所属岗位
func (e *Engine) jobOf(ctx context.Context, id types.RecordID) (types.Job, bool, error) {
	candidates, err := e.gw.LoadCandidates(ctx)
	if err != nil {
		return types.Job{}, false, err
	}
	i := findCandidate(candidates, id)
	if i < 0 || candidates[i].JobID == "" {
		return types.Job{}, false, nil
	}
	return e.jobs.LookupJob(ctx, string(candidates[i].JobID))
}

// UpdateOnboarding 按已完成步骤重置入职清单，未列出的步骤为 Pending
func (e *Engine) UpdateOnboarding(ctx context.Context, id types.RecordID, completedSteps []string) (map[string]string, error) {
	const op = "update_onboarding"
	done := make(map[string]bool, len(completedSteps))
	for _, s := range completedSteps {
		done[s] = true
	}
	checklist := make(map[string]string, len(OnboardingSteps))
	for _, step := range OnboardingSteps {
		checklist[step] = onboardingPending
		if done[step] {
			checklist[step] = onboardingCompleted
		}
	}

	err := e.gw.UpdateCandidates(ctx, func(items []types.Candidate) ([]types.Candidate, bool, error) {
		i := findCandidate(items, id)
		if i < 0 {
			return nil, false, newNotFoundError(id, op)
		}
		items[i].Onboarding = make(map[string]string, len(checklist))
		for k, v := range checklist {
			items[i].Onboarding[k] = v
		}
		return items, true, nil
	})
	if errors.Is(err, ErrCandidateNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, newPersistError(id, op, err)
	}
	return checklist, nil
}

// SaveInterviewAnalysis 回写某一轮面试的分析结果，后台任务调用
// 候选人不存在或轮次越界时直接返回；冲突重试耗尽后只记日志
func (e *Engine) SaveInterviewAnalysis(ctx context.Context, id types.RecordID, roundIndex int, result types.InterviewResult) bool {
	ctx, span := tracer.Start(ctx, "Workflow.SaveInterviewAnalysis")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("candidate.id", int64(id)),
		attribute.Int("round_index", roundIndex),
	)

	saved := false
	gw := e.gw.Retrying(e.settings.BackgroundAttempts, e.settings.BackgroundBackoff)
	err := gw.UpdateCandidates(ctx, func(items []types.Candidate) ([]types.Candidate, bool, error) {
		saved = false
		i := findCandidate(items, id)
		if i < 0 || roundIndex < 0 || roundIndex >= len(items[i].InterviewAnalysis) {
			return items, false, nil
		}
		round := &items[i].InterviewAnalysis[roundIndex]
		round.Transcript = result.Transcript
		round.Feedback = result.Feedback
		round.PerformanceScore = result.PerformanceScore
		round.Processing = false
		if result.RoundName != nil {
			round.RoundName = *result.RoundName
		}
		saved = true
		return items, true, nil
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeConflict)
		e.logger.Error().Err(err).
			Int64("candidate_id", int64(id)).
			Int("round_index", roundIndex).
			Msg("面试分析结果保存失败，放弃")
		return false
	}
	if !saved {
		e.logger.Debug().Int64("candidate_id", int64(id)).Int("round_index", roundIndex).Msg("候选人或面试轮次不存在，忽略分析结果")
	}
	return saved
}

// BackfillDepartments 修复工具使用：从岗位补齐候选人的部门和岗位名称
func (e *Engine) BackfillDepartments(ctx context.Context, dryRun bool) (int, error) {
	candidates, err := e.gw.LoadCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("读取候选人失败: %w", err)
	}

	jobs := make(map[string]types.Job)
	for _, c := range candidates {
		if c.Department != "" || c.JobID == "" {
			continue
		}
		key := string(c.JobID)
		if _, seen := jobs[key]; seen {
			continue
		}
		job, ok, err := e.jobs.LookupJob(ctx, key)
		if err != nil {
			e.logger.Warn().Err(err).Str("job_id", key).Msg("查询岗位失败")
			continue
		}
		if ok {
			jobs[key] = job
		}
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	filled := 0
	err = e.gw.UpdateCandidates(ctx, func(items []types.Candidate) ([]types.Candidate, bool, error) {
		filled = 0
		for i := range items {
			c := &items[i]
			if c.Department != "" {
				continue
			}
			job, ok := jobs[string(c.JobID)]
			if !ok || job.Department == "" {
				continue
			}
			c.Department = job.Department
			if c.JobTitle == "" {
				c.JobTitle = job.JobTitle
			}
			filled++
		}
		return items, filled > 0 && !dryRun, nil
	})
	if err != nil {
		return 0, fmt.Errorf("保存候选人失败: %w", err)
	}
	return filled, nil
}
