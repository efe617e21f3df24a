package types

import (
	"strings"
)

// CandidateStatus 候选人所处阶段
type CandidateStatus string

const (
	StatusNone                  CandidateStatus = ""
	StatusNew                   CandidateStatus = "New"
	StatusApplied               CandidateStatus = "Applied"
	StatusApplicationSubmitted  CandidateStatus = "Application Submitted"
	StatusPending               CandidateStatus = "Pending"
	StatusReview                CandidateStatus = "Review"
	StatusShortlisted           CandidateStatus = "Shortlisted"
	StatusPendingDeptSelection  CandidateStatus = "Pending Dept Selection"
	StatusInterviewScheduled    CandidateStatus = "Interview Scheduled"
	StatusInterviewed           CandidateStatus = "Interviewed"
	StatusSelected              CandidateStatus = "Selected"
	StatusPendingOperationsHire CandidateStatus = "Pending Operations Hire"
	StatusHired                 CandidateStatus = "Hired"
	StatusOnboarding            CandidateStatus = "Onboarding"
	StatusProbation             CandidateStatus = "Probation"
	StatusRejected              CandidateStatus = "Rejected"
	StatusWithdrawn             CandidateStatus = "Withdrawn"

	// 旧数据里的别名，读入后按 legacyAliases 归一
	StatusLegacyApproved     CandidateStatus = "Approved"
	StatusLegacyDeptApproved CandidateStatus = "Dept Approved"
)

var legacyAliases = map[CandidateStatus]CandidateStatus{
	StatusLegacyApproved:     StatusSelected,
	StatusLegacyDeptApproved: StatusSelected,
}

var knownStatuses = map[CandidateStatus]struct{}{
	StatusNew: {}, StatusApplied: {}, StatusApplicationSubmitted: {}, StatusPending: {},
	StatusReview: {}, StatusShortlisted: {}, StatusPendingDeptSelection: {},
	StatusInterviewScheduled: {}, StatusInterviewed: {}, StatusSelected: {},
	StatusPendingOperationsHire: {}, StatusHired: {}, StatusOnboarding: {},
	StatusProbation: {}, StatusRejected: {}, StatusWithdrawn: {},
	StatusLegacyApproved: {}, StatusLegacyDeptApproved: {},
}

// Normalize 把旧别名映射到当前状态，其他值原样返回
func (s CandidateStatus) Normalize() CandidateStatus {
	if target, ok := legacyAliases[s]; ok {
		return target
	}
	return s
}

// IsTerminal Hired/Rejected/Withdrawn
func (s CandidateStatus) IsTerminal() bool {
	switch s.Normalize() {
	case StatusHired, StatusRejected, StatusWithdrawn:
		return true
	}
	return false
}

// IsIntake 尚未初筛的状态，空状态也算
func (s CandidateStatus) IsIntake() bool {
	switch s.Normalize() {
	case StatusNone, StatusNew, StatusApplied, StatusApplicationSubmitted, StatusPending, StatusReview:
		return true
	}
	return false
}

// ParseCandidateStatus 按不区分大小写匹配已知状态
func ParseCandidateStatus(raw string) (CandidateStatus, bool) {
	trimmed := strings.TrimSpace(raw)
	for s := range knownStatuses {
		if strings.EqualFold(string(s), trimmed) {
			return s, true
		}
	}
	return CandidateStatus(trimmed), false
}

// UpdateType 状态变更来源
type UpdateType string

const (
	UpdateManual           UpdateType = "manual_status_update"
	UpdateAutoShortlisting UpdateType = "auto_shortlisting"
	UpdateAutoEscalation   UpdateType = "auto_pending_escalation"
	UpdateApproval         UpdateType = "approval_decision"
)

// Action 审批动作
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction 解析审批动作，大小写不敏感
func ParseAction(raw string) (Action, bool) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionApprove:
		return ActionApprove, true
	case ActionReject:
		return ActionReject, true
	}
	return "", false
}

// BaseRole 去掉括号里的限定并转小写
// "Department Manager (MOE)" -> "department manager"
func BaseRole(role string) string {
	if i := strings.Index(role, "("); i >= 0 {
		role = role[:i]
	}
	return strings.ToLower(strings.TrimSpace(role))
}
