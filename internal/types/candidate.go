package types

import (
	"encoding/json"
	"time"
)

// StatusHistoryEntry 状态变更记录，追加后不再修改
type StatusHistoryEntry struct {
	FromStatus    CandidateStatus `json:"from_status"`
	ToStatus      CandidateStatus `json:"to_status"`
	UpdatedBy     string          `json:"updated_by"`
	UpdatedByRole string          `json:"updated_by_role"`
	UpdatedAt     string          `json:"updated_at"`
	UpdateType    UpdateType      `json:"update_type"`
}

// InterviewRound 一轮面试视频的分析结果
type InterviewRound struct {
	VideoFilename    string   `json:"video_filename,omitempty"`
	Transcript       *string  `json:"transcript"`
	Feedback         *string  `json:"feedback"`
	PerformanceScore *float64 `json:"performance_score"`
	Processing       bool     `json:"processing"`
	RoundName        string   `json:"round_name,omitempty"`
}

// InterviewResult 分析完成后回写的内容
type InterviewResult struct {
	Transcript       *string  `json:"transcript"`
	Feedback         *string  `json:"feedback"`
	PerformanceScore *float64 `json:"performance_score"`
	RoundName        *string  `json:"round_name,omitempty"`
}

// Candidate 候选人记录
type Candidate struct {
	ID       RecordID   `json:"id"`
	Name     string     `json:"name,omitempty"`
	Email    string     `json:"email,omitempty"`
	Position string     `json:"position,omitempty"`
	JobID    FlexString `json:"job_id,omitempty"`
	JobTitle string     `json:"job_title,omitempty"`

	Status              CandidateStatus      `json:"status"`
	PreviousStatus      CandidateStatus      `json:"previous_status,omitempty"`
	Department          string               `json:"department,omitempty"`
	StatusUpdatedBy     string               `json:"status_updated_by,omitempty"`
	StatusUpdatedByRole string               `json:"status_updated_by_role,omitempty"`
	StatusUpdatedAt     string               `json:"status_updated_at,omitempty"`
	StatusHistory       []StatusHistoryEntry `json:"status_history"`

	AppliedDate            string `json:"applied_date,omitempty"`
	ShortlistedDate        string `json:"shortlisted_date,omitempty"`
	InterviewScheduledDate string `json:"interview_scheduled_date,omitempty"`
	InterviewedDate        string `json:"interviewed_date,omitempty"`
	SelectedDate           string `json:"selected_date,omitempty"`
	HiredDate              string `json:"hired_date,omitempty"`
	OnboardingDate         string `json:"onboarding_date,omitempty"`

	OnboardingStatus  string            `json:"onboarding_status,omitempty"`
	ProbationStatus   string            `json:"probation_status,omitempty"`
	Onboarding        map[string]string `json:"onboarding,omitempty"`
	MatchScore        *float64          `json:"match_score,omitempty"`
	InterviewAnalysis []InterviewRound  `json:"interview_analysis,omitempty"`

	// CV 解析结果等其他字段原样保留
	Extra map[string]json.RawMessage `json:"-"`
}

type candidateFields Candidate

var candidateKeys = jsonKeys(candidateFields{})

func (c Candidate) MarshalJSON() ([]byte, error) {
	f := candidateFields(c)
	if f.StatusHistory == nil {
		f.StatusHistory = []StatusHistoryEntry{}
	}
	return marshalWithExtra(f, c.Extra)
}

func (c *Candidate) UnmarshalJSON(data []byte) error {
	var f candidateFields
	extra, err := unmarshalWithExtra(data, &f, candidateKeys)
	if err != nil {
		return err
	}
	*c = Candidate(f)
	c.Extra = extra
	return nil
}

// StageDate 返回状态对应的阶段日期字段，没有对应字段时返回 nil
func (c *Candidate) StageDate(s CandidateStatus) *string {
	switch s.Normalize() {
	case StatusShortlisted:
		return &c.ShortlistedDate
	case StatusInterviewScheduled:
		return &c.InterviewScheduledDate
	case StatusInterviewed:
		return &c.InterviewedDate
	case StatusSelected:
		return &c.SelectedDate
	case StatusHired:
		return &c.HiredDate
	case StatusOnboarding:
		return &c.OnboardingDate
	}
	return nil
}

// EnteredStatusAt 候选人进入当前状态的时间
// 先倒序查历史里 to_status 等于当前状态的最后一条，再退回 status_updated_at
func (c *Candidate) EnteredStatusAt() (time.Time, bool) {
	current := c.Status.Normalize()
	for i := len(c.StatusHistory) - 1; i >= 0; i-- {
		h := c.StatusHistory[i]
		if h.ToStatus.Normalize() != current {
			continue
		}
		// 时间戳坏掉的记录跳过，继续往前找
		if t, ok := ParseTimestamp(h.UpdatedAt); ok {
			return t, true
		}
	}
	return ParseTimestamp(c.StatusUpdatedAt)
}

// FirstEntry 历史中第一次进入某状态的记录
func (c *Candidate) FirstEntry(s CandidateStatus) (StatusHistoryEntry, bool) {
	target := s.Normalize()
	for _, h := range c.StatusHistory {
		if h.ToStatus.Normalize() == target {
			return h, true
		}
	}
	return StatusHistoryEntry{}, false
}
