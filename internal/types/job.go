package types

import (
	"encoding/json"

	"ats-workflow/internal/constants"
)

// Job 岗位记录，只用到部门、标题和自动初筛设置
type Job struct {
	JobID            FlexString `json:"job_id"`
	JobTitle         string     `json:"job_title,omitempty"`
	Department       string     `json:"department,omitempty"`
	AutoShortlisting FlexBool   `json:"auto_shortlisting,omitempty"`
	MatchScore       FlexString `json:"match_score,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type jobFields Job

var jobKeys = jsonKeys(jobFields{})

func (j Job) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(jobFields(j), j.Extra)
}

func (j *Job) UnmarshalJSON(data []byte) error {
	var f jobFields
	extra, err := unmarshalWithExtra(data, &f, jobKeys)
	if err != nil {
		return err
	}
	*j = Job(f)
	j.Extra = extra
	return nil
}

// Threshold 自动初筛的匹配分阈值
func (j Job) Threshold() float64 {
	if v, ok := j.MatchScore.Float(); ok {
		return v
	}
	return constants.DefaultMatchThreshold
}
