package models

import (
	"strconv"
	"strings"
	"time"

	"ats-workflow/internal/types"

	"gorm.io/datatypes"
)

// RecordCollection 整集合存储：每个集合一行，payload 为 JSON 数组，version 做乐观锁
type RecordCollection struct {
	Name      string         `gorm:"type:varchar(64);primaryKey"`
	Payload   datatypes.JSON `gorm:"type:json;not null"`
	Version   int64          `gorm:"not null;default:0"`
	CreatedAt time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time      `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (RecordCollection) TableName() string {
	return "record_collections"
}

// Job 岗位信息表
type Job struct {
	JobID            string    `gorm:"type:varchar(64);primaryKey"`
	JobTitle         string    `gorm:"type:varchar(255);not null"`
	Department       string    `gorm:"type:varchar(255);index:idx_jobs_department"`
	AutoShortlisting bool      `gorm:"not null;default:false"`
	MatchThreshold   *float64  `gorm:"type:decimal(5,2)"`
	Status           string    `gorm:"type:varchar(50);default:'ACTIVE';index:idx_jobs_status"`
	CreatedAt        time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt        time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (Job) TableName() string {
	return "jobs"
}

// ToRecord 转成工作流使用的岗位记录
func (j Job) ToRecord() types.Job {
	rec := types.Job{
		JobID:            types.FlexString(j.JobID),
		JobTitle:         j.JobTitle,
		Department:       j.Department,
		AutoShortlisting: types.FlexBool(j.AutoShortlisting),
	}
	if j.MatchThreshold != nil {
		rec.MatchScore = types.FlexString(strconv.FormatFloat(*j.MatchThreshold, 'f', -1, 64))
	}
	return rec
}

// JobFromRecord 岗位集合记录转成表行，job_id 为空的跳过
func JobFromRecord(r types.Job) (Job, bool) {
	id := strings.TrimSpace(string(r.JobID))
	if id == "" {
		return Job{}, false
	}
	j := Job{
		JobID:            id,
		JobTitle:         r.JobTitle,
		Department:       r.Department,
		AutoShortlisting: bool(r.AutoShortlisting),
		Status:           "ACTIVE",
	}
	if v, ok := r.MatchScore.Float(); ok {
		j.MatchThreshold = &v
	}
	return j, true
}
