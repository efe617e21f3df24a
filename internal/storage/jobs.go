package storage

import (
	"context"
	"strings"

	"ats-workflow/internal/types"
)

// JobDirectory 按 job_id 查岗位，只用于回填部门和岗位名称
type JobDirectory interface {
	LookupJob(ctx context.Context, jobID string) (types.Job, bool, error)
}

// CollectionJobs 从 jobs 集合查岗位
type CollectionJobs struct {
	gw *Gateway
}

var _ JobDirectory = (*CollectionJobs)(nil)

func NewCollectionJobs(gw *Gateway) *CollectionJobs {
	return &CollectionJobs{gw: gw}
}

func (c *CollectionJobs) LookupJob(ctx context.Context, jobID string) (types.Job, bool, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return types.Job{}, false, nil
	}
	jobs, err := c.gw.LoadJobs(ctx)
	if err != nil {
		return types.Job{}, false, err
	}
	for _, j := range jobs {
		if strings.TrimSpace(string(j.JobID)) == jobID {
			return j, true, nil
		}
	}
	return types.Job{}, false, nil
}
