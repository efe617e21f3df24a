package workflow

import (
	"errors"
	"fmt"

	"ats-workflow/internal/types"
)

var (
	ErrCandidateNotFound    = errors.New("候选人不存在")
	ErrNotificationNotFound = errors.New("通知不存在")
	ErrMissingStatus        = errors.New("缺少目标状态")
	ErrUnknownStatus        = errors.New("未知的候选人状态")
	ErrInvalidAction        = errors.New("无效的审批动作")
	ErrPersistFailed        = errors.New("保存记录失败")
)

// OperationError 带候选人和操作信息的错误
type OperationError struct {
	CandidateID types.RecordID
	Op          string
	BaseErr     error
	Detail      string
}

func (e *OperationError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (操作:%s, 候选人:%d): %s", e.BaseErr, e.Op, e.CandidateID, e.Detail)
	}
	return fmt.Sprintf("%s (操作:%s, 候选人:%d)", e.BaseErr, e.Op, e.CandidateID)
}

func (e *OperationError) Unwrap() error {
	return e.BaseErr
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *OperationError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

func newNotFoundError(id types.RecordID, op string) error {
	return &OperationError{CandidateID: id, Op: op, BaseErr: ErrCandidateNotFound}
}

func newValidationError(id types.RecordID, op string, base error, detail string) error {
	return &OperationError{CandidateID: id, Op: op, BaseErr: base, Detail: detail}
}

// newPersistError 存储层失败，保留原始错误
func newPersistError(id types.RecordID, op string, cause error) error {
	return &OperationError{CandidateID: id, Op: op, BaseErr: fmt.Errorf("%w: %w", ErrPersistFailed, cause)}
}
