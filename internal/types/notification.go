package types

import (
	"encoding/json"
)

// NotificationType 通知类型
type NotificationType string

const (
	NotifyShortlistForApproval      NotificationType = "shortlist_for_approval"
	NotifyCandidateSelected         NotificationType = "candidate_selected"
	NotifyFinalApprovalComplete     NotificationType = "final_approval_complete"
	NotifyReminderPendingDept       NotificationType = "reminder_pending_dept_selection"
	NotifyReminderPendingOperations NotificationType = "reminder_pending_operations_hire"
	NotifyCandidateRejected         NotificationType = "candidate_rejected"
)

// NotificationStatus 通知状态
type NotificationStatus string

const (
	NotificationPending  NotificationStatus = "Pending"
	NotificationApproved NotificationStatus = "Approved"
	NotificationRejected NotificationStatus = "Rejected"
	NotificationRead     NotificationStatus = "Read"
)

// Resolved Approved 或 Rejected
func (s NotificationStatus) Resolved() bool {
	return s == NotificationApproved || s == NotificationRejected
}

// Priority 通知优先级
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Notification 站内通知记录
type Notification struct {
	ID               RecordID           `json:"id"`
	CandidateID      RecordID           `json:"candidate_id"`
	CandidateName    string             `json:"candidate_name,omitempty"`
	Position         string             `json:"position,omitempty"`
	Type             NotificationType   `json:"type"`
	Status           NotificationStatus `json:"status"`
	ForRole          string             `json:"for_role"`
	ReceiverUsername string             `json:"receiver_username,omitempty"`
	ReceiverUserID   FlexString         `json:"receiver_user_id,omitempty"`
	FromRole         string             `json:"from_role,omitempty"`
	FromUser         string             `json:"from_user,omitempty"`
	Message          string             `json:"message"`
	Timestamp        string             `json:"timestamp"`
	CreatedBy        string             `json:"created_by,omitempty"`
	Priority         Priority           `json:"priority"`
	ActionRequired   FlexBool           `json:"action_required"`
	NotificationType string             `json:"notification_type,omitempty"`
	ApprovedBy       string             `json:"approved_by,omitempty"`
	ApprovedAt       string             `json:"approved_at,omitempty"`
	ReadAt           string             `json:"read_at,omitempty"`
	AutoCompletedAt  string             `json:"auto_completed_at,omitempty"`

	// 未识别的字段原样保留
	Extra map[string]json.RawMessage `json:"-"`
}

type notificationFields Notification

var notificationKeys = jsonKeys(notificationFields{})

func (n Notification) MarshalJSON() ([]byte, error) {
	return marshalWithExtra(notificationFields(n), n.Extra)
}

func (n *Notification) UnmarshalJSON(data []byte) error {
	var f notificationFields
	extra, err := unmarshalWithExtra(data, &f, notificationKeys)
	if err != nil {
		return err
	}
	*n = Notification(f)
	n.Extra = extra
	return nil
}
