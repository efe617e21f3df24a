// Package delivery 把站内通知推送到外部通道，全部为尽力而为
package delivery

import (
	"context"
	"time"

	"ats-workflow/internal/types"

	"github.com/gofrs/uuid/v5"
)

// Envelope 外部通道收到的通知摘要
type Envelope struct {
	EventID        string                 `json:"event_id"`
	NotificationID types.RecordID         `json:"notification_id"`
	CandidateID    types.RecordID         `json:"candidate_id"`
	CandidateName  string                 `json:"candidate_name"`
	Position       string                 `json:"position"`
	Type           types.NotificationType `json:"type"`
	Message        string                 `json:"message"`
	Priority       types.Priority         `json:"priority"`
	ActionRequired bool                   `json:"action_required"`
	ForRole        string                 `json:"for_role"`
	Receiver       string                 `json:"receiver,omitempty"`
	ViewURL        string                 `json:"view_url"`
	CreatedAt      string                 `json:"created_at"`
}

// NewEnvelope 由通知生成投递信封，EventID 为 UUIDv7
func NewEnvelope(n types.Notification, viewURL string) Envelope {
	eventID := ""
	if id, err := uuid.NewV7(); err == nil {
		eventID = id.String()
	}
	createdAt := n.Timestamp
	if createdAt == "" {
		createdAt = types.FormatTimestamp(time.Now())
	}
	return Envelope{
		EventID:        eventID,
		NotificationID: n.ID,
		CandidateID:    n.CandidateID,
		CandidateName:  n.CandidateName,
		Position:       n.Position,
		Type:           n.Type,
		Message:        n.Message,
		Priority:       n.Priority,
		ActionRequired: bool(n.ActionRequired),
		ForRole:        n.ForRole,
		Receiver:       n.ReceiverUsername,
		ViewURL:        viewURL,
		CreatedAt:      createdAt,
	}
}

// Channel 一个外部投递通道
type Channel interface {
	Name() string
	Deliver(ctx context.Context, env Envelope) error
}

// Noop 未配置任何通道时使用
type Noop struct{}

func (Noop) Name() string { return "noop" }

func (Noop) Deliver(context.Context, Envelope) error { return nil }
