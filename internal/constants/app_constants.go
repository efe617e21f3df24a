package constants

import "time"

const (
	// 集合名称
	CollectionCandidates    = "candidates"
	CollectionNotifications = "notifications"
	CollectionJobs          = "jobs"

	// SystemActor 系统自动操作的执行人
	SystemActor = "system"
	// SystemApprover 自动审批时写入 approved_by 的值
	SystemApprover = "System"
	// SystemRole 系统操作的角色
	SystemRole = "System"
	// ManualUpdateRole 手工状态更新的角色
	ManualUpdateRole = "User"
	// AutoShortlistRole 自动初筛的角色
	AutoShortlistRole = "Automated (AI Shortlisting)"

	// DefaultMatchThreshold 岗位未配置匹配阈值时的默认值
	DefaultMatchThreshold = 75.0

	// NotificationTypePopUp 站内弹窗通知
	NotificationTypePopUp = "pop_up"
	// NotificationTypeSynthetic 由状态历史补出来的审批记录，不落库
	NotificationTypeSynthetic = "synthetic"
	// SynthesizeHistoryWindow 补审批记录时只看最近的历史条目
	SynthesizeHistoryWindow = 25

	DefaultReminderThreshold = 24 * time.Hour
	DefaultReminderRepeat    = 24 * time.Hour
	DefaultUpdateBackoff     = 500 * time.Millisecond
	DefaultUpdateAttempts    = 5
	DefaultSweepLockTTL      = 30 * time.Second

	// InterviewSaveAttempts 面试分析结果回写的重试次数
	InterviewSaveAttempts = 5
	InterviewSaveBackoff  = 500 * time.Millisecond
)
