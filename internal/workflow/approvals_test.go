package workflow

import (
	"context"
	"testing"
	"time"

	"ats-workflow/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAction(t *testing.T) {
	tests := []struct {
		role    string
		action  types.Action
		current types.CandidateStatus
		want    types.CandidateStatus
	}{
		{"HR", types.ActionApprove, types.StatusNew, types.StatusShortlisted},
		{"hr", types.ActionApprove, types.StatusNone, types.StatusShortlisted},
		{"Discipline Manager", types.ActionApprove, types.StatusApplicationSubmitted, types.StatusShortlisted},
		{"HR", types.ActionApprove, types.StatusSelected, types.StatusSelected},
		{"Department Manager (M&E)", types.ActionApprove, types.StatusShortlisted, types.StatusSelected},
		{"Department Manager (M&E)", types.ActionApprove, types.StatusPendingDeptSelection, types.StatusSelected},
		{"Department Manager (M&E)", types.ActionApprove, types.StatusNew, types.StatusNew},
		{"Operation Manager", types.ActionApprove, types.StatusSelected, types.StatusHired},
		{"Operation Manager", types.ActionApprove, types.StatusLegacyApproved, types.StatusHired},
		{"Operation Manager", types.ActionApprove, types.StatusPendingOperationsHire, types.StatusHired},
		{"Operation Manager", types.ActionApprove, types.StatusShortlisted, types.StatusShortlisted},
		{"User", types.ActionApprove, types.StatusNew, types.StatusNew},
		{"User", types.ActionReject, types.StatusNew, types.StatusRejected},
		{"Operation Manager", types.ActionReject, types.StatusHired, types.StatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.role+"/"+string(tt.action)+"/"+string(tt.current), func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveAction(tt.role, tt.action, tt.current))
		})
	}
}

func TestDecideHRApproveShortlists(t *testing.T) {
	f := newFixture(t)
	f.seedCandidates(types.Candidate{ID: 1, Name: "Omar", Status: types.StatusNew, Department: "Mechanical & Electrical"})

	res, err := f.engine.Decide(context.Background(), 1, "hr_anna", "approve")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "HR", res.Role)
	assert.Equal(t, types.StatusShortlisted, res.Current)

	c := f.candidate(1)
	last := c.StatusHistory[len(c.StatusHistory)-1]
	assert.Equal(t, types.UpdateApproval, last.UpdateType)
	assert.Equal(t, "HR", last.UpdatedByRole)

	ns := ofType(f.notifications(), types.NotifyShortlistForApproval)
	require.Len(t, ns, 1)
	assert.Equal(t, "Department Manager (M&E)", ns[0].ForRole)
	assert.True(t, bool(ns[0].ActionRequired))
	assert.Equal(t, types.PriorityHigh, ns[0].Priority)
	assert.Equal(t, types.NotificationPending, ns[0].Status)
	f.drain()
}

func TestDecideMarksRoleNotifications(t *testing.T) {
	f := newFixture(t)
	f.seedCandidates(types.Candidate{ID: 1, Name: "Omar", Status: types.StatusShortlisted, Department: "Mechanical & Electrical"})
	f.seedNotifications(
		reminder(1, 1, types.NotifyShortlistForApproval, baseTime.Add(-time.Hour)),
		reminder(2, 1, types.NotifyReminderPendingDept, baseTime.Add(-time.Minute)),
		reminder(3, 2, types.NotifyShortlistForApproval, baseTime.Add(-time.Hour)),
	)

	res, err := f.engine.Decide(context.Background(), 1, "dm_mech", "APPROVE")
	require.NoError(t, err)
	assert.Equal(t, types.StatusSelected, res.Current)
	assert.Equal(t, 2, res.Resolved)

	ns := f.notifications()
	for _, n := range ns[:2] {
		assert.Equal(t, types.NotificationApproved, n.Status)
		assert.Equal(t, "dm_mech", n.ApprovedBy)
		assert.Equal(t, types.FormatTimestamp(baseTime), n.ApprovedAt)
	}
	// 其他候选人的通知不动
	assert.Equal(t, types.NotificationPending, ns[2].Status)

	selected := ofType(ns, types.NotifyCandidateSelected)
	require.Len(t, selected, 1)
	assert.Equal(t, types.NotificationPending, selected[0].Status)
	f.drain()
}

func TestDecideRejectMarksRejected(t *testing.T) {
	f := newFixture(t)
	f.seedCandidates(types.Candidate{ID: 1, Name: "Omar", Status: types.StatusSelected, Department: "Civil Works"})
	n := reminder(1, 1, types.NotifyCandidateSelected, baseTime.Add(-time.Hour))
	n.ForRole = RoleOperationManager
	f.seedNotifications(n)

	res, err := f.engine.Decide(context.Background(), 1, "ops", "reject")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRejected, res.Current)
	assert.Equal(t, types.NotificationRejected, f.notifications()[0].Status)
	assert.Equal(t, "ops", f.notifications()[0].ApprovedBy)
}

func TestDecideWithoutStatusChangeStillMarks(t *testing.T) {
	f := newFixture(t)
	f.seedCandidates(types.Candidate{ID: 1, Name: "Omar", Status: types.StatusSelected, Department: "Civil Works"})
	n := reminder(1, 1, types.NotifyShortlistForApproval, baseTime.Add(-time.Hour))
	n.ForRole = "HR"
	f.seedNotifications(n)

	res, err := f.engine.Decide(context.Background(), 1, "hr_anna", "approve")
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 1, res.Resolved)
	assert.Empty(t, f.candidate(1).StatusHistory)
	assert.Equal(t, types.NotificationApproved, f.notifications()[0].Status)
}

func TestDecideErrors(t *testing.T) {
	f := newFixture(t)
	f.seedCandidates(types.Candidate{ID: 1, Status: types.StatusNew})
	ctx := context.Background()

	_, err := f.engine.Decide(ctx, 1, "hr_anna", "maybe")
	assert.ErrorIs(t, err, ErrInvalidAction)

	_, err = f.engine.Decide(ctx, 404, "hr_anna", "approve")
	assert.ErrorIs(t, err, ErrCandidateNotFound)
	assert.Empty(t, f.notifications())
}

func TestAutoResolveStale(t *testing.T) {
	notes := []types.Notification{
		reminder(1, 1, types.NotifyShortlistForApproval, baseTime),
		reminder(2, 1, types.NotifyReminderPendingDept, baseTime),
		reminder(3, 2, types.NotifyCandidateSelected, baseTime),
		reminder(4, 3, types.NotifyCandidateSelected, baseTime),
		reminder(5, 3, types.NotifyReminderPendingOperations, baseTime),
		reminder(6, 4, types.NotifyShortlistForApproval, baseTime),
	}
	notes[5].ApprovedBy = "dm_mech"
	statuses := map[types.RecordID]types.CandidateStatus{
		1: types.StatusPendingOperationsHire,
		2: types.StatusSelected,
		3: types.StatusHired,
		4: types.StatusLegacyApproved,
	}
	now := baseTime.Add(time.Hour)

	assert.Equal(t, 5, AutoResolveStale(notes, statuses, now))
	assert.Equal(t, types.NotificationPending, notes[2].Status)
	for _, i := range []int{0, 1, 3, 4} {
		assert.Equal(t, types.NotificationApproved, notes[i].Status, "notification %d", notes[i].ID)
		assert.Equal(t, "System", notes[i].ApprovedBy)
		assert.Equal(t, types.FormatTimestamp(now), notes[i].AutoCompletedAt)
	}
	assert.Equal(t, "dm_mech", notes[5].ApprovedBy)

	snapshot := append([]types.Notification(nil), notes...)
	assert.Zero(t, AutoResolveStale(notes, statuses, now.Add(time.Hour)))
	assert.Equal(t, snapshot, notes)
}

func TestBackfillApprovers(t *testing.T) {
	c := types.Candidate{ID: 1, StatusHistory: []types.StatusHistoryEntry{
		{ToStatus: types.StatusShortlisted, UpdatedBy: "hr_anna", UpdatedAt: "2025-03-01T10:00:00Z"},
		{ToStatus: types.StatusSelected, UpdatedBy: "", UpdatedAt: "2025-03-02T10:00:00Z"},
		{ToStatus: types.StatusShortlisted, UpdatedBy: "hr_bob", UpdatedAt: "2025-03-03T10:00:00Z"},
	}}
	notes := []types.Notification{
		{ID: 1, CandidateID: 1, Type: types.NotifyShortlistForApproval, Status: types.NotificationApproved},
		{ID: 2, CandidateID: 1, Type: types.NotifyCandidateSelected, Status: types.NotificationRejected},
		{ID: 3, CandidateID: 1, Type: types.NotifyFinalApprovalComplete, Status: types.NotificationApproved},
		{ID: 4, CandidateID: 1, Type: types.NotifyShortlistForApproval, Status: types.NotificationPending},
		{ID: 5, CandidateID: 2, Type: types.NotifyShortlistForApproval, Status: types.NotificationApproved},
	}

	assert.Equal(t, 2, BackfillApprovers(notes, []types.Candidate{c}))
	assert.Equal(t, "hr_bob", notes[0].ApprovedBy)
	assert.Equal(t, "2025-03-03T10:00:00Z", notes[0].ApprovedAt)
	assert.Equal(t, "System", notes[1].ApprovedBy)
	assert.Empty(t, notes[2].ApprovedBy)
	assert.Empty(t, notes[3].ApprovedBy)
	assert.Empty(t, notes[4].ApprovedBy)
}

func seedApprovals(f *fixture) {
	at := func(d time.Duration) string { return types.FormatTimestamp(f.now.Add(-d)) }
	f.seedCandidates(
		types.Candidate{ID: 1, Name: "Omar", Status: types.StatusSelected, Department: "Civil Works", StatusHistory: []types.StatusHistoryEntry{
			{FromStatus: types.StatusNew, ToStatus: types.StatusShortlisted, UpdatedBy: "hr_anna", UpdatedByRole: "HR", UpdatedAt: at(5 * time.Hour)},
			{FromStatus: types.StatusShortlisted, ToStatus: types.StatusSelected, UpdatedBy: "dm_civil", UpdatedByRole: "Department Manager (Civil)", UpdatedAt: at(2 * time.Hour)},
		}},
		types.Candidate{ID: 3, Name: "Mei", Status: types.StatusHired, Department: "Civil Works", StatusHistory: []types.StatusHistoryEntry{
			{FromStatus: types.StatusNew, ToStatus: types.StatusShortlisted, UpdatedBy: "hr_anna", UpdatedByRole: "HR", UpdatedAt: at(60 * time.Hour)},
			{FromStatus: types.StatusShortlisted, ToStatus: types.StatusSelected, UpdatedBy: "dm_civil", UpdatedByRole: "Department Manager (Civil)", UpdatedAt: at(50 * time.Hour)},
			{FromStatus: types.StatusSelected, ToStatus: types.StatusHired, UpdatedBy: "ops", UpdatedByRole: "Operation Manager", UpdatedAt: at(48 * time.Hour)},
		}},
	)

	n1 := reminder(1, 1, types.NotifyShortlistForApproval, f.now.Add(-5*time.Hour))
	n1.ForRole = "Department Manager (Civil)"
	n1.Status = types.NotificationApproved
	n1.ApprovedBy = "dm_civil"
	n2 := reminder(2, 1, types.NotifyCandidateSelected, f.now.Add(-2*time.Hour))
	n2.ForRole = RoleOperationManager
	n3 := reminder(3, 3, types.NotifyShortlistForApproval, f.now.Add(-60*time.Hour))
	n3.ForRole = "Department Manager (Civil)"
	n4 := reminder(4, 3, types.NotifyCandidateSelected, f.now.Add(-50*time.Hour))
	n4.ForRole = RoleOperationManager
	n4.Status = types.NotificationApproved
	f.seedNotifications(n1, n2, n3, n4)
}

func TestApprovalsViewForDepartmentManager(t *testing.T) {
	f := newFixture(t)
	seedApprovals(f)

	page, err := f.engine.ApprovalsView(context.Background(), "dm_civil")
	require.NoError(t, err)
	assert.Equal(t, "Department Manager (Civil)", page.Role)
	assert.Empty(t, page.Pending)
	// 一条真实通知加两条由历史补出的 Selected 决定
	require.Len(t, page.MyCompleted, 3)
	assert.Equal(t, types.RecordID(0), page.MyCompleted[0].ID)
	assert.Equal(t, types.NotifyCandidateSelected, page.MyCompleted[0].Type)
	assert.Equal(t, "SELECTED: Omar selected; awaiting Operations Manager hire decision.", page.MyCompleted[0].Message)
	assert.Equal(t, types.RecordID(1), page.MyCompleted[1].ID)
	assert.Equal(t, "SELECTED: Mei selected and now Hired (final).", page.MyCompleted[2].Message)
	require.Len(t, page.OtherCompleted, 1)
	assert.Equal(t, types.RecordID(3), page.OtherCompleted[0].ID)
	assert.Equal(t, "System", page.OtherCompleted[0].ApprovedBy)

	require.Len(t, page.Timeline, 2)
	first := page.Timeline[0]
	assert.Equal(t, types.RecordID(1), first.CandidateID)
	require.Len(t, first.Stages, 3)
	assert.True(t, first.Stages[0].Completed)
	assert.False(t, first.Stages[0].IsUser)
	assert.True(t, first.Stages[1].IsUser)
	assert.False(t, first.Stages[2].Completed)
	assert.Equal(t, first.Stages[1].At, first.LastTime)
	assert.Equal(t, types.RecordID(3), page.Timeline[1].CandidateID)
	assert.Equal(t, "ops", page.Timeline[1].Stages[2].Actor)

	// 对账结果已保存
	ns := f.notifications()
	assert.Equal(t, types.NotificationApproved, ns[2].Status)
	assert.Equal(t, types.FormatTimestamp(f.now), ns[2].AutoCompletedAt)
	assert.Equal(t, "dm_civil", ns[3].ApprovedBy)
	assert.Equal(t, types.FormatTimestamp(f.now.Add(-50*time.Hour)), ns[3].ApprovedAt)
}

func TestApprovalsViewForOperations(t *testing.T) {
	f := newFixture(t)
	seedApprovals(f)

	page, err := f.engine.ApprovalsView(context.Background(), "ops")
	require.NoError(t, err)
	require.Len(t, page.Pending, 1)
	assert.Equal(t, types.RecordID(2), page.Pending[0].ID)
	require.Len(t, page.MyCompleted, 1)
	assert.Equal(t, types.NotifyFinalApprovalComplete, page.MyCompleted[0].Type)
	assert.Equal(t, "synthetic", page.MyCompleted[0].NotificationType)
	assert.Equal(t, "HIRED: Mei hired.", page.MyCompleted[0].Message)
	require.Len(t, page.OtherCompleted, 1)
	assert.Equal(t, types.RecordID(4), page.OtherCompleted[0].ID)
	require.Len(t, page.Timeline, 1)
	assert.Equal(t, types.RecordID(3), page.Timeline[0].CandidateID)
}

func TestApprovalsViewSkipsBroadcasts(t *testing.T) {
	f := newFixture(t)
	f.seedCandidates(types.Candidate{ID: 1, Name: "Mei", Status: types.StatusHired})
	hired := types.Notification{
		ID: 7, CandidateID: 1, Type: types.NotifyFinalApprovalComplete, Status: types.NotificationApproved,
		ForRole: RoleOperationManager, Timestamp: types.FormatTimestamp(baseTime),
	}
	unread := hired
	unread.ID = 8
	unread.Status = types.NotificationPending
	f.seedNotifications(hired, unread)

	page, err := f.engine.ApprovalsView(context.Background(), "ops")
	require.NoError(t, err)
	assert.Empty(t, page.Pending)
	assert.Empty(t, page.MyCompleted)
	assert.Empty(t, page.OtherCompleted)
}

func TestApprovalsViewWithoutChangesDoesNotWrite(t *testing.T) {
	f := newFixture(t)
	f.seedCandidates(types.Candidate{ID: 1, Status: types.StatusNew})
	f.seedNotifications(reminder(1, 1, types.NotifyShortlistForApproval, baseTime))

	page, err := f.engine.ApprovalsView(context.Background(), "dm_mech")
	require.NoError(t, err)
	assert.Len(t, page.Pending, 1)
	assert.Empty(t, page.Timeline)
	assert.Zero(t, f.backend.Saves())
}

func TestApprovalsViewSynthesizesDecisions(t *testing.T) {
	f := newFixture(t)
	at := types.FormatTimestamp(f.now.Add(-3 * time.Hour))
	f.seedCandidates(
		types.Candidate{ID: 5, Name: "Lina", Status: types.StatusRejected, JobTitle: "QS", StatusHistory: []types.StatusHistoryEntry{
			{FromStatus: types.StatusNew, ToStatus: types.StatusRejected, UpdatedBy: "hr_anna", UpdatedByRole: "HR", UpdatedAt: at},
		}},
		types.Candidate{ID: 6, Name: "Ravi", Status: types.StatusShortlisted, StatusHistory: []types.StatusHistoryEntry{
			{FromStatus: types.StatusNew, ToStatus: types.StatusShortlisted, UpdatedBy: "hr_anna", UpdatedByRole: "HR", UpdatedAt: at},
			{FromStatus: types.StatusShortlisted, ToStatus: types.StatusNew, UpdatedBy: "hr_anna", UpdatedByRole: "HR", UpdatedAt: at},
			{FromStatus: types.StatusNew, ToStatus: types.StatusShortlisted, UpdatedBy: "hr_anna", UpdatedByRole: "HR", UpdatedAt: at},
		}},
	)
	// 已有同一决定的通知时不再补
	n := reminder(1, 6, types.NotifyShortlistForApproval, f.now.Add(-3*time.Hour))
	n.ForRole = "HR"
	n.Status = types.NotificationApproved
	n.ApprovedBy = "hr_anna"
	f.seedNotifications(n)

	page, err := f.engine.ApprovalsView(context.Background(), "hr_anna")
	require.NoError(t, err)
	require.Len(t, page.MyCompleted, 2)
	var synth types.Notification
	for _, c := range page.MyCompleted {
		if c.ID == 0 {
			synth = c
		}
	}
	assert.Equal(t, types.RecordID(5), synth.CandidateID)
	assert.Equal(t, types.NotifyCandidateRejected, synth.Type)
	assert.Equal(t, types.NotificationRejected, synth.Status)
	assert.Equal(t, "REJECTED: Lina rejected.", synth.Message)
	assert.Equal(t, "QS", synth.Position)
	assert.Equal(t, "HR", synth.ForRole)
	assert.Equal(t, at, synth.ApprovedAt)
	assert.False(t, bool(synth.ActionRequired))

	// 补出的记录不写回
	assert.Len(t, f.notifications(), 1)
}
