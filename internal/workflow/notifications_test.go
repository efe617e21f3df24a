package workflow

import (
	"context"
	"testing"
	"time"

	"ats-workflow/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForRoleMatches(t *testing.T) {
	assert.True(t, forRoleMatches("HR", "HR"))
	assert.True(t, forRoleMatches("Department Manager", "Department Manager (M&E)"))
	assert.True(t, forRoleMatches("Department Manager (M&E)", "Department Manager"))
	assert.True(t, forRoleMatches("Department Manager (Civil)", "department manager (M&E)"))
	assert.False(t, forRoleMatches("Operation Manager", "HR"))
	assert.False(t, forRoleMatches("", "HR"))
	assert.False(t, forRoleMatches("HR", ""))
}

func TestParseListFilter(t *testing.T) {
	assert.Equal(t, FilterAll, ParseListFilter(" all "))
	assert.Equal(t, FilterUnread, ParseListFilter("Unread"))
	assert.Equal(t, FilterUnread, ParseListFilter(""))
}

func TestListForUserUnread(t *testing.T) {
	f := newFixture(t)
	f.seedCandidates(types.Candidate{ID: 1, Status: types.StatusHired})

	hired := func(id types.RecordID, status types.NotificationStatus, age time.Duration) types.Notification {
		return types.Notification{
			ID: id, CandidateID: 1, Type: types.NotifyFinalApprovalComplete, Status: status,
			ForRole: "HR", Timestamp: types.FormatTimestamp(baseTime.Add(-age)),
		}
	}
	pending := reminder(4, 1, types.NotifyShortlistForApproval, baseTime.Add(-3*time.Hour))
	pending.ForRole = "HR"
	approved := reminder(5, 1, types.NotifyShortlistForApproval, baseTime.Add(-time.Minute))
	approved.ForRole = "HR"
	approved.Status = types.NotificationApproved
	f.seedNotifications(
		hired(1, types.NotificationApproved, 2*time.Hour),
		hired(2, types.NotificationRead, time.Hour),
		hired(3, types.NotificationApproved, 30*time.Minute),
		pending,
		approved,
		reminder(6, 1, types.NotifyShortlistForApproval, baseTime),
	)
	ctx := context.Background()

	got, err := f.engine.ListForUser(ctx, "hr_anna", "", FilterUnread, 0)
	require.NoError(t, err)
	ids := make([]types.RecordID, 0, len(got))
	for _, n := range got {
		ids = append(ids, n.ID)
	}
	assert.Equal(t, []types.RecordID{3, 1, 4}, ids)
	// 返回的是自动标记后的状态，与落库一致
	assert.Equal(t, types.NotificationRead, got[0].Status)
	assert.Equal(t, types.FormatTimestamp(baseTime), got[0].ReadAt)
	assert.Equal(t, types.NotificationPending, got[2].Status)

	stored := f.notifications()
	assert.Equal(t, types.NotificationRead, stored[0].Status)
	assert.Equal(t, types.FormatTimestamp(baseTime), stored[0].ReadAt)
	assert.Equal(t, types.NotificationRead, stored[2].Status)
	assert.Equal(t, types.NotificationPending, stored[3].Status)

	// 录用广播只显示一次
	again, err := f.engine.ListForUser(ctx, "hr_anna", "", FilterUnread, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, types.RecordID(4), again[0].ID)

	all, err := f.engine.ListForUser(ctx, "hr_anna", "HR", FilterAll, 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, types.RecordID(5), all[0].ID)
}

func TestListForUserMatchesReceiver(t *testing.T) {
	f := newFixture(t)
	n := reminder(1, 1, types.NotifyShortlistForApproval, baseTime)
	n.ForRole = "Somebody Else"
	n.ReceiverUsername = "dm_civil"
	f.seedNotifications(n)

	got, err := f.engine.ListForUser(context.Background(), "dm_civil", "", FilterUnread, 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	got, err = f.engine.ListForUser(context.Background(), "ops", "", FilterUnread, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListForUserRunsSweep(t *testing.T) {
	f := newFixture(t)
	f.seedCandidates(stamped(1, "Omar", "Mechanical & Electrical", types.StatusShortlisted, baseTime))
	f.advance(26 * time.Hour)

	got, err := f.engine.ListForUser(context.Background(), "dm_mech", "", FilterUnread, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.NotifyReminderPendingDept, got[0].Type)
	assert.Equal(t, "dm_mech", got[0].ReceiverUsername)
	f.drain()
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	n := reminder(7, 1, types.NotifyShortlistForApproval, baseTime)
	f.seedNotifications(n)
	ctx := context.Background()

	assert.ErrorIs(t, f.engine.MarkRead(ctx, 8, "dm_mech", ""), ErrNotificationNotFound)
	assert.ErrorIs(t, f.engine.MarkRead(ctx, 7, "ops", ""), ErrNotificationNotFound)
	assert.Equal(t, types.NotificationPending, f.notifications()[0].Status)

	f.advance(time.Minute)
	require.NoError(t, f.engine.MarkRead(ctx, 7, "dm_mech", ""))
	stored := f.notifications()[0]
	assert.Equal(t, types.NotificationRead, stored.Status)
	assert.Equal(t, types.FormatTimestamp(baseTime.Add(time.Minute)), stored.ReadAt)
}
