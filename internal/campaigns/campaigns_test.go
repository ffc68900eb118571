package campaigns

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"frameworks/purser-recharge/internal/notify"
	"frameworks/purser-recharge/pkg/logging"
)

type capturingNotifier struct {
	got []notify.Notification
}

func (c *capturingNotifier) Notify(n notify.Notification) {
	c.got = append(c.got, n)
}

func TestResumeCreditPaused_OnlyTouchesCreditPaused(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	now := time.Date(2026, 7, 3, 8, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`UPDATE purser.campaigns\s+SET status = \$2, paused_reason = NULL.*AND status = \$3\s+AND paused_reason = \$4`).
		WithArgs("org-1", StatusRunning, StatusPaused, PausedReasonInsufficientCredits).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "name", "status", "updated_at"}).
			AddRow("c-1", "org-1", "Spring outreach", StatusRunning, now).
			AddRow("c-2", "org-1", "Renewals", StatusRunning, now))

	resumed, err := NewStore(mockDB).ResumeCreditPaused(context.Background(), "org-1")
	require.NoError(t, err)
	require.Len(t, resumed, 2)
	require.Equal(t, "c-1", resumed[0].ID)
	require.Equal(t, StatusRunning, resumed[1].Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

type stubStore struct {
	campaigns []Campaign
	err       error
}

func (s stubStore) ResumeCreditPaused(context.Context, string) ([]Campaign, error) {
	return s.campaigns, s.err
}

func TestResumer_NotifiesPerCampaign(t *testing.T) {
	n := &capturingNotifier{}
	r := NewResumer(stubStore{campaigns: []Campaign{
		{ID: "c-1", OrganizationID: "org-1", Name: "Spring outreach"},
		{ID: "c-2", OrganizationID: "org-1", Name: "Renewals"},
	}}, n, logging.NewDiscardLogger())

	count, err := r.Resume(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Len(t, n.got, 2)
	require.Equal(t, notify.TypeCampaignResumed, n.got[0].Type)
	require.Equal(t, "c-2", n.got[1].Metadata["campaign_id"])
}

func TestResumer_NoPausedCampaigns(t *testing.T) {
	n := &capturingNotifier{}
	r := NewResumer(stubStore{}, n, logging.NewDiscardLogger())

	count, err := r.Resume(context.Background(), "org-1")
	require.NoError(t, err)
	require.Zero(t, count)
	require.Empty(t, n.got)
}

func TestResumer_StoreError(t *testing.T) {
	cause := errors.New("deadlock detected")
	r := NewResumer(stubStore{err: cause}, nil, logging.NewDiscardLogger())

	_, err := r.Resume(context.Background(), "org-1")
	require.ErrorIs(t, err, cause)
}
