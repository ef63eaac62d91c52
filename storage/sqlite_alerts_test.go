package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"argus/core"
)

func newTestAlertStorage(t *testing.T) *SQLiteAlertStorage {
	t.Helper()
	return NewSQLiteAlertStorage(newTestSQLite(t))
}

func makeAlert(id, ruleID string, alertTime time.Time) *core.Alert {
	return &core.Alert{
		ID:        id,
		RuleID:    ruleID,
		Severity:  core.SeverityHigh,
		Status:    core.AlertStatusOpen,
		Summary:   "brute force against alice from 203.0.113.7",
		Evidence:  map[string]interface{}{"failure_count": float64(6)},
		AlertTime: alertTime,
		CreatedAt: alertTime,
		UpdatedAt: alertTime,
	}
}

func TestInsertAlert_RoundTrip(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	alertTime := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	alert := makeAlert("al-1", "brute_force", alertTime)
	alert.WindowStart = alertTime.Add(-10 * time.Minute)
	alert.WindowEnd = alertTime

	require.NoError(t, storage.InsertAlert(ctx, alert))

	got, err := storage.GetAlert(ctx, "al-1")
	require.NoError(t, err)

	assert.Equal(t, "al-1", got.ID)
	assert.Equal(t, "brute_force", got.RuleID)
	assert.Equal(t, core.SeverityHigh, got.Severity)
	assert.Equal(t, core.AlertStatusOpen, got.Status)
	assert.Equal(t, alert.Summary, got.Summary)
	assert.Equal(t, alert.Evidence, got.Evidence)
	assert.True(t, alertTime.Equal(got.AlertTime))
	assert.True(t, alert.WindowStart.Equal(got.WindowStart))
	assert.True(t, alert.WindowEnd.Equal(got.WindowEnd))
	assert.Nil(t, got.FalsePositive)
}

func TestInsertAlert_NoWindow(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	alert := makeAlert("al-nw", "geo_anomaly", time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC))
	require.NoError(t, storage.InsertAlert(ctx, alert))

	got, err := storage.GetAlert(ctx, "al-nw")
	require.NoError(t, err)
	assert.True(t, got.WindowStart.IsZero())
	assert.True(t, got.WindowEnd.IsZero())
}

func TestInsertAlert_DuplicateID(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	alertTime := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	require.NoError(t, storage.InsertAlert(ctx, makeAlert("al-dup", "brute_force", alertTime)))

	err := storage.InsertAlert(ctx, makeAlert("al-dup", "brute_force", alertTime))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConstraintViolation)
}

func TestGetAlert_NotFound(t *testing.T) {
	storage := newTestAlertStorage(t)

	_, err := storage.GetAlert(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestListAlerts_NewestFirst(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		alert := makeAlert(fmt.Sprintf("al-%d", i), "brute_force", base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, storage.InsertAlert(ctx, alert))
	}

	got, err := storage.ListAlerts(ctx, core.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "al-2", got[0].ID)
	assert.Equal(t, "al-1", got[1].ID)
	assert.Equal(t, "al-0", got[2].ID)
}

func TestListAlerts_Filters(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)

	bruteForce := makeAlert("al-bf", "brute_force", base)
	require.NoError(t, storage.InsertAlert(ctx, bruteForce))

	geo := makeAlert("al-geo", "geo_anomaly", base.Add(time.Minute))
	geo.Severity = core.SeverityMedium
	require.NoError(t, storage.InsertAlert(ctx, geo))

	closed := makeAlert("al-closed", "brute_force", base.Add(2*time.Minute))
	closed.Status = core.AlertStatusClosed
	require.NoError(t, storage.InsertAlert(ctx, closed))

	byRule, err := storage.ListAlerts(ctx, core.AlertFilter{RuleID: "geo_anomaly"})
	require.NoError(t, err)
	require.Len(t, byRule, 1)
	assert.Equal(t, "al-geo", byRule[0].ID)

	byStatus, err := storage.ListAlerts(ctx, core.AlertFilter{Status: core.AlertStatusClosed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "al-closed", byStatus[0].ID)

	bySeverity, err := storage.ListAlerts(ctx, core.AlertFilter{Severity: core.SeverityMedium})
	require.NoError(t, err)
	require.Len(t, bySeverity, 1)
	assert.Equal(t, "al-geo", bySeverity[0].ID)

	since, err := storage.ListAlerts(ctx, core.AlertFilter{Since: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, since, 2, "since bound is inclusive")

	until, err := storage.ListAlerts(ctx, core.AlertFilter{Until: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Len(t, until, 2, "until bound is inclusive")
}

func TestListAlerts_Pagination(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 60; i++ {
		alert := makeAlert(fmt.Sprintf("al-%02d", i), "brute_force", base.Add(time.Duration(i)*time.Second))
		require.NoError(t, storage.InsertAlert(ctx, alert))
	}

	// Default page size caps at 50
	defaultPage, err := storage.ListAlerts(ctx, core.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, defaultPage, 50)

	page, err := storage.ListAlerts(ctx, core.AlertFilter{Limit: 10, Offset: 5})
	require.NoError(t, err)
	require.Len(t, page, 10)
	assert.Equal(t, "al-54", page[0].ID, "offset skips the newest rows")

	// Limits above the cap are clamped
	capped, err := storage.ListAlerts(ctx, core.AlertFilter{Limit: 10000})
	require.NoError(t, err)
	assert.Len(t, capped, 60)

	_, err = storage.ListAlerts(ctx, core.AlertFilter{Offset: 100001})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pagination offset too large")
}

func TestUpdateAlertStatus(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	alertTime := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	require.NoError(t, storage.InsertAlert(ctx, makeAlert("al-1", "brute_force", alertTime)))

	require.NoError(t, storage.UpdateAlertStatus(ctx, "al-1", core.AlertStatusTriaged, nil))

	got, err := storage.GetAlert(ctx, "al-1")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusTriaged, got.Status)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
}

func TestUpdateAlertStatus_NotFound(t *testing.T) {
	storage := newTestAlertStorage(t)

	err := storage.UpdateAlertStatus(context.Background(), "missing", core.AlertStatusClosed, nil)
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestUpdateAlertStatus_InvalidStatus(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	alertTime := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	require.NoError(t, storage.InsertAlert(ctx, makeAlert("al-1", "brute_force", alertTime)))

	err := storage.UpdateAlertStatus(ctx, "al-1", core.AlertStatus("escalated"), nil)
	require.Error(t, err)
}

func TestUpdateAlertStatus_FalsePositiveRecord(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	alertTime := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	require.NoError(t, storage.InsertAlert(ctx, makeAlert("al-fp", "brute_force", alertTime)))

	markedAt := time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC)
	fp := &core.FalsePositiveRecord{
		AlertID:  "al-fp",
		Reason:   "load test traffic from staging",
		MarkedBy: "bob",
		MarkedAt: markedAt,
	}
	require.NoError(t, storage.UpdateAlertStatus(ctx, "al-fp", core.AlertStatusFalsePositive, fp))

	got, err := storage.GetAlert(ctx, "al-fp")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusFalsePositive, got.Status)
	require.NotNil(t, got.FalsePositive)
	assert.Equal(t, "load test traffic from staging", got.FalsePositive.Reason)
	assert.Equal(t, "bob", got.FalsePositive.MarkedBy)
	assert.True(t, markedAt.Equal(got.FalsePositive.MarkedAt))

	record, err := storage.GetFalsePositive(ctx, "al-fp")
	require.NoError(t, err)
	assert.Equal(t, "al-fp", record.AlertID)
	assert.Equal(t, "load test traffic from staging", record.Reason)
}

func TestUpdateAlertStatus_ReopenClearsFalsePositive(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	alertTime := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	require.NoError(t, storage.InsertAlert(ctx, makeAlert("al-fp", "brute_force", alertTime)))

	fp := &core.FalsePositiveRecord{AlertID: "al-fp", Reason: "scanner noise"}
	require.NoError(t, storage.UpdateAlertStatus(ctx, "al-fp", core.AlertStatusFalsePositive, fp))
	require.NoError(t, storage.UpdateAlertStatus(ctx, "al-fp", core.AlertStatusOpen, nil))

	got, err := storage.GetAlert(ctx, "al-fp")
	require.NoError(t, err)
	assert.Equal(t, core.AlertStatusOpen, got.Status)
	assert.Nil(t, got.FalsePositive, "reopening discards the dismissal reason")

	_, err = storage.GetFalsePositive(ctx, "al-fp")
	assert.ErrorIs(t, err, ErrFalsePositiveNotFound)
}

func TestGetFalsePositive_NotFound(t *testing.T) {
	storage := newTestAlertStorage(t)

	_, err := storage.GetFalsePositive(context.Background(), "never-marked")
	assert.ErrorIs(t, err, ErrFalsePositiveNotFound)
}

func TestLastAlertTime(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	_, found, err := storage.LastAlertTime(ctx, "brute_force")
	require.NoError(t, err)
	assert.False(t, found)

	base := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	require.NoError(t, storage.InsertAlert(ctx, makeAlert("al-old", "brute_force", base)))
	require.NoError(t, storage.InsertAlert(ctx, makeAlert("al-new", "brute_force", base.Add(5*time.Minute))))
	require.NoError(t, storage.InsertAlert(ctx, makeAlert("al-other", "geo_anomaly", base.Add(time.Hour))))

	last, found, err := storage.LastAlertTime(ctx, "brute_force")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, base.Add(5*time.Minute).Equal(last))
}

func TestLastAlertTime_IgnoresStatus(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	closed := makeAlert("al-closed", "brute_force", base)
	closed.Status = core.AlertStatusClosed
	require.NoError(t, storage.InsertAlert(ctx, closed))

	_, found, err := storage.LastAlertTime(ctx, "brute_force")
	require.NoError(t, err)
	assert.True(t, found, "closed alerts still anchor the dedup cooldown")
}

func TestCountAlertsSince(t *testing.T) {
	storage := newTestAlertStorage(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 15, 14, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		alert := makeAlert(fmt.Sprintf("al-%d", i), "brute_force", base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, storage.InsertAlert(ctx, alert))
	}

	count, err := storage.CountAlertsSince(ctx, "brute_force", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	none, err := storage.CountAlertsSince(ctx, "geo_anomaly", base)
	require.NoError(t, err)
	assert.Equal(t, int64(0), none)
}
