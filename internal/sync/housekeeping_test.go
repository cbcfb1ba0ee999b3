package sync

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/da8ter/todosync/internal/backend"
	"github.com/da8ter/todosync/internal/model"
	"github.com/da8ter/todosync/tests/testutil"
)

// idleAdapter satisfies backend.Adapter for lock plumbing tests.
type idleAdapter struct{ b model.Backend }

func (a *idleAdapter) Type() model.Backend                                { return a.b }
func (a *idleAdapter) TestConnection(ctx context.Context) (string, error) { return "ok", nil }
func (a *idleAdapter) Fetch(ctx context.Context) ([]backend.RemoteItem, error) {
	return nil, nil
}
func (a *idleAdapter) Upload(ctx context.Context, item model.Item) (backend.UploadResult, error) {
	return backend.UploadResult{}, nil
}
func (a *idleAdapter) Delete(ctx context.Context, ref model.SyncRef) (bool, error) {
	return true, nil
}
func (a *idleAdapter) DiscoverCollections(ctx context.Context) ([]model.RemoteOption, error) {
	return nil, nil
}

func TestHousekeepingYieldsToRunningPass(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	cfg := &model.AppConfig{NotificationLeadTime: 600}
	c := New(s, cfg, slog.Default(), nil)
	c.Register(&idleAdapter{b: model.BackendGoogle})

	now := time.Now().Unix()
	items := []model.Item{{
		ID:                      1,
		Title:                   "water plants",
		Done:                    true,
		DoneAt:                  now - 60,
		Due:                     now + 3540,
		Priority:                model.PriorityNormal,
		Recurrence:              model.RecurWeekly,
		RecurrenceCustomUnit:    model.UnitWeek,
		RecurrenceCustomValue:   1,
		RecurrenceResetLeadTime: 3600,
	}}
	require.NoError(t, s.ReplaceItems(ctx, items))

	// While a pass holds the backend lock, the tick must leave the store
	// alone instead of racing the pass's read-modify-write.
	c.locks[model.BackendGoogle].Lock()
	c.housekeepingPass()

	got, err := s.Items(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Done)

	c.locks[model.BackendGoogle].Unlock()
	c.housekeepingPass()

	got, err = s.Items(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Done, "reopen window has arrived")
	assert.Zero(t, got[0].NotifiedFor)
}
